package live

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"go.uber.org/zap"
)

// fillMessage is the normalized push-feed frame. Gateways that expose a
// websocket stream translate their native frames to this shape server-side or
// in a proxy; the broker only ever sees it.
type fillMessage struct {
	Type string     `json:"type"`
	Fill types.Fill `json:"fill"`
}

const fillMessageType = "fill"

// FillFeed consumes execution reports pushed over a websocket. It reconnects
// with exponential backoff on read failures; the polling loop covers any gap,
// and the ledger absorbs the resulting duplicates.
type FillFeed struct {
	url    string
	header http.Header
	log    *logger.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	fills  chan types.Fill
	closed chan struct{}
	once   sync.Once
}

// NewFillFeed creates a feed for the given websocket endpoint. The header
// carries authentication.
func NewFillFeed(url string, header http.Header, log *logger.Logger) *FillFeed {
	return &FillFeed{
		url:    url,
		header: header,
		log:    log,
		fills:  make(chan types.Fill, 256),
		closed: make(chan struct{}),
	}
}

// Fills is the stream of decoded executions.
func (f *FillFeed) Fills() <-chan types.Fill {
	return f.fills
}

// Run connects and reads until ctx is canceled or the feed is closed. Frame
// decode errors are logged and skipped; connection errors trigger a backoff
// reconnect.
func (f *FillFeed) Run(ctx context.Context) {
	defer close(f.fills)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // reconnect for the life of the session
	bo.MaxInterval = time.Minute

	for {
		if err := f.connect(ctx); err != nil {
			if ctx.Err() != nil || f.isClosed() {
				return
			}

			wait := bo.NextBackOff()
			f.log.Warn("fill feed connect failed", zap.Error(err), zap.Duration("retry_in", wait))

			select {
			case <-ctx.Done():
				return
			case <-f.closed:
				return
			case <-time.After(wait):
			}

			continue
		}

		bo.Reset()

		if err := f.readLoop(ctx); err != nil {
			if ctx.Err() != nil || f.isClosed() {
				return
			}

			f.log.Warn("fill feed disconnected", zap.Error(err))
		}
	}
}

func (f *FillFeed) connect(ctx context.Context) error {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, f.url, f.header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errors.Wrap(errors.ErrCodeAuthentication, "fill feed rejected credentials", err)
		}

		return errors.Wrap(errors.ErrCodeBrokerTransient, "fill feed dial failed", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	f.log.Info("fill feed connected", zap.String("url", f.url))

	return nil
}

func (f *FillFeed) readLoop(ctx context.Context) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()

	defer conn.Close()

	for {
		var msg fillMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return errors.Wrap(errors.ErrCodeBrokerTransient, "fill feed read failed", err)
		}

		if msg.Type != fillMessageType {
			continue
		}

		select {
		case f.fills <- msg.Fill:
		case <-ctx.Done():
			return ctx.Err()
		case <-f.closed:
			return nil
		}
	}
}

func (f *FillFeed) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// Close tears the feed down. Safe to call more than once.
func (f *FillFeed) Close() error {
	var err error

	f.once.Do(func() {
		close(f.closed)

		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()

		if conn != nil {
			err = conn.Close()
		}
	})

	return err
}
