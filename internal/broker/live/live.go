// Package live is the production broker: it forwards orders to an external
// venue gateway, retries transient failures with bounded backoff, and pumps
// executions back into the ledger from both a polling loop and an optional
// push feed. The ledger's per-fill idempotence makes the two delivery paths
// safe to run together.
package live

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"
	"github.com/helix-lab/tradewind/internal/broker"
	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/ledger"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"go.uber.org/zap"
)

// Credentials authenticate a gateway session. They are passed explicitly to
// gateway constructors; there is no package-level session state.
type Credentials struct {
	APIKey    string `validate:"required"`
	APISecret string `validate:"required"`
}

// Validate rejects incomplete credentials before any session is opened, so a
// missing env var fails at startup instead of at the venue.
func (c Credentials) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeAuthentication, "incomplete gateway credentials", err)
	}

	return nil
}

// Gateway is the venue adapter the live broker drives. Implementations talk
// the venue's wire protocol; the broker never does. PollFills must return
// fills with stable FillIDs so redelivery is harmless.
type Gateway interface {
	// SubmitOrder sends the order and returns the venue's order id.
	SubmitOrder(ctx context.Context, order types.Order) (string, error)
	// CancelOrder cancels by venue order id.
	CancelOrder(ctx context.Context, venueID string) error
	// PollFills returns executions reported since the previous poll.
	PollFills(ctx context.Context) ([]types.Fill, error)
	// Close releases the session.
	Close() error
}

const (
	defaultPollInterval   = 2 * time.Second
	defaultMaxElapsedTime = 30 * time.Second
	updateBufferSize      = 1024
)

// Broker is the live implementation of broker.Broker.
type Broker struct {
	mu sync.Mutex

	log     *logger.Logger
	clock   clock.Clock
	ledger  *ledger.Ledger
	gateway Gateway
	feed    *FillFeed

	// venueIDs maps our order ids to the venue's.
	venueIDs map[string]string

	pollInterval time.Duration
	newBackOff   func() backoff.BackOff

	updates chan broker.OrderUpdate
	dropped int

	pumpCancel context.CancelFunc
	pumpWG     sync.WaitGroup
}

var _ broker.Broker = (*Broker)(nil)

// Option configures the live broker.
type Option func(*Broker)

// WithPollInterval sets the fill polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(b *Broker) {
		b.pollInterval = d
	}
}

// WithFillFeed attaches a push feed alongside polling.
func WithFillFeed(feed *FillFeed) Option {
	return func(b *Broker) {
		b.feed = feed
	}
}

// WithBackOff overrides the retry schedule for gateway calls.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(b *Broker) {
		b.newBackOff = factory
	}
}

// New creates a live broker over the given gateway.
func New(l *ledger.Ledger, c clock.Clock, gateway Gateway, log *logger.Logger, opts ...Option) *Broker {
	b := &Broker{
		log:          log,
		clock:        c,
		ledger:       l,
		gateway:      gateway,
		venueIDs:     make(map[string]string),
		pollInterval: defaultPollInterval,
		updates:      make(chan broker.OrderUpdate, updateBufferSize),
	}

	b.newBackOff = func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = defaultMaxElapsedTime

		return bo
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Start launches the fill pump. It returns immediately; the pump stops when
// ctx is canceled or Shutdown runs.
func (b *Broker) Start(ctx context.Context) {
	pumpCtx, cancel := context.WithCancel(ctx)
	b.pumpCancel = cancel

	b.pumpWG.Add(1)

	go func() {
		defer b.pumpWG.Done()
		b.runPump(pumpCtx)
	}()
}

func (b *Broker) runPump(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	var push <-chan types.Fill
	if b.feed != nil {
		push = b.feed.Fills()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-push:
			if !ok {
				push = nil

				continue
			}

			b.applyFill(ctx, fill)
		case <-ticker.C:
			fills, err := b.gateway.PollFills(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}

				b.log.Warn("fill poll failed", zap.Error(err))

				continue
			}

			for _, fill := range fills {
				b.applyFill(ctx, fill)
			}
		}
	}
}

// applyFill routes one execution into the ledger and propagates fan-out
// cancels back to the venue. Duplicate fill ids are absorbed by the ledger.
func (b *Broker) applyFill(ctx context.Context, fill types.Fill) {
	canceled, err := b.ledger.ApplyFill(fill)
	if err != nil {
		b.log.Error("fill rejected",
			zap.String("fill_id", fill.FillID),
			zap.String("order_id", fill.OrderID),
			zap.Error(err),
		)

		return
	}

	order, err := b.ledger.Order(fill.OrderID)
	if err != nil {
		return
	}

	event := broker.EventPartiallyFilled
	if order.Status == types.OrderStatusFilled {
		event = broker.EventFilled
	}

	b.emit(event, fill.OrderID, &fill)

	for _, sibling := range canceled {
		b.emit(broker.EventCanceled, sibling.ID, nil)

		if err := b.cancelAtVenue(ctx, sibling.ID); err != nil {
			b.log.Warn("sibling cancel not propagated",
				zap.String("order_id", sibling.ID),
				zap.Error(err),
			)
		}
	}
}

// SubmitOrder implements broker.Broker. Local validation failures never reach
// the gateway; transient gateway errors are retried with bounded backoff;
// authentication errors fail immediately.
func (b *Broker) SubmitOrder(ctx context.Context, order *types.Order) error {
	if err := b.ledger.Submit(order, b.clock.Now()); err != nil {
		return err
	}

	venueID, err := b.submitWithRetry(ctx, *order)
	if err != nil {
		if markErr := b.ledger.MarkStatus(order.ID, types.OrderStatusError, b.clock.Now()); markErr != nil {
			b.log.Error("failed to mark rejected order", zap.String("order_id", order.ID), zap.Error(markErr))
		}

		b.emit(broker.EventError, order.ID, nil)

		return err
	}

	b.mu.Lock()
	b.venueIDs[order.ID] = venueID
	b.mu.Unlock()

	if err := b.ledger.MarkStatus(order.ID, types.OrderStatusNew, b.clock.Now()); err != nil {
		return err
	}

	b.emit(broker.EventNew, order.ID, nil)

	return nil
}

// SubmitGroup implements broker.Broker. Legs are validated together, then
// submitted in order; a leg rejection cancels the already-submitted legs so
// no half-group is left working at the venue.
func (b *Broker) SubmitGroup(ctx context.Context, group *types.OrderGroup) error {
	if group == nil || len(group.Legs) == 0 {
		return errors.New(errors.ErrCodeInvalidOrderGroup, "empty order group")
	}

	for _, leg := range group.Legs {
		if err := leg.Validate(); err != nil {
			return err
		}
	}

	for i, leg := range group.Legs {
		if err := b.SubmitOrder(ctx, leg); err != nil {
			for _, submitted := range group.Legs[:i] {
				if cancelErr := b.CancelOrder(ctx, submitted.ID); cancelErr != nil {
					b.log.Warn("group unwind cancel failed",
						zap.String("order_id", submitted.ID),
						zap.Error(cancelErr),
					)
				}
			}

			return err
		}
	}

	return nil
}

func (b *Broker) submitWithRetry(ctx context.Context, order types.Order) (string, error) {
	var venueID string

	operation := func() error {
		id, err := b.gateway.SubmitOrder(ctx, order)
		if err != nil {
			if errors.IsTransient(err) {
				b.log.Warn("transient submit failure, retrying",
					zap.String("order_id", order.ID),
					zap.Error(err),
				)

				return err
			}

			return backoff.Permanent(err)
		}

		venueID = id

		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b.newBackOff(), ctx)); err != nil {
		return "", err
	}

	return venueID, nil
}

// CancelOrder implements broker.Broker.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	order, err := b.ledger.Order(orderID)
	if err != nil {
		return err
	}

	if order.Status.IsTerminal() {
		return nil
	}

	if err := b.cancelAtVenue(ctx, orderID); err != nil {
		return err
	}

	if err := b.ledger.Cancel(orderID, b.clock.Now()); err != nil {
		return err
	}

	b.emit(broker.EventCanceled, orderID, nil)

	return nil
}

func (b *Broker) cancelAtVenue(ctx context.Context, orderID string) error {
	b.mu.Lock()
	venueID, ok := b.venueIDs[orderID]
	b.mu.Unlock()

	if !ok {
		// Never reached the venue; local cancel is all there is.
		return nil
	}

	operation := func() error {
		err := b.gateway.CancelOrder(ctx, venueID)
		if err == nil {
			return nil
		}

		if errors.IsTransient(err) {
			return err
		}

		return backoff.Permanent(err)
	}

	return backoff.Retry(operation, backoff.WithContext(b.newBackOff(), ctx))
}

// CancelAllOrders implements broker.Broker.
func (b *Broker) CancelAllOrders(ctx context.Context) error {
	var lastErr error

	for _, order := range b.ledger.OpenOrders() {
		if err := b.CancelOrder(ctx, order.ID); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// Shutdown stops the fill pump, best-effort cancels every working order
// within the timeout, closes the gateway and returns the orders still open
// afterwards so the caller can report them.
func (b *Broker) Shutdown(timeout time.Duration) []types.Order {
	if b.pumpCancel != nil {
		b.pumpCancel()
	}

	b.pumpWG.Wait()

	if b.feed != nil {
		if err := b.feed.Close(); err != nil {
			b.log.Warn("fill feed close failed", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := b.CancelAllOrders(ctx); err != nil {
		b.log.Warn("shutdown cancel incomplete", zap.Error(err))
	}

	if err := b.gateway.Close(); err != nil {
		b.log.Warn("gateway close failed", zap.Error(err))
	}

	leftovers := b.ledger.OpenOrders()
	for _, order := range leftovers {
		b.log.Warn("order still open after shutdown",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
		)
	}

	return leftovers
}

// Order implements broker.Broker.
func (b *Broker) Order(orderID string) (types.Order, error) {
	return b.ledger.Order(orderID)
}

// OpenOrders implements broker.Broker.
func (b *Broker) OpenOrders() []types.Order {
	return b.ledger.OpenOrders()
}

// GetPositions implements broker.Broker.
func (b *Broker) GetPositions() []types.Position {
	return b.ledger.Positions()
}

// GetPosition implements broker.Broker.
func (b *Broker) GetPosition(asset types.Asset) (types.Position, error) {
	return b.ledger.Position(asset)
}

// GetCash implements broker.Broker.
func (b *Broker) GetCash() float64 {
	return b.ledger.Cash()
}

// AccountInfo implements broker.Broker.
func (b *Broker) AccountInfo(prices map[types.Asset]float64) types.AccountInfo {
	return b.ledger.AccountInfo(prices)
}

// Updates implements broker.Broker.
func (b *Broker) Updates() <-chan broker.OrderUpdate {
	return b.updates
}

func (b *Broker) emit(event broker.UpdateEvent, orderID string, fill *types.Fill) {
	order, err := b.ledger.Order(orderID)
	if err != nil {
		return
	}

	update := broker.OrderUpdate{
		Event: event,
		Order: order,
		Fill:  fill,
		Time:  b.clock.Now(),
	}

	select {
	case b.updates <- update:
	default:
		b.mu.Lock()
		b.dropped++
		dropped := b.dropped
		b.mu.Unlock()

		b.log.Warn("order update dropped, consumer too slow",
			zap.String("order_id", orderID),
			zap.String("event", string(event)),
			zap.Int("dropped_total", dropped),
		)
	}
}
