package live

import (
	"context"
	"fmt"
	"sync"

	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/data"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
)

// PaperGateway simulates a venue against live prices: orders rest here and
// fill in full at the provider's last price once marketable. It drives the
// same broker code path as a real venue adapter.
type PaperGateway struct {
	mu sync.Mutex

	provider data.Provider
	clock    clock.Clock

	working map[string]types.Order
	queued  []types.Fill
	seq     int
	closed  bool
}

var _ Gateway = (*PaperGateway)(nil)

// NewPaperGateway creates a paper venue priced by the given provider.
func NewPaperGateway(provider data.Provider, c clock.Clock) *PaperGateway {
	return &PaperGateway{
		provider: provider,
		clock:    c,
		working:  make(map[string]types.Order),
	}
}

// SubmitOrder implements Gateway. The venue id is assigned immediately; the
// order rests until the next poll makes it marketable.
func (g *PaperGateway) SubmitOrder(ctx context.Context, order types.Order) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return "", errors.New(errors.ErrCodeBrokerUnavailable, "paper gateway is closed")
	}

	g.seq++
	venueID := fmt.Sprintf("paper-%06d", g.seq)
	g.working[venueID] = order

	return venueID, nil
}

// CancelOrder implements Gateway. Canceling an unknown or already-filled
// order is a no-op, matching how venues acknowledge late cancels.
func (g *PaperGateway) CancelOrder(ctx context.Context, venueID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.working, venueID)

	return nil
}

// PollFills implements Gateway: reprices every resting order and returns the
// executions produced since the previous poll. Fill ids are stable per venue
// order, so redelivery is harmless.
func (g *PaperGateway) PollFills(ctx context.Context) ([]types.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for venueID, order := range g.working {
		price, err := g.provider.GetLastPrice(ctx, order.Asset)
		if err != nil {
			// No price yet; the order keeps resting.
			continue
		}

		fillPrice, ok := g.marketable(order, price)
		if !ok {
			continue
		}

		g.queued = append(g.queued, types.Fill{
			FillID:   fmt.Sprintf("%s-fill", venueID),
			OrderID:  order.ID,
			Price:    fillPrice,
			Quantity: order.Quantity,
			Time:     g.clock.Now(),
		})

		delete(g.working, venueID)
	}

	fills := g.queued
	g.queued = nil

	return fills, nil
}

// marketable decides whether an order executes at the current price and at
// what price.
func (g *PaperGateway) marketable(order types.Order, price float64) (float64, bool) {
	switch order.Kind {
	case types.OrderKindMarket:
		return price, true
	case types.OrderKindLimit:
		limit := order.LimitPrice.TakeOr(0)
		if order.Side == types.OrderSideBuy && price <= limit {
			return price, true
		}

		if order.Side == types.OrderSideSell && price >= limit {
			return price, true
		}

		return 0, false
	case types.OrderKindStop:
		stop := order.StopPrice.TakeOr(0)
		if order.Side == types.OrderSideBuy && price >= stop {
			return price, true
		}

		if order.Side == types.OrderSideSell && price <= stop {
			return price, true
		}

		return 0, false
	default:
		// Stop-limit and trailing orders need intrabar state the paper
		// venue does not track; they rest forever.
		return 0, false
	}
}

// Close implements Gateway.
func (g *PaperGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true
	g.working = make(map[string]types.Order)

	return nil
}

// restingOrders reports the venue ids still working, for tests.
func (g *PaperGateway) restingOrders() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ids := make([]string, 0, len(g.working))
	for id := range g.working {
		ids = append(ids, id)
	}

	return ids
}
