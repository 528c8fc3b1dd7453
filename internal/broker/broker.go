// Package broker defines the order-execution capability shared by live and
// backtest implementations. Strategies and the executor program against the
// Broker interface alone; which side of the dual mode is running is invisible
// to them.
package broker

import (
	"context"
	"time"

	"github.com/helix-lab/tradewind/internal/types"
)

// UpdateEvent names the lifecycle event an OrderUpdate reports.
type UpdateEvent string

const (
	EventNew             UpdateEvent = "NEW"
	EventPartiallyFilled UpdateEvent = "PARTIALLY_FILLED"
	EventFilled          UpdateEvent = "FILLED"
	EventCanceled        UpdateEvent = "CANCELED"
	EventError           UpdateEvent = "ERROR"
)

// OrderUpdate is one lifecycle notification. The ledger is authoritative; an
// update is a copy of the order taken at the moment of the event, delivered
// so the executor can dispatch strategy callbacks.
type OrderUpdate struct {
	Event UpdateEvent
	Order types.Order
	Fill  *types.Fill // set on fill events
	Time  time.Time
}

// Broker executes orders and reports their lifecycle. Implementations must
// keep the order state machine forward-only and apply every fill exactly
// once, however many times the venue redelivers it.
type Broker interface {
	// SubmitOrder validates and submits a single order.
	SubmitOrder(ctx context.Context, order *types.Order) error
	// SubmitGroup submits linked legs (bracket/OCO/OTO) atomically: either
	// every leg is accepted or none are recorded.
	SubmitGroup(ctx context.Context, group *types.OrderGroup) error
	// CancelOrder requests cancellation of a working order. Canceling an
	// already terminal order is a no-op.
	CancelOrder(ctx context.Context, orderID string) error
	// CancelAllOrders best-effort cancels every working order, continuing
	// past individual failures and returning the last error seen.
	CancelAllOrders(ctx context.Context) error

	// Order returns the current snapshot of one order.
	Order(orderID string) (types.Order, error)
	// OpenOrders returns all non-terminal orders in submission order.
	OpenOrders() []types.Order
	// GetPositions returns all open positions.
	GetPositions() []types.Position
	// GetPosition returns the position for an asset, open or closed.
	GetPosition(asset types.Asset) (types.Position, error)
	// GetCash returns the current cash balance.
	GetCash() float64
	// AccountInfo returns an account snapshot marked at the given prices.
	AccountInfo(prices map[types.Asset]float64) types.AccountInfo

	// Updates exposes lifecycle notifications. Delivery is best-effort for
	// slow consumers; state queries above never lie.
	Updates() <-chan OrderUpdate
}

// registrationPollInterval paces the wait helpers. Registration and execution
// are venue round-trips, so tens of milliseconds of polling granularity is
// plenty.
const registrationPollInterval = 50 * time.Millisecond

// WaitForOrderRegistration blocks until the order has been acknowledged by
// the venue (status New or later) or ctx expires. On timeout it returns the
// latest order snapshot and a nil error; the caller inspects the status.
func WaitForOrderRegistration(ctx context.Context, b Broker, orderID string) (types.Order, error) {
	return waitForOrder(ctx, b, orderID, func(o types.Order) bool {
		return o.Status != types.OrderStatusUnprocessed && o.Status != types.OrderStatusSubmitted
	})
}

// WaitForOrderExecution blocks until the order is terminal or ctx expires. On
// timeout it returns the latest, not-yet-terminal snapshot and a nil error.
func WaitForOrderExecution(ctx context.Context, b Broker, orderID string) (types.Order, error) {
	return waitForOrder(ctx, b, orderID, func(o types.Order) bool {
		return o.Status.IsTerminal()
	})
}

func waitForOrder(ctx context.Context, b Broker, orderID string, done func(types.Order) bool) (types.Order, error) {
	ticker := time.NewTicker(registrationPollInterval)
	defer ticker.Stop()

	for {
		order, err := b.Order(orderID)
		if err != nil {
			return types.Order{}, err
		}

		if done(order) {
			return order, nil
		}

		select {
		case <-ctx.Done():
			return order, nil
		case <-ticker.C:
		}
	}
}
