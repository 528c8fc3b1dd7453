// Package backtest is the deterministic broker: orders are matched against
// historical bars, fills are synthesized synchronously inside OnBar, and the
// same inputs always produce the same fills in the same order.
//
// Intrabar fill convention:
//   - market orders fill at the bar's Open;
//   - limit orders fill at the limit price when the bar range crosses it, or
//     at the Open when the Open already crosses (gap through);
//   - stop orders arm when High/Low touches the stop and fill at the stop
//     price, or at the Open on a gap through;
//   - stop-limit orders arm like a stop, then match like a limit;
//   - trailing stops re-anchor on the best favourable extreme seen since
//     submission; the trigger is evaluated against the anchor carried into
//     the bar, then the bar's extreme moves the anchor.
package backtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/helix-lab/tradewind/internal/broker"
	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/ledger"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/types"
	"go.uber.org/zap"
)

const updateBufferSize = 1024

// pendingState carries per-order matching state between bars.
type pendingState struct {
	orderID string
	armed   bool    // stop/stop-limit trigger observed
	anchor  float64 // trailing stop: best favourable extreme so far
}

// Broker is the backtesting implementation of broker.Broker.
type Broker struct {
	mu sync.Mutex

	log    *logger.Logger
	clock  clock.Clock
	ledger *ledger.Ledger
	fees   FeeModel

	pending    map[string]*pendingState
	pendingSeq []string // evaluation order = submission order

	updates chan broker.OrderUpdate
	fillSeq int
	dropped int
}

var _ broker.Broker = (*Broker)(nil)

// New creates a backtesting broker over the given ledger and clock.
func New(l *ledger.Ledger, c clock.Clock, fees FeeModel, log *logger.Logger) *Broker {
	if fees == nil {
		fees = ZeroFee{}
	}

	return &Broker{
		log:     log,
		clock:   c,
		ledger:  l,
		fees:    fees,
		pending: make(map[string]*pendingState),
		updates: make(chan broker.OrderUpdate, updateBufferSize),
	}
}

// SubmitOrder implements broker.Broker. The simulated venue acknowledges
// instantly: an accepted order moves straight to New.
func (b *Broker) SubmitOrder(ctx context.Context, order *types.Order) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.submitLocked(order)
}

// SubmitGroup implements broker.Broker. Legs are validated together before
// any is recorded, so a malformed group leaves no trace.
func (b *Broker) SubmitGroup(ctx context.Context, group *types.OrderGroup) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	if err := b.ledger.SubmitGroup(group, now); err != nil {
		return err
	}

	for _, leg := range group.Legs {
		if err := b.ledger.MarkStatus(leg.ID, types.OrderStatusNew, now); err != nil {
			return err
		}

		b.track(leg.ID)
		b.emit(broker.EventNew, leg.ID, nil)
	}

	return nil
}

func (b *Broker) submitLocked(order *types.Order) error {
	now := b.clock.Now()
	if err := b.ledger.Submit(order, now); err != nil {
		return err
	}

	if err := b.ledger.MarkStatus(order.ID, types.OrderStatusNew, now); err != nil {
		return err
	}

	b.track(order.ID)
	b.emit(broker.EventNew, order.ID, nil)

	return nil
}

func (b *Broker) track(orderID string) {
	b.pending[orderID] = &pendingState{orderID: orderID}
	b.pendingSeq = append(b.pendingSeq, orderID)
}

// CancelOrder implements broker.Broker.
func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	order, err := b.ledger.Order(orderID)
	if err != nil {
		return err
	}

	if order.Status.IsTerminal() {
		return nil
	}

	if err := b.ledger.Cancel(orderID, b.clock.Now()); err != nil {
		return err
	}

	delete(b.pending, orderID)
	b.emit(broker.EventCanceled, orderID, nil)

	return nil
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

// ExpireDayOrders cancels every working DAY order. The backtest trader wires
// it as the executor's close hook so expiry fires at the session close.
func (b *Broker) ExpireDayOrders(ctx context.Context) error {
	var lastErr error

	for _, order := range b.ledger.OpenOrders() {
		if order.TimeInForce != types.TimeInForceDay {
			continue
		}

		if err := b.CancelOrder(ctx, order.ID); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// OnBar matches all working orders for the bar's asset, then marks open
// leveraged positions to the bar's Close. It must be called before the next
// iteration reads cash so the strategy always sees settled numbers.
func (b *Broker) OnBar(asset types.Asset, bar types.Bar) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// pendingSeq is append-only; compact terminal entries as we sweep.
	live := b.pendingSeq[:0]

	for _, id := range b.pendingSeq {
		state, ok := b.pending[id]
		if !ok {
			continue
		}

		order, err := b.ledger.Order(id)
		if err != nil {
			return err
		}

		if order.Status.IsTerminal() {
			delete(b.pending, id)

			continue
		}

		live = append(live, id)

		if order.Asset != asset {
			continue
		}

		price, filled := b.matchBar(&order, state, bar)
		if !filled {
			continue
		}

		if err := b.fillLocked(order, price, bar); err != nil {
			return err
		}
	}

	b.pendingSeq = live
	b.ledger.MarkToMarket(asset, bar.Close, bar.Time)

	return nil
}

// fillLocked synthesizes a full fill at price and propagates group fan-out
// cancels.
func (b *Broker) fillLocked(order types.Order, price float64, bar types.Bar) error {
	b.fillSeq++
	fill := types.Fill{
		FillID:   fmt.Sprintf("bt-fill-%06d", b.fillSeq),
		OrderID:  order.ID,
		Price:    price,
		Quantity: order.Remaining(),
		Fee:      b.fees.Fee(price, order.Remaining()),
		Time:     bar.Time,
	}

	canceled, err := b.ledger.ApplyFill(fill)
	if err != nil {
		return err
	}

	delete(b.pending, order.ID)
	b.emit(broker.EventFilled, order.ID, &fill)

	for _, sibling := range canceled {
		delete(b.pending, sibling.ID)
		b.emit(broker.EventCanceled, sibling.ID, nil)
	}

	return nil
}

// matchBar decides whether the order executes within this bar and at what
// price, updating trailing/arming state as a side effect.
func (b *Broker) matchBar(order *types.Order, state *pendingState, bar types.Bar) (float64, bool) {
	switch order.Kind {
	case types.OrderKindMarket:
		return bar.Open, true

	case types.OrderKindLimit:
		return matchLimit(order.Side, order.LimitPrice.Unwrap(), bar)

	case types.OrderKindStop:
		stop := order.StopPrice.Unwrap()
		if !stopTouched(order.Side, stop, bar) {
			return 0, false
		}
		// A stop converts to a market order; on a gap through the stop the
		// fill is the Open, otherwise the stop itself.
		if gappedThroughStop(order.Side, stop, bar) {
			return bar.Open, true
		}

		return stop, true

	case types.OrderKindStopLimit:
		stop := order.StopPrice.Unwrap()
		if !state.armed {
			if !stopTouched(order.Side, stop, bar) {
				return 0, false
			}

			state.armed = true
		}

		return matchLimit(order.Side, order.LimitPrice.Unwrap(), bar)

	case types.OrderKindTrailingStop:
		return matchTrailing(order, state, bar)
	}

	return 0, false
}

// matchLimit fills when the bar range crosses the limit.
func matchLimit(side types.OrderSide, limit float64, bar types.Bar) (float64, bool) {
	if side == types.OrderSideBuy {
		if bar.Open <= limit {
			return bar.Open, true
		}

		if bar.Low <= limit {
			return limit, true
		}

		return 0, false
	}

	if bar.Open >= limit {
		return bar.Open, true
	}

	if bar.High >= limit {
		return limit, true
	}

	return 0, false
}

// stopTouched reports whether the bar reached the stop trigger: buys trigger
// on rising prices, sells on falling ones.
func stopTouched(side types.OrderSide, stop float64, bar types.Bar) bool {
	if side == types.OrderSideBuy {
		return bar.High >= stop
	}

	return bar.Low <= stop
}

func gappedThroughStop(side types.OrderSide, stop float64, bar types.Bar) bool {
	if side == types.OrderSideBuy {
		return bar.Open >= stop
	}

	return bar.Open <= stop
}

// matchTrailing evaluates the trigger against the anchor carried into the
// bar, then moves the anchor to the bar's favourable extreme.
func matchTrailing(order *types.Order, state *pendingState, bar types.Bar) (float64, bool) {
	trail := order.TrailAmount.Unwrap()

	if state.anchor == 0 {
		state.anchor = bar.Open
	}

	if order.Side == types.OrderSideSell {
		stop := state.anchor - trail
		if bar.Open <= stop {
			return bar.Open, true
		}

		if bar.Low <= stop {
			return stop, true
		}

		if bar.High > state.anchor {
			state.anchor = bar.High
		}

		return 0, false
	}

	stop := state.anchor + trail
	if bar.Open >= stop {
		return bar.Open, true
	}

	if bar.High >= stop {
		return stop, true
	}

	if bar.Low < state.anchor {
		state.anchor = bar.Low
	}

	return 0, false
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

// emit sends a notification without ever blocking the matching loop. Caller
// holds the lock.
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
		b.dropped++
		b.log.Warn("order update dropped, consumer too slow",
			zap.String("order_id", orderID),
			zap.String("event", string(event)),
			zap.Int("dropped_total", b.dropped),
		)
	}
}
