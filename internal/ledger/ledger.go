// Package ledger is the authoritative order, position and cash bookkeeping
// shared by live and backtest brokers. All mutation goes through Submit,
// Cancel, MarkStatus, ApplyFill and MarkToMarket; everything else is
// read-only. Cash moves at exactly three points: fills, margin
// posting/release and mark-to-market settlement.
package ledger

import (
	"sync"
	"time"

	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultMarginRate is the fraction of notional posted as margin for
// leveraged instruments when no rate is configured.
const DefaultMarginRate = 0.1

// Ledger tracks one strategy's orders, positions and cash.
type Ledger struct {
	mu sync.Mutex

	strategyName string
	log          *logger.Logger
	marginRate   decimal.Decimal

	cash      decimal.Decimal
	totalFees decimal.Decimal

	orders   map[string]*types.Order
	orderSeq []string // insertion order, keeps reads deterministic

	// groups is the flat linked-leg table: group id -> member order ids.
	// Sibling cancellation is a lookup here, never pointer traversal.
	groups map[string][]string

	// appliedFills makes ApplyFill idempotent under duplicate delivery.
	appliedFills map[string]struct{}

	positions map[types.Asset]*types.Position

	// margin posted per leveraged asset.
	margin map[types.Asset]decimal.Decimal
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMarginRate overrides the margin fraction for leveraged instruments.
func WithMarginRate(rate float64) Option {
	return func(l *Ledger) {
		l.marginRate = decimal.NewFromFloat(rate)
	}
}

// New creates a ledger with the given starting cash.
func New(strategyName string, initialCash float64, log *logger.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		strategyName: strategyName,
		log:          log,
		marginRate:   decimal.NewFromFloat(DefaultMarginRate),
		cash:         decimal.NewFromFloat(initialCash),
		totalFees:    decimal.Zero,
		orders:       make(map[string]*types.Order),
		groups:       make(map[string][]string),
		appliedFills: make(map[string]struct{}),
		positions:    make(map[types.Asset]*types.Position),
		margin:       make(map[types.Asset]decimal.Decimal),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Submit validates the order locally and records it as Submitted. Validation
// failures never reach a broker.
func (l *Ledger) Submit(order *types.Order, now time.Time) error {
	if err := order.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.orders[order.ID]; exists {
		return errors.Newf(errors.ErrCodeDuplicateOrder, "order %s already submitted", order.ID)
	}

	if !order.Status.CanTransition(types.OrderStatusSubmitted) {
		return errors.Newf(errors.ErrCodeInvalidTransition, "order %s cannot be submitted from %s", order.ID, order.Status)
	}

	order.Status = types.OrderStatusSubmitted
	order.CreatedAt = now
	order.UpdatedAt = now

	l.orders[order.ID] = order
	l.orderSeq = append(l.orderSeq, order.ID)

	if order.GroupID != "" {
		l.groups[order.GroupID] = append(l.groups[order.GroupID], order.ID)
	}

	return nil
}

// SubmitGroup validates the group shape and submits every leg. A bracket
// missing an exit leg is rejected before anything is recorded.
func (l *Ledger) SubmitGroup(group *types.OrderGroup, now time.Time) error {
	if group == nil || len(group.Legs) == 0 {
		return errors.New(errors.ErrCodeInvalidOrderGroup, "empty order group")
	}

	for _, leg := range group.Legs {
		if err := leg.Validate(); err != nil {
			return err
		}
	}

	for _, leg := range group.Legs {
		if err := l.Submit(leg, now); err != nil {
			return err
		}
	}

	return nil
}

// MarkStatus applies a broker-reported status transition (for example
// Submitted -> New). Backward transitions are rejected; repeating the current
// status is a no-op so redelivered updates are harmless.
func (l *Ledger) MarkStatus(orderID string, status types.OrderStatus, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	if order.Status == status {
		return nil
	}

	if !order.Status.CanTransition(status) {
		return errors.Newf(errors.ErrCodeInvalidTransition, "order %s cannot move %s -> %s", orderID, order.Status, status)
	}

	order.Status = status
	order.UpdatedAt = now

	return nil
}

// Cancel moves a non-terminal order to Canceled. Canceling an already
// terminal order is a no-op.
func (l *Ledger) Cancel(orderID string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cancelLocked(orderID, now)
}

func (l *Ledger) cancelLocked(orderID string, now time.Time) error {
	order, ok := l.orders[orderID]
	if !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	if order.Status.IsTerminal() {
		return nil
	}

	order.Status = types.OrderStatusCanceled
	order.UpdatedAt = now

	return nil
}

// ApplyFill is the single authoritative mutation point for executions. It is
// idempotent per fill id, rejects overfills, advances order status, upserts
// the owning position and posts the cash/margin delta. When a terminal fill
// lands on an exit leg, all non-terminal sibling legs are canceled in the
// same call; their orders are returned so the caller can propagate cancel
// requests to the broker.
func (l *Ledger) ApplyFill(fill types.Fill) ([]*types.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, seen := l.appliedFills[fill.FillID]; seen {
		return nil, nil
	}

	order, ok := l.orders[fill.OrderID]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeOrderNotFound, "fill %s references unknown order %s", fill.FillID, fill.OrderID)
	}

	if fill.Quantity <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidQuantity, "fill %s has non-positive quantity %f", fill.FillID, fill.Quantity)
	}

	if fill.Quantity > order.Remaining()+1e-9 {
		return nil, errors.Newf(errors.ErrCodeOverfill,
			"fill %s quantity %f exceeds remaining %f on order %s", fill.FillID, fill.Quantity, order.Remaining(), fill.OrderID)
	}

	next := types.OrderStatusPartiallyFilled
	if fill.Quantity >= order.Remaining()-1e-9 {
		next = types.OrderStatusFilled
	}

	if !order.Status.CanTransition(next) {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition,
			"order %s cannot move %s -> %s", order.ID, order.Status, next)
	}

	// All checks passed: commit.
	l.appliedFills[fill.FillID] = struct{}{}

	prevFilled := decimal.NewFromFloat(order.FilledQuantity)
	fillQty := decimal.NewFromFloat(fill.Quantity)
	fillPrice := decimal.NewFromFloat(fill.Price)

	newFilled := prevFilled.Add(fillQty)
	prevNotional := decimal.NewFromFloat(order.AvgFillPrice).Mul(prevFilled)
	order.AvgFillPrice = prevNotional.Add(fillPrice.Mul(fillQty)).Div(newFilled).InexactFloat64()
	order.FilledQuantity = newFilled.InexactFloat64()
	order.Fees += fill.Fee
	order.Status = next
	order.UpdatedAt = fill.Time

	l.applyPositionAndCash(order, fill)

	var canceled []*types.Order
	if next == types.OrderStatusFilled && order.GroupRole.IsExit() {
		canceled = l.cancelSiblingsLocked(order, fill.Time)
	}

	l.log.Debug("fill applied",
		zap.String("order_id", order.ID),
		zap.String("fill_id", fill.FillID),
		zap.Float64("price", fill.Price),
		zap.Float64("quantity", fill.Quantity),
		zap.String("status", string(order.Status)),
		zap.Float64("cash", l.cash.InexactFloat64()),
	)

	return canceled, nil
}

// applyPositionAndCash upserts the position for a fill and posts the cash
// delta. Caller holds the lock.
func (l *Ledger) applyPositionAndCash(order *types.Order, fill types.Fill) {
	asset := order.Asset
	mult := decimal.NewFromFloat(asset.Multiplier())
	qty := decimal.NewFromFloat(fill.Quantity)
	price := decimal.NewFromFloat(fill.Price)
	fee := decimal.NewFromFloat(fill.Fee)
	signed := qty.Mul(decimal.NewFromFloat(order.Side.Sign()))

	pos, exists := l.positions[asset]
	if !exists {
		pos = &types.Position{
			StrategyName: l.strategyName,
			Asset:        asset,
			OpenedAt:     fill.Time,
		}
		l.positions[asset] = pos
	}

	prevQty := decimal.NewFromFloat(pos.Quantity)

	// Fees always come straight out of cash.
	l.cash = l.cash.Sub(fee)
	l.totalFees = l.totalFees.Add(fee)

	if asset.Leveraged() {
		// Settle the existing quantity to the fill price first so the
		// fill participates in mark-to-market accounting, then adjust
		// margin to the new notional. Cash never moves by full notional.
		if !prevQty.IsZero() {
			lastMark := decimal.NewFromFloat(pos.LastMarkPrice)
			l.cash = l.cash.Add(price.Sub(lastMark).Mul(prevQty).Mul(mult))
		}

		pos.LastMarkPrice = fill.Price
		pos.LastMarkTime = fill.Time

		newQty := prevQty.Add(signed)
		target := l.marginRate.Mul(newQty.Abs()).Mul(price).Mul(mult)
		current := l.margin[asset]
		l.cash = l.cash.Sub(target.Sub(current))
		l.margin[asset] = target

		l.updateEntryPrice(pos, prevQty, signed, fill.Price)
		pos.Quantity = newQty.InexactFloat64()
	} else {
		// Cash settles the full notional: buys spend, sells receive.
		l.cash = l.cash.Sub(price.Mul(signed).Mul(mult))
		l.updateEntryPrice(pos, prevQty, signed, fill.Price)
		pos.Quantity = prevQty.Add(signed).InexactFloat64()
	}

	pos.UpdatedAt = fill.Time
	pos.OrderIDs = appendUnique(pos.OrderIDs, order.ID)
}

// updateEntryPrice maintains the average entry price: weighted when adding in
// the same direction, reset when a fill flips the position through zero.
func (l *Ledger) updateEntryPrice(pos *types.Position, prevQty, signed decimal.Decimal, price float64) {
	newQty := prevQty.Add(signed)

	switch {
	case prevQty.IsZero() || prevQty.Sign() != newQty.Sign() && !newQty.IsZero():
		pos.AvgEntryPrice = price
	case prevQty.Sign() == signed.Sign():
		prevNotional := decimal.NewFromFloat(pos.AvgEntryPrice).Mul(prevQty.Abs())
		added := decimal.NewFromFloat(price).Mul(signed.Abs())
		pos.AvgEntryPrice = prevNotional.Add(added).Div(newQty.Abs()).InexactFloat64()
	}
	// Reducing without flipping keeps the entry price.
}

// cancelSiblingsLocked cancels every non-terminal leg sharing the filled
// order's group and returns them. At most one exit leg ever reaches Filled.
func (l *Ledger) cancelSiblingsLocked(filled *types.Order, now time.Time) []*types.Order {
	var canceled []*types.Order

	for _, id := range l.groups[filled.GroupID] {
		if id == filled.ID {
			continue
		}

		sibling := l.orders[id]
		if sibling == nil || sibling.Status.IsTerminal() {
			continue
		}

		sibling.Status = types.OrderStatusCanceled
		sibling.UpdatedAt = now
		canceled = append(canceled, sibling)
	}

	if len(canceled) > 0 {
		l.log.Debug("group fan-out cancel",
			zap.String("group_id", filled.GroupID),
			zap.String("filled_order", filled.ID),
			zap.Int("canceled", len(canceled)),
		)
	}

	return canceled
}

// MarkToMarket settles the price move since the last mark directly into cash
// for a leveraged position. Idempotent per tick: a mark at or before the last
// mark time is a no-op.
func (l *Ledger) MarkToMarket(asset types.Asset, price float64, now time.Time) {
	if !asset.Leveraged() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[asset]
	if !ok || !pos.IsOpen() {
		return
	}

	if !now.After(pos.LastMarkTime) {
		return
	}

	delta := decimal.NewFromFloat(price).
		Sub(decimal.NewFromFloat(pos.LastMarkPrice)).
		Mul(decimal.NewFromFloat(pos.Quantity)).
		Mul(decimal.NewFromFloat(asset.Multiplier()))

	l.cash = l.cash.Add(delta)
	pos.LastMarkPrice = price
	pos.LastMarkTime = now
	pos.UpdatedAt = now
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.cash.InexactFloat64()
}

// PortfolioValue is cash plus the market value of non-cash-settled positions
// at the supplied prices. Leveraged positions contribute nothing because cash
// already reflects their P&L.
func (l *Ledger) PortfolioValue(prices map[types.Asset]float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.cash

	for asset, pos := range l.positions {
		if !pos.IsOpen() || asset.Leveraged() {
			continue
		}

		total = total.Add(decimal.NewFromFloat(pos.MarketValue(prices[asset])))
	}

	// Margin posted against leveraged positions is still account equity.
	for _, m := range l.margin {
		total = total.Add(m)
	}

	return total.InexactFloat64()
}

// AccountInfo returns a snapshot at the supplied prices.
func (l *Ledger) AccountInfo(prices map[types.Asset]float64) types.AccountInfo {
	margin := decimal.Zero

	l.mu.Lock()
	for _, m := range l.margin {
		margin = margin.Add(m)
	}
	cash := l.cash.InexactFloat64()
	fees := l.totalFees.InexactFloat64()
	l.mu.Unlock()

	return types.AccountInfo{
		Cash:           cash,
		PortfolioValue: l.PortfolioValue(prices),
		MarginPosted:   margin.InexactFloat64(),
		TotalFees:      fees,
	}
}

// Order returns a copy of the order with the given id.
func (l *Ledger) Order(orderID string) (types.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, ok := l.orders[orderID]
	if !ok {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not found", orderID)
	}

	return *order, nil
}

// Orders returns copies of every order in submission order.
func (l *Ledger) Orders() []types.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.Order, 0, len(l.orderSeq))
	for _, id := range l.orderSeq {
		out = append(out, *l.orders[id])
	}

	return out
}

// OpenOrders returns copies of every non-terminal order in submission order.
func (l *Ledger) OpenOrders() []types.Order {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []types.Order

	for _, id := range l.orderSeq {
		if !l.orders[id].Status.IsTerminal() {
			out = append(out, *l.orders[id])
		}
	}

	return out
}

// Position returns a copy of the position for the asset, open or closed.
func (l *Ledger) Position(asset types.Asset) (types.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[asset]
	if !ok {
		return types.Position{}, errors.Newf(errors.ErrCodePositionNotFound, "no position for %s", asset)
	}

	return *pos, nil
}

// Positions returns copies of all open positions.
func (l *Ledger) Positions() []types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []types.Position

	for _, pos := range l.positions {
		if pos.IsOpen() {
			out = append(out, *pos)
		}
	}

	return out
}

// AllPositions returns copies of every position ever opened, including closed
// ones.
func (l *Ledger) AllPositions() []types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]types.Position, 0, len(l.positions))
	for _, pos := range l.positions {
		out = append(out, *pos)
	}

	return out
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}

	return append(ids, id)
}
