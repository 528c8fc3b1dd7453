package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/helix-lab/tradewind/pkg/errors"
	"github.com/moznion/go-optional"
)

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Sign returns +1 for buys and -1 for sells.
func (s OrderSide) Sign() float64 {
	if s == OrderSideSell {
		return -1
	}

	return 1
}

// OrderKind selects the execution policy of an order.
type OrderKind string

const (
	OrderKindMarket       OrderKind = "MARKET"
	OrderKindLimit        OrderKind = "LIMIT"
	OrderKindStop         OrderKind = "STOP"
	OrderKindStopLimit    OrderKind = "STOP_LIMIT"
	OrderKindTrailingStop OrderKind = "TRAILING_STOP"
)

// TimeInForce controls how long an order stays working.
type TimeInForce string

const (
	TimeInForceDay TimeInForce = "DAY"
	TimeInForceGTC TimeInForce = "GTC"
)

// OrderStatus is one state of the order state machine. Status only moves
// forward through the graph:
//
//	Unprocessed -> Submitted -> New -> PartiallyFilled* -> {Filled | Canceled | Error}
type OrderStatus string

const (
	OrderStatusUnprocessed     OrderStatus = "UNPROCESSED"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusError           OrderStatus = "ERROR"
)

var statusRank = map[OrderStatus]int{
	OrderStatusUnprocessed:     0,
	OrderStatusSubmitted:       1,
	OrderStatusNew:             2,
	OrderStatusPartiallyFilled: 3,
	OrderStatusFilled:          4,
	OrderStatusCanceled:        4,
	OrderStatusError:           4,
}

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCanceled || s == OrderStatusError
}

// CanTransition reports whether moving from s to next is a legal forward
// transition. PartiallyFilled may repeat; terminal states admit nothing.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.IsTerminal() {
		return false
	}

	if s == OrderStatusPartiallyFilled && next == OrderStatusPartiallyFilled {
		return true
	}

	from, okFrom := statusRank[s]
	to, okTo := statusRank[next]

	return okFrom && okTo && to > from
}

// GroupRole tags an order's function inside a linked-leg group.
type GroupRole string

const (
	GroupRoleNone       GroupRole = ""
	GroupRoleEntry      GroupRole = "ENTRY"
	GroupRoleTakeProfit GroupRole = "TAKE_PROFIT"
	GroupRoleStopLoss   GroupRole = "STOP_LOSS"
)

// IsExit reports whether the role is one of the mutually exclusive exit legs.
func (r GroupRole) IsExit() bool {
	return r == GroupRoleTakeProfit || r == GroupRoleStopLoss
}

// Order is a request to trade one asset. Linked legs (bracket/OCO/OTO) share
// a GroupID and carry a GroupRole; sibling resolution is a group-table lookup
// in the ledger, never pointer traversal.
type Order struct {
	ID           string      `yaml:"id" json:"id" csv:"id" validate:"required"`
	StrategyName string      `yaml:"strategy_name" json:"strategy_name" csv:"strategy_name" validate:"required"`
	Asset        Asset       `yaml:"asset" json:"asset" csv:"-" validate:"required"`
	Side         OrderSide   `yaml:"side" json:"side" csv:"side" validate:"required,oneof=BUY SELL"`
	Quantity     float64     `yaml:"quantity" json:"quantity" csv:"quantity" validate:"required,gt=0"`
	Kind         OrderKind   `yaml:"kind" json:"kind" csv:"kind" validate:"required,oneof=MARKET LIMIT STOP STOP_LIMIT TRAILING_STOP"`
	TimeInForce  TimeInForce `yaml:"time_in_force" json:"time_in_force" csv:"time_in_force" validate:"required,oneof=DAY GTC"`

	LimitPrice  optional.Option[float64] `yaml:"limit_price,omitempty" json:"limit_price,omitempty" csv:"-"`
	StopPrice   optional.Option[float64] `yaml:"stop_price,omitempty" json:"stop_price,omitempty" csv:"-"`
	TrailAmount optional.Option[float64] `yaml:"trail_amount,omitempty" json:"trail_amount,omitempty" csv:"-"`

	GroupID   string    `yaml:"group_id,omitempty" json:"group_id,omitempty" csv:"group_id"`
	GroupRole GroupRole `yaml:"group_role,omitempty" json:"group_role,omitempty" csv:"group_role"`

	Status         OrderStatus `yaml:"status" json:"status" csv:"status"`
	FilledQuantity float64     `yaml:"filled_quantity" json:"filled_quantity" csv:"filled_quantity"`
	AvgFillPrice   float64     `yaml:"avg_fill_price" json:"avg_fill_price" csv:"avg_fill_price"`
	Fees           float64     `yaml:"fees" json:"fees" csv:"fees"`

	CreatedAt time.Time `yaml:"created_at" json:"created_at" csv:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at" csv:"updated_at"`
}

// NewOrder creates an Unprocessed order with a fresh id.
func NewOrder(strategyName string, asset Asset, side OrderSide, quantity float64, kind OrderKind) *Order {
	return &Order{
		ID:           uuid.New().String(),
		StrategyName: strategyName,
		Asset:        asset,
		Side:         side,
		Quantity:     quantity,
		Kind:         kind,
		TimeInForce:  TimeInForceGTC,
		Status:       OrderStatusUnprocessed,
	}
}

// Remaining returns the unfilled quantity.
func (o *Order) Remaining() float64 {
	return o.Quantity - o.FilledQuantity
}

// Validate rejects malformed orders locally, before they reach any broker.
func (o *Order) Validate() error {
	validate := validator.New()
	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	if err := o.Asset.Validate(); err != nil {
		return err
	}

	switch o.Kind {
	case OrderKindLimit:
		if err := requirePositive(o.LimitPrice, "limit order requires a positive limit price"); err != nil {
			return err
		}
	case OrderKindStop:
		if err := requirePositive(o.StopPrice, "stop order requires a positive stop price"); err != nil {
			return err
		}
	case OrderKindStopLimit:
		if err := requirePositive(o.StopPrice, "stop-limit order requires a positive stop price"); err != nil {
			return err
		}

		if err := requirePositive(o.LimitPrice, "stop-limit order requires a positive limit price"); err != nil {
			return err
		}
	case OrderKindTrailingStop:
		if err := requirePositive(o.TrailAmount, "trailing stop requires a positive trail amount"); err != nil {
			return err
		}
	case OrderKindMarket:
	}

	return nil
}

func requirePositive(v optional.Option[float64], msg string) error {
	if v.IsNone() {
		return errors.New(errors.ErrCodeMissingPrice, msg)
	}

	if v.Unwrap() <= 0 {
		return errors.New(errors.ErrCodeMissingPrice, msg)
	}

	return nil
}

// OrderGroup declares linked legs submitted together. A bracket is an entry
// plus both exits; an OCO is the two exits alone; an OTO is an entry plus one
// exit.
type OrderGroup struct {
	ID    string
	Legs  []*Order
	Roles map[string]GroupRole // order id -> role
}

// NewBracket links an entry with a take-profit and a stop-loss exit.
func NewBracket(entry, takeProfit, stopLoss *Order) (*OrderGroup, error) {
	if entry == nil || takeProfit == nil || stopLoss == nil {
		return nil, errors.New(errors.ErrCodeInvalidOrderGroup, "bracket requires an entry and both exit legs")
	}

	return newGroup(map[*Order]GroupRole{
		entry:      GroupRoleEntry,
		takeProfit: GroupRoleTakeProfit,
		stopLoss:   GroupRoleStopLoss,
	}, []*Order{entry, takeProfit, stopLoss})
}

// NewOCO links two exit legs so that filling one cancels the other.
func NewOCO(takeProfit, stopLoss *Order) (*OrderGroup, error) {
	if takeProfit == nil || stopLoss == nil {
		return nil, errors.New(errors.ErrCodeInvalidOrderGroup, "oco requires both exit legs")
	}

	return newGroup(map[*Order]GroupRole{
		takeProfit: GroupRoleTakeProfit,
		stopLoss:   GroupRoleStopLoss,
	}, []*Order{takeProfit, stopLoss})
}

// NewOTO links an entry with a single exit leg.
func NewOTO(entry, exit *Order, exitRole GroupRole) (*OrderGroup, error) {
	if entry == nil || exit == nil {
		return nil, errors.New(errors.ErrCodeInvalidOrderGroup, "oto requires an entry and one exit leg")
	}

	if !exitRole.IsExit() {
		return nil, errors.Newf(errors.ErrCodeInvalidOrderGroup, "oto exit role must be an exit, got %q", exitRole)
	}

	return newGroup(map[*Order]GroupRole{
		entry: GroupRoleEntry,
		exit:  exitRole,
	}, []*Order{entry, exit})
}

func newGroup(roles map[*Order]GroupRole, legs []*Order) (*OrderGroup, error) {
	groupID := uuid.New().String()
	byID := make(map[string]GroupRole, len(legs))

	for _, leg := range legs {
		role := roles[leg]
		leg.GroupID = groupID
		leg.GroupRole = role
		byID[leg.ID] = role
	}

	return &OrderGroup{ID: groupID, Legs: legs, Roles: byID}, nil
}

// Fill is one execution report against an order. FillID makes redelivery
// idempotent.
type Fill struct {
	FillID   string    `yaml:"fill_id" json:"fill_id" csv:"fill_id"`
	OrderID  string    `yaml:"order_id" json:"order_id" csv:"order_id"`
	Price    float64   `yaml:"price" json:"price" csv:"price"`
	Quantity float64   `yaml:"quantity" json:"quantity" csv:"quantity"`
	Fee      float64   `yaml:"fee" json:"fee" csv:"fee"`
	Time     time.Time `yaml:"time" json:"time" csv:"time"`
}
