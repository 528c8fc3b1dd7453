// Package strategy defines the callback interface a trading strategy
// implements once and runs unmodified in both live trading and backtesting.
// The contract is a fixed interface with no-op defaults, invoked explicitly
// by the executor; there is no reflection or dynamic dispatch by name.
package strategy

import (
	stderrors "errors"

	"github.com/helix-lab/tradewind/internal/types"
)

// Strategy is the full lifecycle callback set. Embed BaseStrategy and
// override what you need; the executor calls these in a fixed per-day order
// and never concurrently for one strategy.
type Strategy interface {
	// Name identifies the strategy in logs, orders and reports.
	Name() string

	// Initialize runs exactly once before the first trading day.
	Initialize(ctx *Context) error
	// BeforeMarketOpens runs each day before the open. It is skipped only
	// on the first day when the market is already open at start.
	BeforeMarketOpens(ctx *Context) error
	// BeforeStartingTrading runs once per day, right at or after the open,
	// before the first iteration. Never skipped.
	BeforeStartingTrading(ctx *Context) error
	// OnTradingIteration is the core loop body.
	OnTradingIteration(ctx *Context) error
	// TraceStats runs after each iteration with the strategy's serializable
	// state from before that iteration.
	TraceStats(ctx *Context, previous Vars) error
	// BeforeMarketCloses runs when the session enters the closing window.
	BeforeMarketCloses(ctx *Context) error
	// AfterMarketCloses runs once the close instant has passed.
	AfterMarketCloses(ctx *Context) error

	// OnNewOrder reports an order acknowledged by the venue.
	OnNewOrder(ctx *Context, order types.Order) error
	// OnPartiallyFilledOrder reports a partial execution.
	OnPartiallyFilledOrder(ctx *Context, order types.Order, fill types.Fill) error
	// OnFilledOrder reports a complete execution.
	OnFilledOrder(ctx *Context, order types.Order, fill types.Fill) error
	// OnCanceledOrder reports a cancellation, including group fan-out.
	OnCanceledOrder(ctx *Context, order types.Order) error

	// OnAbruptClosing runs on external shutdown and is expected to flatten
	// positions.
	OnAbruptClosing(ctx *Context) error
	// OnBotCrash runs when any callback returns an error or panics.
	OnBotCrash(ctx *Context, crashErr error) error
}

// BaseStrategy provides no-op defaults for every callback except Name, which
// each strategy must declare itself.
type BaseStrategy struct{}

func (BaseStrategy) Initialize(ctx *Context) error            { return nil }
func (BaseStrategy) BeforeMarketOpens(ctx *Context) error     { return nil }
func (BaseStrategy) BeforeStartingTrading(ctx *Context) error { return nil }
func (BaseStrategy) OnTradingIteration(ctx *Context) error    { return nil }
func (BaseStrategy) TraceStats(ctx *Context, previous Vars) error {
	return nil
}
func (BaseStrategy) BeforeMarketCloses(ctx *Context) error { return nil }
func (BaseStrategy) AfterMarketCloses(ctx *Context) error  { return nil }
func (BaseStrategy) OnNewOrder(ctx *Context, order types.Order) error {
	return nil
}
func (BaseStrategy) OnPartiallyFilledOrder(ctx *Context, order types.Order, fill types.Fill) error {
	return nil
}
func (BaseStrategy) OnFilledOrder(ctx *Context, order types.Order, fill types.Fill) error {
	return nil
}
func (BaseStrategy) OnCanceledOrder(ctx *Context, order types.Order) error {
	return nil
}
func (BaseStrategy) OnAbruptClosing(ctx *Context) error { return nil }

// ErrCrashUnhandled tells the executor the strategy has no crash handler of
// its own, so the default applies: OnAbruptClosing is invoked to flatten.
// Embedded method sets cannot dispatch back to the outer type, which is why
// the delegation lives in the executor rather than here.
var ErrCrashUnhandled = stderrors.New("crash not handled by strategy")

func (BaseStrategy) OnBotCrash(ctx *Context, crashErr error) error {
	return ErrCrashUnhandled
}
