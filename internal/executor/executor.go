// Package executor runs one strategy through the trading-day lifecycle. The
// same state machine drives both modes; only the waiting differs — live mode
// really sleeps, simulated mode jumps the clock to the next relevant instant
// so a backtest never blocks on wall time.
package executor

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/helix-lab/tradewind/internal/broker"
	"github.com/helix-lab/tradewind/internal/calendar"
	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/stats"
	"github.com/helix-lab/tradewind/internal/strategy"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"go.uber.org/zap"
)

// State names one node of the lifecycle state machine.
type State string

const (
	StateCreated              State = "CREATED"
	StateInitialized          State = "INITIALIZED"
	StateWaitingForMarketOpen State = "WAITING_FOR_MARKET_OPEN"
	StateTrading              State = "TRADING"
	StateClosingWindow        State = "CLOSING_WINDOW"
	StateAfterClose           State = "AFTER_CLOSE"
	StateAbruptClosing        State = "ABRUPT_CLOSING"
	StateCrashed              State = "CRASHED"
	StateFinished             State = "FINISHED"
)

// Config shapes the day loop.
type Config struct {
	// Sleeptime is the interval between trading iterations.
	Sleeptime time.Duration `yaml:"sleeptime" validate:"required,gt=0"`
	// MinutesBeforeClosing is how long before the close the iteration loop
	// yields to the closing window.
	MinutesBeforeClosing int `yaml:"minutes_before_closing" validate:"gte=0"`
}

// AdvanceHook observes simulated-time jumps. The backtest trader uses it to
// feed the bars inside (from, to] to the broker before the strategy sees the
// new instant.
type AdvanceHook func(from, to time.Time) error

// CloseHook runs once per day at the session close, before AfterMarketCloses.
// The backtest trader uses it to expire DAY orders still working at the bell.
type CloseHook func(at time.Time) error

// Executor owns one strategy's lifecycle.
type Executor struct {
	strat       strategy.Strategy
	strategyCtx *strategy.Context
	cal         *calendar.Calendar
	clk         clock.Clock
	sleeper     clock.Sleeper          // set in live mode
	simClock    *clock.SimulatedClock  // set in backtest mode
	tracker     *stats.Tracker
	log         *logger.Logger
	cfg         Config

	onAdvance AdvanceHook
	onClose   CloseHook

	state State
	day   int
}

// Option configures an Executor.
type Option func(*Executor)

// WithSleeper puts the executor in live mode: waits are real and cancellable.
func WithSleeper(s clock.Sleeper) Option {
	return func(e *Executor) {
		e.sleeper = s
	}
}

// WithSimulatedClock puts the executor in backtest mode: waits become clock
// jumps.
func WithSimulatedClock(c *clock.SimulatedClock) Option {
	return func(e *Executor) {
		e.simClock = c
	}
}

// WithAdvanceHook registers the simulated-advance observer.
func WithAdvanceHook(hook AdvanceHook) Option {
	return func(e *Executor) {
		e.onAdvance = hook
	}
}

// WithCloseHook registers the session-close hook.
func WithCloseHook(hook CloseHook) Option {
	return func(e *Executor) {
		e.onClose = hook
	}
}

// New creates an executor. Exactly one of WithSleeper or WithSimulatedClock
// must be supplied.
func New(strat strategy.Strategy, sctx *strategy.Context, cal *calendar.Calendar, tracker *stats.Tracker, cfg Config, log *logger.Logger, opts ...Option) *Executor {
	e := &Executor{
		strat:       strat,
		strategyCtx: sctx,
		cal:         cal,
		clk:         sctx.Clock,
		tracker:     tracker,
		log:         log,
		cfg:         cfg,
		state:       StateCreated,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// State returns the current lifecycle state.
func (e *Executor) State() State {
	return e.state
}

// Run drives the strategy until ctx is canceled or, when until is non-zero,
// the clock passes it. A crash returns an error carrying the instant of
// failure so backtests are reproducible; external shutdown returns nil after
// OnAbruptClosing.
func (e *Executor) Run(ctx context.Context, until time.Time) error {
	if err := e.invoke("initialize", func() error {
		return e.strat.Initialize(e.strategyCtx)
	}); err != nil {
		return e.handleCrash(ctx, err)
	}

	e.transition(StateInitialized)

	for {
		if ctx.Err() != nil {
			return e.abruptClose(ctx)
		}

		if !until.IsZero() && !e.clk.Now().Before(until) {
			e.transition(StateFinished)

			return nil
		}

		if err := e.runDay(ctx, until); err != nil {
			if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
				return e.abruptClose(ctx)
			}

			return e.handleCrash(ctx, err)
		}

		e.day++
	}
}

// runDay executes one trading day in the fixed callback order.
func (e *Executor) runDay(ctx context.Context, until time.Time) error {
	now := e.clk.Now()
	marketOpen := e.cal.IsOpen(now)

	// BeforeMarketOpens is skipped only on the very first day when the
	// session is already underway at start.
	if !(e.day == 0 && marketOpen) {
		e.transition(StateWaitingForMarketOpen)

		if err := e.invoke("beforeMarketOpens", func() error {
			return e.strat.BeforeMarketOpens(e.strategyCtx)
		}); err != nil {
			return err
		}

		if !marketOpen {
			if err := e.awaitInstant(ctx, e.cal.NextOpen(now)); err != nil {
				return err
			}
		}
	}

	if err := e.invoke("beforeStartingTrading", func() error {
		return e.strat.BeforeStartingTrading(e.strategyCtx)
	}); err != nil {
		return err
	}

	e.transition(StateTrading)

	sessionClose := e.cal.NextClose(e.clk.Now())
	deadline := sessionClose.Add(-time.Duration(e.cfg.MinutesBeforeClosing) * time.Minute)

	for e.clk.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !until.IsZero() && !e.clk.Now().Before(until) {
			break
		}

		e.dispatchUpdates()

		previous := e.strategyCtx.Vars.Clone()

		if err := e.invoke("onTradingIteration", func() error {
			return e.strat.OnTradingIteration(e.strategyCtx)
		}); err != nil {
			if !errors.IsRecoverable(err) {
				return err
			}

			e.log.Warn("iteration skipped on recoverable error",
				zap.String("strategy", e.strat.Name()),
				zap.Error(err),
			)
		}

		if err := e.invoke("traceStats", func() error {
			return e.strat.TraceStats(e.strategyCtx, previous)
		}); err != nil {
			return err
		}

		e.record()

		if err := e.pause(ctx, e.cfg.Sleeptime, deadline); err != nil {
			return err
		}
	}

	e.transition(StateClosingWindow)

	if err := e.invoke("beforeMarketCloses", func() error {
		return e.strat.BeforeMarketCloses(e.strategyCtx)
	}); err != nil {
		return err
	}

	if err := e.awaitInstant(ctx, sessionClose); err != nil {
		return err
	}

	e.transition(StateAfterClose)

	if e.onClose != nil {
		if err := e.onClose(sessionClose); err != nil {
			return err
		}
	}

	e.dispatchUpdates()

	return e.invoke("afterMarketCloses", func() error {
		return e.strat.AfterMarketCloses(e.strategyCtx)
	})
}

// pause waits one sleeptime between iterations, never past the deadline.
// Live mode blocks; simulated mode jumps.
func (e *Executor) pause(ctx context.Context, d time.Duration, deadline time.Time) error {
	now := e.clk.Now()
	target := now.Add(d)

	if target.After(deadline) {
		target = deadline
	}

	return e.awaitInstant(ctx, target)
}

// awaitInstant suspends this strategy until the clock reaches target.
func (e *Executor) awaitInstant(ctx context.Context, target time.Time) error {
	now := e.clk.Now()
	if !target.After(now) {
		return nil
	}

	if e.simClock != nil {
		// Fold in any advances the strategy requested via Sleep.
		if pending := e.simClock.PendingAdvance(); pending > 0 && now.Add(pending).After(target) {
			target = now.Add(pending)
		}

		e.simClock.Advance(target)

		if e.onAdvance != nil {
			if err := e.onAdvance(now, target); err != nil {
				return err
			}
		}

		e.dispatchUpdates()

		return nil
	}

	return e.sleeper.Sleep(ctx, target.Sub(now))
}

// dispatchUpdates drains pending order notifications into the strategy's
// order callbacks.
func (e *Executor) dispatchUpdates() {
	updates := e.strategyCtx.Broker.Updates()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				return
			}

			e.dispatchUpdate(update)
		default:
			return
		}
	}
}

func (e *Executor) dispatchUpdate(update broker.OrderUpdate) {
	var err error

	switch update.Event {
	case broker.EventNew:
		err = e.invoke("onNewOrder", func() error {
			return e.strat.OnNewOrder(e.strategyCtx, update.Order)
		})
	case broker.EventPartiallyFilled:
		err = e.invoke("onPartiallyFilledOrder", func() error {
			return e.strat.OnPartiallyFilledOrder(e.strategyCtx, update.Order, deref(update.Fill))
		})
	case broker.EventFilled:
		err = e.invoke("onFilledOrder", func() error {
			return e.strat.OnFilledOrder(e.strategyCtx, update.Order, deref(update.Fill))
		})
	case broker.EventCanceled:
		err = e.invoke("onCanceledOrder", func() error {
			return e.strat.OnCanceledOrder(e.strategyCtx, update.Order)
		})
	case broker.EventError:
		e.log.Warn("order errored",
			zap.String("strategy", e.strat.Name()),
			zap.String("order_id", update.Order.ID),
		)
	}

	if err != nil {
		e.log.Error("order callback failed",
			zap.String("strategy", e.strat.Name()),
			zap.String("event", string(update.Event)),
			zap.Error(err),
		)
	}
}

func deref(fill *types.Fill) types.Fill {
	if fill == nil {
		return types.Fill{}
	}

	return *fill
}

// record snapshots the account for the stats tracker, pricing open positions
// through the data provider.
func (e *Executor) record() {
	prices := make(map[types.Asset]float64)

	for _, pos := range e.strategyCtx.Broker.GetPositions() {
		price, err := e.strategyCtx.Data.GetLastPrice(context.Background(), pos.Asset)
		if err != nil {
			// Fall back to the last known mark.
			price = pos.LastMarkPrice
		}

		prices[pos.Asset] = price
	}

	info := e.strategyCtx.Broker.AccountInfo(prices)
	e.tracker.Record(stats.Point{
		Time:           e.clk.Now(),
		Cash:           info.Cash,
		PortfolioValue: info.PortfolioValue,
	})
}

// invoke runs one callback with panic containment: a panicking strategy
// crashes its own executor, never the process.
func (e *Executor) invoke(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf(errors.ErrCodeStrategyCrash, "panic in %s: %v", name, r)
		}
	}()

	return fn()
}

// handleCrash routes a callback failure through the crash handler chain:
// OnBotCrash, then OnAbruptClosing when the strategy has no handler of its
// own, then log-and-terminate.
func (e *Executor) handleCrash(ctx context.Context, cause error) error {
	e.transition(StateCrashed)

	instant := e.clk.Now()
	e.log.Error("strategy crashed",
		zap.String("strategy", e.strat.Name()),
		zap.Time("instant", instant),
		zap.Error(cause),
	)

	crashErr := e.invoke("onBotCrash", func() error {
		return e.strat.OnBotCrash(e.strategyCtx, cause)
	})

	if stderrors.Is(crashErr, strategy.ErrCrashUnhandled) {
		crashErr = e.invoke("onAbruptClosing", func() error {
			return e.strat.OnAbruptClosing(e.strategyCtx)
		})
	}

	if crashErr != nil {
		// The crash handler itself failed; nothing left but to terminate.
		e.log.Error("crash handler failed",
			zap.String("strategy", e.strat.Name()),
			zap.Error(crashErr),
		)
	}

	return errors.Wrapf(errors.ErrCodeStrategyCrash, cause, "strategy %s crashed at %s", e.strat.Name(), instant)
}

// abruptClose handles external shutdown: flatten and stop without error.
func (e *Executor) abruptClose(ctx context.Context) error {
	e.transition(StateAbruptClosing)

	if err := e.invoke("onAbruptClosing", func() error {
		return e.strat.OnAbruptClosing(e.strategyCtx)
	}); err != nil {
		e.log.Error("abrupt close handler failed",
			zap.String("strategy", e.strat.Name()),
			zap.Error(err),
		)
	}

	e.transition(StateFinished)

	return nil
}

func (e *Executor) transition(next State) {
	e.log.Debug("lifecycle transition",
		zap.String("strategy", e.strat.Name()),
		zap.String("from", string(e.state)),
		zap.String("to", string(next)),
	)
	e.state = next
}
