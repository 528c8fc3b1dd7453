// Package trader orchestrates strategies. Each strategy owns its own Clock,
// Broker and DataProvider triple; nothing mutable is shared between
// strategies. Live mode runs one goroutine per strategy with crash
// isolation; backtest mode runs strategies sequentially and fully
// synchronously.
package trader

import (
	"context"
	"sync"
	"time"

	"github.com/helix-lab/tradewind/internal/executor"
	"github.com/helix-lab/tradewind/internal/ledger"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/stats"
	"github.com/helix-lab/tradewind/internal/strategy"
	"github.com/helix-lab/tradewind/internal/types"
	"go.uber.org/zap"
)

// shutdownCancelTimeout bounds the best-effort order cancellation when a
// strategy stops.
const shutdownCancelTimeout = 10 * time.Second

// Instance is one strategy with its private capability triple.
type Instance struct {
	Strategy strategy.Strategy
	Context  *strategy.Context
	Executor *executor.Executor
	Ledger   *ledger.Ledger
	Tracker  *stats.Tracker
}

// Result is the read-only outcome of one strategy run, for reporting.
type Result struct {
	Strategy  string
	State     executor.State
	Err       error
	Cash      float64
	Positions []types.Position
	Orders    []types.Order
	// Leftovers are orders still open after the bounded shutdown cancel.
	Leftovers []types.Order
	Summary   stats.Summary
}

// Trader runs a set of strategy instances to completion.
type Trader struct {
	log       *logger.Logger
	instances []*Instance

	mu      sync.Mutex
	results map[string]*Result
}

// New creates an empty trader.
func New(log *logger.Logger) *Trader {
	return &Trader{
		log:     log,
		results: make(map[string]*Result),
	}
}

// Add registers a strategy instance. Not safe to call once running.
func (t *Trader) Add(inst *Instance) {
	t.instances = append(t.instances, inst)
}

// RunLive runs every instance on its own goroutine until ctx is canceled. A
// crash in one strategy never stops another: the failing executor flattens
// and exits while the rest keep trading.
func (t *Trader) RunLive(ctx context.Context) {
	var wg sync.WaitGroup

	for _, inst := range t.instances {
		wg.Add(1)

		go func(inst *Instance) {
			defer wg.Done()
			t.runOne(ctx, inst, time.Time{})
		}(inst)
	}

	wg.Wait()
}

// RunBacktest runs every instance sequentially until the clock passes until.
// Single-threaded: results are deterministic and reproducible.
func (t *Trader) RunBacktest(ctx context.Context, until time.Time) {
	for _, inst := range t.instances {
		t.runOne(ctx, inst, until)
	}
}

func (t *Trader) runOne(ctx context.Context, inst *Instance, until time.Time) {
	name := inst.Strategy.Name()
	t.log.Info("strategy starting", zap.String("strategy", name))

	err := inst.Executor.Run(ctx, until)
	if err != nil {
		t.log.Error("strategy stopped with error", zap.String("strategy", name), zap.Error(err))
	}

	leftovers := t.cancelOpenOrders(inst)

	result := &Result{
		Strategy:  name,
		State:     inst.Executor.State(),
		Err:       err,
		Cash:      inst.Ledger.Cash(),
		Positions: inst.Ledger.AllPositions(),
		Orders:    inst.Ledger.Orders(),
		Leftovers: leftovers,
	}

	if summary, summaryErr := inst.Tracker.Summarize(); summaryErr == nil {
		result.Summary = summary
	}

	t.mu.Lock()
	t.results[name] = result
	t.mu.Unlock()

	t.log.Info("strategy finished",
		zap.String("strategy", name),
		zap.String("state", string(inst.Executor.State())),
		zap.Float64("cash", result.Cash),
		zap.Int("open_after_shutdown", len(leftovers)),
	)
}

// cancelOpenOrders best-effort cancels whatever is still working, within a
// bounded timeout, and returns the survivors. They are reported, not
// retried.
func (t *Trader) cancelOpenOrders(inst *Instance) []types.Order {
	open := inst.Context.Broker.OpenOrders()
	if len(open) == 0 {
		return nil
	}

	cancelCtx, cancel := context.WithTimeout(context.Background(), shutdownCancelTimeout)
	defer cancel()

	if err := inst.Context.Broker.CancelAllOrders(cancelCtx); err != nil {
		t.log.Warn("shutdown cancel incomplete",
			zap.String("strategy", inst.Strategy.Name()),
			zap.Error(err),
		)
	}

	leftovers := inst.Context.Broker.OpenOrders()
	for _, order := range leftovers {
		t.log.Warn("order still open after shutdown",
			zap.String("strategy", inst.Strategy.Name()),
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)),
		)
	}

	return leftovers
}

// Result returns the outcome for one strategy, if it has finished.
func (t *Trader) Result(name string) (Result, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	result, ok := t.results[name]
	if !ok {
		return Result{}, false
	}

	return *result, true
}

// Results returns all finished outcomes keyed by strategy name.
func (t *Trader) Results() map[string]Result {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Result, len(t.results))
	for name, result := range t.results {
		out[name] = *result
	}

	return out
}
