// Package clock abstracts "current instant" so one strategy can run against
// wall time in live trading and against jumped simulated time in backtests.
//
// The two sleep paths are deliberately separate code paths: WallClock performs
// a real cancellable wait, while SimulatedClock only records the requested
// advance and returns immediately — the lifecycle executor, not the clock,
// decides when simulated time actually moves. A backtest never truly blocks.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock produces the current instant.
type Clock interface {
	Now() time.Time
}

// Sleeper is the live-mode extension: a real, cancellable wait.
type Sleeper interface {
	// Sleep blocks for d or until ctx is canceled, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// WallClock reads real time and performs real waits.
type WallClock struct{}

// NewWallClock returns the real-time clock.
func NewWallClock() *WallClock {
	return &WallClock{}
}

// Now implements Clock.
func (c *WallClock) Now() time.Time {
	return time.Now()
}

// Sleep implements Sleeper. Cancelling ctx wakes the sleep early and returns
// the context error.
func (c *WallClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SimulatedClock is a clock that jumps to chosen instants instead of passing
// real time. Safe for concurrent use.
type SimulatedClock struct {
	mu      sync.RWMutex
	now     time.Time
	pending time.Duration
}

// NewSimulatedClock starts simulated time at the given instant.
func NewSimulatedClock(start time.Time) *SimulatedClock {
	return &SimulatedClock{now: start}
}

// Now implements Clock.
func (c *SimulatedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.now
}

// Sleep records the requested advance and returns immediately. Simulated time
// does not move here; the executor applies the jump via Advance/AdvanceBy.
func (c *SimulatedClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending += d

	return nil
}

// PendingAdvance returns and clears the total advance requested by Sleep
// since the last call.
func (c *SimulatedClock) PendingAdvance() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.pending
	c.pending = 0

	return d
}

// Advance jumps simulated time to the given instant. Time never moves
// backward; an earlier instant is ignored.
func (c *SimulatedClock) Advance(to time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if to.After(c.now) {
		c.now = to
	}
}

// AdvanceBy jumps simulated time forward by d.
func (c *SimulatedClock) AdvanceBy(d time.Duration) {
	if d <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}
