package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ClockTestSuite struct {
	suite.Suite
}

func TestClockSuite(t *testing.T) {
	suite.Run(t, new(ClockTestSuite))
}

func (suite *ClockTestSuite) TestWallClockSleepCancellable() {
	c := NewWallClock()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)

	go func() {
		done <- c.Sleep(ctx, time.Hour)
	}()

	cancel()

	select {
	case err := <-done:
		suite.Assert().ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		suite.FailNow("sleep did not wake on cancel")
	}
}

func (suite *ClockTestSuite) TestWallClockZeroSleep() {
	c := NewWallClock()
	suite.Assert().NoError(c.Sleep(context.Background(), 0))
}

func (suite *ClockTestSuite) TestSimulatedSleepNeverBlocks() {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	c := NewSimulatedClock(start)

	before := time.Now()
	err := c.Sleep(context.Background(), 24*time.Hour)
	elapsed := time.Since(before)

	suite.Require().NoError(err)
	suite.Assert().Less(elapsed, time.Second)
	// Simulated time did not move; only the requested advance was recorded.
	suite.Assert().Equal(start, c.Now())
	suite.Assert().Equal(24*time.Hour, c.PendingAdvance())
	// The pending advance is consumed on read.
	suite.Assert().Equal(time.Duration(0), c.PendingAdvance())
}

func (suite *ClockTestSuite) TestSimulatedAdvance() {
	start := time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)
	c := NewSimulatedClock(start)

	target := start.Add(3 * time.Hour)
	c.Advance(target)
	suite.Assert().Equal(target, c.Now())

	// Never moves backward.
	c.Advance(start)
	suite.Assert().Equal(target, c.Now())

	c.AdvanceBy(time.Minute)
	suite.Assert().Equal(target.Add(time.Minute), c.Now())
}

func (suite *ClockTestSuite) TestSimulatedSleepAccumulates() {
	c := NewSimulatedClock(time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC))

	suite.Require().NoError(c.Sleep(context.Background(), time.Minute))
	suite.Require().NoError(c.Sleep(context.Background(), 2*time.Minute))
	suite.Assert().Equal(3*time.Minute, c.PendingAdvance())
}
