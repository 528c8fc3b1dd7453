package stats

import (
	"testing"
	"time"

	"github.com/helix-lab/tradewind/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type TrackerTestSuite struct {
	suite.Suite
	tracker *Tracker
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerTestSuite))
}

func (suite *TrackerTestSuite) SetupTest() {
	suite.tracker = NewTracker()
}

func (suite *TrackerTestSuite) record(values ...float64) {
	base := time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)
	for i, v := range values {
		suite.tracker.Record(Point{
			Time:           base.Add(time.Duration(i) * time.Minute),
			Cash:           v,
			PortfolioValue: v,
		})
	}
}

func (suite *TrackerTestSuite) TestEmptyTrackerErrors() {
	_, err := suite.tracker.Summarize()
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeDataNotFound))
}

func (suite *TrackerTestSuite) TestTotalReturn() {
	suite.record(100_000, 101_000, 102_000, 110_000)

	summary, err := suite.tracker.Summarize()
	suite.Require().NoError(err)
	suite.Assert().Equal(4, summary.Iterations)
	suite.Assert().InDelta(0.10, summary.TotalReturn, 1e-9)
	suite.Assert().Equal(100_000.0, summary.StartValue)
	suite.Assert().Equal(110_000.0, summary.EndValue)
}

func (suite *TrackerTestSuite) TestMaxDrawdown() {
	// Peak 120k, trough 90k afterwards: 25% drawdown.
	suite.record(100_000, 120_000, 90_000, 110_000)

	summary, err := suite.tracker.Summarize()
	suite.Require().NoError(err)
	suite.Assert().InDelta(0.25, summary.MaxDrawdown, 1e-9)
}

func (suite *TrackerTestSuite) TestFlatSeriesHasZeroVolatility() {
	suite.record(100_000, 100_000, 100_000)

	summary, err := suite.tracker.Summarize()
	suite.Require().NoError(err)
	suite.Assert().Equal(0.0, summary.Volatility)
	suite.Assert().Equal(0.0, summary.MaxDrawdown)
	suite.Assert().Equal(0.0, summary.TotalReturn)
}

func (suite *TrackerTestSuite) TestPointsAreCopied() {
	suite.record(100_000)

	points := suite.tracker.Points()
	points[0].PortfolioValue = 0

	suite.Assert().Equal(100_000.0, suite.tracker.Points()[0].PortfolioValue)
}
