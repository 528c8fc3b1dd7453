package builtin

import (
	"testing"
	"time"

	"github.com/helix-lab/tradewind/internal/broker/backtest"
	"github.com/helix-lab/tradewind/internal/calendar"
	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/data"
	"github.com/helix-lab/tradewind/internal/ledger"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/strategy"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"github.com/stretchr/testify/suite"
)

type MomentumTestSuite struct {
	suite.Suite

	asset    types.Asset
	start    time.Time
	simClock *clock.SimulatedClock
	broker   *backtest.Broker
	provider *data.ReplayProvider
	sctx     *strategy.Context
	strat    *Momentum
}

func TestMomentumSuite(t *testing.T) {
	suite.Run(t, new(MomentumTestSuite))
}

func (suite *MomentumTestSuite) SetupTest() {
	suite.asset = types.NewEquity("SPY")
	suite.start = time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)
	suite.simClock = clock.NewSimulatedClock(suite.start)

	led := ledger.New("momentum-SPY", 100_000, logger.NewNopLogger())
	suite.broker = backtest.New(led, suite.simClock, backtest.ZeroFee{}, logger.NewNopLogger())
	suite.provider = data.NewReplayProvider(suite.simClock)

	cal, err := calendar.New(calendar.Profile247, calendar.Overrides{})
	suite.Require().NoError(err)

	suite.sctx = strategy.NewContext(suite.simClock, cal, suite.broker, suite.provider, logger.NewNopLogger())

	suite.strat, err = NewMomentum(MomentumConfig{
		Asset:     suite.asset,
		Timestep:  types.TimestepMinute,
		Window:    2,
		Threshold: 0.001,
		Quantity:  10,
	})
	suite.Require().NoError(err)
	suite.Require().NoError(suite.strat.Initialize(suite.sctx))
}

func (suite *MomentumTestSuite) loadSeries(closes ...float64) {
	bars := make([]types.Bar, 0, len(closes))
	for i, c := range closes {
		bars = append(bars, types.Bar{
			Time:   suite.start.Add(time.Duration(i) * time.Minute),
			Open:   c,
			High:   c + 0.5,
			Low:    c - 0.5,
			Close:  c,
			Volume: 1000,
		})
	}

	suite.provider.Load(types.NewBars(suite.asset, types.TimestepMinute, bars))
}

// step moves the clock to just past bar index i and sweeps the broker with
// that bar so pending orders fill.
func (suite *MomentumTestSuite) step(i int, close float64) {
	at := suite.start.Add(time.Duration(i) * time.Minute)
	suite.simClock.Advance(at.Add(time.Second))

	bar := types.Bar{Time: at, Open: close, High: close + 0.5, Low: close - 0.5, Close: close, Volume: 1000}
	suite.Require().NoError(suite.broker.OnBar(suite.asset, bar))
}

func (suite *MomentumTestSuite) position() float64 {
	position, err := suite.broker.GetPosition(suite.asset)
	if err != nil {
		return 0
	}

	return position.Quantity
}

func (suite *MomentumTestSuite) TestEntersOnPositiveMomentum() {
	suite.loadSeries(100, 101, 102, 103)
	suite.simClock.Advance(suite.start.Add(4 * time.Minute))

	suite.Require().NoError(suite.strat.OnTradingIteration(suite.sctx))

	// The entry fills on the next bar.
	suite.step(4, 103.5)
	suite.Assert().Equal(10.0, suite.position())
	suite.Assert().Equal(1, suite.sctx.Vars["entries"])
}

func (suite *MomentumTestSuite) TestExitsOnNegativeMomentum() {
	suite.loadSeries(100, 101, 102, 103, 95, 94)
	suite.simClock.Advance(suite.start.Add(4 * time.Minute))

	suite.Require().NoError(suite.strat.OnTradingIteration(suite.sctx))
	suite.step(4, 95)
	suite.Require().Equal(10.0, suite.position())

	// Trailing return is now negative; the next iteration flattens.
	suite.simClock.Advance(suite.start.Add(6 * time.Minute))
	suite.Require().NoError(suite.strat.OnTradingIteration(suite.sctx))
	suite.step(6, 94)

	suite.Assert().Equal(0.0, suite.position())
}

func (suite *MomentumTestSuite) TestWaitsThroughWarmup() {
	suite.loadSeries(100, 101)
	suite.simClock.Advance(suite.start.Add(2 * time.Minute))

	suite.Require().NoError(suite.strat.OnTradingIteration(suite.sctx))
	suite.Assert().Empty(suite.broker.OpenOrders())
}

func (suite *MomentumTestSuite) TestFlattensBeforeClose() {
	suite.loadSeries(100, 101, 102, 103)
	suite.simClock.Advance(suite.start.Add(4 * time.Minute))

	suite.Require().NoError(suite.strat.OnTradingIteration(suite.sctx))
	suite.step(4, 103.5)
	suite.Require().Equal(10.0, suite.position())

	suite.Require().NoError(suite.strat.BeforeMarketCloses(suite.sctx))
	suite.step(5, 103.5)

	suite.Assert().Equal(0.0, suite.position())
}

func (suite *MomentumTestSuite) TestConfigValidation() {
	tests := []struct {
		name   string
		mutate func(c *MomentumConfig)
		code   errors.ErrorCode
	}{
		{name: "zero window", mutate: func(c *MomentumConfig) { c.Window = 0 }, code: errors.ErrCodeInvalidParameter},
		{name: "zero quantity", mutate: func(c *MomentumConfig) { c.Quantity = 0 }, code: errors.ErrCodeInvalidQuantity},
		{name: "negative threshold", mutate: func(c *MomentumConfig) { c.Threshold = -0.1 }, code: errors.ErrCodeInvalidParameter},
		{name: "bad asset", mutate: func(c *MomentumConfig) { c.Asset = types.Asset{} }, code: errors.ErrCodeInvalidAsset},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			cfg := MomentumConfig{
				Asset:     suite.asset,
				Timestep:  types.TimestepMinute,
				Window:    2,
				Threshold: 0.001,
				Quantity:  10,
			}
			tc.mutate(&cfg)

			_, err := NewMomentum(cfg)
			suite.Require().Error(err)
			suite.Assert().True(errors.HasCode(err, tc.code))
		})
	}
}
