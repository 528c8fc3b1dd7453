package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/ledger"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
)

type BacktestBrokerTestSuite struct {
	suite.Suite
	broker *Broker
	ledger *ledger.Ledger
	clock  *clock.SimulatedClock
	asset  types.Asset
	ctx    context.Context
}

func TestBacktestBrokerSuite(t *testing.T) {
	suite.Run(t, new(BacktestBrokerTestSuite))
}

func (suite *BacktestBrokerTestSuite) SetupTest() {
	start := time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)
	suite.clock = clock.NewSimulatedClock(start)
	suite.ledger = ledger.New("momentum", 100_000, logger.NewNopLogger())
	suite.broker = New(suite.ledger, suite.clock, ZeroFee{}, logger.NewNopLogger())
	suite.asset = types.NewEquity("SPY")
	suite.ctx = context.Background()
}

func (suite *BacktestBrokerTestSuite) bar(open, high, low, close float64) types.Bar {
	suite.clock.AdvanceBy(time.Minute)

	return types.Bar{
		Time:   suite.clock.Now(),
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close,
		Volume: 1000,
	}
}

func (suite *BacktestBrokerTestSuite) TestMarketOrderFillsAtOpen() {
	order := types.NewOrder("momentum", suite.asset, types.OrderSideBuy, 10, types.OrderKindMarket)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, order))

	snap, err := suite.broker.Order(order.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.OrderStatusNew, snap.Status)

	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(100, 102, 99, 101)))

	snap, err = suite.broker.Order(order.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.OrderStatusFilled, snap.Status)
	suite.Assert().Equal(100.0, snap.AvgFillPrice)
	suite.Assert().Equal(99_000.0, suite.broker.GetCash())
}

func (suite *BacktestBrokerTestSuite) TestLimitOrderWaitsForCross() {
	order := types.NewOrder("momentum", suite.asset, types.OrderSideBuy, 10, types.OrderKindLimit)
	order.LimitPrice = optional.Some(95.0)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, order))

	// Range never reaches the limit.
	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(100, 102, 97, 101)))

	snap, _ := suite.broker.Order(order.ID)
	suite.Assert().Equal(types.OrderStatusNew, snap.Status)

	// Low crosses: fills at the limit, not the low.
	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(98, 99, 93, 96)))

	snap, _ = suite.broker.Order(order.ID)
	suite.Assert().Equal(types.OrderStatusFilled, snap.Status)
	suite.Assert().Equal(95.0, snap.AvgFillPrice)
}

func (suite *BacktestBrokerTestSuite) TestLimitOrderGapFillsAtOpen() {
	order := types.NewOrder("momentum", suite.asset, types.OrderSideBuy, 10, types.OrderKindLimit)
	order.LimitPrice = optional.Some(95.0)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, order))

	// Gaps below the limit: the better price is the open.
	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(92, 94, 91, 93)))

	snap, _ := suite.broker.Order(order.ID)
	suite.Assert().Equal(types.OrderStatusFilled, snap.Status)
	suite.Assert().Equal(92.0, snap.AvgFillPrice)
}

func (suite *BacktestBrokerTestSuite) TestStopOrderTriggersOnTouch() {
	order := types.NewOrder("momentum", suite.asset, types.OrderSideSell, 10, types.OrderKindStop)
	order.StopPrice = optional.Some(95.0)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, order))

	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(100, 101, 96, 97)))

	snap, _ := suite.broker.Order(order.ID)
	suite.Assert().Equal(types.OrderStatusNew, snap.Status)

	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(96, 97, 94, 95)))

	snap, _ = suite.broker.Order(order.ID)
	suite.Assert().Equal(types.OrderStatusFilled, snap.Status)
	suite.Assert().Equal(95.0, snap.AvgFillPrice)
}

func (suite *BacktestBrokerTestSuite) TestTrailingStopReanchors() {
	order := types.NewOrder("momentum", suite.asset, types.OrderSideSell, 10, types.OrderKindTrailingStop)
	order.TrailAmount = optional.Some(5.0)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, order))

	// Anchor starts at 100, rides up to 110.
	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(100, 104, 99, 103)))
	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(103, 110, 102, 109)))

	snap, _ := suite.broker.Order(order.ID)
	suite.Assert().Equal(types.OrderStatusNew, snap.Status)

	// Stop trails the 110 high: 105 triggers.
	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(108, 109, 104, 104)))

	snap, _ = suite.broker.Order(order.ID)
	suite.Assert().Equal(types.OrderStatusFilled, snap.Status)
	suite.Assert().Equal(105.0, snap.AvgFillPrice)
}

func (suite *BacktestBrokerTestSuite) TestBracketStopFirstCancelsTakeProfit() {
	entry := types.NewOrder("momentum", suite.asset, types.OrderSideBuy, 10, types.OrderKindMarket)
	tp := types.NewOrder("momentum", suite.asset, types.OrderSideSell, 10, types.OrderKindLimit)
	tp.LimitPrice = optional.Some(110.0)
	sl := types.NewOrder("momentum", suite.asset, types.OrderSideSell, 10, types.OrderKindStop)
	sl.StopPrice = optional.Some(95.0)

	group, err := types.NewBracket(entry, tp, sl)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.broker.SubmitGroup(suite.ctx, group))

	// Entry fills at 100, then the same session touches 95: stop-loss fills
	// and the take-profit is canceled in the same sweep.
	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(100, 101, 94, 96)))

	entrySnap, _ := suite.broker.Order(entry.ID)
	slSnap, _ := suite.broker.Order(sl.ID)
	tpSnap, _ := suite.broker.Order(tp.ID)

	suite.Assert().Equal(types.OrderStatusFilled, entrySnap.Status)
	suite.Assert().Equal(types.OrderStatusFilled, slSnap.Status)
	suite.Assert().Equal(types.OrderStatusCanceled, tpSnap.Status)

	pos, err := suite.broker.GetPosition(suite.asset)
	suite.Require().NoError(err)
	suite.Assert().False(pos.IsOpen())
	suite.Assert().Empty(suite.broker.OpenOrders())
}

func (suite *BacktestBrokerTestSuite) TestDayOrdersExpireAtClose() {
	gtc := types.NewOrder("momentum", suite.asset, types.OrderSideBuy, 10, types.OrderKindLimit)
	gtc.LimitPrice = optional.Some(90.0)
	day := types.NewOrder("momentum", suite.asset, types.OrderSideBuy, 10, types.OrderKindLimit)
	day.LimitPrice = optional.Some(90.0)
	day.TimeInForce = types.TimeInForceDay

	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, gtc))
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, day))

	suite.Require().NoError(suite.broker.ExpireDayOrders(suite.ctx))

	daySnap, _ := suite.broker.Order(day.ID)
	gtcSnap, _ := suite.broker.Order(gtc.ID)
	suite.Assert().Equal(types.OrderStatusCanceled, daySnap.Status)
	suite.Assert().Equal(types.OrderStatusNew, gtcSnap.Status)
}

func (suite *BacktestBrokerTestSuite) TestFeesReduceCash() {
	broker := New(suite.ledger, suite.clock, NewPerShareFee(0.01, 1.0), logger.NewNopLogger())

	order := types.NewOrder("momentum", suite.asset, types.OrderSideBuy, 10, types.OrderKindMarket)
	suite.Require().NoError(broker.SubmitOrder(suite.ctx, order))
	suite.Require().NoError(broker.OnBar(suite.asset, suite.bar(100, 101, 99, 100)))

	// 0.01 * 10 is below the 1.0 minimum.
	suite.Assert().InDelta(99_000-1.0, broker.GetCash(), 1e-9)
}

func (suite *BacktestBrokerTestSuite) TestUpdatesCarryLifecycleEvents() {
	order := types.NewOrder("momentum", suite.asset, types.OrderSideBuy, 10, types.OrderKindMarket)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, order))
	suite.Require().NoError(suite.broker.OnBar(suite.asset, suite.bar(100, 101, 99, 100)))

	updates := suite.broker.Updates()
	first := <-updates
	second := <-updates

	suite.Assert().Equal(order.ID, first.Order.ID)
	suite.Assert().Equal("NEW", string(first.Event))
	suite.Assert().Equal("FILLED", string(second.Event))
	suite.Require().NotNil(second.Fill)
	suite.Assert().Equal(100.0, second.Fill.Price)
}

// TestDeterministicReplay runs the same scripted session twice and expects
// identical fills, cash and positions.
func (suite *BacktestBrokerTestSuite) TestDeterministicReplay() {
	type outcome struct {
		cash   float64
		orders []types.Order
	}

	run := func() outcome {
		start := time.Date(2024, 6, 4, 9, 30, 0, 0, time.UTC)
		simClock := clock.NewSimulatedClock(start)
		led := ledger.New("momentum", 100_000, logger.NewNopLogger())
		b := New(led, simClock, NewPerShareFee(0.005, 1.0), logger.NewNopLogger())

		entry := types.NewOrder("momentum", suite.asset, types.OrderSideBuy, 10, types.OrderKindMarket)
		entry.ID = "entry"
		stop := types.NewOrder("momentum", suite.asset, types.OrderSideSell, 10, types.OrderKindStop)
		stop.ID = "stop"
		stop.StopPrice = optional.Some(97.0)

		suite.Require().NoError(b.SubmitOrder(suite.ctx, entry))
		suite.Require().NoError(b.SubmitOrder(suite.ctx, stop))

		bars := []types.Bar{
			{Time: start.Add(time.Minute), Open: 100, High: 102, Low: 99, Close: 101, Volume: 100},
			{Time: start.Add(2 * time.Minute), Open: 101, High: 101, Low: 96, Close: 98, Volume: 100},
		}
		for _, bar := range bars {
			simClock.Advance(bar.Time)
			suite.Require().NoError(b.OnBar(suite.asset, bar))
		}

		return outcome{cash: b.GetCash(), orders: led.Orders()}
	}

	first := run()
	second := run()

	suite.Assert().Equal(first.cash, second.cash)
	suite.Require().Len(second.orders, len(first.orders))

	for i := range first.orders {
		suite.Assert().Equal(first.orders[i].Status, second.orders[i].Status)
		suite.Assert().Equal(first.orders[i].AvgFillPrice, second.orders[i].AvgFillPrice)
		suite.Assert().Equal(first.orders[i].FilledQuantity, second.orders[i].FilledQuantity)
	}
}
