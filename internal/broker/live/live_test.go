package live

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/ledger"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"
)

// fakeGateway scripts venue behaviour: per-call submit errors, poll batches
// and cancel failures.
type fakeGateway struct {
	mu sync.Mutex

	submitErrs  []error
	submitCalls int
	venueByID   map[string]string

	cancelErr error
	canceled  []string

	fillBatches [][]types.Fill

	closed bool
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{venueByID: make(map[string]string)}
}

func (g *fakeGateway) SubmitOrder(ctx context.Context, order types.Order) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.submitCalls++

	if len(g.submitErrs) > 0 {
		err := g.submitErrs[0]
		g.submitErrs = g.submitErrs[1:]

		if err != nil {
			return "", err
		}
	}

	venueID := fmt.Sprintf("venue-%d", g.submitCalls)
	g.venueByID[order.ID] = venueID

	return venueID, nil
}

func (g *fakeGateway) CancelOrder(ctx context.Context, venueID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancelErr != nil {
		return g.cancelErr
	}

	g.canceled = append(g.canceled, venueID)

	return nil
}

func (g *fakeGateway) PollFills(ctx context.Context) ([]types.Fill, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.fillBatches) == 0 {
		return nil, nil
	}

	batch := g.fillBatches[0]
	g.fillBatches = g.fillBatches[1:]

	return batch, nil
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.closed = true

	return nil
}

func (g *fakeGateway) canceledVenueIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]string, len(g.canceled))
	copy(out, g.canceled)

	return out
}

func quickBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond
	bo.MaxElapsedTime = 100 * time.Millisecond

	return bo
}

type LiveBrokerTestSuite struct {
	suite.Suite
	gateway *fakeGateway
	ledger  *ledger.Ledger
	broker  *Broker
	asset   types.Asset
	ctx     context.Context
}

func TestLiveBrokerSuite(t *testing.T) {
	suite.Run(t, new(LiveBrokerTestSuite))
}

func (suite *LiveBrokerTestSuite) SetupTest() {
	suite.gateway = newFakeGateway()
	suite.ledger = ledger.New("momentum", 100_000, logger.NewNopLogger())
	suite.broker = New(
		suite.ledger,
		clock.NewWallClock(),
		suite.gateway,
		logger.NewNopLogger(),
		WithBackOff(quickBackOff),
		WithPollInterval(5*time.Millisecond),
	)
	suite.asset = types.NewEquity("SPY")
	suite.ctx = context.Background()
}

func (suite *LiveBrokerTestSuite) marketBuy(qty float64) *types.Order {
	return types.NewOrder("momentum", suite.asset, types.OrderSideBuy, qty, types.OrderKindMarket)
}

func (suite *LiveBrokerTestSuite) TestTransientSubmitRetried() {
	suite.gateway.submitErrs = []error{
		errors.New(errors.ErrCodeBrokerTransient, "rate limited"),
		errors.New(errors.ErrCodeBrokerTransient, "rate limited"),
		nil,
	}

	order := suite.marketBuy(10)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, order))

	suite.Assert().Equal(3, suite.gateway.submitCalls)

	snap, err := suite.broker.Order(order.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.OrderStatusNew, snap.Status)
}

func (suite *LiveBrokerTestSuite) TestAuthenticationFailureNotRetried() {
	suite.gateway.submitErrs = []error{
		errors.New(errors.ErrCodeAuthentication, "bad credentials"),
		nil,
	}

	order := suite.marketBuy(10)
	err := suite.broker.SubmitOrder(suite.ctx, order)

	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeAuthentication))
	suite.Assert().Equal(1, suite.gateway.submitCalls)

	snap, lookupErr := suite.broker.Order(order.ID)
	suite.Require().NoError(lookupErr)
	suite.Assert().Equal(types.OrderStatusError, snap.Status)
}

func (suite *LiveBrokerTestSuite) TestRejectionMarksOrderError() {
	suite.gateway.submitErrs = []error{
		errors.New(errors.ErrCodeOrderRejected, "unknown symbol"),
	}

	order := suite.marketBuy(10)
	err := suite.broker.SubmitOrder(suite.ctx, order)

	suite.Require().Error(err)
	suite.Assert().Equal(1, suite.gateway.submitCalls)

	snap, lookupErr := suite.broker.Order(order.ID)
	suite.Require().NoError(lookupErr)
	suite.Assert().Equal(types.OrderStatusError, snap.Status)
	// Cash untouched: the rejection never produced a fill.
	suite.Assert().Equal(100_000.0, suite.broker.GetCash())
}

func (suite *LiveBrokerTestSuite) TestDuplicateFillDeliveryAppliedOnce() {
	order := suite.marketBuy(10)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, order))

	fill := types.Fill{FillID: "venue-fill-1", OrderID: order.ID, Price: 100, Quantity: 10, Time: time.Now()}
	// The venue redelivers the same execution across three polls.
	suite.gateway.fillBatches = [][]types.Fill{{fill}, {fill}, {fill}}

	ctx, cancel := context.WithCancel(suite.ctx)
	defer cancel()
	suite.broker.Start(ctx)

	suite.Require().Eventually(func() bool {
		snap, err := suite.broker.Order(order.ID)

		return err == nil && snap.Status == types.OrderStatusFilled
	}, 2*time.Second, 5*time.Millisecond)

	// Let the remaining redeliveries drain, then check nothing moved twice.
	suite.Require().Eventually(func() bool {
		suite.gateway.mu.Lock()
		defer suite.gateway.mu.Unlock()

		return len(suite.gateway.fillBatches) == 0
	}, 2*time.Second, 5*time.Millisecond)

	suite.Assert().Equal(99_000.0, suite.broker.GetCash())

	pos, err := suite.broker.GetPosition(suite.asset)
	suite.Require().NoError(err)
	suite.Assert().Equal(10.0, pos.Quantity)
}

func (suite *LiveBrokerTestSuite) TestGroupFanOutPropagatedToVenue() {
	tp := types.NewOrder("momentum", suite.asset, types.OrderSideSell, 10, types.OrderKindLimit)
	tp.LimitPrice = optional.Some(110.0)
	sl := types.NewOrder("momentum", suite.asset, types.OrderSideSell, 10, types.OrderKindStop)
	sl.StopPrice = optional.Some(95.0)

	group, err := types.NewOCO(tp, sl)
	suite.Require().NoError(err)
	suite.Require().NoError(suite.broker.SubmitGroup(suite.ctx, group))

	fill := types.Fill{FillID: "venue-fill-1", OrderID: sl.ID, Price: 95, Quantity: 10, Time: time.Now()}
	suite.gateway.fillBatches = [][]types.Fill{{fill}}

	ctx, cancel := context.WithCancel(suite.ctx)
	defer cancel()
	suite.broker.Start(ctx)

	suite.Require().Eventually(func() bool {
		snap, lookupErr := suite.broker.Order(tp.ID)

		return lookupErr == nil && snap.Status == types.OrderStatusCanceled
	}, 2*time.Second, 5*time.Millisecond)

	suite.gateway.mu.Lock()
	tpVenueID := suite.gateway.venueByID[tp.ID]
	suite.gateway.mu.Unlock()

	suite.Require().Eventually(func() bool {
		for _, id := range suite.gateway.canceledVenueIDs() {
			if id == tpVenueID {
				return true
			}
		}

		return false
	}, 2*time.Second, 5*time.Millisecond)
}

func (suite *LiveBrokerTestSuite) TestGroupUnwindOnLegRejection() {
	suite.gateway.submitErrs = []error{
		nil,
		errors.New(errors.ErrCodeOrderRejected, "unknown symbol"),
	}

	tp := types.NewOrder("momentum", suite.asset, types.OrderSideSell, 10, types.OrderKindLimit)
	tp.LimitPrice = optional.Some(110.0)
	sl := types.NewOrder("momentum", suite.asset, types.OrderSideSell, 10, types.OrderKindStop)
	sl.StopPrice = optional.Some(95.0)

	group, err := types.NewOCO(tp, sl)
	suite.Require().NoError(err)

	err = suite.broker.SubmitGroup(suite.ctx, group)
	suite.Require().Error(err)

	// The accepted first leg was unwound.
	firstSnap, lookupErr := suite.broker.Order(tp.ID)
	suite.Require().NoError(lookupErr)
	suite.Assert().Equal(types.OrderStatusCanceled, firstSnap.Status)
	suite.Assert().Empty(suite.broker.OpenOrders())
}

func (suite *LiveBrokerTestSuite) TestShutdownCancelsAndReportsLeftovers() {
	working := suite.marketBuy(10)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, working))

	stuck := suite.marketBuy(5)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, stuck))

	// The venue refuses every cancel: both orders survive shutdown and are
	// reported.
	suite.gateway.cancelErr = errors.New(errors.ErrCodeOrderRejected, "cancel refused")

	ctx, cancel := context.WithCancel(suite.ctx)
	defer cancel()
	suite.broker.Start(ctx)

	leftovers := suite.broker.Shutdown(200 * time.Millisecond)
	suite.Assert().Len(leftovers, 2)
	suite.Assert().True(suite.gateway.closed)
}

func (suite *LiveBrokerTestSuite) TestShutdownCleanWhenVenueCooperates() {
	order := suite.marketBuy(10)
	suite.Require().NoError(suite.broker.SubmitOrder(suite.ctx, order))

	ctx, cancel := context.WithCancel(suite.ctx)
	defer cancel()
	suite.broker.Start(ctx)

	leftovers := suite.broker.Shutdown(200 * time.Millisecond)
	suite.Assert().Empty(leftovers)

	snap, err := suite.broker.Order(order.ID)
	suite.Require().NoError(err)
	suite.Assert().Equal(types.OrderStatusCanceled, snap.Status)
}

func (suite *LiveBrokerTestSuite) TestCredentialsValidation() {
	cases := []struct {
		name  string
		creds Credentials
		ok    bool
	}{
		{"complete", Credentials{APIKey: "key", APISecret: "secret"}, true},
		{"missing key", Credentials{APISecret: "secret"}, false},
		{"missing secret", Credentials{APIKey: "key"}, false},
		{"empty", Credentials{}, false},
	}

	for _, tc := range cases {
		suite.Run(tc.name, func() {
			err := tc.creds.Validate()
			if tc.ok {
				suite.Assert().NoError(err)

				return
			}

			suite.Require().Error(err)
			suite.Assert().True(errors.HasCode(err, errors.ErrCodeAuthentication))
		})
	}
}
