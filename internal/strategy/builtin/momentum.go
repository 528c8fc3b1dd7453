// Package builtin holds ready-made strategies that double as API examples.
// They run unmodified in live trading and backtesting.
package builtin

import (
	"context"
	"fmt"

	"github.com/helix-lab/tradewind/internal/strategy"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"go.uber.org/zap"
)

// MomentumConfig parameterizes the momentum strategy.
type MomentumConfig struct {
	Asset    types.Asset
	Timestep types.Timestep
	// Window is the lookback in bars for the close-to-close return.
	Window int
	// Threshold is the fractional return that triggers an entry.
	Threshold float64
	Quantity  float64
}

// Momentum goes long when the trailing return exceeds the threshold and
// flattens when it turns negative. One position at a time, flat overnight.
type Momentum struct {
	strategy.BaseStrategy

	cfg MomentumConfig
}

// NewMomentum validates the config and creates the strategy.
func NewMomentum(cfg MomentumConfig) (*Momentum, error) {
	if err := cfg.Asset.Validate(); err != nil {
		return nil, err
	}

	if cfg.Window <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "momentum window must be positive, got %d", cfg.Window)
	}

	if cfg.Quantity <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidQuantity, "momentum quantity must be positive, got %f", cfg.Quantity)
	}

	if cfg.Threshold < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter, "momentum threshold cannot be negative, got %f", cfg.Threshold)
	}

	return &Momentum{cfg: cfg}, nil
}

// Name implements strategy.Strategy.
func (m *Momentum) Name() string {
	return fmt.Sprintf("momentum-%s", m.cfg.Asset.Symbol)
}

// Initialize implements strategy.Strategy.
func (m *Momentum) Initialize(ctx *strategy.Context) error {
	ctx.Vars["last_momentum"] = 0.0
	ctx.Vars["entries"] = 0

	return nil
}

// OnTradingIteration implements strategy.Strategy.
func (m *Momentum) OnTradingIteration(ctx *strategy.Context) error {
	bars, err := ctx.Data.GetHistoricalPrices(context.Background(), m.cfg.Asset, m.cfg.Window+1, m.cfg.Timestep)
	if err != nil {
		return err
	}

	momentum, err := bars.Momentum(m.cfg.Window)
	if err != nil {
		// Not enough history yet; keep waiting.
		if errors.HasCode(err, errors.ErrCodeDataNotFound) {
			return nil
		}

		return err
	}

	ctx.Vars["last_momentum"] = momentum

	quantity := m.position(ctx)

	switch {
	case quantity == 0 && momentum > m.cfg.Threshold:
		order := types.NewOrder(m.Name(), m.cfg.Asset, types.OrderSideBuy, m.cfg.Quantity, types.OrderKindMarket)
		if err := ctx.Broker.SubmitOrder(context.Background(), order); err != nil {
			return err
		}

		if entries, ok := ctx.Vars["entries"].(int); ok {
			ctx.Vars["entries"] = entries + 1
		}

		ctx.Log.Info("momentum entry",
			zap.String("strategy", m.Name()),
			zap.Float64("momentum", momentum),
		)
	case quantity > 0 && momentum < 0:
		return m.flatten(ctx, quantity)
	}

	return nil
}

// BeforeMarketCloses implements strategy.Strategy: flat overnight.
func (m *Momentum) BeforeMarketCloses(ctx *strategy.Context) error {
	if quantity := m.position(ctx); quantity > 0 {
		return m.flatten(ctx, quantity)
	}

	return nil
}

// OnAbruptClosing implements strategy.Strategy.
func (m *Momentum) OnAbruptClosing(ctx *strategy.Context) error {
	if quantity := m.position(ctx); quantity > 0 {
		return m.flatten(ctx, quantity)
	}

	return nil
}

func (m *Momentum) position(ctx *strategy.Context) float64 {
	position, err := ctx.Broker.GetPosition(m.cfg.Asset)
	if err != nil {
		return 0
	}

	return position.Quantity
}

func (m *Momentum) flatten(ctx *strategy.Context, quantity float64) error {
	order := types.NewOrder(m.Name(), m.cfg.Asset, types.OrderSideSell, quantity, types.OrderKindMarket)
	if err := ctx.Broker.SubmitOrder(context.Background(), order); err != nil {
		return err
	}

	ctx.Log.Info("momentum exit", zap.String("strategy", m.Name()), zap.Float64("quantity", quantity))

	return nil
}
