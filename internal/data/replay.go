package data

import (
	"context"
	"sort"
	"time"

	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
)

type seriesKey struct {
	asset types.Asset
	step  types.Timestep
}

// ReplayProvider serves preloaded historical series against a simulated
// clock. Every query is truncated at the clock's current instant, so a
// strategy can never observe a bar it would not have seen live.
type ReplayProvider struct {
	clock  clock.Clock
	series map[seriesKey]types.Bars
	chains map[types.Asset][]types.Chain
}

var _ Provider = (*ReplayProvider)(nil)

// NewReplayProvider creates an empty provider bound to the given clock.
func NewReplayProvider(c clock.Clock) *ReplayProvider {
	return &ReplayProvider{
		clock:  c,
		series: make(map[seriesKey]types.Bars),
		chains: make(map[types.Asset][]types.Chain),
	}
}

// Load registers one series. Reloading the same asset/timestep replaces it.
func (p *ReplayProvider) Load(bars types.Bars) {
	p.series[seriesKey{asset: bars.Asset(), step: bars.Timestep()}] = bars
}

// LoadChain registers an option chain snapshot.
func (p *ReplayProvider) LoadChain(chain types.Chain) {
	p.chains[chain.Underlying] = append(p.chains[chain.Underlying], chain)
	sort.Slice(p.chains[chain.Underlying], func(i, j int) bool {
		return p.chains[chain.Underlying][i].TakenAt.Before(p.chains[chain.Underlying][j].TakenAt)
	})
}

// Series returns the full loaded series for driving the backtest loop. The
// executor iterates it; strategies only ever see the truncated views.
func (p *ReplayProvider) Series(asset types.Asset, step types.Timestep) (types.Bars, error) {
	series, ok := p.series[seriesKey{asset: asset, step: step}]
	if !ok {
		return types.Bars{}, errors.Newf(errors.ErrCodeDataNotFound, "no series loaded for %s %s", asset, step)
	}

	return series, nil
}

// GetLastPrice implements Provider: the close of the latest bar strictly
// before the current instant, from the finest loaded series for the asset.
func (p *ReplayProvider) GetLastPrice(ctx context.Context, asset types.Asset) (float64, error) {
	now := p.clock.Now()

	for _, step := range []types.Timestep{types.TimestepMinute, types.TimestepHour, types.TimestepDay} {
		series, ok := p.series[seriesKey{asset: asset, step: step}]
		if !ok {
			continue
		}

		visible := series.Before(now)
		if visible.Len() == 0 {
			continue
		}

		return visible.LastPrice()
	}

	return 0, errors.Newf(errors.ErrCodeDataUnavailable, "no price for %s before %s", asset, now)
}

// GetHistoricalPrices implements Provider.
func (p *ReplayProvider) GetHistoricalPrices(ctx context.Context, asset types.Asset, length int, step types.Timestep) (types.Bars, error) {
	if length <= 0 {
		return types.Bars{}, errors.Newf(errors.ErrCodeInvalidQuantity, "window length must be positive, got %d", length)
	}

	series, err := p.Series(asset, step)
	if err != nil {
		return types.Bars{}, err
	}

	return series.Before(p.clock.Now()).Tail(length), nil
}

// GetPricesBetween implements Provider. A range lying entirely at or past the
// current instant is a look-ahead programming error, not an empty result.
func (p *ReplayProvider) GetPricesBetween(ctx context.Context, asset types.Asset, step types.Timestep, start, end time.Time) (types.Bars, error) {
	now := p.clock.Now()
	if !start.Before(now) {
		return types.Bars{}, errors.Newf(errors.ErrCodeLookaheadViolation,
			"range [%s, %s] lies in the future of %s", start, end, now)
	}

	series, err := p.Series(asset, step)
	if err != nil {
		return types.Bars{}, err
	}

	visible := series.Before(now)

	var out []types.Bar

	for i := 0; i < visible.Len(); i++ {
		bar := visible.At(i)
		if bar.Time.Before(start) || bar.Time.After(end) {
			continue
		}

		out = append(out, bar)
	}

	return types.NewBars(asset, step, out), nil
}

// GetChain implements Provider: the latest snapshot taken at or before the
// current instant.
func (p *ReplayProvider) GetChain(ctx context.Context, asset types.Asset) (types.Chain, error) {
	now := p.clock.Now()
	snapshots := p.chains[asset]

	for i := len(snapshots) - 1; i >= 0; i-- {
		if !snapshots[i].TakenAt.After(now) {
			return snapshots[i], nil
		}
	}

	return types.Chain{}, errors.Newf(errors.ErrCodeDataUnavailable, "no chain snapshot for %s before %s", asset, now)
}
