package data

import (
	"context"
	"time"

	"github.com/helix-lab/tradewind/internal/clock"
	"github.com/helix-lab/tradewind/internal/data/cache"
	"github.com/helix-lab/tradewind/internal/logger"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"go.uber.org/zap"
)

// Vendor is the external market-data collaborator. Implementations talk the
// vendor's wire protocol; the provider never does.
type Vendor interface {
	// Name identifies the vendor for cache addressing.
	Name() string
	// GetLastPrice returns the current price.
	GetLastPrice(ctx context.Context, asset types.Asset) (float64, error)
	// GetBars returns the bars in [start, end] in time order.
	GetBars(ctx context.Context, asset types.Asset, step types.Timestep, start, end time.Time) ([]types.Bar, error)
	// GetChain returns the current option chain for an underlying.
	GetChain(ctx context.Context, asset types.Asset) (types.Chain, error)
}

// LiveProvider serves a vendor through the local cache. A covered range never
// touches the vendor; a partial hit fetches only the missing sub-ranges; on
// vendor quota exhaustion the provider degrades to cached-only and reports
// recoverable DataUnavailable for what the cache cannot serve.
type LiveProvider struct {
	vendor Vendor
	store  *cache.Store
	clock  clock.Clock
	log    *logger.Logger
}

var _ Provider = (*LiveProvider)(nil)

// NewLiveProvider wires a vendor to a cache store.
func NewLiveProvider(vendor Vendor, store *cache.Store, c clock.Clock, log *logger.Logger) *LiveProvider {
	return &LiveProvider{
		vendor: vendor,
		store:  store,
		clock:  c,
		log:    log,
	}
}

// GetLastPrice implements Provider. Current prices are never cached.
func (p *LiveProvider) GetLastPrice(ctx context.Context, asset types.Asset) (float64, error) {
	price, err := p.vendor.GetLastPrice(ctx, asset)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCodeDataUnavailable, err, "last price for %s unavailable", asset)
	}

	return price, nil
}

// GetHistoricalPrices implements Provider.
func (p *LiveProvider) GetHistoricalPrices(ctx context.Context, asset types.Asset, length int, step types.Timestep) (types.Bars, error) {
	if length <= 0 {
		return types.Bars{}, errors.Newf(errors.ErrCodeInvalidQuantity, "window length must be positive, got %d", length)
	}

	dur, err := step.Duration()
	if err != nil {
		return types.Bars{}, err
	}

	now := p.clock.Now()
	// Over-request to absorb closed sessions, then trim to length.
	start := now.Add(-time.Duration(length) * dur * 3)

	bars, err := p.GetPricesBetween(ctx, asset, step, start, now)
	if err != nil {
		return types.Bars{}, err
	}

	return bars.Tail(length), nil
}

// GetPricesBetween implements Provider.
func (p *LiveProvider) GetPricesBetween(ctx context.Context, asset types.Asset, step types.Timestep, start, end time.Time) (types.Bars, error) {
	now := p.clock.Now()
	if !start.Before(now) {
		return types.Bars{}, errors.Newf(errors.ErrCodeLookaheadViolation,
			"range [%s, %s] lies in the future of %s", start, end, now)
	}

	if end.After(now) {
		end = now
	}

	missing, err := p.missingRanges(asset, step, start, end)
	if err != nil {
		// A corrupted entry is a miss: refetch the whole range.
		if !errors.HasCode(err, errors.ErrCodeCacheCorrupted) {
			return types.Bars{}, err
		}

		p.log.Warn("cache entry unreadable, refetching range",
			zap.String("asset", asset.String()),
			zap.Error(err),
		)

		missing = []cache.Range{{Start: start, End: end}}
	}

	for _, gap := range missing {
		fetched, err := p.vendor.GetBars(ctx, asset, step, gap.Start, gap.End)
		if err != nil {
			if errors.HasCode(err, errors.ErrCodeQuotaExhausted) {
				return p.cachedOnly(asset, step, start, end, err)
			}

			return types.Bars{}, errors.Wrapf(errors.ErrCodeDataUnavailable, err,
				"vendor fetch for %s failed", asset)
		}

		if err := p.store.Write(p.vendor.Name(), asset, step, fetched, gap.Start, gap.End); err != nil {
			// Serving data beats caching it.
			p.log.Warn("cache write failed", zap.String("asset", asset.String()), zap.Error(err))
		}
	}

	bars, err := p.store.Read(p.vendor.Name(), asset, step, start, end)
	if err != nil {
		return types.Bars{}, err
	}

	return types.NewBars(asset, step, bars), nil
}

// cachedOnly serves whatever the cache holds for the range; when it holds
// nothing the quota error surfaces as recoverable DataUnavailable.
func (p *LiveProvider) cachedOnly(asset types.Asset, step types.Timestep, start, end time.Time, cause error) (types.Bars, error) {
	bars, readErr := p.store.Read(p.vendor.Name(), asset, step, start, end)
	if readErr != nil || len(bars) == 0 {
		return types.Bars{}, errors.Wrapf(errors.ErrCodeDataUnavailable, cause,
			"vendor quota exhausted and cache cannot serve %s", asset)
	}

	p.log.Warn("vendor quota exhausted, serving cached subset",
		zap.String("asset", asset.String()),
		zap.Int("bars", len(bars)),
		zap.Error(cause),
	)

	return types.NewBars(asset, step, bars), nil
}

// missingRanges subtracts the cached coverage from [start, end].
func (p *LiveProvider) missingRanges(asset types.Asset, step types.Timestep, start, end time.Time) ([]cache.Range, error) {
	covered, err := p.store.Coverage(p.vendor.Name(), asset, step)
	if err != nil {
		return nil, err
	}

	var gaps []cache.Range

	cursor := start

	for _, r := range covered {
		if r.End.Before(cursor) {
			continue
		}

		if r.Start.After(end) {
			break
		}

		if r.Start.After(cursor) {
			gaps = append(gaps, cache.Range{Start: cursor, End: r.Start})
		}

		if r.End.After(cursor) {
			cursor = r.End
		}
	}

	if cursor.Before(end) {
		gaps = append(gaps, cache.Range{Start: cursor, End: end})
	}

	return gaps, nil
}

// GetChain implements Provider. Chains are point-in-time snapshots and are
// never cached.
func (p *LiveProvider) GetChain(ctx context.Context, asset types.Asset) (types.Chain, error) {
	chain, err := p.vendor.GetChain(ctx, asset)
	if err != nil {
		return types.Chain{}, errors.Wrapf(errors.ErrCodeDataUnavailable, err, "chain for %s unavailable", asset)
	}

	return chain, nil
}
