// Package data defines the market-data capability and its two
// implementations: ReplayProvider serves preloaded history against simulated
// time, LiveProvider serves a vendor through the local cache. Strategies see
// the same Provider either way.
package data

import (
	"context"
	"time"

	"github.com/helix-lab/tradewind/internal/types"
)

// Provider answers price queries. Implementations must never return data from
// the future of their clock: windows are truncated at the current instant,
// and a range lying entirely at or past it is a programming error.
type Provider interface {
	// GetLastPrice returns the most recent price for the asset.
	GetLastPrice(ctx context.Context, asset types.Asset) (float64, error)
	// GetHistoricalPrices returns up to length bars ending at the current
	// instant.
	GetHistoricalPrices(ctx context.Context, asset types.Asset, length int, step types.Timestep) (types.Bars, error)
	// GetPricesBetween returns the bars in [start, end], truncated at the
	// current instant.
	GetPricesBetween(ctx context.Context, asset types.Asset, step types.Timestep, start, end time.Time) (types.Bars, error)
	// GetChain returns the option chain snapshot for an underlying.
	GetChain(ctx context.Context, asset types.Asset) (types.Chain, error)
}
