package types

import (
	"math"
	"sort"
	"time"

	"github.com/helix-lab/tradewind/pkg/errors"
)

// Chain is a snapshot of the option strikes and expirations available for an
// underlying, partitioned by call/put.
type Chain struct {
	Underlying  Asset
	TakenAt     time.Time
	Expirations []string             // sorted ascending, 2006-01-02 layout
	Calls       map[string][]float64 // expiration -> sorted strikes
	Puts        map[string][]float64
}

// NewChain normalizes a snapshot: expirations and strikes are sorted, the
// expiration list is derived from the union of both sides.
func NewChain(underlying Asset, takenAt time.Time, calls, puts map[string][]float64) Chain {
	seen := make(map[string]struct{})

	for exp, strikes := range calls {
		sort.Float64s(strikes)

		seen[exp] = struct{}{}
	}

	for exp, strikes := range puts {
		sort.Float64s(strikes)

		seen[exp] = struct{}{}
	}

	expirations := make([]string, 0, len(seen))
	for exp := range seen {
		expirations = append(expirations, exp)
	}

	sort.Strings(expirations)

	return Chain{
		Underlying:  underlying,
		TakenAt:     takenAt,
		Expirations: expirations,
		Calls:       calls,
		Puts:        puts,
	}
}

// NearestExpiration returns the first expiration on or after target, falling
// back to the last available one when target is past the end of the chain.
func (c Chain) NearestExpiration(target string) (string, error) {
	if len(c.Expirations) == 0 {
		return "", errors.Newf(errors.ErrCodeDataNotFound, "empty chain for %s", c.Underlying)
	}

	idx := sort.SearchStrings(c.Expirations, target)
	if idx >= len(c.Expirations) {
		return c.Expirations[len(c.Expirations)-1], nil
	}

	return c.Expirations[idx], nil
}

// NearestStrike returns the listed strike closest to target for the given
// expiration and right. Ties go to the lower strike.
func (c Chain) NearestStrike(expiration string, right OptionRight, target float64) (float64, error) {
	var strikes []float64

	switch right {
	case OptionRightCall:
		strikes = c.Calls[expiration]
	case OptionRightPut:
		strikes = c.Puts[expiration]
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "unknown option right %q", right)
	}

	if len(strikes) == 0 {
		return 0, errors.Newf(errors.ErrCodeDataNotFound, "no %s strikes for %s at %s", right, c.Underlying.Symbol, expiration)
	}

	best := strikes[0]
	bestDist := math.Abs(strikes[0] - target)

	for _, s := range strikes[1:] {
		if d := math.Abs(s - target); d < bestDist {
			best = s
			bestDist = d
		}
	}

	return best, nil
}

// Contract builds the option Asset for a strike/expiration in this chain.
func (c Chain) Contract(expiration string, strike float64, right OptionRight) Asset {
	return NewOption(c.Underlying.Symbol, expiration, strike, right)
}
