package indicator

import (
	"github.com/helix-lab/tradewind/internal/types"
)

// EMA returns the exponential moving average of the closes, seeded with the
// SMA of the first period values.
func EMA(bars types.Bars, period int) (float64, error) {
	if err := validatePeriod(period); err != nil {
		return 0, err
	}

	if err := requireBars(bars, period, "EMA"); err != nil {
		return 0, err
	}

	prices := closes(bars)

	seed := 0.0
	for _, price := range prices[:period] {
		seed += price
	}

	ema := seed / float64(period)
	k := 2.0 / float64(period+1)

	for _, price := range prices[period:] {
		ema += (price - ema) * k
	}

	return ema, nil
}
