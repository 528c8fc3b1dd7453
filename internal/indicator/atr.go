package indicator

import (
	"math"

	"github.com/helix-lab/tradewind/internal/types"
)

// ATR returns Wilder's average true range over the trailing bars.
func ATR(bars types.Bars, period int) (float64, error) {
	if err := validatePeriod(period); err != nil {
		return 0, err
	}

	if err := requireBars(bars, period+1, "ATR"); err != nil {
		return 0, err
	}

	trueRanges := make([]float64, 0, bars.Len()-1)

	for i := 1; i < bars.Len(); i++ {
		bar := bars.At(i)
		prevClose := bars.At(i - 1).Close

		tr := math.Max(bar.High-bar.Low,
			math.Max(math.Abs(bar.High-prevClose), math.Abs(bar.Low-prevClose)))
		trueRanges = append(trueRanges, tr)
	}

	atr := 0.0
	for _, tr := range trueRanges[:period] {
		atr += tr
	}

	atr /= float64(period)

	for _, tr := range trueRanges[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}

	return atr, nil
}
