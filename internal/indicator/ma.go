package indicator

import (
	"github.com/helix-lab/tradewind/internal/types"
)

// SMA returns the simple moving average of the trailing period closes.
func SMA(bars types.Bars, period int) (float64, error) {
	if err := validatePeriod(period); err != nil {
		return 0, err
	}

	if err := requireBars(bars, period, "SMA"); err != nil {
		return 0, err
	}

	prices := closes(bars)

	sum := 0.0
	for _, price := range prices[len(prices)-period:] {
		sum += price
	}

	return sum / float64(period), nil
}
