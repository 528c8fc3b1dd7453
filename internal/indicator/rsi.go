package indicator

import (
	"github.com/helix-lab/tradewind/internal/types"
)

// RSI returns Wilder's relative strength index over the closes. A series with
// no losses reads 100, no gains reads 0, and no movement at all reads 50.
func RSI(bars types.Bars, period int) (float64, error) {
	if err := validatePeriod(period); err != nil {
		return 0, err
	}

	if err := requireBars(bars, period+1, "RSI"); err != nil {
		return 0, err
	}

	prices := closes(bars)

	var avgGain, avgLoss float64

	for i := 1; i <= period; i++ {
		change := prices[i] - prices[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}

	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(prices); i++ {
		change := prices[i] - prices[i-1]

		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}

		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgGain == 0 && avgLoss == 0 {
		return 50, nil
	}

	if avgLoss == 0 {
		return 100, nil
	}

	rs := avgGain / avgLoss

	return 100 - 100/(1+rs), nil
}
