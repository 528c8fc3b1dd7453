// Package indicator computes technical indicators over bar series. Every
// function takes the series as-of now and returns the indicator's latest
// value; strategies obtain the series through their data provider, so the
// same call works in live trading and backtesting.
package indicator

import (
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
)

func validatePeriod(period int) error {
	if period <= 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "period must be positive, got %d", period)
	}

	return nil
}

func requireBars(bars types.Bars, needed int, name string) error {
	if bars.Len() < needed {
		return errors.Newf(errors.ErrCodeDataNotFound, "%s requires %d bars, have %d", name, needed, bars.Len())
	}

	return nil
}

func closes(bars types.Bars) []float64 {
	out := make([]float64, bars.Len())
	for i := 0; i < bars.Len(); i++ {
		out[i] = bars.At(i).Close
	}

	return out
}
