package indicator

import (
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
	"github.com/montanaflynn/stats"
)

// Bands is one Bollinger band reading.
type Bands struct {
	Upper  float64
	Middle float64
	Lower  float64
}

// BollingerBands returns the bands over the trailing period closes: the SMA
// plus and minus width standard deviations.
func BollingerBands(bars types.Bars, period int, width float64) (Bands, error) {
	if width <= 0 {
		return Bands{}, errors.Newf(errors.ErrCodeInvalidParameter, "band width must be positive, got %f", width)
	}

	middle, err := SMA(bars, period)
	if err != nil {
		return Bands{}, err
	}

	prices := closes(bars)

	deviation, err := stats.StdDevP(prices[len(prices)-period:])
	if err != nil {
		return Bands{}, errors.Wrap(errors.ErrCodeInvalidParameter, "failed to compute band deviation", err)
	}

	return Bands{
		Upper:  middle + width*deviation,
		Middle: middle,
		Lower:  middle - width*deviation,
	}, nil
}
