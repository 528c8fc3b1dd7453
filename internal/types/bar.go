package types

import (
	"time"

	"github.com/helix-lab/tradewind/pkg/errors"
)

// Timestep is the sampling interval of a bar series.
type Timestep string

const (
	TimestepMinute Timestep = "minute"
	TimestepHour   Timestep = "hour"
	TimestepDay    Timestep = "day"
)

// Duration returns the wall duration of one bar at this timestep.
func (t Timestep) Duration() (time.Duration, error) {
	switch t {
	case TimestepMinute:
		return time.Minute, nil
	case TimestepHour:
		return time.Hour, nil
	case TimestepDay:
		return 24 * time.Hour, nil
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidTimestep, "unknown timestep %q", t)
	}
}

// Bar is one OHLCV record for an asset over a fixed interval.
type Bar struct {
	Time   time.Time `yaml:"time" json:"time" csv:"time"`
	Open   float64   `yaml:"open" json:"open" csv:"open"`
	High   float64   `yaml:"high" json:"high" csv:"high"`
	Low    float64   `yaml:"low" json:"low" csv:"low"`
	Close  float64   `yaml:"close" json:"close" csv:"close"`
	Volume float64   `yaml:"volume" json:"volume" csv:"volume"`
}

// Bars is an immutable OHLCV series for one asset at one timestep. All
// methods are read-only derivations; the backing slice is never mutated.
type Bars struct {
	asset    Asset
	timestep Timestep
	bars     []Bar
}

// NewBars builds a series from bars already sorted by ascending time.
func NewBars(asset Asset, timestep Timestep, bars []Bar) Bars {
	copied := make([]Bar, len(bars))
	copy(copied, bars)

	return Bars{asset: asset, timestep: timestep, bars: copied}
}

func (b Bars) Asset() Asset       { return b.asset }
func (b Bars) Timestep() Timestep { return b.timestep }
func (b Bars) Len() int           { return len(b.bars) }

// At returns the bar at index i.
func (b Bars) At(i int) Bar { return b.bars[i] }

// Last returns the most recent bar.
func (b Bars) Last() (Bar, error) {
	if len(b.bars) == 0 {
		return Bar{}, errors.Newf(errors.ErrCodeDataNotFound, "no bars for %s", b.asset)
	}

	return b.bars[len(b.bars)-1], nil
}

// LastPrice returns the close of the most recent bar.
func (b Bars) LastPrice() (float64, error) {
	last, err := b.Last()
	if err != nil {
		return 0, err
	}

	return last.Close, nil
}

// Momentum returns the fractional close-to-close return over the trailing
// window: close[n-1]/close[n-1-window] - 1.
func (b Bars) Momentum(window int) (float64, error) {
	n := len(b.bars)
	if window <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "momentum window must be positive, got %d", window)
	}

	if n <= window {
		return 0, errors.Newf(errors.ErrCodeDataNotFound, "momentum window %d requires %d bars, have %d", window, window+1, n)
	}

	base := b.bars[n-1-window].Close
	if base == 0 {
		return 0, errors.New(errors.ErrCodeDataNotFound, "momentum base close is zero")
	}

	return b.bars[n-1].Close/base - 1, nil
}

// TotalVolume sums the volume of the trailing window bars.
func (b Bars) TotalVolume(window int) (float64, error) {
	n := len(b.bars)
	if window <= 0 || window > n {
		return 0, errors.Newf(errors.ErrCodeInvalidParameter, "volume window %d out of range for %d bars", window, n)
	}

	total := 0.0
	for _, bar := range b.bars[n-window:] {
		total += bar.Volume
	}

	return total, nil
}

// Resample aggregates the series into a coarser timestep. Buckets are aligned
// to the target duration in UTC; a partial trailing bucket is emitted.
func (b Bars) Resample(target Timestep) (Bars, error) {
	srcDur, err := b.timestep.Duration()
	if err != nil {
		return Bars{}, err
	}

	dstDur, err := target.Duration()
	if err != nil {
		return Bars{}, err
	}

	if dstDur < srcDur {
		return Bars{}, errors.Newf(errors.ErrCodeInvalidTimestep, "cannot resample %s to finer timestep %s", b.timestep, target)
	}

	if dstDur == srcDur || len(b.bars) == 0 {
		return NewBars(b.asset, target, b.bars), nil
	}

	var out []Bar

	var cur Bar

	var curBucket time.Time

	started := false

	for _, bar := range b.bars {
		bucket := bar.Time.UTC().Truncate(dstDur)
		if !started || !bucket.Equal(curBucket) {
			if started {
				out = append(out, cur)
			}

			curBucket = bucket
			cur = Bar{Time: bucket, Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: bar.Volume}
			started = true

			continue
		}

		if bar.High > cur.High {
			cur.High = bar.High
		}

		if bar.Low < cur.Low {
			cur.Low = bar.Low
		}

		cur.Close = bar.Close
		cur.Volume += bar.Volume
	}

	out = append(out, cur)

	return NewBars(b.asset, target, out), nil
}

// Before returns the sub-series of bars strictly earlier than t.
func (b Bars) Before(t time.Time) Bars {
	idx := len(b.bars)

	for i, bar := range b.bars {
		if !bar.Time.Before(t) {
			idx = i

			break
		}
	}

	return Bars{asset: b.asset, timestep: b.timestep, bars: b.bars[:idx]}
}

// Tail returns the trailing n bars (or the whole series when shorter).
func (b Bars) Tail(n int) Bars {
	if n >= len(b.bars) {
		return b
	}

	return Bars{asset: b.asset, timestep: b.timestep, bars: b.bars[len(b.bars)-n:]}
}
