// Package stats collects per-iteration portfolio snapshots and derives the
// run summary: total return, max drawdown and per-iteration volatility.
package stats

import (
	"os"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/helix-lab/tradewind/pkg/errors"
	"github.com/montanaflynn/stats"
	"gopkg.in/yaml.v3"
)

// Point is one iteration snapshot.
type Point struct {
	Time           time.Time `csv:"time" yaml:"time"`
	Cash           float64   `csv:"cash" yaml:"cash"`
	PortfolioValue float64   `csv:"portfolio_value" yaml:"portfolio_value"`
}

// Tracker accumulates points for one strategy run.
type Tracker struct {
	mu     sync.Mutex
	points []Point
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Record appends one snapshot.
func (t *Tracker) Record(p Point) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.points = append(t.points, p)
}

// Points returns a copy of the recorded series.
func (t *Tracker) Points() []Point {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Point, len(t.points))
	copy(out, t.points)

	return out
}

// Summary is the derived run report.
type Summary struct {
	Iterations  int     `yaml:"iterations"`
	StartValue  float64 `yaml:"start_value"`
	EndValue    float64 `yaml:"end_value"`
	TotalReturn float64 `yaml:"total_return"`
	MaxDrawdown float64 `yaml:"max_drawdown"`
	Volatility  float64 `yaml:"volatility"`
}

// Summarize derives the summary from the recorded series.
func (t *Tracker) Summarize() (Summary, error) {
	points := t.Points()
	if len(points) == 0 {
		return Summary{}, errors.New(errors.ErrCodeDataNotFound, "no iterations recorded")
	}

	start := points[0].PortfolioValue
	end := points[len(points)-1].PortfolioValue

	summary := Summary{
		Iterations: len(points),
		StartValue: start,
		EndValue:   end,
	}

	if start != 0 {
		summary.TotalReturn = end/start - 1
	}

	summary.MaxDrawdown = maxDrawdown(points)

	returns := make([]float64, 0, len(points)-1)

	for i := 1; i < len(points); i++ {
		prev := points[i-1].PortfolioValue
		if prev == 0 {
			continue
		}

		returns = append(returns, points[i].PortfolioValue/prev-1)
	}

	if len(returns) > 1 {
		vol, err := stats.StandardDeviation(stats.Float64Data(returns))
		if err != nil {
			return Summary{}, errors.Wrap(errors.ErrCodeQueryFailed, "volatility computation failed", err)
		}

		summary.Volatility = vol
	}

	return summary, nil
}

// maxDrawdown is the largest peak-to-trough loss fraction over the series.
func maxDrawdown(points []Point) float64 {
	var peak, worst float64

	for _, p := range points {
		if p.PortfolioValue > peak {
			peak = p.PortfolioValue
		}

		if peak == 0 {
			continue
		}

		drawdown := 1 - p.PortfolioValue/peak
		if drawdown > worst {
			worst = drawdown
		}
	}

	return worst
}

// WriteSummaryYAML writes the derived summary to path.
func (t *Tracker) WriteSummaryYAML(path string) error {
	summary, err := t.Summarize()
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(summary)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to marshal summary", err)
	}

	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to write summary", err)
	}

	return nil
}

// ExportCSV writes the full iteration series to path.
func (t *Tracker) ExportCSV(path string) error {
	points := t.Points()

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create stats export", err)
	}
	defer file.Close()

	if err := gocsv.MarshalFile(&points, file); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to write stats export", err)
	}

	return nil
}
