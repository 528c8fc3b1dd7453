package data

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/helix-lab/tradewind/internal/types"
	"github.com/helix-lab/tradewind/pkg/errors"
)

// barRecord is the CSV row shape. Times are RFC3339.
type barRecord struct {
	Time   time.Time `csv:"time"`
	Open   float64   `csv:"open"`
	High   float64   `csv:"high"`
	Low    float64   `csv:"low"`
	Close  float64   `csv:"close"`
	Volume float64   `csv:"volume"`
}

// LoadBarsCSV reads an OHLCV file into a series for the given asset and
// timestep. Rows are sorted by time; the file order does not matter.
func LoadBarsCSV(path string, asset types.Asset, step types.Timestep) (types.Bars, error) {
	file, err := os.Open(path)
	if err != nil {
		return types.Bars{}, errors.Wrapf(errors.ErrCodeDataNotFound, err, "failed to open bar file %s", path)
	}
	defer file.Close()

	var records []barRecord
	if err := gocsv.UnmarshalFile(file, &records); err != nil {
		return types.Bars{}, errors.Wrapf(errors.ErrCodeQueryFailed, err, "failed to parse bar file %s", path)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Time.Before(records[j].Time)
	})

	bars := make([]types.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, types.Bar{
			Time:   r.Time,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		})
	}

	return types.NewBars(asset, step, bars), nil
}

// CSVVendor serves a single preloaded bar file through the Vendor interface,
// which is what paper trading runs on. Chains are not supported.
type CSVVendor struct {
	series types.Bars
}

var _ Vendor = (*CSVVendor)(nil)

// NewCSVVendor creates a vendor over an already-loaded series.
func NewCSVVendor(series types.Bars) *CSVVendor {
	return &CSVVendor{series: series}
}

// Name implements Vendor.
func (v *CSVVendor) Name() string { return "csv" }

// GetLastPrice implements Vendor: the close of the newest bar in the file.
func (v *CSVVendor) GetLastPrice(ctx context.Context, asset types.Asset) (float64, error) {
	return v.series.LastPrice()
}

// GetBars implements Vendor.
func (v *CSVVendor) GetBars(ctx context.Context, asset types.Asset, step types.Timestep, start, end time.Time) ([]types.Bar, error) {
	if step != v.series.Timestep() {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "csv vendor holds %s bars, not %s", v.series.Timestep(), step)
	}

	var out []types.Bar

	for i := 0; i < v.series.Len(); i++ {
		bar := v.series.At(i)
		if bar.Time.Before(start) || bar.Time.After(end) {
			continue
		}

		out = append(out, bar)
	}

	return out, nil
}

// GetChain implements Vendor. A bar file carries no option data.
func (v *CSVVendor) GetChain(ctx context.Context, asset types.Asset) (types.Chain, error) {
	return types.Chain{}, errors.Newf(errors.ErrCodeDataUnavailable, "csv vendor has no chain for %s", asset)
}
