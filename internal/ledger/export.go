package ledger

import (
	"os"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/helix-lab/tradewind/pkg/errors"
)

// orderRecord flattens an order for CSV export; Asset does not marshal
// directly.
type orderRecord struct {
	ID             string    `csv:"id"`
	StrategyName   string    `csv:"strategy_name"`
	Symbol         string    `csv:"symbol"`
	AssetClass     string    `csv:"asset_class"`
	Side           string    `csv:"side"`
	Kind           string    `csv:"kind"`
	Quantity       float64   `csv:"quantity"`
	FilledQuantity float64   `csv:"filled_quantity"`
	AvgFillPrice   float64   `csv:"avg_fill_price"`
	Fees           float64   `csv:"fees"`
	Status         string    `csv:"status"`
	GroupID        string    `csv:"group_id"`
	GroupRole      string    `csv:"group_role"`
	CreatedAt      time.Time `csv:"created_at"`
	UpdatedAt      time.Time `csv:"updated_at"`
}

// ExportOrdersCSV writes the full order history to path for reporting.
func (l *Ledger) ExportOrdersCSV(path string) error {
	orders := l.Orders()
	records := make([]orderRecord, 0, len(orders))

	for _, o := range orders {
		records = append(records, orderRecord{
			ID:             o.ID,
			StrategyName:   o.StrategyName,
			Symbol:         o.Asset.Symbol,
			AssetClass:     string(o.Asset.Class),
			Side:           string(o.Side),
			Kind:           string(o.Kind),
			Quantity:       o.Quantity,
			FilledQuantity: o.FilledQuantity,
			AvgFillPrice:   o.AvgFillPrice,
			Fees:           o.Fees,
			Status:         string(o.Status),
			GroupID:        o.GroupID,
			GroupRole:      string(o.GroupRole),
			CreatedAt:      o.CreatedAt,
			UpdatedAt:      o.UpdatedAt,
		})
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create orders export", err)
	}
	defer file.Close()

	if err := gocsv.MarshalFile(&records, file); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to write orders export", err)
	}

	return nil
}

// positionRecord flattens a position for CSV export.
type positionRecord struct {
	StrategyName  string  `csv:"strategy_name"`
	Symbol        string  `csv:"symbol"`
	AssetClass    string  `csv:"asset_class"`
	Quantity      float64 `csv:"quantity"`
	AvgEntryPrice float64 `csv:"avg_entry_price"`
	LastMarkPrice float64 `csv:"last_mark_price"`
}

// ExportPositionsCSV writes every position, open and closed, to path.
func (l *Ledger) ExportPositionsCSV(path string) error {
	positions := l.AllPositions()
	records := make([]positionRecord, 0, len(positions))

	for _, p := range positions {
		records = append(records, positionRecord{
			StrategyName:  p.StrategyName,
			Symbol:        p.Asset.Symbol,
			AssetClass:    string(p.Asset.Class),
			Quantity:      p.Quantity,
			AvgEntryPrice: p.AvgEntryPrice,
			LastMarkPrice: p.LastMarkPrice,
		})
	}

	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create positions export", err)
	}
	defer file.Close()

	if err := gocsv.MarshalFile(&records, file); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to write positions export", err)
	}

	return nil
}
