package types

import "time"

// Position is the current holding of one asset for one strategy. Quantity is
// signed (negative for short). Positions are created on first fill and
// retained with zero quantity once closed, so history stays queryable.
type Position struct {
	StrategyName  string  `yaml:"strategy_name" json:"strategy_name" csv:"strategy_name"`
	Asset         Asset   `yaml:"asset" json:"asset" csv:"-"`
	Quantity      float64 `yaml:"quantity" json:"quantity" csv:"quantity"`
	AvgEntryPrice float64 `yaml:"avg_entry_price" json:"avg_entry_price" csv:"avg_entry_price"`

	// OrderIDs lists every order that contributed a fill to this position.
	OrderIDs []string `yaml:"order_ids" json:"order_ids" csv:"-"`

	// LastMarkPrice/LastMarkTime track mark-to-market settlement for
	// leveraged instruments. LastMarkTime makes settlement idempotent per
	// clock tick.
	LastMarkPrice float64   `yaml:"last_mark_price" json:"last_mark_price" csv:"last_mark_price"`
	LastMarkTime  time.Time `yaml:"last_mark_time" json:"last_mark_time" csv:"last_mark_time"`

	OpenedAt  time.Time `yaml:"opened_at" json:"opened_at" csv:"opened_at"`
	UpdatedAt time.Time `yaml:"updated_at" json:"updated_at" csv:"updated_at"`
}

// IsOpen reports whether the position currently holds any quantity.
func (p *Position) IsOpen() bool {
	return p.Quantity != 0
}

// MarketValue returns the current market value for non-leveraged assets.
// For leveraged instruments the cash ledger already reflects P&L via
// mark-to-market, so market value is zero by convention.
func (p *Position) MarketValue(lastPrice float64) float64 {
	if p.Asset.Leveraged() {
		return 0
	}

	return p.Quantity * lastPrice * p.Asset.Multiplier()
}
