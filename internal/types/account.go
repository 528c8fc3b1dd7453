package types

// AccountInfo is a read-only snapshot of one strategy's ledger.
type AccountInfo struct {
	// Cash is the current cash balance. It moves only on fills, margin
	// posting/release and mark-to-market settlement.
	Cash float64 `json:"cash" yaml:"cash"`
	// PortfolioValue is cash plus the market value of non-cash-settled
	// positions; leveraged positions already settled into cash contribute
	// nothing here.
	PortfolioValue float64 `json:"portfolio_value" yaml:"portfolio_value"`
	// MarginPosted is the margin currently held against leveraged positions.
	MarginPosted float64 `json:"margin_posted" yaml:"margin_posted"`
	// TotalFees is the cumulative fees paid.
	TotalFees float64 `json:"total_fees" yaml:"total_fees"`
}
