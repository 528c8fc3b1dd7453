package backtest

// FeeModel prices the commission of a single execution in account currency.
type FeeModel interface {
	// Fee returns the commission for filling quantity units at price.
	Fee(price, quantity float64) float64
}

// FeeProfile names a built-in fee model.
type FeeProfile string

const (
	FeeProfileZero     FeeProfile = "zero"
	FeeProfilePerShare FeeProfile = "per_share"
)

// FeeModelFor returns the built-in model for a profile name. Unknown profiles
// fall back to zero fees.
func FeeModelFor(profile FeeProfile) FeeModel {
	switch profile {
	case FeeProfilePerShare:
		return NewPerShareFee(0.005, 1.0)
	case FeeProfileZero:
		return ZeroFee{}
	default:
		return ZeroFee{}
	}
}

// ZeroFee charges nothing.
type ZeroFee struct{}

// Fee implements FeeModel.
func (ZeroFee) Fee(price, quantity float64) float64 {
	return 0
}

// PerShareFee charges a fixed rate per unit with a per-execution minimum.
type PerShareFee struct {
	PerShare float64
	Minimum  float64
}

// NewPerShareFee creates a per-unit fee model.
func NewPerShareFee(perShare, minimum float64) *PerShareFee {
	return &PerShareFee{PerShare: perShare, Minimum: minimum}
}

// Fee implements FeeModel.
func (f *PerShareFee) Fee(price, quantity float64) float64 {
	fee := f.PerShare * quantity
	if fee < f.Minimum {
		return f.Minimum
	}

	return fee
}
