package types

import (
	"fmt"

	"github.com/helix-lab/tradewind/pkg/errors"
)

// AssetClass identifies the instrument family an Asset belongs to.
type AssetClass string

const (
	AssetClassEquity AssetClass = "EQUITY"
	AssetClassOption AssetClass = "OPTION"
	AssetClassFuture AssetClass = "FUTURE"
	AssetClassCrypto AssetClass = "CRYPTO"
	AssetClassForex  AssetClass = "FOREX"
)

// OptionRight is the side of an option contract.
type OptionRight string

const (
	OptionRightCall OptionRight = "CALL"
	OptionRightPut  OptionRight = "PUT"
)

// OptionContractSize is the shares-per-contract multiplier for listed options.
const OptionContractSize = 100.0

// Asset is an immutable instrument identifier. All fields are comparable so
// an Asset can be used directly as a map key.
type Asset struct {
	Symbol string     `yaml:"symbol" json:"symbol" csv:"symbol"`
	Class  AssetClass `yaml:"class" json:"class" csv:"class"`

	// Option fields. Expiration uses the 2006-01-02 layout.
	Expiration string      `yaml:"expiration,omitempty" json:"expiration,omitempty" csv:"expiration"`
	Strike     float64     `yaml:"strike,omitempty" json:"strike,omitempty" csv:"strike"`
	Right      OptionRight `yaml:"right,omitempty" json:"right,omitempty" csv:"right"`

	// Future fields. Continuous marks the front-month rolling contract and
	// leaves Expiration empty.
	Continuous       bool    `yaml:"continuous,omitempty" json:"continuous,omitempty" csv:"continuous"`
	FutureMultiplier float64 `yaml:"future_multiplier,omitempty" json:"future_multiplier,omitempty" csv:"future_multiplier"`
}

// NewEquity returns an equity asset for the given ticker.
func NewEquity(symbol string) Asset {
	return Asset{Symbol: symbol, Class: AssetClassEquity}
}

// NewCrypto returns a crypto asset, e.g. "BTCUSDT".
func NewCrypto(symbol string) Asset {
	return Asset{Symbol: symbol, Class: AssetClassCrypto}
}

// NewForex returns a currency pair asset, e.g. "EURUSD".
func NewForex(symbol string) Asset {
	return Asset{Symbol: symbol, Class: AssetClassForex}
}

// NewOption returns an option asset. expiration uses the 2006-01-02 layout.
func NewOption(underlying string, expiration string, strike float64, right OptionRight) Asset {
	return Asset{
		Symbol:     underlying,
		Class:      AssetClassOption,
		Expiration: expiration,
		Strike:     strike,
		Right:      right,
	}
}

// NewFuture returns a dated futures contract with the given point multiplier.
func NewFuture(symbol string, expiration string, multiplier float64) Asset {
	return Asset{
		Symbol:           symbol,
		Class:            AssetClassFuture,
		Expiration:       expiration,
		FutureMultiplier: multiplier,
	}
}

// NewContinuousFuture returns the continuous (rolling) contract for a futures
// symbol.
func NewContinuousFuture(symbol string, multiplier float64) Asset {
	return Asset{
		Symbol:           symbol,
		Class:            AssetClassFuture,
		Continuous:       true,
		FutureMultiplier: multiplier,
	}
}

// Multiplier returns the cash value of one point of price movement per unit
// of quantity. Equities, crypto and forex are 1; options are the contract
// size; futures carry their own multiplier.
func (a Asset) Multiplier() float64 {
	switch a.Class {
	case AssetClassOption:
		return OptionContractSize
	case AssetClassFuture:
		if a.FutureMultiplier > 0 {
			return a.FutureMultiplier
		}

		return 1
	default:
		return 1
	}
}

// Leveraged reports whether the asset settles unrealized P&L into cash via
// mark-to-market instead of holding market value.
func (a Asset) Leveraged() bool {
	return a.Class == AssetClassFuture
}

// Validate checks the class-specific required fields.
func (a Asset) Validate() error {
	if a.Symbol == "" {
		return errors.New(errors.ErrCodeInvalidAsset, "asset symbol is required")
	}

	switch a.Class {
	case AssetClassEquity, AssetClassCrypto, AssetClassForex:
		return nil
	case AssetClassOption:
		if a.Expiration == "" || a.Strike <= 0 || (a.Right != OptionRightCall && a.Right != OptionRightPut) {
			return errors.Newf(errors.ErrCodeInvalidAsset, "option %s requires expiration, strike and right", a.Symbol)
		}

		return nil
	case AssetClassFuture:
		if !a.Continuous && a.Expiration == "" {
			return errors.Newf(errors.ErrCodeInvalidAsset, "future %s requires an expiration or the continuous marker", a.Symbol)
		}

		if a.FutureMultiplier <= 0 {
			return errors.Newf(errors.ErrCodeInvalidAsset, "future %s requires a positive multiplier", a.Symbol)
		}

		return nil
	default:
		return errors.Newf(errors.ErrCodeInvalidAsset, "unknown asset class %q", a.Class)
	}
}

// String renders a short human-readable identifier.
func (a Asset) String() string {
	switch a.Class {
	case AssetClassOption:
		return fmt.Sprintf("%s %s %s %.2f", a.Symbol, a.Expiration, a.Right, a.Strike)
	case AssetClassFuture:
		if a.Continuous {
			return fmt.Sprintf("%s (continuous)", a.Symbol)
		}

		return fmt.Sprintf("%s %s", a.Symbol, a.Expiration)
	default:
		return a.Symbol
	}
}
