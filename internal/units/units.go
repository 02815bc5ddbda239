// Package units converts payment-asset amounts between the decimal display
// form used at the API edge and the integer minor units the engine settles in.
package units

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrNegative  = errors.New("units: amount must not be negative")
	ErrPrecision = errors.New("units: amount has more decimal places than the asset")
	ErrRange     = errors.New("units: amount out of range")
)

var maxMinor = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// ToMinor converts a display amount, e.g. 1.25 USDC, into minor units for an
// asset with the given number of decimals.
func ToMinor(amount decimal.Decimal, decimals int32) (uint64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: %s", ErrNegative, amount)
	}
	scaled := amount.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s at %d decimals", ErrPrecision, amount, decimals)
	}
	if scaled.GreaterThan(maxMinor) {
		return 0, fmt.Errorf("%w: %s", ErrRange, amount)
	}
	return scaled.BigInt().Uint64(), nil
}

// FromMinor converts minor units back into a display amount.
func FromMinor(v uint64, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals)
}
