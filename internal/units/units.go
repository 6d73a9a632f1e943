// Package units converts between major-unit decimal strings ("1.5") and the
// integer value units the ledger stores.
package units

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalid     = errors.New("invalid amount")
	ErrNotPositive = errors.New("amount must be positive")
	ErrPrecision   = errors.New("amount has more decimals than the unit allows")
	ErrOverflow    = errors.New("amount overflows value units")
)

var maxUnits = decimal.NewFromBigInt(new(big.Int).SetUint64(math.MaxUint64), 0)

// Parse converts a major-unit amount into value units with the given number of decimals.
func Parse(s string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if d.Sign() <= 0 {
		return 0, ErrNotPositive
	}

	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %d", ErrPrecision, decimals)
	}
	if scaled.GreaterThan(maxUnits) {
		return 0, ErrOverflow
	}
	return scaled.BigInt().Uint64(), nil
}

// Format renders value units as a major-unit decimal string without trailing zeros.
func Format(v uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(v), -decimals).String()
}
