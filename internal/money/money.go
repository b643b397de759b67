// Package money converts between the decimal amount strings used at the
// configuration and transport boundaries and the integer minor units the
// engine works in. No float ever carries an amount.
package money

import (
	"errors"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

// ToMinorUnits parses a decimal string ("150.00") into minor units for a
// currency with the given exponent. Amounts with more fractional digits
// than the exponent are rejected rather than rounded.
func ToMinorUnits(s string, exponent int32) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	shifted := d.Shift(exponent)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, ErrInvalidAmount
	}
	if !shifted.BigInt().IsInt64() {
		return 0, ErrInvalidAmount
	}
	return shifted.IntPart(), nil
}

// FromMinorUnits renders minor units as a decimal string for the given
// currency exponent.
func FromMinorUnits(v int64, exponent int32) string {
	return decimal.NewFromInt(v).Shift(-exponent).StringFixed(exponent)
}
