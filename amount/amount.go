// Package amount converts between display-unit values exchanged with peers
// and the integer minor units used for all internal arithmetic.
package amount

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorUnitsPerCoin is the scale between one display unit and its smallest
// representable fraction.
const MinorUnitsPerCoin = 100_000_000

// ErrInvalidAmount signals a negative, fractional-beyond-scale, or
// out-of-range value.
var ErrInvalidAmount = errors.New("amount: invalid amount")

var scale = decimal.NewFromInt(MinorUnitsPerCoin)

// FromDisplay converts a display-unit value to minor units, rejecting values
// that cannot be represented exactly.
func FromDisplay(d decimal.Decimal) (int64, error) {
	if d.IsNegative() {
		return 0, fmt.Errorf("%w: negative value %s", ErrInvalidAmount, d)
	}
	minor := d.Mul(scale)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: %s is below minor-unit resolution", ErrInvalidAmount, d)
	}
	if !minor.BigInt().IsInt64() {
		return 0, fmt.Errorf("%w: %s overflows minor units", ErrInvalidAmount, d)
	}
	return minor.IntPart(), nil
}

// FromDisplayString parses a decimal string and converts it to minor units.
func FromDisplayString(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return FromDisplay(d)
}

// ToDisplay converts minor units back to the display-unit representation.
func ToDisplay(minor int64) decimal.Decimal {
	return decimal.NewFromInt(minor).Div(scale)
}
