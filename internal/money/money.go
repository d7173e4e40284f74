package money

import (
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money is a monetary value: a decimal amount paired with its currency unit.
// Reductions are always expressed as non-negative magnitudes.
type Money struct {
	Amount   decimal.Decimal
	Currency currency.Unit
}

// New constructs a Money value without rounding.
func New(amount decimal.Decimal, unit currency.Unit) Money {
	return Money{Amount: amount, Currency: unit}
}

// Zero returns the zero value for the given currency.
func Zero(unit currency.Unit) Money {
	return Money{Amount: decimal.Zero, Currency: unit}
}

// FromMinorUnits builds a Money value from an integer count of minor units
// (e.g. cents for USD).
func FromMinorUnits(units int64, unit currency.Unit) Money {
	return Money{Amount: decimal.New(units, -Scale(unit)), Currency: unit}
}

// Scale returns the number of decimal places used by the currency's minor
// unit under standard rounding rules (2 for USD, 0 for JPY).
func Scale(unit currency.Unit) int32 {
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// Round rounds the amount to the currency's minor-unit precision using
// round-half-to-even.
func (m Money) Round() Money {
	return Money{Amount: m.Amount.RoundBank(Scale(m.Currency)), Currency: m.Currency}
}

// MinorUnits returns the amount as an integer count of minor units. The value
// is rounded half-to-even first, so callers holding already-rounded amounts
// get an exact representation.
func (m Money) MinorUnits() int64 {
	return m.Amount.RoundBank(Scale(m.Currency)).Shift(Scale(m.Currency)).IntPart()
}

// IsZero reports whether the amount equals zero.
func (m Money) IsZero() bool { return m.Amount.IsZero() }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount.IsNegative() }

// Add returns m + other. The currencies must match.
func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("money: currency mismatch %s vs %s", m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. The currencies must match.
func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("money: currency mismatch %s vs %s", m.Currency, other.Currency)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Mul returns the amount multiplied by the given integer factor.
func (m Money) Mul(factor int64) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(factor)), Currency: m.Currency}
}

func (m Money) String() string {
	return m.Amount.StringFixed(Scale(m.Currency)) + " " + m.Currency.String()
}
