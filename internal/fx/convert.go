// Package fx converts monetary amounts between currencies using a rate table
// supplied per pricing pass. Conversion is pure: no state, no I/O, safe for
// concurrent use.
package fx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/noah-isme/promo-core/internal/money"
)

// ErrMissingRate is returned when neither a direct nor an invertible rate
// exists for the requested currency pair.
var ErrMissingRate = errors.New("fx: missing exchange rate")

// Pair identifies a directed currency conversion.
type Pair struct {
	From currency.Unit
	To   currency.Unit
}

func (p Pair) String() string {
	return p.From.String() + "/" + p.To.String()
}

// ParsePair parses a "USD/EUR" style pair.
func ParsePair(s string) (Pair, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 2 {
		return Pair{}, fmt.Errorf("fx: malformed pair %q", s)
	}
	from, err := currency.ParseISO(parts[0])
	if err != nil {
		return Pair{}, fmt.Errorf("fx: malformed pair %q: %w", s, err)
	}
	to, err := currency.ParseISO(parts[1])
	if err != nil {
		return Pair{}, fmt.Errorf("fx: malformed pair %q: %w", s, err)
	}
	return Pair{From: from, To: to}, nil
}

// RateTable maps currency pairs to multiplicative rates.
type RateTable map[Pair]decimal.Decimal

// Rate resolves the rate for a pair, falling back to the inverse of the
// opposite direction when no direct entry exists.
func (t RateTable) Rate(from, to currency.Unit) (decimal.Decimal, bool) {
	if r, ok := t[Pair{From: from, To: to}]; ok && r.IsPositive() {
		return r, true
	}
	if r, ok := t[Pair{From: to, To: from}]; ok && r.IsPositive() {
		return decimal.New(1, 0).DivRound(r, 12), true
	}
	return decimal.Decimal{}, false
}

// Convert converts m into the target currency. Identity conversions return
// the input untouched, preserving exact equality. Otherwise the result is
// rounded to the target currency's minor-unit precision using
// round-half-to-even, applied exactly once at the end.
func Convert(m money.Money, to currency.Unit, rates RateTable) (money.Money, error) {
	if m.Currency == to {
		return m, nil
	}
	rate, ok := rates.Rate(m.Currency, to)
	if !ok {
		return money.Money{}, fmt.Errorf("%w: %s", ErrMissingRate, Pair{From: m.Currency, To: to})
	}
	converted := m.Amount.Mul(rate).RoundBank(money.Scale(to))
	return money.New(converted, to), nil
}
