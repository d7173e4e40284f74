package promo

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/promo-core/internal/money"
)

// LineState tracks how much of a line's total is still reducible. Amounts are
// in the pass currency at minor-unit precision; sequential stacking applies
// each rule against the already-reduced remainder.
type LineState struct {
	LineID    string
	Remaining decimal.Decimal
}

// LineReduction is the portion of a rule's reduction attributed to one line.
type LineReduction struct {
	LineID string
	Amount decimal.Decimal
}

// Application is the monetary outcome of applying one rule.
type Application struct {
	RuleID uuid.UUID
	Lines  []LineReduction
	Total  decimal.Decimal
}

// Apply computes the reduction a rule takes from the given line states. The
// rule's monetary value and cap are passed pre-converted into the pass
// currency. scale is the pass currency's minor-unit precision.
//
// Percentage rules reduce each line by value% of its remaining total; the
// rule-wide sum is capped at maxDiscount when present. Fixed-amount rules
// subtract the flat value from the matching remainder, never below zero. In
// both cases the rule total is distributed across lines proportionally to
// each line's share of the remaining subtotal using largest-remainder
// rounding, so the parts sum exactly to the whole and no line goes negative.
func Apply(r Rule, states []LineState, value decimal.Decimal, maxDiscount *decimal.Decimal, scale int32) Application {
	app := Application{RuleID: r.ID, Total: decimal.Zero}
	if len(states) == 0 {
		return app
	}

	remainingSum := decimal.Zero
	for _, s := range states {
		remainingSum = remainingSum.Add(s.Remaining)
	}
	if !remainingSum.IsPositive() {
		return app
	}

	var target decimal.Decimal
	switch r.ValueType {
	case ValuePercentage:
		target = remainingSum.Mul(value).Div(decimal.NewFromInt(100))
		if maxDiscount != nil && target.GreaterThan(*maxDiscount) {
			target = *maxDiscount
		}
	case ValueFixedAmount:
		target = value
	default:
		return app
	}
	if target.GreaterThan(remainingSum) {
		target = remainingSum
	}
	target = target.RoundBank(scale)
	if !target.IsPositive() {
		return app
	}

	weights := make([]int64, len(states))
	caps := make([]int64, len(states))
	for i, s := range states {
		minor := s.Remaining.Shift(scale).IntPart()
		if minor < 0 {
			minor = 0
		}
		weights[i] = minor
		caps[i] = minor
	}
	shares := money.Allocate(target.Shift(scale).IntPart(), weights, caps)

	for i, s := range states {
		if shares[i] == 0 {
			continue
		}
		amount := decimal.New(shares[i], -scale)
		app.Lines = append(app.Lines, LineReduction{LineID: s.LineID, Amount: amount})
		app.Total = app.Total.Add(amount)
	}
	return app
}
