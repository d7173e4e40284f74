// Package pricing orchestrates a pricing pass: cart collection, currency
// conversion, rule evaluation, stacking resolution, reduction calculation and
// final result assembly. A pass is pure and read-only; any number of passes
// may run concurrently.
package pricing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"

	"github.com/noah-isme/promo-core/internal/fx"
	"github.com/noah-isme/promo-core/internal/money"
	"github.com/noah-isme/promo-core/internal/promo"
)

var (
	// ErrEmptyCart aborts a pass for carts with no lines.
	ErrEmptyCart = errors.New("pricing: cart is empty")
	// ErrInvalidQuantity aborts a pass when any line quantity is not positive.
	ErrInvalidQuantity = errors.New("pricing: line quantity must be positive")
)

// Line is one cart line as received from the order flow. Immutable for the
// duration of a pass.
type Line struct {
	LineID     string
	ProductID  uuid.UUID
	CategoryID uuid.UUID
	UnitPrice  money.Money
	Quantity   int
}

// Cart is an ordered sequence of lines.
type Cart struct {
	Lines []Line
}

// Context carries the per-pass inputs. It is rebuilt for every preview or
// checkout call and never persisted.
type Context struct {
	StoreID     string
	CustomerID  string
	CouponCodes []string
	Target      currency.Unit
	AsOf        time.Time
}

// Reduction attributes part of a discount to a rule.
type Reduction struct {
	RuleID uuid.UUID
	Amount money.Money
}

// PricedLine pairs a line's original total with the ordered reductions taken
// from it.
type PricedLine struct {
	LineID        string
	OriginalTotal money.Money
	Reductions    []Reduction
}

// SkippedRule records a rule excluded from the pass and why, for
// observability.
type SkippedRule struct {
	RuleID uuid.UUID
	Reason promo.Reason
}

// Result is the outcome of one pass. Produced fresh each call and never
// mutated afterwards; for a fixed rule set, cart and rate table the result is
// byte-identical across calls.
type Result struct {
	Lines          []PricedLine
	Subtotal       money.Money
	TotalDiscount  money.Money
	GrandTotal     money.Money
	AppliedRuleIDs []uuid.UUID
	Skipped        []SkippedRule
}

// candidate bundles an eligible rule with its pass-currency value, cap and
// matching lines so Calculating does not re-convert.
type candidate struct {
	rule        promo.Rule
	value       decimal.Decimal
	maxDiscount *decimal.Decimal
	minPurchase *decimal.Decimal
	lineIDs     []string
}

// Compute runs the full pipeline over an in-memory snapshot. Stages run
// strictly in order; a conversion failure on any line aborts the pass rather
// than surfacing a partially priced result. Accepted rules apply sequentially
// against already-reduced line totals so stacked discounts cannot exceed the
// line total.
func Compute(cart Cart, rules []promo.Rule, coupons []promo.Coupon, rates fx.RateTable, pctx Context) (Result, error) {
	scale := money.Scale(pctx.Target)

	// Collecting
	if len(cart.Lines) == 0 {
		return Result{}, ErrEmptyCart
	}
	for _, l := range cart.Lines {
		if l.Quantity <= 0 {
			return Result{}, fmt.Errorf("%w: line %q", ErrInvalidQuantity, l.LineID)
		}
	}

	// Converting
	promoLines := make([]promo.Line, len(cart.Lines))
	originals := make([]money.Money, len(cart.Lines))
	lineIndex := make(map[string]int, len(cart.Lines))
	for i, l := range cart.Lines {
		unit, err := fx.Convert(l.UnitPrice, pctx.Target, rates)
		if err != nil {
			return Result{}, fmt.Errorf("line %q: %w", l.LineID, err)
		}
		total := unit.Mul(int64(l.Quantity))
		promoLines[i] = promo.Line{
			LineID:     l.LineID,
			ProductID:  l.ProductID,
			CategoryID: l.CategoryID,
			Subtotal:   total.Amount,
			Quantity:   l.Quantity,
		}
		originals[i] = total
		lineIndex[l.LineID] = i
	}

	// Evaluating
	var eligible []candidate
	var skipped []SkippedRule
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			skipped = append(skipped, SkippedRule{RuleID: r.ID, Reason: promo.ReasonDataInvalid})
			continue
		}
		matching := promo.MatchingLines(r, promoLines)
		if len(matching) == 0 {
			skipped = append(skipped, SkippedRule{RuleID: r.ID, Reason: promo.ReasonNoMatchingLines})
			continue
		}

		cand, ok := convertRule(r, pctx.Target, rates)
		if !ok {
			skipped = append(skipped, SkippedRule{RuleID: r.ID, Reason: promo.ReasonRateUnavailable})
			continue
		}

		matchingSubtotal := decimal.Zero
		matchingQuantity := 0
		for _, m := range matching {
			matchingSubtotal = matchingSubtotal.Add(m.Subtotal)
			matchingQuantity += m.Quantity
			cand.lineIDs = append(cand.lineIDs, m.LineID)
		}

		reason := promo.Evaluate(r, promo.EvalInput{
			Now:              pctx.AsOf,
			Coupons:          coupons,
			MatchingSubtotal: matchingSubtotal,
			MatchingQuantity: matchingQuantity,
			MinPurchase:      cand.minPurchase,
		})
		if reason != promo.ReasonEligible {
			skipped = append(skipped, SkippedRule{RuleID: r.ID, Reason: reason})
			continue
		}
		eligible = append(eligible, cand)
	}

	// Resolving
	eligibleRules := make([]promo.Rule, len(eligible))
	byID := make(map[uuid.UUID]candidate, len(eligible))
	for i, c := range eligible {
		eligibleRules[i] = c.rule
		byID[c.rule.ID] = c
	}
	accepted := promo.Resolve(eligibleRules)

	// Calculating
	remaining := make([]decimal.Decimal, len(cart.Lines))
	for i, orig := range originals {
		remaining[i] = orig.Amount
	}
	lineReductions := make([][]Reduction, len(cart.Lines))
	appliedIDs := make([]uuid.UUID, 0, len(accepted))
	totalDiscount := decimal.Zero

	for _, r := range accepted {
		cand := byID[r.ID]
		states := make([]promo.LineState, 0, len(cand.lineIDs))
		for _, id := range cand.lineIDs {
			states = append(states, promo.LineState{LineID: id, Remaining: remaining[lineIndex[id]]})
		}
		app := promo.Apply(r, states, cand.value, cand.maxDiscount, scale)
		appliedIDs = append(appliedIDs, r.ID)
		for _, lr := range app.Lines {
			idx := lineIndex[lr.LineID]
			remaining[idx] = remaining[idx].Sub(lr.Amount)
			lineReductions[idx] = append(lineReductions[idx], Reduction{
				RuleID: r.ID,
				Amount: money.New(lr.Amount, pctx.Target),
			})
		}
		totalDiscount = totalDiscount.Add(app.Total)
	}

	// Finalized
	subtotal := decimal.Zero
	for _, orig := range originals {
		subtotal = subtotal.Add(orig.Amount)
	}
	res := Result{
		Lines:          make([]PricedLine, len(cart.Lines)),
		Subtotal:       money.New(subtotal, pctx.Target),
		TotalDiscount:  money.New(totalDiscount, pctx.Target),
		GrandTotal:     money.New(subtotal.Sub(totalDiscount), pctx.Target),
		AppliedRuleIDs: appliedIDs,
		Skipped:        skipped,
	}
	for i := range cart.Lines {
		res.Lines[i] = PricedLine{
			LineID:        cart.Lines[i].LineID,
			OriginalTotal: originals[i],
			Reductions:    lineReductions[i],
		}
	}
	return res, nil
}

func convertRule(r promo.Rule, target currency.Unit, rates fx.RateTable) (candidate, bool) {
	out := candidate{rule: r, value: r.Value}
	if r.MinPurchase != nil {
		conv, err := fx.Convert(*r.MinPurchase, target, rates)
		if err != nil {
			return out, false
		}
		out.minPurchase = &conv.Amount
	}
	if r.ValueType == promo.ValueFixedAmount {
		conv, err := fx.Convert(money.New(r.Value, r.Currency), target, rates)
		if err != nil {
			return out, false
		}
		out.value = conv.Amount
	}
	if r.MaxDiscount != nil {
		conv, err := fx.Convert(*r.MaxDiscount, target, rates)
		if err != nil {
			return out, false
		}
		out.maxDiscount = &conv.Amount
	}
	return out, true
}
