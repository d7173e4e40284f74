package promo

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reason explains why a rule was excluded from a pricing pass. The empty
// reason means eligible. Reasons are surfaced for observability and tests;
// they never abort a pass.
type Reason string

const (
	ReasonEligible             Reason = ""
	ReasonInactive             Reason = "inactive"
	ReasonOutOfWindow          Reason = "out_of_window"
	ReasonCodeRequired         Reason = "code_required"
	ReasonBelowMinimum         Reason = "below_minimum"
	ReasonBelowMinQuantity     Reason = "below_min_quantity"
	ReasonGlobalLimitReached   Reason = "global_limit_reached"
	ReasonCustomerLimitReached Reason = "customer_limit_reached"
	// ReasonNoMatchingLines marks rules whose scope touches none of the cart.
	ReasonNoMatchingLines Reason = "no_matching_lines"
	// ReasonRateUnavailable marks rules whose thresholds or value could not
	// be converted into the pass currency. The rule is skipped; only line
	// conversion failures abort a pass.
	ReasonRateUnavailable Reason = "rate_unavailable"
	// ReasonDataInvalid marks rules that failed boundary validation.
	ReasonDataInvalid Reason = "rule_data_invalid"
)

// EvalInput carries the per-pass facts eligibility depends on. Monetary
// thresholds are already converted into the pass currency by the caller.
type EvalInput struct {
	Now              time.Time
	Coupons          []Coupon
	MatchingSubtotal decimal.Decimal
	MatchingQuantity int
	// MinPurchase is the rule's minimum purchase converted to the pass
	// currency; nil when the rule has none.
	MinPurchase *decimal.Decimal
}

// Evaluate decides whether the rule is currently usable. Checks short-circuit
// cheapest-first; the first failing check's reason is returned. Evaluation is
// total: any well-formed rule yields a reason, never an error.
func Evaluate(r Rule, in EvalInput) Reason {
	if !r.Active {
		return ReasonInactive
	}
	if !r.StartAt.IsZero() && in.Now.Before(r.StartAt) {
		return ReasonOutOfWindow
	}
	if r.EndAt != nil && in.Now.After(*r.EndAt) {
		return ReasonOutOfWindow
	}
	if r.RequiresCoupon && !couponPresented(r, in.Coupons) {
		return ReasonCodeRequired
	}
	if in.MinPurchase != nil && in.MatchingSubtotal.LessThan(*in.MinPurchase) {
		return ReasonBelowMinimum
	}
	if r.MinQuantity != nil && in.MatchingQuantity < *r.MinQuantity {
		return ReasonBelowMinQuantity
	}
	if r.UsageLimitGlobal != nil && r.UsedGlobal >= *r.UsageLimitGlobal {
		return ReasonGlobalLimitReached
	}
	if r.UsageLimitPerCustomer != nil && r.UsedByCustomer >= *r.UsageLimitPerCustomer {
		return ReasonCustomerLimitReached
	}
	return ReasonEligible
}

func couponPresented(r Rule, coupons []Coupon) bool {
	for _, c := range coupons {
		if c.Active && c.RuleID == r.ID {
			return true
		}
	}
	return false
}
