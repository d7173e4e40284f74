package promo_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-core/internal/promo"
)

func intPtr(v int) *int { return &v }

func decPtr(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func activeRule() promo.Rule {
	return promo.Rule{
		ID:        uuid.New(),
		Scope:     promo.ScopeStoreWide,
		ValueType: promo.ValuePercentage,
		Value:     decimal.NewFromInt(10),
		Active:    true,
	}
}

func TestEvaluateInactive(t *testing.T) {
	r := activeRule()
	r.Active = false
	got := promo.Evaluate(r, promo.EvalInput{Now: time.Now()})
	require.Equal(t, promo.ReasonInactive, got)
}

func TestEvaluateWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	r := activeRule()
	r.StartAt = now.Add(time.Hour)
	require.Equal(t, promo.ReasonOutOfWindow, promo.Evaluate(r, promo.EvalInput{Now: now}))

	r = activeRule()
	end := now.Add(-time.Hour)
	r.EndAt = &end
	require.Equal(t, promo.ReasonOutOfWindow, promo.Evaluate(r, promo.EvalInput{Now: now}))

	// No end date means open-ended.
	r = activeRule()
	r.StartAt = now.Add(-time.Hour)
	require.Equal(t, promo.ReasonEligible, promo.Evaluate(r, promo.EvalInput{Now: now}))
}

func TestEvaluateCouponRequired(t *testing.T) {
	r := activeRule()
	r.RequiresCoupon = true
	in := promo.EvalInput{Now: time.Now()}
	require.Equal(t, promo.ReasonCodeRequired, promo.Evaluate(r, in))

	// Coupon for another rule does not satisfy the requirement.
	in.Coupons = []promo.Coupon{{Code: "X", RuleID: uuid.New(), Active: true}}
	require.Equal(t, promo.ReasonCodeRequired, promo.Evaluate(r, in))

	// Inactive coupon does not either.
	in.Coupons = []promo.Coupon{{Code: "X", RuleID: r.ID, Active: false}}
	require.Equal(t, promo.ReasonCodeRequired, promo.Evaluate(r, in))

	in.Coupons = []promo.Coupon{{Code: "X", RuleID: r.ID, Active: true}}
	require.Equal(t, promo.ReasonEligible, promo.Evaluate(r, in))
}

func TestEvaluateMinPurchase(t *testing.T) {
	r := activeRule()
	in := promo.EvalInput{
		Now:              time.Now(),
		MatchingSubtotal: decimal.NewFromInt(40),
		MinPurchase:      decPtr("50"),
	}
	require.Equal(t, promo.ReasonBelowMinimum, promo.Evaluate(r, in))

	in.MatchingSubtotal = decimal.NewFromInt(50)
	require.Equal(t, promo.ReasonEligible, promo.Evaluate(r, in))
}

func TestEvaluateMinQuantity(t *testing.T) {
	r := activeRule()
	r.MinQuantity = intPtr(3)
	in := promo.EvalInput{Now: time.Now(), MatchingQuantity: 2}
	require.Equal(t, promo.ReasonBelowMinQuantity, promo.Evaluate(r, in))

	in.MatchingQuantity = 3
	require.Equal(t, promo.ReasonEligible, promo.Evaluate(r, in))
}

func TestEvaluateGlobalLimit(t *testing.T) {
	r := activeRule()
	r.UsageLimitGlobal = intPtr(1)
	r.UsedGlobal = 1
	require.Equal(t, promo.ReasonGlobalLimitReached, promo.Evaluate(r, promo.EvalInput{Now: time.Now()}))

	r.UsedGlobal = 0
	require.Equal(t, promo.ReasonEligible, promo.Evaluate(r, promo.EvalInput{Now: time.Now()}))
}

func TestEvaluateCustomerLimit(t *testing.T) {
	r := activeRule()
	r.UsageLimitPerCustomer = intPtr(2)
	r.UsedByCustomer = 2
	require.Equal(t, promo.ReasonCustomerLimitReached, promo.Evaluate(r, promo.EvalInput{Now: time.Now()}))
}

func TestEvaluateShortCircuitOrder(t *testing.T) {
	// An inactive rule with every other check failing reports inactive first.
	r := activeRule()
	r.Active = false
	r.RequiresCoupon = true
	r.UsageLimitGlobal = intPtr(0)
	in := promo.EvalInput{Now: time.Now(), MinPurchase: decPtr("1000")}
	require.Equal(t, promo.ReasonInactive, promo.Evaluate(r, in))
}

func TestRuleValidate(t *testing.T) {
	r := activeRule()
	require.NoError(t, r.Validate())

	r.Value = decimal.NewFromInt(101)
	require.ErrorIs(t, r.Validate(), promo.ErrRuleDataInvalid)

	r.Value = decimal.Zero
	require.ErrorIs(t, r.Validate(), promo.ErrRuleDataInvalid)

	fixed := activeRule()
	fixed.ValueType = promo.ValueFixedAmount
	fixed.Value = decimal.NewFromInt(5)
	// Fixed amount without a currency is malformed.
	require.ErrorIs(t, fixed.Validate(), promo.ErrRuleDataInvalid)
}
