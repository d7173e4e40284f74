package promo_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/promo-core/internal/promo"
)

func states(amounts ...string) []promo.LineState {
	out := make([]promo.LineState, len(amounts))
	for i, a := range amounts {
		out[i] = promo.LineState{LineID: string(rune('a' + i)), Remaining: decimal.RequireFromString(a)}
	}
	return out
}

func TestApplyPercentage(t *testing.T) {
	r := promo.Rule{ID: uuid.New(), ValueType: promo.ValuePercentage}
	app := promo.Apply(r, states("100.00"), decimal.NewFromInt(10), nil, 2)
	require.Equal(t, "10", app.Total.String())
	require.Len(t, app.Lines, 1)
	require.Equal(t, "10", app.Lines[0].Amount.String())
}

func TestApplyPercentageCap(t *testing.T) {
	r := promo.Rule{ID: uuid.New(), ValueType: promo.ValuePercentage}
	cap := decimal.RequireFromString("15.00")
	app := promo.Apply(r, states("100.00", "100.00"), decimal.NewFromInt(10), &cap, 2)
	// Uncapped would be 20.00; the cap binds exactly.
	require.True(t, app.Total.Equal(cap), "total %s", app.Total)
	sum := decimal.Zero
	for _, l := range app.Lines {
		sum = sum.Add(l.Amount)
	}
	require.True(t, sum.Equal(cap))
}

func TestApplyPercentageCapNotBinding(t *testing.T) {
	r := promo.Rule{ID: uuid.New(), ValueType: promo.ValuePercentage}
	cap := decimal.RequireFromString("50.00")
	app := promo.Apply(r, states("100.00"), decimal.NewFromInt(10), &cap, 2)
	require.Equal(t, "10", app.Total.String())
}

func TestApplyFixedAmount(t *testing.T) {
	r := promo.Rule{ID: uuid.New(), ValueType: promo.ValueFixedAmount}
	app := promo.Apply(r, states("100.00"), decimal.NewFromInt(5), nil, 2)
	require.Equal(t, "5", app.Total.String())
}

func TestApplyFixedAmountClampedAtSubtotal(t *testing.T) {
	r := promo.Rule{ID: uuid.New(), ValueType: promo.ValueFixedAmount}
	app := promo.Apply(r, states("3.00"), decimal.NewFromInt(5), nil, 2)
	// A discount never makes the cart negative.
	require.Equal(t, "3", app.Total.String())
}

func TestApplyFixedAmountProportionalDistribution(t *testing.T) {
	r := promo.Rule{ID: uuid.New(), ValueType: promo.ValueFixedAmount}
	app := promo.Apply(r, states("75.00", "25.00"), decimal.NewFromInt(10), nil, 2)
	require.Equal(t, "10", app.Total.String())
	require.Len(t, app.Lines, 2)
	require.Equal(t, "7.5", app.Lines[0].Amount.String())
	require.Equal(t, "2.5", app.Lines[1].Amount.String())
}

func TestApplyDistributionSumsExactly(t *testing.T) {
	r := promo.Rule{ID: uuid.New(), ValueType: promo.ValueFixedAmount}
	// 10.00 across three equal lines cannot split evenly at cent precision.
	app := promo.Apply(r, states("20.00", "20.00", "20.00"), decimal.NewFromInt(10), nil, 2)
	sum := decimal.Zero
	for _, l := range app.Lines {
		sum = sum.Add(l.Amount)
		require.True(t, l.Amount.LessThanOrEqual(decimal.NewFromInt(20)))
	}
	require.Equal(t, "10", sum.String())
}

func TestApplyNeverExceedsLineRemaining(t *testing.T) {
	r := promo.Rule{ID: uuid.New(), ValueType: promo.ValueFixedAmount}
	app := promo.Apply(r, states("1.00", "99.00"), decimal.NewFromInt(100), nil, 2)
	require.Equal(t, "100", app.Total.String())
	for _, l := range app.Lines {
		if l.LineID == "a" {
			require.True(t, l.Amount.LessThanOrEqual(decimal.RequireFromString("1.00")))
		}
	}
}

func TestApplyZeroRemaining(t *testing.T) {
	r := promo.Rule{ID: uuid.New(), ValueType: promo.ValuePercentage}
	app := promo.Apply(r, states("0.00"), decimal.NewFromInt(10), nil, 2)
	require.True(t, app.Total.IsZero())
	require.Empty(t, app.Lines)
}
