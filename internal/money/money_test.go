package money_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"

	"github.com/noah-isme/promo-core/internal/money"
)

func TestScale(t *testing.T) {
	require.EqualValues(t, 2, money.Scale(currency.USD))
	require.EqualValues(t, 0, money.Scale(currency.JPY))
}

func TestRoundHalfToEven(t *testing.T) {
	m := money.New(decimal.RequireFromString("10.125"), currency.USD)
	require.Equal(t, "10.12", m.Round().Amount.String())

	m = money.New(decimal.RequireFromString("10.135"), currency.USD)
	require.Equal(t, "10.14", m.Round().Amount.String())
}

func TestMinorUnits(t *testing.T) {
	m := money.New(decimal.RequireFromString("12.34"), currency.USD)
	require.EqualValues(t, 1234, m.MinorUnits())

	require.Equal(t, "12.34", money.FromMinorUnits(1234, currency.USD).Amount.String())
}

func TestAddCurrencyMismatch(t *testing.T) {
	usd := money.New(decimal.NewFromInt(1), currency.USD)
	eur := money.New(decimal.NewFromInt(1), currency.EUR)
	_, err := usd.Add(eur)
	require.Error(t, err)
}

func TestAllocateSumsExactly(t *testing.T) {
	tests := []struct {
		name    string
		total   int64
		weights []int64
		caps    []int64
		want    []int64
	}{
		{
			name:    "even split",
			total:   100,
			weights: []int64{1, 1},
			caps:    []int64{100, 100},
			want:    []int64{50, 50},
		},
		{
			name:    "remainder to largest fraction",
			total:   100,
			weights: []int64{1, 1, 1},
			caps:    []int64{100, 100, 100},
			want:    []int64{34, 33, 33},
		},
		{
			name:    "proportional",
			total:   1000,
			weights: []int64{7500, 2500},
			caps:    []int64{7500, 2500},
			want:    []int64{750, 250},
		},
		{
			name:    "cap forces spill",
			total:   100,
			weights: []int64{90, 10},
			caps:    []int64{50, 100},
			want:    []int64{50, 50},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := money.Allocate(tc.total, tc.weights, tc.caps)
			require.Equal(t, tc.want, got)
			var sum int64
			for _, v := range got {
				sum += v
			}
			require.Equal(t, tc.total, sum)
		})
	}
}

func TestAllocateZeroWeights(t *testing.T) {
	got := money.Allocate(100, []int64{0, 0}, []int64{10, 10})
	require.Equal(t, []int64{0, 0}, got)
}
