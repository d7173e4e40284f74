package fx_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/currency"

	"github.com/noah-isme/promo-core/internal/fx"
	"github.com/noah-isme/promo-core/internal/money"
)

func TestConvertIdentityExact(t *testing.T) {
	m := money.New(decimal.RequireFromString("100.005"), currency.USD)
	got, err := fx.Convert(m, currency.USD, fx.RateTable{})
	require.NoError(t, err)
	// No rounding pass on identity conversion.
	require.True(t, got.Amount.Equal(m.Amount))
	require.Equal(t, currency.USD, got.Currency)
}

func TestConvertDirectRate(t *testing.T) {
	rates := fx.RateTable{
		{From: currency.USD, To: currency.EUR}: decimal.RequireFromString("0.92"),
	}
	got, err := fx.Convert(money.New(decimal.NewFromInt(100), currency.USD), currency.EUR, rates)
	require.NoError(t, err)
	require.Equal(t, "92", got.Amount.String())
}

func TestConvertInverseFallback(t *testing.T) {
	rates := fx.RateTable{
		{From: currency.EUR, To: currency.USD}: decimal.RequireFromString("1.25"),
	}
	got, err := fx.Convert(money.New(decimal.NewFromInt(100), currency.USD), currency.EUR, rates)
	require.NoError(t, err)
	require.Equal(t, "80", got.Amount.String())
}

func TestConvertMissingRate(t *testing.T) {
	_, err := fx.Convert(money.New(decimal.NewFromInt(5), currency.USD), currency.GBP, fx.RateTable{})
	require.ErrorIs(t, err, fx.ErrMissingRate)
}

func TestConvertSingleTerminalRounding(t *testing.T) {
	rates := fx.RateTable{
		{From: currency.USD, To: currency.EUR}: decimal.RequireFromString("0.333333"),
	}
	got, err := fx.Convert(money.New(decimal.RequireFromString("10.01"), currency.USD), currency.EUR, rates)
	require.NoError(t, err)
	// 10.01 * 0.333333 = 3.33666... rounded once half-to-even.
	require.Equal(t, "3.34", got.Amount.StringFixed(2))
}

func TestRoundTripWithinOneMinorUnit(t *testing.T) {
	rates := fx.RateTable{
		{From: currency.USD, To: currency.EUR}: decimal.RequireFromString("0.92"),
	}
	eur, err := fx.Convert(money.New(decimal.NewFromInt(100), currency.USD), currency.EUR, rates)
	require.NoError(t, err)
	back, err := fx.Convert(eur, currency.USD, rates)
	require.NoError(t, err)
	diff := back.Amount.Sub(decimal.NewFromInt(100)).Abs()
	require.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.01")),
		"round trip drifted by %s", diff)
}

func TestParsePair(t *testing.T) {
	p, err := fx.ParsePair("USD/EUR")
	require.NoError(t, err)
	require.Equal(t, currency.USD, p.From)
	require.Equal(t, currency.EUR, p.To)

	_, err = fx.ParsePair("USDEUR")
	require.Error(t, err)
}
