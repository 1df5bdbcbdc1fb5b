package trading

import (
	"errors"
	"testing"

	"spotpilot/internal/gateway/exchange"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ethRules() exchange.TradingRules {
	return exchange.TradingRules{
		Symbol:            "ETHUSDT",
		StepSize:          d("0.0001"),
		TickSize:          d("0.01"),
		QuantityPrecision: 4,
		PricePrecision:    2,
		MinQuantity:       d("0.0001"),
		MinNotional:       d("10"),
	}
}

func TestNormalizeQuantityTruncates(t *testing.T) {
	got, err := NormalizeQuantity(d("0.051282051"), ethRules())
	require.NoError(t, err)
	assert.Equal(t, "0.0512", got.String())

	got, err = NormalizeQuantity(d("0.99999"), ethRules())
	require.NoError(t, err)
	assert.Equal(t, "0.9999", got.String())
}

func TestNormalizeQuantityIsIdempotent(t *testing.T) {
	rules := ethRules()
	inputs := []string{"0.0001", "0.00019", "1.23456789", "3", "0.051282051", "12345.678901"}
	for _, in := range inputs {
		once, err := NormalizeQuantity(d(in), rules)
		require.NoError(t, err, in)
		twice, err := NormalizeQuantity(once, rules)
		require.NoError(t, err, in)
		assert.True(t, once.Equal(twice), in)
	}
}

func TestNormalizeQuantityBelowMinimum(t *testing.T) {
	rules := ethRules()
	rules.MinQuantity = d("0.01")
	for _, in := range []string{"0.00999", "0.0099999", "0", "-1"} {
		got, err := NormalizeQuantity(d(in), rules)
		assert.ErrorIs(t, err, ErrBelowMinimum, in)
		assert.True(t, got.IsZero(), in)
		var bm *BelowMinimumError
		require.True(t, errors.As(err, &bm), in)
		assert.Equal(t, "quantity", bm.Field)
	}
	got, err := NormalizeQuantity(d("0.01"), rules)
	require.NoError(t, err)
	assert.Equal(t, "0.01", got.String())
}

func TestNormalizeQuantityNonDecimalStep(t *testing.T) {
	rules := exchange.TradingRules{StepSize: d("0.05"), QuantityPrecision: 2, MinQuantity: d("0.05")}
	got, err := NormalizeQuantity(d("1.23"), rules)
	require.NoError(t, err)
	assert.Equal(t, "1.2", got.String())
}

func TestNormalizePrice(t *testing.T) {
	assert.Equal(t, "1989.99", NormalizePrice(d("1989.999"), ethRules()).String())
	assert.Equal(t, "1890.5", NormalizePrice(d("1890.5"), ethRules()).String())
}

func TestNormalizeQuoteAmount(t *testing.T) {
	got, err := NormalizeQuoteAmount(d("100.129"), ethRules())
	require.NoError(t, err)
	assert.Equal(t, "100.12", got.String())

	_, err = NormalizeQuoteAmount(d("9.999"), ethRules())
	assert.ErrorIs(t, err, ErrBelowMinimum)
}

func TestCheckNotional(t *testing.T) {
	assert.NoError(t, CheckNotional(d("0.01"), d("1950"), ethRules()))
	assert.ErrorIs(t, CheckNotional(d("0.005"), d("1950"), ethRules()), ErrBelowMinimum)
}
