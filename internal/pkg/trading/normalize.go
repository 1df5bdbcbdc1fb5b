// Package trading converts raw amounts into exchange-legal quantities and prices.
package trading

import (
	"errors"
	"fmt"

	"spotpilot/internal/gateway/exchange"

	"github.com/shopspring/decimal"
)

// ErrBelowMinimum is a recoverable validation failure: the amount cannot be
// traded under the symbol's lot size or notional filters.
var ErrBelowMinimum = errors.New("amount below exchange minimum")

// BelowMinimumError carries the numbers behind ErrBelowMinimum.
type BelowMinimumError struct {
	Field    string
	Raw      decimal.Decimal
	Adjusted decimal.Decimal
	Minimum  decimal.Decimal
}

func (e *BelowMinimumError) Error() string {
	return fmt.Sprintf("%s %s (truncated %s) below minimum %s",
		e.Field, e.Raw.String(), e.Adjusted.String(), e.Minimum.String())
}

func (e *BelowMinimumError) Unwrap() error { return ErrBelowMinimum }

// NormalizeQuantity truncates raw to the quantity precision (and step) and
// rejects results below minQuantity. It is idempotent.
func NormalizeQuantity(raw decimal.Decimal, rules exchange.TradingRules) (decimal.Decimal, error) {
	adjusted := truncateToStep(raw, rules.QuantityPrecision, rules.StepSize)
	if !adjusted.IsPositive() || adjusted.LessThan(rules.MinQuantity) {
		return decimal.Zero, &BelowMinimumError{
			Field:    "quantity",
			Raw:      raw,
			Adjusted: adjusted,
			Minimum:  rules.MinQuantity,
		}
	}
	return adjusted, nil
}

// NormalizePrice truncates raw to the price precision (and tick). It never rounds up.
func NormalizePrice(raw decimal.Decimal, rules exchange.TradingRules) decimal.Decimal {
	return truncateToStep(raw, rules.PricePrecision, rules.TickSize)
}

// NormalizeQuoteAmount truncates a quote-denominated notional to the price
// precision and checks it against minNotional.
func NormalizeQuoteAmount(raw decimal.Decimal, rules exchange.TradingRules) (decimal.Decimal, error) {
	adjusted := raw.Truncate(rules.PricePrecision)
	if !adjusted.IsPositive() || adjusted.LessThan(rules.MinNotional) {
		return decimal.Zero, &BelowMinimumError{
			Field:    "notional",
			Raw:      raw,
			Adjusted: adjusted,
			Minimum:  rules.MinNotional,
		}
	}
	return adjusted, nil
}

// CheckNotional rejects orders whose price x quantity is below minNotional.
func CheckNotional(quantity, price decimal.Decimal, rules exchange.TradingRules) error {
	notional := quantity.Mul(price)
	if notional.LessThan(rules.MinNotional) {
		return &BelowMinimumError{
			Field:    "notional",
			Raw:      notional,
			Adjusted: notional,
			Minimum:  rules.MinNotional,
		}
	}
	return nil
}

// truncateToStep truncates to precision places, then down to a multiple of
// step when the step is not a power of ten (e.g. 0.05).
func truncateToStep(raw decimal.Decimal, precision int32, step decimal.Decimal) decimal.Decimal {
	if precision < 0 {
		precision = 0
	}
	out := raw.Truncate(precision)
	if step.IsPositive() {
		if rem := out.Mod(step); !rem.IsZero() {
			out = out.Sub(rem).Truncate(precision)
		}
	}
	return out
}
