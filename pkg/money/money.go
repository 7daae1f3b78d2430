// Package money holds decimal helpers for prices and balances.
package money

import (
	"github.com/shopspring/decimal"
)

// DefaultPrecision is the fractional digits kept for quote balances.
const DefaultPrecision int32 = 8

// PriceFloor is the lowest price an instrument may carry.
var PriceFloor = decimal.New(1, -6)

var hundred = decimal.NewFromInt(100)

// Round applies banker's rounding at places fractional digits.
func Round(d decimal.Decimal, places int32) decimal.Decimal {
	if places < 0 {
		places = DefaultPrecision
	}
	return d.RoundBank(places)
}

// ClampPrice raises p to PriceFloor when below it.
func ClampPrice(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(PriceFloor) {
		return PriceFloor
	}
	return p
}

// Percent returns d × pct / 100.
func Percent(d decimal.Decimal, pct float64) decimal.Decimal {
	return d.Mul(decimal.NewFromFloat(pct)).Div(hundred)
}

// Grow returns d × (1 + pct/100).
func Grow(d decimal.Decimal, pct float64) decimal.Decimal {
	return d.Add(Percent(d, pct))
}

// ChangePct returns (next − prev) / prev × 100, zero when prev is zero.
func ChangePct(prev, next decimal.Decimal) float64 {
	if prev.IsZero() {
		return 0
	}
	f, _ := next.Sub(prev).Div(prev).Mul(hundred).Float64()
	return f
}

// Float converts for telemetry and percent math only.
func Float(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// Parse reads a decimal string, rejecting empty input.
func Parse(s string) (decimal.Decimal, error) {
	return decimal.NewFromString(s)
}
