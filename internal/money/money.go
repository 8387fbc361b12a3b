// Package money centralizes amount arithmetic. Amounts are whole currency
// units carried as decimal.Decimal; every rounding decision in the system is
// made here so it stays deterministic.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// FromInt builds an amount from whole units
func FromInt(units int64) decimal.Decimal {
	return decimal.NewFromInt(units)
}

// Percentage returns floor(total * pct / 100). Flooring (never banker's or
// half-up rounding) keeps repeated splits reproducible; the lost fraction is
// reassigned by the caller's remainder rule.
func Percentage(total, pct decimal.Decimal) decimal.Decimal {
	return total.Mul(pct).Div(hundred).Floor()
}

// Sum adds the given amounts
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}

// IsPositive reports whether the amount is strictly greater than zero
func IsPositive(amount decimal.Decimal) bool {
	return amount.GreaterThan(decimal.Zero)
}
