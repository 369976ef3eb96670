// Package money holds the currency arithmetic shared by the ledger and the reports.
package money

import "github.com/shopspring/decimal"

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Rate converts a percentage into a fraction (5 -> 0.05).
func Rate(percent decimal.Decimal) decimal.Decimal {
	return percent.Div(hundred)
}

// Growth returns 1 + percent/100.
func Growth(percent decimal.Decimal) decimal.Decimal {
	return one.Add(Rate(percent))
}

// NonNegative clamps negative values to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
