package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Round2 rounds to whole cents, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// IsWholeCents reports whether d carries no precision below one cent.
func IsWholeCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// MustParseDecimal parses s, returning zero for malformed input.
// Only use it on values already validated or written by this package.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ParseMoney parses a monetary string for field, rejecting sub-cent values.
func ParseMoney(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a number", s)}
	}
	if !IsWholeCents(d) {
		return decimal.Zero, &ValidationError{Field: field, Reason: "must not have more than 2 decimal places"}
	}
	return d, nil
}

// Percent returns d/100, for share percentages.
func Percent(d decimal.Decimal) decimal.Decimal {
	return d.Div(hundred)
}

// SumDecimals adds all values.
func SumDecimals(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
