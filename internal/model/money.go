package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// CentsFromDecimal converts a major-unit amount ("-12.34") to cents. Amounts
// with more than two decimal places are rejected rather than rounded.
func CentsFromDecimal(d decimal.Decimal) (int64, error) {
	c := d.Mul(hundred)
	if !c.Equal(c.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than 2 decimal places", d)
	}
	return c.IntPart(), nil
}

// ParseCents parses a major-unit amount string into cents.
func ParseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parsing amount %q: %w", s, err)
	}
	return CentsFromDecimal(d)
}

// FormatCents renders cents as a fixed two-decimal string, e.g. -1234 -> "-12.34".
func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}
