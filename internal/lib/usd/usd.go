// Package usd formats decimal amounts as US dollars.
package usd

import (
	"errors"
	"math"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

var ErrMalformed = errors.New("malformed dollar amount")

var (
	minCents = decimal.NewFromInt(math.MinInt64)
	maxCents = decimal.NewFromInt(math.MaxInt64)
)

// Format renders amount as dollars with thousands separators and two
// decimals, e.g. "$1,234.56". Sub-cent digits are rounded half away from zero.
func Format(amount decimal.Decimal) string {
	cents := amount.Shift(2).Round(0)
	if cents.LessThan(minCents) || cents.GreaterThan(maxCents) {
		return formatLarge(cents)
	}
	return money.New(cents.IntPart(), money.USD).Display()
}

// formatLarge handles amounts whose cents do not fit in an int64.
func formatLarge(cents decimal.Decimal) string {
	sign := ""
	if cents.IsNegative() {
		sign = "-"
		cents = cents.Neg()
	}

	digits := cents.String()
	whole, frac := digits[:len(digits)-2], digits[len(digits)-2:]

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}

	return sign + "$" + b.String() + "." + frac
}

// Parse reads a user supplied dollar amount such as "250", "99.95" or
// "$1,000.00". Exponent notation is rejected.
func Parse(s string) (decimal.Decimal, error) {
	clean := make([]rune, 0, len(s))
	dots := 0
	for i, r := range strings.TrimSpace(s) {
		switch {
		case r == '$' || r == ',' || r == ' ':
			continue
		case r == '-' || r == '+':
			if i != 0 {
				return decimal.Zero, ErrMalformed
			}
		case r == '.':
			dots++
			if dots > 1 {
				return decimal.Zero, ErrMalformed
			}
		case r < '0' || r > '9':
			return decimal.Zero, ErrMalformed
		}
		clean = append(clean, r)
	}
	return decimal.NewFromString(string(clean))
}
