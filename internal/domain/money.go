package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyPlaces is the number of decimal places every derived amount is rounded to.
const MoneyPlaces int32 = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// RoundMoneyDown truncates toward zero at MoneyPlaces. Used when scaling
// amounts under a ceiling so the rounded sum cannot exceed it.
func RoundMoneyDown(d decimal.Decimal) decimal.Decimal {
	return d.RoundDown(MoneyPlaces)
}

// ClampMoney bounds d to [0, ceiling].
func ClampMoney(d, ceiling decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(ceiling) {
		return ceiling
	}
	return d
}

// ParseMoney parses a non-negative decimal amount such as "19.99".
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("parse amount %q: must not be negative", s)
	}
	return d, nil
}
