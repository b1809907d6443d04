// Package money converts between integer minor units and display amounts.
package money

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// zero-decimal currencies; everything else uses two minor digits
var minorDigits = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
	"CLP": 0,
	"ISK": 0,
}

func digits(currency string) int32 {
	if d, ok := minorDigits[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return d
	}
	return 2
}

// FromMinor converts minor units (cents) to a decimal amount.
func FromMinor(amount int64, currency string) decimal.Decimal {
	return decimal.NewFromInt(amount).Shift(-digits(currency))
}

// Format renders minor units as "12.50 USD".
func Format(amount int64, currency string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	value := FromMinor(amount, currency).StringFixed(digits(currency))
	if currency == "" {
		return value
	}
	return value + " " + currency
}

// ParseMinor reads a display amount such as "12.5" into minor units. Amounts with
// more precision than the currency allows are rejected.
func ParseMinor(raw, currency string) (int64, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", raw, err)
	}
	minor := amount.Shift(digits(currency))
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %q has too many decimal places for %s", raw, currency)
	}
	if minor.Abs().GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount %q is out of range", raw)
	}
	return minor.IntPart(), nil
}
