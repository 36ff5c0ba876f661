// Package money holds the minor-unit amount and calendar helpers shared by
// the schedule builder and the reconciliation engine. Amounts are plain
// int64 minor currency units; decimal is only used at the display edge.
package money

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// minorDigits maps ISO 4217 codes to their minor-unit exponent where it is
// not the usual 2.
var minorDigits = map[string]int32{
	"BHD": 3,
	"IQD": 3,
	"JOD": 3,
	"KWD": 3,
	"OMR": 3,
	"TND": 3,
	"ISK": 0,
	"JPY": 0,
	"KRW": 0,
	"VND": 0,
}

// SplitAcrossTerms divides principal into terms integer parts. Every part is
// floor(principal/terms) except the last, which absorbs the rounding
// remainder so the parts always sum to principal exactly.
func SplitAcrossTerms(principal int64, terms int) []int64 {
	base := principal / int64(terms)
	parts := make([]int64, terms)
	for i := 0; i < terms-1; i++ {
		parts[i] = base
	}
	parts[terms-1] = principal - base*int64(terms-1)
	return parts
}

// DateOnly normalizes t to UTC midnight. Due-date matching is calendar
// equality, so every date entering the system goes through here.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MonthsAfter returns the date n calendar months after t, normalized to UTC
// midnight.
func MonthsAfter(t time.Time, n int) time.Time {
	return DateOnly(t).AddDate(0, n, 0)
}

// SameDate reports whether a and b fall on the same calendar day in UTC.
func SameDate(a, b time.Time) bool {
	return DateOnly(a).Equal(DateOnly(b))
}

// Format renders a minor-unit amount as a decimal string in the currency's
// major unit, e.g. Format(123450, "USD") == "1234.50".
func Format(amount int64, currencyCode string) string {
	digits, ok := minorDigits[strings.ToUpper(currencyCode)]
	if !ok {
		digits = 2
	}
	return decimal.New(amount, -digits).StringFixed(digits)
}
