// Package money converts locale-formatted monetary input into integer
// cents. The grammar is fixed to the Brazilian convention: every period
// is a thousands separator and the last comma is the decimal separator.
// Input using a period as the decimal point is misread by design; the
// only supported input channel is pt-BR.
package money

import (
	"math"
	"strconv"
	"strings"
)

// Parse converts a monetary string into integer cents. The second
// return value reports whether the input was parseable; callers that
// want the legacy treat-garbage-as-zero behavior can ignore it.
//
//	"10.000,50"  -> 1000050
//	"1.500.000"  -> 150000000
//	"10,5"       -> 1050
//	"R$ 250"     -> 25000
func Parse(value string) (int64, bool) {
	cleaned := stripNonNumeric(value)
	if cleaned == "" {
		return 0, false
	}

	// Periods are always thousands separators; the last comma is the
	// decimal separator.
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	if i := strings.LastIndex(cleaned, ","); i >= 0 {
		cleaned = strings.ReplaceAll(cleaned[:i], ",", "") + "." + cleaned[i+1:]
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return FromFloat(f), true
}

// FromFloat converts a value in whole currency units (reais) to cents,
// rounding to the nearest cent. Used for numeric spreadsheet cells.
func FromFloat(v float64) int64 {
	return int64(math.Round(v * 100))
}

// FormatCents renders cents for display, comma-decimal with two digits:
// 150027 -> "1500,27". No thousands grouping; grouping caused ambiguity
// with re-parsed input in the original form fields.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return sign + strconv.FormatInt(cents/100, 10) + "," + pad2(cents%100)
}

func pad2(n int64) string {
	if n < 10 {
		return "0" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}

// stripNonNumeric drops currency symbols, spaces and anything that is
// not a digit, period or comma. A lone minus before the first digit is
// preserved.
func stripNonNumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	seenDigit := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			seenDigit = true
			b.WriteRune(r)
		case r == '.' || r == ',':
			b.WriteRune(r)
		case r == '-' && !seenDigit && b.Len() == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
