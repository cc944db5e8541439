// Package period handles the "MONTH - YEAR" labels that bucket records
// for aggregation. The label vocabulary is inconsistent by office
// convention: most months circulate as 3-letter abbreviations but
// August and September are written in full, and historical imports
// contain both spellings. Lookups therefore try both forms.
package period

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var fullMonths = []string{
	"JANEIRO", "FEVEREIRO", "MARÇO", "ABRIL", "MAIO", "JUNHO",
	"JULHO", "AGOSTO", "SETEMBRO", "OUTUBRO", "NOVEMBRO", "DEZEMBRO",
}

var shortMonths = []string{
	"JAN", "FEV", "MAR", "ABR", "MAI", "JUN",
	"JUL", "AGO", "SET", "OUT", "NOV", "DEZ",
}

var labelPattern = regexp.MustCompile(`^([\p{L}]+) - (\d{4})$`)

// MonthIndex resolves a month name, full or abbreviated, to its
// zero-based index. The name must already be uppercase.
func MonthIndex(name string) (int, bool) {
	for i, m := range fullMonths {
		if m == name {
			return i, true
		}
	}
	for i, m := range shortMonths {
		if m == name {
			return i, true
		}
	}
	return 0, false
}

// ParseLabel splits a "MONTH - YYYY" label into month index and year.
func ParseLabel(label string) (month int, year int, ok bool) {
	m := labelPattern.FindStringSubmatch(label)
	if m == nil {
		return 0, 0, false
	}
	month, ok = MonthIndex(m[1])
	if !ok {
		return 0, 0, false
	}
	year, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	return month, year, true
}

// FullLabel and ShortLabel render both spellings for a month/year pair.
func FullLabel(month, year int) string {
	return fmt.Sprintf("%s - %d", fullMonths[month], year)
}

func ShortLabel(month, year int) string {
	return fmt.Sprintf("%s - %d", shortMonths[month], year)
}

// Previous derives the immediately preceding period of a label and
// returns it under both spellings, full first. Month zero rolls back
// to December of the prior year.
func Previous(label string) (full string, short string, ok bool) {
	month, year, ok := ParseLabel(label)
	if !ok {
		return "", "", false
	}
	month--
	if month < 0 {
		month = 11
		year--
	}
	return FullLabel(month, year), ShortLabel(month, year), true
}

// DisplayMonth maps a label's month to the mixed-case chart form
// ("Ago", "Set"). Unknown months fall through unchanged.
var displayMonths = []string{
	"Jan", "Fev", "Mar", "Abr", "Mai", "Jun",
	"Jul", "Ago", "Set", "Out", "Nov", "Dez",
}

func DisplayMonth(label string) string {
	month, _, ok := ParseLabel(label)
	if !ok {
		return label
	}
	return displayMonths[month]
}

// Compare orders two labels chronologically: by year, then month.
// Unparseable labels sort as equal, preserving input order.
func Compare(a, b string) int {
	ma, ya, oka := ParseLabel(a)
	mb, yb, okb := ParseLabel(b)
	if !oka || !okb {
		return 0
	}
	if ya != yb {
		return ya - yb
	}
	return ma - mb
}

// Filename patterns a period label is extracted from, tried in order:
// "AGOSTO - 2025", "agosto_2025", "08-2025", "2025-08". Named patterns
// capture (month, year); numeric ones are flagged so the year-first
// form can be swapped.
var fileNamePatterns = []struct {
	re        *regexp.Regexp
	numeric   bool
	yearFirst bool
}{
	{re: regexp.MustCompile(`(?i)([\p{L}]+)\s*-\s*(\d{4})`)},
	{re: regexp.MustCompile(`(?i)([\p{L}]+)_(\d{4})`)},
	{re: regexp.MustCompile(`(\d{1,2})-(\d{4})`), numeric: true},
	{re: regexp.MustCompile(`(\d{4})-(\d{1,2})`), numeric: true, yearFirst: true},
}

// FromFileName derives a canonical "MONTH - YYYY" label from a file or
// sheet name. The month spelling found in the name is kept as long as
// it is in the vocabulary. Returns false when no pattern applies; the
// import then proceeds without a file-level period.
func FromFileName(name string) (string, bool) {
	for _, p := range fileNamePatterns {
		m := p.re.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		monthPart, yearPart := m[1], m[2]
		if p.yearFirst {
			monthPart, yearPart = yearPart, monthPart
		}
		if p.numeric {
			n, err := strconv.Atoi(monthPart)
			if err != nil || n < 1 || n > 12 {
				continue
			}
			year, err := strconv.Atoi(yearPart)
			if err != nil {
				continue
			}
			return FullLabel(n-1, year), true
		}
		monthName := strings.ToUpper(monthPart)
		if _, ok := MonthIndex(monthName); !ok {
			continue
		}
		return fmt.Sprintf("%s - %s", monthName, yearPart), true
	}
	return "", false
}
