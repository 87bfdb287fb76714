package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	monthHeaderRe   = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s*['’]?\s*(\d{4}|\d{2})\b`)
	quarterHeaderRe = regexp.MustCompile(`(?i)\bq([1-4])\s*(?:fy\s*)?['’]?(?:(\d{4})\s*[-/]\s*)?(\d{4}|\d{2})\b`)
)

var monthNumber = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

// columnPeriod is the fiscal quarter a table column reports.
type columnPeriod struct {
	Quarter int
	Year    int
}

// parseColumnPeriod reads a column header such as "Mar '25", "Dec 2024" or
// "Q3 FY25". Year is the fiscal year ending (Mar '25 is Q4 FY2025, Dec '24
// is Q3 FY2025).
func parseColumnPeriod(s string) (columnPeriod, bool) {
	if m := quarterHeaderRe.FindStringSubmatch(s); m != nil {
		q, _ := strconv.Atoi(m[1])
		return columnPeriod{Quarter: q, Year: fullYear(m[3])}, true
	}
	if m := monthHeaderRe.FindStringSubmatch(s); m != nil {
		month := monthNumber[strings.ToLower(m[1])]
		year := fullYear(m[2])
		switch {
		case month >= 4 && month <= 6:
			return columnPeriod{Quarter: 1, Year: year + 1}, true
		case month >= 7 && month <= 9:
			return columnPeriod{Quarter: 2, Year: year + 1}, true
		case month >= 10:
			return columnPeriod{Quarter: 3, Year: year + 1}, true
		default:
			return columnPeriod{Quarter: 4, Year: year}, true
		}
	}
	return columnPeriod{}, false
}

func fullYear(s string) int {
	y, _ := strconv.Atoi(s)
	if y < 100 {
		y += 2000
	}
	return y
}

// matches reports whether the column fits the hinted quarter and year. An
// unset hint matches anything.
func (c columnPeriod) matches(h Hints) bool {
	if q := h.quarterNumber(); q != 0 && q != c.Quarter {
		return false
	}
	if h.Year != 0 && h.Year != c.Year {
		return false
	}
	return true
}

func (c columnPeriod) String() string {
	return fmt.Sprintf("Q%d FY%d", c.Quarter, c.Year)
}

var ordinalQuarter = []string{"", "first quarter", "second quarter", "third quarter", "fourth quarter"}

// mentionsPeriod reports whether lower-cased text refers to the hinted
// quarter or fiscal year.
func mentionsPeriod(text string, h Hints) bool {
	if q := h.quarterNumber(); q != 0 {
		if regexp.MustCompile(fmt.Sprintf(`\bq%d(?:\b|fy)`, q)).MatchString(text) {
			return true
		}
		if strings.Contains(text, ordinalQuarter[q]) {
			return true
		}
	}
	if h.Year != 0 {
		for _, s := range []string{
			fmt.Sprintf("fy%d", h.Year),
			fmt.Sprintf("fy %d", h.Year),
			fmt.Sprintf("fy%02d", h.Year%100),
			fmt.Sprintf("fy %02d", h.Year%100),
			fmt.Sprintf("fy'%02d", h.Year%100),
			fmt.Sprintf("%d-%02d", h.Year-1, h.Year%100),
		} {
			if strings.Contains(text, s) {
				return true
			}
		}
	}
	return false
}
