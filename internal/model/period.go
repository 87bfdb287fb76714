package model

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Period identifies one company-quarter. Year is the fiscal year the
// quarter belongs to, named by its ending calendar year (Q4 FY2025 ends
// March 2025).
type Period struct {
	Company string `json:"company" yaml:"company" validate:"required"`
	Quarter string `json:"quarter" yaml:"quarter" validate:"required,oneof=Q1 Q2 Q3 Q4"`
	Year    int    `json:"year" yaml:"year" validate:"required,gte=2000,lte=2100"`
}

// ParseQuarter normalizes "q3", "Q3" or "3" to "Q3".
func ParseQuarter(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "Q")
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > 4 {
		return "", eris.Errorf("model: invalid quarter %q", s)
	}
	return fmt.Sprintf("Q%d", n), nil
}

// Number returns the quarter as 1-4, or 0 when unset.
func (p Period) Number() int {
	q, err := ParseQuarter(p.Quarter)
	if err != nil {
		return 0
	}
	return int(q[1] - '0')
}

// Validate checks that the period names a company and a real quarter.
func (p Period) Validate() error {
	if strings.TrimSpace(p.Company) == "" {
		return eris.New("model: period company is empty")
	}
	if p.Number() == 0 {
		return eris.Errorf("model: invalid quarter %q", p.Quarter)
	}
	if p.Year < 2000 || p.Year > 2100 {
		return eris.Errorf("model: invalid year %d", p.Year)
	}
	return nil
}

// Prior returns the previous fiscal quarter of the same company.
func (p Period) Prior() Period {
	n := p.Number()
	if n <= 1 {
		return Period{Company: p.Company, Quarter: "Q4", Year: p.Year - 1}
	}
	return Period{Company: p.Company, Quarter: fmt.Sprintf("Q%d", n-1), Year: p.Year}
}

// FiscalLabel renders the fiscal year, "FY2024-25" from 2025 on and
// "FY2024" before.
func (p Period) FiscalLabel() string {
	if p.Year >= 2025 {
		return fmt.Sprintf("FY%d-%02d", p.Year-1, p.Year%100)
	}
	return fmt.Sprintf("FY%d", p.Year)
}

// QuarterEndMonth returns the month the quarter closes in.
func (p Period) QuarterEndMonth() string {
	switch p.Number() {
	case 1:
		return "June"
	case 2:
		return "September"
	case 3:
		return "December"
	case 4:
		return "March"
	}
	return ""
}

// QuarterEndYear returns the calendar year the quarter closes in.
func (p Period) QuarterEndYear() int {
	if p.Number() == 4 {
		return p.Year
	}
	return p.Year - 1
}

// Key is a stable identifier for logs and cache keys.
func (p Period) Key() string {
	return fmt.Sprintf("%s/%s/%d", p.Company, p.Quarter, p.Year)
}

func (p Period) String() string {
	return fmt.Sprintf("%s %s %s", p.Company, p.Quarter, p.FiscalLabel())
}
