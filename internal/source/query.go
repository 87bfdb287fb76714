package source

import (
	"fmt"
	"strings"

	"github.com/sells-group/finresearch-cli/internal/model"
)

const (
	systemPrompt = "You are a financial data expert. Provide precise numerical data with sources " +
		"from reliable financial databases and official filings."
	financeFocus = " Focus on financial metrics, quarterly results, and company financials from sources " +
		"like MoneyControl, Screener.in, BSE, NSE, and official company reports."
)

// DefaultQueryIndicators are the line items requested from AI sources.
var DefaultQueryIndicators = []string{
	"Total Income",
	"Purchase of Traded Goods",
	"Increase/Decrease in Stocks",
	"Employee Cost",
	"Other Expenses",
	"Depreciation",
	"Interest",
	"Other Income",
	"Tax",
	"EBITDA",
	"EBIT",
	"Profit Before Tax (PBT)",
	"Profit After Tax (PAT)",
	"EPS",
}

// QueryBuilder renders the prompts sent to AI sources.
type QueryBuilder struct {
	Indicators   []string
	FinanceFocus bool
}

// NewQueryBuilder returns a builder for the default indicator list.
func NewQueryBuilder(financeFocus bool) QueryBuilder {
	return QueryBuilder{Indicators: DefaultQueryIndicators, FinanceFocus: financeFocus}
}

// System returns the system prompt.
func (q QueryBuilder) System() string {
	if q.FinanceFocus {
		return systemPrompt + financeFocus
	}
	return systemPrompt
}

// Build returns the user prompt for p.
func (q QueryBuilder) Build(p model.Period) string {
	inds := q.Indicators
	if len(inds) == 0 {
		inds = DefaultQueryIndicators
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search for the quarterly financial data for %s for %s %s (quarter ending %s %d) from recent sources.\n\n",
		p.Company, p.Quarter, p.FiscalLabel(), p.QuarterEndMonth(), p.QuarterEndYear())
	b.WriteString("Please provide the following metrics (in INR Crores):\n")
	for _, ind := range inds {
		b.WriteString("- ")
		b.WriteString(ind)
		b.WriteByte('\n')
	}
	b.WriteString("\nSource: Use the most recent data from MoneyControl, Screener.in, BSE/NSE filings, or official company announcements.\n")
	b.WriteString("Format: Please provide exact numerical values with units.")
	return b.String()
}
