package pipeline

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/finresearch-cli/internal/model"
)

var acronyms = map[string]string{
	"ebitda": "EBITDA",
	"ebit":   "EBIT",
	"pbt":    "PBT",
	"pat":    "PAT",
	"eps":    "EPS",
	"op":     "Op.",
	"pct":    "%",
}

// DisplayName renders an indicator name for people: "op_ebitda_pct"
// becomes "Op. EBITDA %".
func DisplayName(name model.IndicatorName) string {
	title := cases.Title(language.English)
	words := strings.Split(string(name), "_")
	for i, w := range words {
		if a, ok := acronyms[w]; ok {
			words[i] = a
			continue
		}
		words[i] = title.String(w)
	}
	return strings.Join(words, " ")
}

func formatValue(ind model.Indicator) string {
	switch model.KindOf(ind.Name) {
	case model.KindPercent:
		return fmt.Sprintf("%.2f%%", ind.Value)
	case model.KindPerShare:
		return fmt.Sprintf("₹ %.2f", ind.Value)
	default:
		return fmt.Sprintf("₹ %.2f Cr", ind.Value)
	}
}

// FormatReport renders a result as a markdown report.
func FormatReport(res *model.Result) string {
	var b strings.Builder
	rec := res.Record

	fmt.Fprintf(&b, "# %s %s %s\n", rec.Company, rec.Quarter, rec.FiscalLabel())
	fmt.Fprintf(&b, "Quarter ending %s %d\n\n", rec.QuarterEndMonth(), rec.QuarterEndYear())

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- Source: %s\n", rec.Source)
	fmt.Fprintf(&b, "- Completeness: %.0f%% (%d indicators)\n", rec.Completeness*100, len(rec.Indicators))
	if res.Report != nil {
		fmt.Fprintf(&b, "- Validation: %s (%d errors, %d warnings)\n",
			res.Report.Status, len(res.Report.Errors), len(res.Report.Warnings))
	}
	b.WriteString("\n")

	b.WriteString("## Indicators\n")
	if len(rec.Indicators) == 0 {
		b.WriteString("No indicators found.\n\n")
	} else {
		b.WriteString("| Indicator | Value | Confidence | Source |\n|---|---|---|---|\n")
		for _, name := range rec.Names() {
			ind := rec.Indicators[name]
			src := string(ind.Source)
			if prov, ok := res.Provenance[name]; ok && prov.Source != "" {
				src = prov.Source
			}
			fmt.Fprintf(&b, "| %s | %s | %.0f%% | %s |\n", DisplayName(name), formatValue(ind), ind.Confidence*100, src)
		}
		b.WriteString("\n")
	}

	if res.Report != nil && len(res.Report.Errors)+len(res.Report.Warnings) > 0 {
		b.WriteString("## Validation\n")
		for _, e := range res.Report.Errors {
			fmt.Fprintf(&b, "- ERROR %s: %s\n", e.Rule, e.Message)
		}
		for _, w := range res.Report.Warnings {
			fmt.Fprintf(&b, "- WARN %s: %s\n", w.Rule, w.Message)
		}
	}
	return b.String()
}
