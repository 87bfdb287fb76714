// Package validate checks a derived quarterly record for impossible or
// suspicious financial relationships.
package validate

import (
	"fmt"
	"math"

	"github.com/sells-group/finresearch-cli/internal/model"
)

// Rule names used in issues.
const (
	RuleRange       = "range"
	RuleConsistency = "consistency"
	RuleHierarchy   = "hierarchy"
	RuleTrend       = "trend"
	RuleMissing     = "missing_critical"
)

// Config holds the validator thresholds.
type Config struct {
	// Consistency tolerance: max(RelTolerance*|expected|, AbsTolerance).
	RelTolerance float64
	AbsTolerance float64

	// Percent figures outside ±MarginWarn warn; outside ±MarginError fail.
	MarginWarn  float64
	MarginError float64

	// Currency figures above these magnitudes (₹ crore) warn or fail.
	CurrencyWarnMax  float64
	CurrencyErrorMax float64

	// TrendThreshold is the quarter-over-quarter swing, in percent, that
	// warns on a TrendMetrics figure.
	TrendThreshold float64
	TrendMetrics   []model.IndicatorName

	// CriticalFields warn when absent.
	CriticalFields []model.IndicatorName
}

// DefaultConfig returns the default validator thresholds.
func DefaultConfig() Config {
	return Config{
		RelTolerance:     0.01,
		AbsTolerance:     1.0,
		MarginWarn:       100,
		MarginError:      200,
		CurrencyWarnMax:  500000,
		CurrencyErrorMax: 5000000,
		TrendThreshold:   50,
		TrendMetrics: []model.IndicatorName{
			model.TotalIncome, model.OpEBITDA, model.PBT, model.PAT,
		},
		CriticalFields: []model.IndicatorName{model.Interest, model.OtherIncome},
	}
}

// Validator runs the rule set. It holds no state beyond its configuration.
type Validator struct {
	cfg Config
}

// New creates a Validator.
func New(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate checks rec and returns a report. rec.Prior, when set, feeds the
// trend rule. Validate does not modify rec.
func (v *Validator) Validate(rec *model.QuarterlyRecord) *model.ValidationReport {
	report := &model.ValidationReport{Completeness: rec.Completeness}

	v.checkRanges(rec, report)
	v.checkConsistency(rec, report)
	v.checkHierarchy(rec, report)
	v.checkTrend(rec, report)
	v.checkCritical(rec, report)

	report.Finalize()
	return report
}

func (v *Validator) checkRanges(rec *model.QuarterlyRecord, report *model.ValidationReport) {
	for _, spec := range model.Catalog() {
		ind, ok := rec.Indicators[spec.Name]
		if !ok {
			continue
		}
		val := ind.Value
		switch {
		case spec.Role == model.RoleGrowth:
			// Growth is covered by the trend rule.
		case spec.Kind == model.KindPercent:
			switch {
			case math.Abs(val) > v.cfg.MarginError:
				report.AddError(RuleRange, spec.Name, fmt.Sprintf("%s = %.2f%% is far outside ±%.0f%%", spec.Name, val, v.cfg.MarginError))
			case math.Abs(val) > v.cfg.MarginWarn:
				report.AddWarning(RuleRange, spec.Name, fmt.Sprintf("%s = %.2f%% is outside ±%.0f%%", spec.Name, val, v.cfg.MarginWarn))
			}
		case spec.Kind == model.KindCurrency:
			switch {
			case math.Abs(val) > v.cfg.CurrencyErrorMax:
				report.AddError(RuleRange, spec.Name, fmt.Sprintf("%s = %.2f exceeds %.0f crore", spec.Name, val, v.cfg.CurrencyErrorMax))
			case math.Abs(val) > v.cfg.CurrencyWarnMax:
				report.AddWarning(RuleRange, spec.Name, fmt.Sprintf("%s = %.2f exceeds %.0f crore", spec.Name, val, v.cfg.CurrencyWarnMax))
			}
			if spec.NonNegative && val < 0 {
				report.AddWarning(RuleRange, spec.Name, fmt.Sprintf("%s = %.2f is negative", spec.Name, val))
			}
		}
	}
}

// checkConsistency recomputes every formula and margin whose inputs are
// present. Values that lost to an extracted figure are compared through
// the record's cross-checks.
func (v *Validator) checkConsistency(rec *model.QuarterlyRecord, report *model.ValidationReport) {
	for _, f := range model.Formulas() {
		stored, ok := rec.Indicators[f.Output]
		if !ok {
			continue
		}
		expected, ok := f.Evaluate(rec.Indicators)
		if !ok {
			continue
		}
		if check, ok := rec.CrossChecks[f.Output]; ok {
			expected = check
		}
		v.compare(report, f.Output, stored.Value, expected, f.String())
	}

	income, ok := rec.Indicators[model.TotalIncome]
	if !ok || income.Value == 0 {
		return
	}
	for _, spec := range model.Margins() {
		stored, ok := rec.Indicators[spec.Name]
		if !ok {
			continue
		}
		base, ok := rec.Indicators[spec.Base]
		if !ok {
			continue
		}
		v.compare(report, spec.Name, stored.Value, 100*base.Value/income.Value, "100 * "+string(spec.Base)+" / total_income")
	}
}

func (v *Validator) compare(report *model.ValidationReport, name model.IndicatorName, stored, expected float64, formula string) {
	tol := math.Max(v.cfg.RelTolerance*math.Abs(expected), v.cfg.AbsTolerance)
	if math.Abs(stored-expected) <= tol {
		return
	}
	report.AddError(RuleConsistency, name, fmt.Sprintf("%s = %.2f but %s = %.2f (tolerance %.2f)", name, stored, formula, expected, tol))
}

var hierarchy = [][2]model.IndicatorName{
	{model.OpEBITDA, model.OpEBIT},
	{model.OpEBIT, model.OpPBT},
	{model.EBITDA, model.EBIT},
	{model.PBT, model.PAT},
}

func (v *Validator) checkHierarchy(rec *model.QuarterlyRecord, report *model.ValidationReport) {
	for _, pair := range hierarchy {
		upper, ok := rec.Value(pair[0])
		if !ok {
			continue
		}
		lower, ok := rec.Value(pair[1])
		if !ok {
			continue
		}
		if lower > upper {
			report.AddWarning(RuleHierarchy, pair[1], fmt.Sprintf("%s (%.2f) exceeds %s (%.2f)", pair[1], lower, pair[0], upper))
		}
	}
}

func (v *Validator) checkTrend(rec *model.QuarterlyRecord, report *model.ValidationReport) {
	if rec.Prior == nil {
		return
	}
	for _, name := range v.cfg.TrendMetrics {
		cur, ok := rec.Value(name)
		if !ok {
			continue
		}
		prev, ok := rec.Prior.Value(name)
		if !ok || prev == 0 {
			continue
		}
		change := 100 * (cur - prev) / math.Abs(prev)
		if math.Abs(change) > v.cfg.TrendThreshold {
			report.AddWarning(RuleTrend, name, fmt.Sprintf("%s moved %.1f%% from %s %d (%.2f → %.2f)", name, change, rec.Prior.Quarter, rec.Prior.Year, prev, cur))
		}
	}
}

func (v *Validator) checkCritical(rec *model.QuarterlyRecord, report *model.ValidationReport) {
	for _, name := range v.cfg.CriticalFields {
		if _, ok := rec.Indicators[name]; !ok {
			report.AddWarning(RuleMissing, name, fmt.Sprintf("%s missing, pbt derivation may be inaccurate", name))
		}
	}
}
