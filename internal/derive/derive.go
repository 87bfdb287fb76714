// Package derive computes the operating waterfall, margins and growth
// figures of a quarterly record from its raw indicators.
package derive

import (
	"math"

	"github.com/sells-group/finresearch-cli/internal/model"
)

// Config controls derivation.
type Config struct {
	// PrecedenceConfidence is the minimum confidence at which a directly
	// extracted pbt or pat wins over the derived value.
	PrecedenceConfidence float64
	// GrowthMetrics restricts growth computation. Empty means all.
	GrowthMetrics []model.IndicatorName
}

// DefaultConfig returns the default derivation settings.
func DefaultConfig() Config {
	return Config{PrecedenceConfidence: 0.5}
}

// Calculator adds computed indicators to records.
type Calculator struct {
	cfg    Config
	growth map[model.IndicatorName]bool
}

// New creates a Calculator.
func New(cfg Config) *Calculator {
	c := &Calculator{cfg: cfg}
	if len(cfg.GrowthMetrics) > 0 {
		c.growth = make(map[model.IndicatorName]bool, len(cfg.GrowthMetrics))
		for _, name := range cfg.GrowthMetrics {
			c.growth[name] = true
		}
	}
	return c
}

// Compute adds derived, margin and growth indicators to rec in place and
// recomputes its completeness. prior may be nil. Running Compute again on
// the same raw inputs gives the same result.
func (c *Calculator) Compute(rec *model.QuarterlyRecord, prior *model.QuarterlyRecord) {
	if rec.Indicators == nil {
		rec.Indicators = make(map[model.IndicatorName]model.Indicator)
	}

	// Start from raw inputs only.
	for name, ind := range rec.Indicators {
		if ind.Source == model.SourceDerived {
			delete(rec.Indicators, name)
		}
	}
	rec.CrossChecks = make(map[model.IndicatorName]float64)

	for _, f := range model.Formulas() {
		v, ok := f.Evaluate(rec.Indicators)
		if !ok {
			continue
		}
		if existing, ok := rec.Indicators[f.Output]; ok && existing.Confidence >= c.cfg.PrecedenceConfidence {
			// The extracted figure stands; keep ours for the validator.
			rec.CrossChecks[f.Output] = round(v)
			continue
		}
		ind := model.Indicator{
			Name:       f.Output,
			Value:      round(v),
			Confidence: f.MinConfidence(rec.Indicators),
			RawText:    f.String(),
			Source:     model.SourceDerived,
		}
		if _, ok := rec.Provenance[f.Output]; ok {
			recordDerived(rec, ind)
		}
		rec.Indicators[f.Output] = ind
	}

	if income, ok := rec.Indicators[model.TotalIncome]; ok && income.Value != 0 {
		for _, spec := range model.Margins() {
			base, ok := rec.Indicators[spec.Base]
			if !ok {
				continue
			}
			rec.Indicators[spec.Name] = model.Indicator{
				Name:       spec.Name,
				Value:      round(100 * base.Value / income.Value),
				Confidence: math.Min(base.Confidence, income.Confidence),
				RawText:    "100 * " + string(spec.Base) + " / total_income",
				Source:     model.SourceDerived,
			}
		}
	}

	if prior != nil {
		for _, spec := range model.Growths() {
			if c.growth != nil && !c.growth[spec.Name] {
				continue
			}
			cur, ok := rec.Indicators[spec.Base]
			if !ok {
				continue
			}
			prev, ok := prior.Indicators[spec.Base]
			if !ok || prev.Value == 0 {
				continue
			}
			rec.Indicators[spec.Name] = model.Indicator{
				Name:       spec.Name,
				Value:      round(100 * (cur.Value - prev.Value) / math.Abs(prev.Value)),
				Confidence: math.Min(cur.Confidence, prev.Confidence),
				RawText:    "100 * (" + string(spec.Base) + " - prior) / |prior|",
				Source:     model.SourceDerived,
			}
		}
		rec.Prior = prior
	}

	rec.UpdateCompleteness()
}

// recordDerived marks ind as the accepted attempt in the provenance of an
// indicator whose extracted value it replaced. Earlier derived attempts are
// dropped so repeated runs leave one.
func recordDerived(rec *model.QuarterlyRecord, ind model.Indicator) {
	prov := rec.Provenance[ind.Name]
	attempts := make([]model.ProvenanceAttempt, 0, len(prov.Attempts)+1)
	for _, a := range prov.Attempts {
		if a.Source == string(model.SourceDerived) {
			continue
		}
		a.Accepted = false
		attempts = append(attempts, a)
	}
	prov.Attempts = append(attempts, model.ProvenanceAttempt{
		Source:     string(model.SourceDerived),
		Value:      ind.Value,
		Confidence: ind.Confidence,
		RawText:    ind.RawText,
		Accepted:   true,
	})
	prov.Source = string(model.SourceDerived)
	prov.Confidence = ind.Confidence
	rec.Provenance[ind.Name] = prov
}

func round(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
