// Package waterfall picks indicator values across a prioritized list of
// sources, falling through to the next source until the critical set is
// covered.
package waterfall

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/finresearch-cli/internal/model"
)

// ErrNoSources is returned when Select is called without any source.
var ErrNoSources = eris.New("waterfall: no sources configured")

// ExtractFunc produces indicators for a period. An empty map is a miss, not
// an error.
type ExtractFunc func(ctx context.Context, p model.Period) (map[model.IndicatorName]model.Indicator, error)

// Source is one named extraction attempt.
type Source struct {
	Name    string
	Extract ExtractFunc
}

// Attempt summarizes one source call.
type Attempt struct {
	Source     string        `json:"source"`
	Indicators int           `json:"indicators"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// Selection is the merged outcome of Select.
type Selection struct {
	Record      *model.QuarterlyRecord                   `json:"record"`
	Provenance  map[model.IndicatorName]model.Provenance `json:"provenance"`
	Attempts    []Attempt                                `json:"attempts"`
	CriticalMet bool                                     `json:"critical_met"`
}

// Selector runs sources in priority order.
type Selector struct {
	cfg Config
}

// NewSelector creates a Selector.
func NewSelector(cfg Config) *Selector {
	if len(cfg.Critical) == 0 {
		cfg.Critical = model.CriticalIndicators()
	}
	return &Selector{cfg: cfg}
}

// Select tries sources in order and merges their indicators. A later source
// only replaces a value when it is strictly more confident. Select stops as
// soon as every critical indicator is present at the acceptance confidence.
// When no combination covers the critical set the record is labeled
// "partial"; that is not an error.
func (s *Selector) Select(ctx context.Context, p model.Period, sources []Source) (*Selection, error) {
	if len(sources) == 0 {
		return nil, ErrNoSources
	}

	rec := model.NewRecord(p)
	sel := &Selection{Record: rec, Provenance: rec.Provenance}

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrapf(err, "waterfall: select %s", p.Key())
		}

		start := time.Now()
		inds, err := src.Extract(ctx, p)
		attempt := Attempt{Source: src.Name, Indicators: len(inds), Duration: time.Since(start)}
		if err != nil {
			attempt.Error = err.Error()
			sel.Attempts = append(sel.Attempts, attempt)
			zap.L().Warn("waterfall: source failed",
				zap.String("company", p.Company),
				zap.String("quarter", p.Quarter),
				zap.Int("year", p.Year),
				zap.String("source", src.Name),
				zap.Error(err),
			)
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, eris.Wrapf(ctxErr, "waterfall: select %s", p.Key())
			}
			continue
		}
		sel.Attempts = append(sel.Attempts, attempt)

		s.merge(rec, src.Name, inds)

		if s.criticalMet(rec) {
			sel.CriticalMet = true
			break
		}
		zap.L().Debug("waterfall: critical indicators incomplete, trying next source",
			zap.String("company", p.Company),
			zap.String("source", src.Name),
			zap.Int("indicators", len(rec.Indicators)),
		)
	}

	rec.UpdateCompleteness()
	if sel.CriticalMet {
		rec.Source = contributors(rec, sources)
	} else {
		rec.Source = model.SourcePartial
	}
	return sel, nil
}

func (s *Selector) merge(rec *model.QuarterlyRecord, source string, inds map[model.IndicatorName]model.Indicator) {
	names := make([]model.IndicatorName, 0, len(inds))
	for name := range inds {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })

	for _, name := range names {
		ind := inds[name]
		ind.Name = name
		prov := rec.Provenance[name]
		attempt := model.ProvenanceAttempt{
			Source:     source,
			Value:      ind.Value,
			Confidence: ind.Confidence,
			RawText:    ind.RawText,
		}

		existing, ok := rec.Indicators[name]
		if !ok || ind.Confidence > existing.Confidence {
			for i := range prov.Attempts {
				prov.Attempts[i].Accepted = false
			}
			attempt.Accepted = true
			prov.Source = source
			prov.Confidence = ind.Confidence
			rec.Indicators[name] = ind
		}
		prov.Attempts = append(prov.Attempts, attempt)
		rec.Provenance[name] = prov
	}
}

func (s *Selector) criticalMet(rec *model.QuarterlyRecord) bool {
	for _, name := range s.cfg.Critical {
		ind, ok := rec.Indicators[name]
		if !ok || ind.Confidence < s.cfg.AcceptConfidence {
			return false
		}
	}
	return true
}

// contributors joins, in priority order, the sources that won at least one
// indicator.
func contributors(rec *model.QuarterlyRecord, sources []Source) string {
	won := make(map[string]bool)
	for _, prov := range rec.Provenance {
		won[prov.Source] = true
	}
	var names []string
	for _, src := range sources {
		if won[src.Name] {
			names = append(names, src.Name)
			won[src.Name] = false
		}
	}
	return strings.Join(names, "+")
}
