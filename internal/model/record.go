package model

import "sort"

// SourcePartial labels a record where no source supplied every critical indicator.
const SourcePartial = "partial"

// QuarterlyRecord holds every indicator known for one company-quarter.
type QuarterlyRecord struct {
	Period
	Indicators   map[IndicatorName]Indicator  `json:"indicators"`
	Completeness float64                      `json:"completeness"`
	Source       string                       `json:"source"`
	Provenance   map[IndicatorName]Provenance `json:"provenance,omitempty"`
	// CrossChecks holds derived values that lost to a directly extracted
	// figure. The validator compares against them.
	CrossChecks map[IndicatorName]float64 `json:"cross_checks,omitempty"`
	// Prior is the previous quarter's record, read-only.
	Prior  *QuarterlyRecord  `json:"-"`
	Report *ValidationReport `json:"report,omitempty"`
}

// NewRecord returns an empty record for p.
func NewRecord(p Period) *QuarterlyRecord {
	return &QuarterlyRecord{
		Period:      p,
		Indicators:  make(map[IndicatorName]Indicator),
		Provenance:  make(map[IndicatorName]Provenance),
		CrossChecks: make(map[IndicatorName]float64),
	}
}

// Value returns the value of name and whether it is present.
func (r *QuarterlyRecord) Value(name IndicatorName) (float64, bool) {
	if r == nil {
		return 0, false
	}
	ind, ok := r.Indicators[name]
	return ind.Value, ok
}

// Set stores ind under its name.
func (r *QuarterlyRecord) Set(ind Indicator) {
	if r.Indicators == nil {
		r.Indicators = make(map[IndicatorName]Indicator)
	}
	r.Indicators[ind.Name] = ind
}

// UpdateCompleteness recomputes Completeness from the indicator set.
func (r *QuarterlyRecord) UpdateCompleteness() {
	r.Completeness = Completeness(r.Indicators)
}

// Names returns the indicator names present, in catalog order, followed by
// any unknown names sorted.
func (r *QuarterlyRecord) Names() []IndicatorName {
	var out []IndicatorName
	seen := make(map[IndicatorName]bool, len(r.Indicators))
	for _, s := range catalog {
		if _, ok := r.Indicators[s.Name]; ok {
			out = append(out, s.Name)
			seen[s.Name] = true
		}
	}
	var extra []IndicatorName
	for name := range r.Indicators {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Summary returns a compact view of the record.
func (r *QuarterlyRecord) Summary() RecordSummary {
	s := RecordSummary{
		Period:       r.Period,
		Source:       r.Source,
		Completeness: r.Completeness,
		Indicators:   len(r.Indicators),
	}
	if r.Report != nil {
		s.Status = r.Report.Status
		s.Errors = len(r.Report.Errors)
		s.Warnings = len(r.Report.Warnings)
	}
	return s
}

// RecordSummary is a list-friendly view of a record.
type RecordSummary struct {
	Period
	Source       string       `json:"source"`
	Completeness float64      `json:"completeness"`
	Indicators   int          `json:"indicators"`
	Status       ReportStatus `json:"status,omitempty"`
	Errors       int          `json:"errors"`
	Warnings     int          `json:"warnings"`
}

// Result is what the pipeline hands back for one period.
type Result struct {
	Record     *QuarterlyRecord             `json:"record"`
	Report     *ValidationReport            `json:"report"`
	Provenance map[IndicatorName]Provenance `json:"provenance"`
}
