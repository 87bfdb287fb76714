package model

// ReportStatus is the overall verdict of a validation run.
type ReportStatus string

const (
	StatusPass ReportStatus = "pass"
	StatusWarn ReportStatus = "warn"
	StatusFail ReportStatus = "fail"
)

// Issue is a single rule violation.
type Issue struct {
	Rule    string        `json:"rule"`
	Field   IndicatorName `json:"field,omitempty"`
	Message string        `json:"message"`
}

// ValidationReport is the outcome of validating one record.
type ValidationReport struct {
	Status       ReportStatus `json:"status"`
	Errors       []Issue      `json:"errors"`
	Warnings     []Issue      `json:"warnings"`
	Completeness float64      `json:"completeness"`
}

// AddError appends a blocking issue.
func (r *ValidationReport) AddError(rule string, field IndicatorName, msg string) {
	r.Errors = append(r.Errors, Issue{Rule: rule, Field: field, Message: msg})
}

// AddWarning appends an advisory issue.
func (r *ValidationReport) AddWarning(rule string, field IndicatorName, msg string) {
	r.Warnings = append(r.Warnings, Issue{Rule: rule, Field: field, Message: msg})
}

// Finalize sets Status from the collected issues.
func (r *ValidationReport) Finalize() {
	if r.Errors == nil {
		r.Errors = []Issue{}
	}
	if r.Warnings == nil {
		r.Warnings = []Issue{}
	}
	switch {
	case len(r.Errors) > 0:
		r.Status = StatusFail
	case len(r.Warnings) > 0:
		r.Status = StatusWarn
	default:
		r.Status = StatusPass
	}
}

// HasError reports whether an error names field.
func (r *ValidationReport) HasError(field IndicatorName) bool {
	for _, e := range r.Errors {
		if e.Field == field {
			return true
		}
	}
	return false
}

// HasWarning reports whether a warning from rule names field.
func (r *ValidationReport) HasWarning(rule string, field IndicatorName) bool {
	for _, w := range r.Warnings {
		if w.Rule == rule && w.Field == field {
			return true
		}
	}
	return false
}
