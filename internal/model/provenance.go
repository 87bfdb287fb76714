package model

// ProvenanceAttempt records one source's offer for an indicator.
type ProvenanceAttempt struct {
	Source     string  `json:"source"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	RawText    string  `json:"raw_text,omitempty"`
	Accepted   bool    `json:"accepted"`
}

// Provenance is the audit trail of an indicator: the winning source plus
// every attempt that offered a value.
type Provenance struct {
	Source     string              `json:"source"`
	Confidence float64             `json:"confidence"`
	Attempts   []ProvenanceAttempt `json:"attempts"`
}
