package model

import "time"

// ItemStatus is the lifecycle state of one batch item.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// Terminal reports whether no further transition can happen.
func (s ItemStatus) Terminal() bool {
	return s == ItemSucceeded || s == ItemFailed || s == ItemSkipped
}

// ItemResult is the state of one batch item.
type ItemResult struct {
	Period
	Status     ItemStatus       `json:"status"`
	Error      string           `json:"error,omitempty"`
	Record     *QuarterlyRecord `json:"record,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// BatchSnapshot is a consistent point-in-time view of a batch job.
type BatchSnapshot struct {
	ID         string       `json:"id"`
	Running    bool         `json:"running"`
	Progress   int          `json:"progress"`
	Message    string       `json:"message"`
	Items      []ItemResult `json:"items"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Skipped    int          `json:"skipped"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}
