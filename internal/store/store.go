// Package store persists validated quarterly records, the AI response
// cache and archived batch jobs.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/finresearch-cli/internal/model"
)

// ErrNotFound is returned when a record or job does not exist.
var ErrNotFound = eris.New("store: not found")

// RecordFilter narrows ListRecords.
type RecordFilter struct {
	Company string `json:"company,omitempty"`
	Year    int    `json:"year,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// Store is the persistence collaborator of the pipeline.
type Store interface {
	// Records
	SaveRecord(ctx context.Context, rec *model.QuarterlyRecord) error
	GetRecord(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.RecordSummary, error)

	// AI response cache. A miss returns nil data and no error.
	GetCachedResponse(ctx context.Context, key string) ([]byte, error)
	SetCachedResponse(ctx context.Context, key string, data []byte, ttl time.Duration) error
	DeleteExpiredResponses(ctx context.Context) (int, error)

	// Companies known to the portal source.
	UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error)
	ListCompanies(ctx context.Context) ([]model.Company, error)

	// Batch jobs
	ArchiveJob(ctx context.Context, snap *model.BatchSnapshot) error
	GetJob(ctx context.Context, id string) (*model.BatchSnapshot, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func statusOf(rec *model.QuarterlyRecord) string {
	if rec.Report == nil {
		return ""
	}
	return string(rec.Report.Status)
}

func limitOrDefault(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
