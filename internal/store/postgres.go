package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/finresearch-cli/internal/db"
	"github.com/sells-group/finresearch-cli/internal/model"
)

// PostgresStore implements Store using pgxpool. Indicators are also
// written one row each to record_indicators for SQL analysis.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool sizing.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 8
	pgxCfg.MinConns = 1
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id           TEXT PRIMARY KEY,
	company      TEXT NOT NULL,
	quarter      TEXT NOT NULL,
	year         INTEGER NOT NULL,
	source       TEXT NOT NULL,
	completeness DOUBLE PRECISION NOT NULL,
	status       TEXT NOT NULL DEFAULT '',
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company, quarter, year)
);

CREATE TABLE IF NOT EXISTS record_indicators (
	record_id  TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	value      DOUBLE PRECISION NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	source     TEXT NOT NULL,
	PRIMARY KEY (record_id, name)
);

CREATE TABLE IF NOT EXISTS ai_cache (
	key        TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS companies (
	name   TEXT PRIMARY KEY,
	slug   TEXT NOT NULL,
	code   TEXT NOT NULL,
	sector TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS batch_jobs (
	id          TEXT PRIMARY KEY,
	items       INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	data        JSONB NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_records_company ON records(company);
CREATE INDEX IF NOT EXISTS idx_record_indicators_name ON record_indicators(name);
CREATE INDEX IF NOT EXISTS idx_ai_cache_expires_at ON ai_cache(expires_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var indicatorColumns = []string{"record_id", "name", "value", "confidence", "source"}

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *model.QuarterlyRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin tx")
	}
	if err := saveRecordTx(ctx, tx, rec, data); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return eris.Wrapf(tx.Commit(ctx), "postgres: commit record %s", rec.Key())
}

func saveRecordTx(ctx context.Context, tx pgx.Tx, rec *model.QuarterlyRecord, data []byte) error {
	var id string
	err := tx.QueryRow(ctx, `
		INSERT INTO records (id, company, quarter, year, source, completeness, status, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		ON CONFLICT (company, quarter, year) DO UPDATE SET
			source = EXCLUDED.source,
			completeness = EXCLUDED.completeness,
			status = EXCLUDED.status,
			data = EXCLUDED.data,
			updated_at = now()
		RETURNING id`,
		uuid.New().String(), rec.Company, rec.Quarter, rec.Year, rec.Source,
		rec.Completeness, statusOf(rec), data,
	).Scan(&id)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert record %s", rec.Key())
	}

	if _, err := tx.Exec(ctx, `DELETE FROM record_indicators WHERE record_id = $1`, id); err != nil {
		return eris.Wrapf(err, "postgres: clear indicators %s", rec.Key())
	}

	rows := make([][]any, 0, len(rec.Indicators))
	for _, name := range rec.Names() {
		ind := rec.Indicators[name]
		rows = append(rows, []any{id, string(name), ind.Value, ind.Confidence, string(ind.Source)})
	}
	if _, err := db.CopyFrom(ctx, tx, "record_indicators", indicatorColumns, rows); err != nil {
		return eris.Wrapf(err, "postgres: write indicators %s", rec.Key())
	}
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, p model.Period) (*model.QuarterlyRecord, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM records WHERE company = $1 AND quarter = $2 AND year = $3`,
		p.Company, p.Quarter, p.Year,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: record %s", p.Key())
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", p.Key())
	}

	var rec model.QuarterlyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal record %s", p.Key())
	}
	return &rec, nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.RecordSummary, error) {
	var (
		where []string
		args  []any
	)
	if filter.Company != "" {
		args = append(args, filter.Company)
		where = append(where, fmt.Sprintf("company = $%d", len(args)))
	}
	if filter.Year > 0 {
		args = append(args, filter.Year)
		where = append(where, fmt.Sprintf("year = $%d", len(args)))
	}
	query := `SELECT data FROM records`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)
	query += fmt.Sprintf(" ORDER BY company, year DESC, quarter DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var out []model.RecordSummary
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		var rec model.QuarterlyRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		out = append(out, rec.Summary())
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) GetCachedResponse(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM ai_cache WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached response")
	}
	return data, nil
}

func (s *PostgresStore) SetCachedResponse(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO ai_cache (key, data, created_at, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at`,
		key, data, now, now.Add(ttl),
	)
	return eris.Wrap(err, "postgres: set cached response")
}

func (s *PostgresStore) DeleteExpiredResponses(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM ai_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired responses")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) UpsertCompanies(ctx context.Context, companies []model.Company) (int64, error) {
	rows := make([][]any, len(companies))
	for i, c := range companies {
		rows[i] = []any{c.Name, c.Slug, c.Code, c.Sector}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "companies",
		Columns:      []string{"name", "slug", "code", "sector"},
		ConflictKeys: []string{"name"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert companies")
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, slug, code, sector FROM companies ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.Name, &c.Slug, &c.Code, &c.Sector); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate companies")
}

func (s *PostgresStore) ArchiveJob(ctx context.Context, snap *model.BatchSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal job")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO batch_jobs (id, items, succeeded, failed, skipped, data, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			succeeded = EXCLUDED.succeeded, failed = EXCLUDED.failed, skipped = EXCLUDED.skipped,
			data = EXCLUDED.data, finished_at = EXCLUDED.finished_at`,
		snap.ID, len(snap.Items), snap.Succeeded, snap.Failed, snap.Skipped, data, snap.StartedAt, snap.FinishedAt,
	)
	return eris.Wrapf(err, "postgres: archive job %s", snap.ID)
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.BatchSnapshot, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM batch_jobs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	var snap model.BatchSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, eris.Wrapf(err, "postgres: unmarshal job %s", id)
	}
	return &snap, nil
}
