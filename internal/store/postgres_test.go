package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/finresearch-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return &PostgresStore{pool: mock}, mock
}

func TestPostgresStore_SaveRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := sampleRecord("Infosys", "Q3", 2025, 6806)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO records .* ON CONFLICT \(company, quarter, year\) DO UPDATE .* RETURNING id`).
		WithArgs(pgxmock.AnyArg(), "Infosys", "Q3", 2025, "perplexity+moneycontrol", rec.Completeness, "warn", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("rec-1"))
	mock.ExpectExec(`DELETE FROM record_indicators WHERE record_id = \$1`).
		WithArgs("rec-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCopyFrom(pgx.Identifier{"record_indicators"}, indicatorColumns).WillReturnResult(2)
	mock.ExpectCommit()

	require.NoError(t, s.SaveRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveRecord_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO records`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("unique violation"))
	mock.ExpectRollback()

	err := s.SaveRecord(context.Background(), sampleRecord("TCS", "Q1", 2025, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert record TCS/Q1/2025")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := sampleRecord("Infosys", "Q3", 2025, 6806)
	data, err := jsonBytes(rec)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data FROM records WHERE company = \$1 AND quarter = \$2 AND year = \$3`).
		WithArgs("Infosys", "Q3", 2025).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := s.GetRecord(context.Background(), rec.Period)
	require.NoError(t, err)
	assert.Equal(t, 6806.0, got.Indicators[model.PAT].Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data FROM records`).
		WithArgs("Wipro", "Q1", 2025).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRecord(context.Background(), model.Period{Company: "Wipro", Quarter: "Q1", Year: 2025})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRecords(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	data, err := jsonBytes(sampleRecord("TCS", "Q2", 2025, 1))
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT data FROM records WHERE company = \$1 AND year = \$2 ORDER BY .* LIMIT \$3 OFFSET \$4`).
		WithArgs("TCS", 2025, 100, 0).
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(data))

	got, err := s.ListRecords(context.Background(), RecordFilter{Company: "TCS", Year: 2025})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Q2", got[0].Quarter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ResponseCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT data FROM ai_cache WHERE key = \$1`).
		WithArgs("miss").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO ai_cache .* ON CONFLICT \(key\)`).
		WithArgs("k1", []byte("body"), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`DELETE FROM ai_cache WHERE expires_at <= now\(\)`).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	data, err := s.GetCachedResponse(ctx, "miss")
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, s.SetCachedResponse(ctx, "k1", []byte("body"), time.Hour))

	n, err := s.DeleteExpiredResponses(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertCompanies(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_companies"`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_companies"}, []string{"name", "slug", "code", "sector"}).
		WillReturnResult(1)
	mock.ExpectExec(`INSERT INTO "companies"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	n, err := s.UpsertCompanies(context.Background(), []model.Company{
		{Name: "Wipro", Slug: "wipro", Code: "W", Sector: "IT Services"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Jobs(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	ctx := context.Background()
	snap := &model.BatchSnapshot{ID: "job-9", Succeeded: 3, StartedAt: time.Now().UTC()}

	mock.ExpectExec(`INSERT INTO batch_jobs`).
		WithArgs("job-9", 0, 3, 0, 0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT data FROM batch_jobs WHERE id = \$1`).
		WithArgs("job-404").
		WillReturnError(pgx.ErrNoRows)

	require.NoError(t, s.ArchiveJob(ctx, snap))
	_, err := s.GetJob(ctx, "job-404")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func jsonBytes(rec *model.QuarterlyRecord) ([]byte, error) {
	return json.Marshal(rec)
}
