package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	return mock
}

var companiesUpsert = UpsertConfig{
	Table:        "companies",
	Columns:      []string{"name", "slug", "code", "sector"},
	ConflictKeys: []string{"name"},
}

func TestBulkUpsert(t *testing.T) {
	mock := newMock(t)
	rows := [][]any{
		{"TCS", "tataconsultancyservices", "TCS", "IT Services"},
		{"Infosys", "infosys", "IT", "IT Services"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_companies" \(LIKE "companies" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_companies"}, []string{"name", "slug", "code", "sector"}).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "companies" .* ON CONFLICT \("name"\) DO UPDATE SET "slug" = EXCLUDED."slug"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, companiesUpsert, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_RollsBackOnError(t *testing.T) {
	mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	_, err := BulkUpsert(context.Background(), mock, companiesUpsert, [][]any{{"TCS", "x", "y", "z"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "create temp table for companies")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_Guards(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, companiesUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no columns specified")

	_, err = BulkUpsert(context.Background(), nil, UpsertConfig{Table: "t", Columns: []string{"id"}}, [][]any{{1}})
	assert.ErrorContains(t, err, "no conflict keys specified")
}

func TestUpsertSQL(t *testing.T) {
	got := upsertSQL(UpsertConfig{
		Table:        "fin.record_indicators",
		Columns:      []string{"record_id", "name", "value"},
		ConflictKeys: []string{"record_id", "name"},
	}, "_tmp")
	assert.Equal(t, `INSERT INTO "fin"."record_indicators" ("record_id", "name", "value") SELECT "record_id", "name", "value" FROM "_tmp" ON CONFLICT ("record_id", "name") DO UPDATE SET "value" = EXCLUDED."value"`, got)

	got = upsertSQL(UpsertConfig{Table: "t", Columns: []string{"id"}, ConflictKeys: []string{"id"}}, "_tmp")
	assert.Contains(t, got, "DO NOTHING")
}

func TestCopyFrom(t *testing.T) {
	mock := newMock(t)
	mock.ExpectCopyFrom(pgx.Identifier{"record_indicators"}, []string{"record_id", "name"}).WillReturnResult(1)

	n, err := CopyFrom(context.Background(), mock, "record_indicators", []string{"record_id", "name"}, [][]any{{"r1", "pbt"}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = CopyFrom(context.Background(), mock, "record_indicators", nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
