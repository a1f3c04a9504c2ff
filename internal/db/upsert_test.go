package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var legacyUpsert = UpsertConfig{
	Table:        "builders",
	Columns:      []string{"builder_id", "legacy_score_v2"},
	ConflictKeys: []string{"builder_id"},
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, legacyUpsert, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_InvalidConfig(t *testing.T) {
	rows := [][]any{{"b-1", 42.0}}
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no table", UpsertConfig{Columns: []string{"id"}, ConflictKeys: []string{"id"}}, "no table specified"},
		{"no columns", UpsertConfig{Table: "builders", ConflictKeys: []string{"id"}}, "no columns specified"},
		{"no conflict keys", UpsertConfig{Table: "builders", Columns: []string{"id"}}, "no conflict keys specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BulkUpsert(context.Background(), nil, tt.cfg, rows)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkUpsert_StagesAndMerges(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := [][]any{{"b-1", 42.0}, {"b-2", 77.5}}

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_builders" \(LIKE "builders" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_builders"}, legacyUpsert.Columns).
		WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "builders" \("builder_id", "legacy_score_v2"\) SELECT .* ON CONFLICT \("builder_id"\) DO UPDATE SET "legacy_score_v2" = EXCLUDED."legacy_score_v2"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	n, err := BulkUpsert(context.Background(), mock, legacyUpsert, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyFailureRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_builders"}, legacyUpsert.Columns).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, legacyUpsert, [][]any{{"b-1", 1.0}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table for builders")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertConfig_UpdateCols(t *testing.T) {
	assert.Equal(t, []string{"legacy_score_v2"}, legacyUpsert.updateCols())

	explicit := legacyUpsert
	explicit.UpdateCols = []string{}
	assert.Empty(t, explicit.updateCols())
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"builders", `"builders"`},
		{"forge.builders", `"forge"."builders"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"builder_id", "legacy_score_v2"`, quoteAndJoin([]string{"builder_id", "legacy_score_v2"}))
}
