package mirror

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hookmeter/internal/model"
)

func sampleRecords(n int) []model.EventRecord {
	out := make([]model.EventRecord, n)
	for i := range out {
		rec := model.NewRecord(model.KindTestRun, time.Date(2024, 1, 1, 0, i, 0, 0, time.UTC), model.StatusSuccess)
		rec.Fields[model.FieldCoveragePct] = int64(80 + i)
		rec.Tags[model.TagResult] = "passed"
		out[i] = rec
	}
	return out
}

func TestExportSQLite_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	records := sampleRecords(3)

	n, err := ExportSQLite(ctx, path, "coverage-history", records)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	more := append(records, sampleRecords(2)...)
	n, err = ExportSQLite(ctx, path, "coverage-history", more)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "already exported IDs are skipped")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT count(*) FROM events WHERE channel = ?`, "coverage-history").Scan(&count))
	assert.Equal(t, 5, count)

	var fields string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT fields FROM events WHERE id = ?`, records[1].ID.String()).Scan(&fields))
	assert.JSONEq(t, `{"coverage_pct":81}`, fields)
}

func TestExportSQLite_RecordsWithoutIDsAreKeptApart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	records := sampleRecords(2)
	for i := range records {
		records[i].ID = uuid.Nil
	}

	n, err := ExportSQLite(ctx, path, "coverage-history", records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = ExportSQLite(ctx, path, "coverage-history", records)
	require.NoError(t, err)
	assert.Zero(t, n, "derived IDs are stable across exports")
}

func TestRecordID(t *testing.T) {
	rec := sampleRecords(1)[0]
	assert.Equal(t, rec.ID, recordID("coverage-history", 1, rec))

	rec.ID = uuid.Nil
	first := recordID("coverage-history", 1, rec)
	assert.NotEqual(t, uuid.Nil, first)
	assert.NotEqual(t, first, recordID("coverage-history", 2, rec))
}

func TestExportSQLite_Empty(t *testing.T) {
	n, err := ExportSQLite(context.Background(), filepath.Join(t.TempDir(), "events.db"), "commands", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}
