package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashita-ai/hookmeter/internal/model"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		channel TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		ts DATETIME NOT NULL,
		fields JSON,
		tags JSON
	)`,
	`CREATE INDEX IF NOT EXISTS events_channel_ts ON events (channel, ts)`,
}

// ExportSQLite writes records into the SQLite database at path, creating the
// file and schema when missing. Existing IDs are skipped, so exporting the
// same channel twice adds nothing. Records without an ID are keyed by their
// position and content. It returns the number of new rows.
func ExportSQLite(ctx context.Context, path, channel string, records []model.EventRecord) (int, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return 0, fmt.Errorf("mirror: open sqlite %s: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	for _, stmt := range sqliteSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return 0, fmt.Errorf("mirror: create sqlite schema: %w", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mirror: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO events
		(id, channel, kind, status, ts, fields, tags) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("mirror: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	inserted := 0
	for i, rec := range records {
		id := recordID(channel, i+1, rec)
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return 0, fmt.Errorf("mirror: marshal fields: %w", err)
		}
		tags, err := json.Marshal(rec.Tags)
		if err != nil {
			return 0, fmt.Errorf("mirror: marshal tags: %w", err)
		}
		res, err := stmt.ExecContext(ctx,
			id.String(), channel, string(rec.Kind), string(rec.Status),
			rec.Timestamp.UTC().Format(time.RFC3339Nano), string(fields), string(tags),
		)
		if err != nil {
			return 0, fmt.Errorf("mirror: insert %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("mirror: rows affected: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mirror: commit: %w", err)
	}
	return inserted, nil
}
