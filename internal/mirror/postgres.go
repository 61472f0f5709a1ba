package mirror

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashita-ai/hookmeter/internal/model"
)

// Postgres mirrors records into the hook_events table.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects a pool to dsn and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("mirror: parse DSN: %w", err)
	}
	// Hook processes are short-lived; one or two connections are plenty.
	cfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("mirror: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("mirror: ping: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// RunMigrations executes unapplied .sql files from migrationsFS in name order,
// tracking applied files in schema_migrations so each runs at most once.
func (p *Postgres) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("mirror: create schema_migrations: %w", err)
	}

	applied, err := p.appliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("mirror: load applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("mirror: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") || applied[name] {
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("mirror: read migration %s: %w", name, err)
		}

		p.logger.Info("mirror: running migration", "file", name)
		if _, err := p.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("mirror: execute migration %s: %w", name, err)
		}
		if _, err := p.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("mirror: record migration %s: %w", name, err)
		}
	}
	return nil
}

func (p *Postgres) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := p.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

const insertEvent = `INSERT INTO hook_events (id, channel, kind, status, occurred_at, fields, tags)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (id) DO NOTHING`

func eventArgs(channel string, id uuid.UUID, rec model.EventRecord) []any {
	fields := rec.Fields
	if fields == nil {
		fields = map[string]int64{}
	}
	tags := rec.Tags
	if tags == nil {
		tags = map[string]string{}
	}
	return []any{id, channel, string(rec.Kind), string(rec.Status), rec.Timestamp, fields, tags}
}

// Mirror inserts one record. Records already mirrored are left untouched.
func (p *Postgres) Mirror(ctx context.Context, channel string, rec model.EventRecord) error {
	err := withRetry(ctx, defaultRetries, defaultBaseDelay, func() error {
		_, err := p.pool.Exec(ctx, insertEvent, eventArgs(channel, recordID(channel, 0, rec), rec)...)
		return err
	})
	if err != nil {
		return fmt.Errorf("mirror: insert %s: %w", rec.ID, err)
	}
	return nil
}

// MirrorAll inserts records in one batch and returns how many were new.
func (p *Postgres) MirrorAll(ctx context.Context, channel string, records []model.EventRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	batch := &pgx.Batch{}
	ids := make([]uuid.UUID, len(records))
	for i, rec := range records {
		ids[i] = recordID(channel, i+1, rec)
		batch.Queue(insertEvent, eventArgs(channel, ids[i], rec)...)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	inserted := 0
	for _, id := range ids {
		tag, err := br.Exec()
		if err != nil {
			return inserted, fmt.Errorf("mirror: batch insert %s: %w", id, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

// Count returns the number of mirrored rows for channel.
func (p *Postgres) Count(ctx context.Context, channel string) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT count(*) FROM hook_events WHERE channel = $1`, channel).Scan(&n); err != nil {
		return 0, fmt.Errorf("mirror: count %s: %w", channel, err)
	}
	return n, nil
}
