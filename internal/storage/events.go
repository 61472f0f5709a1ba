// Package storage persists event records as append-only JSON Lines channels
// and keeps the per-channel period marker used by the reporter.
//
// A channel file is created lazily on first append, grows monotonically and
// is never truncated or rewritten here. Every append is a single write of one
// complete line, so concurrent appenders from separate processes never
// interleave within a line. Readers tolerate a file that grows while they scan.
package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/telemetry"
)

// Predicate selects records during a replay.
type Predicate func(model.EventRecord) bool

// KindIs matches records of kind k.
func KindIs(k model.Kind) Predicate {
	return func(r model.EventRecord) bool { return r.Kind == k }
}

// TagEquals matches records whose tag key equals value.
func TagEquals(key, value string) Predicate {
	return func(r model.EventRecord) bool { return r.Tags[key] == value }
}

// HasStatus matches records that carry a pass/fail outcome.
func HasStatus() Predicate {
	return func(r model.EventRecord) bool { return r.HasStatus() }
}

// And matches records accepted by every predicate. Nil predicates are ignored.
func And(preds ...Predicate) Predicate {
	return func(r model.EventRecord) bool {
		for _, p := range preds {
			if p != nil && !p(r) {
				return false
			}
		}
		return true
	}
}

// ReadStats counts what a replay saw.
type ReadStats struct {
	Lines     int // non-blank lines
	Records   int // lines decoded into records
	Malformed int // lines skipped with a warning
}

// EventStore is one channel's JSONL log.
type EventStore struct {
	path   string
	logger *slog.Logger

	appended  metric.Int64Counter
	malformed metric.Int64Counter
}

// NewEventStore returns a store for the channel file at path. Nothing touches
// the filesystem until the first Append.
func NewEventStore(path string, logger *slog.Logger) *EventStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventStore{
		path:      path,
		logger:    logger,
		appended:  telemetry.Counter("hookmeter/storage", "hookmeter.events.appended", "Event records appended to channel logs"),
		malformed: telemetry.Counter("hookmeter/storage", "hookmeter.events.malformed", "Malformed channel log lines skipped during replay"),
	}
}

// Path returns the channel file path.
func (s *EventStore) Path() string {
	return s.path
}

// Channel returns the channel name: the file name without extension.
func (s *EventStore) Channel() string {
	base := filepath.Base(s.path)
	return base[:len(base)-len(filepath.Ext(base))]
}

// Append writes rec as one newline-terminated JSON line and fsyncs the file.
// Each call adds exactly one line and never rewrites earlier ones.
func (s *EventStore) Append(ctx context.Context, rec model.EventRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.Kind == "" {
		return fmt.Errorf("storage: append: record has no kind")
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("storage: marshal record: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return ioErr("create directory for", s.path, err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // path comes from validated config
	if err != nil {
		return ioErr("open", s.path, err)
	}

	// One Write per record: O_APPEND makes the offset update and the write a
	// single step, so lines from concurrent appenders never interleave.
	n, err := f.Write(line)
	if err == nil && n != len(line) {
		err = io.ErrShortWrite
	}
	if err != nil {
		_ = f.Close()
		return ioErr("write", s.path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return ioErr("sync", s.path, err)
	}
	if err := f.Close(); err != nil {
		return ioErr("close", s.path, err)
	}

	s.appended.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", s.Channel()),
		attribute.String("kind", string(rec.Kind)),
	))
	return nil
}

// All returns every record in append order. The sequence is lazy and
// restartable: each range re-opens the file and reads it to the current end.
// A missing file is an empty channel. Malformed lines are logged and skipped.
// I/O failures are yielded once as an ErrIO-wrapped error, ending the sequence.
func (s *EventStore) All() iter.Seq2[model.EventRecord, error] {
	return s.Matching(nil)
}

// Matching returns records accepted by pred, preserving append order.
// A nil pred matches everything.
func (s *EventStore) Matching(pred Predicate) iter.Seq2[model.EventRecord, error] {
	return func(yield func(model.EventRecord, error) bool) {
		var stats ReadStats
		s.scan(pred, &stats, yield)
	}
}

// ReadAll materialises the whole channel.
func (s *EventStore) ReadAll() ([]model.EventRecord, ReadStats, error) {
	return s.Collect(nil)
}

// Collect materialises the records accepted by pred along with read stats.
func (s *EventStore) Collect(pred Predicate) ([]model.EventRecord, ReadStats, error) {
	var (
		stats   ReadStats
		records []model.EventRecord
		readErr error
	)
	s.scan(pred, &stats, func(rec model.EventRecord, err error) bool {
		if err != nil {
			readErr = err
			return false
		}
		records = append(records, rec)
		return true
	})
	if readErr != nil {
		return nil, stats, readErr
	}
	return records, stats, nil
}

func (s *EventStore) scan(pred Predicate, stats *ReadStats, yield func(model.EventRecord, error) bool) {
	f, err := os.Open(s.path) //nolint:gosec // path comes from validated config
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		yield(model.EventRecord{}, ioErr("open", s.path, err))
		return
	}
	defer f.Close() //nolint:errcheck // read-only file; close error is non-actionable

	r := bufio.NewReader(f)
	lineNo := 0
	for {
		raw, readErr := r.ReadBytes('\n')
		if len(raw) > 0 {
			lineNo++
			if rec, ok := s.decode(raw, lineNo, stats); ok && (pred == nil || pred(rec)) {
				if !yield(rec, nil) {
					return
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			return
		}
		if readErr != nil {
			yield(model.EventRecord{}, ioErr("read", s.path, readErr))
			return
		}
	}
}

func (s *EventStore) decode(raw []byte, lineNo int, stats *ReadStats) (model.EventRecord, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return model.EventRecord{}, false
	}
	stats.Lines++

	var rec model.EventRecord
	err := json.Unmarshal(raw, &rec)
	if err == nil && rec.Kind == "" {
		err = errors.New("missing kind")
	}
	if err != nil {
		stats.Malformed++
		perr := &ParseError{Path: s.path, Line: lineNo, Err: err}
		s.logger.Warn("storage: skipping malformed line", "path", s.path, "line", lineNo, "error", perr)
		s.malformed.Add(context.Background(), 1, metric.WithAttributes(attribute.String("channel", s.Channel())))
		return model.EventRecord{}, false
	}
	if rec.ID == uuid.Nil {
		rec.ID = model.DerivedID(s.Channel(), lineNo, raw)
	}
	stats.Records++
	return rec, true
}
