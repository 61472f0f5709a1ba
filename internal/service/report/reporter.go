// Package report generates at most one summary per calendar period per
// channel. The period marker is claimed atomically, so repeated or concurrent
// invocations within a period emit zero or one report.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/storage"
	"github.com/ashita-ai/hookmeter/internal/telemetry"
)

// UnknownCategory groups records that lack the category tag.
const UnknownCategory = "unknown"

// Category is one row of a summary.
type Category struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// Summary aggregates one completed period of a channel.
type Summary struct {
	Channel     string     `json:"channel"`
	Period      string     `json:"period"`
	Granularity string     `json:"granularity"`
	Categories  []Category `json:"categories"` // sorted by name
	Total       int        `json:"total"`
	Rated       int        `json:"rated"` // records with a status
	Succeeded   int        `json:"succeeded"`
	Percent     int64      `json:"success_pct"` // floor(succeeded*100/rated)
	Malformed   int        `json:"malformed_lines"`
	GeneratedAt time.Time  `json:"generated_at"`

	Path string `json:"-"` // text report location
}

// Reporter drives the period state machine for one channel.
type Reporter struct {
	Store       *storage.EventStore
	Marker      *storage.Marker
	Granularity Granularity
	Location    *time.Location // period boundaries; nil means UTC

	CategoryTag string // tag the summary counts by
	Title       string // first line of the text report
	Heading     string // label above the category counts
	Dir         string // report directory
	Logger      *slog.Logger

	emitted metric.Int64Counter
}

// New returns a reporter with defaults for every optional field.
func New(store *storage.EventStore, marker *storage.Marker, g Granularity, categoryTag, dir string, logger *slog.Logger) *Reporter {
	if g == nil {
		g = Daily{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		Store:       store,
		Marker:      marker,
		Granularity: g,
		Location:    time.UTC,
		CategoryTag: categoryTag,
		Title:       titleFor(g),
		Heading:     "Events by " + categoryTag + ":",
		Dir:         dir,
		Logger:      logger,
		emitted:     telemetry.Counter("hookmeter/report", "hookmeter.reports.emitted", "Period reports written"),
	}
}

func titleFor(g Granularity) string {
	name := g.Name()
	if name == "" {
		return "Report"
	}
	return strings.ToUpper(name[:1]) + name[1:] + " Report"
}

// ReportPath is where the text report for period is written.
func (r *Reporter) ReportPath(period string) string {
	return filepath.Join(r.Dir, fmt.Sprintf("%s-report-%s.txt", r.Granularity.Name(), period))
}

// Run advances the state machine at now. When the marker differs from the
// current period, the previous period is replayed and summarized and the
// marker moves to the current period. It returns the emitted summary, or nil
// when no report was due, the previous period had no records, or another
// invocation holds the transition.
func (r *Reporter) Run(ctx context.Context, now time.Time) (*Summary, error) {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	current := r.Granularity.Key(local)
	previous := r.Granularity.Previous(local)

	var summary *Summary
	claimed, err := r.Marker.Claim(current, func(string) error {
		s, err := r.summarize(ctx, previous, loc)
		if err != nil {
			return err
		}
		if s.Total == 0 {
			r.Logger.Info("report: no records for period, advancing marker",
				"channel", r.Store.Channel(), "period", previous)
			return nil
		}
		s.GeneratedAt = now.UTC()
		if err := r.write(s); err != nil {
			return err
		}
		summary = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("report: %s: %w", r.Store.Channel(), err)
	}
	if !claimed || summary == nil {
		return nil, nil
	}

	if r.emitted != nil {
		r.emitted.Add(ctx, 1, metric.WithAttributes(
			attribute.String("channel", summary.Channel),
			attribute.String("granularity", summary.Granularity),
		))
	}
	r.Logger.Info("report: emitted",
		"channel", summary.Channel, "period", summary.Period,
		"total", summary.Total, "path", summary.Path)
	return summary, nil
}

// Summarize replays the channel for period without touching the marker.
func (r *Reporter) Summarize(ctx context.Context, period string) (*Summary, error) {
	loc := r.Location
	if loc == nil {
		loc = time.UTC
	}
	return r.summarize(ctx, period, loc)
}

func (r *Reporter) summarize(ctx context.Context, period string, loc *time.Location) (*Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inPeriod := func(rec model.EventRecord) bool {
		return r.Granularity.Key(rec.Timestamp.In(loc)) == period
	}
	records, stats, err := r.Store.Collect(inPeriod)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	s := &Summary{
		Channel:     r.Store.Channel(),
		Period:      period,
		Granularity: r.Granularity.Name(),
		Malformed:   stats.Malformed,
	}
	for _, rec := range records {
		s.Total++
		if rec.HasStatus() {
			s.Rated++
		}
		if rec.Succeeded() {
			s.Succeeded++
		}
		name := rec.Tag(r.CategoryTag)
		if name == "" {
			name = UnknownCategory
		}
		counts[name]++
	}
	for name, n := range counts {
		s.Categories = append(s.Categories, Category{Name: name, Count: n})
	}
	sort.Slice(s.Categories, func(i, j int) bool { return s.Categories[i].Name < s.Categories[j].Name })
	if s.Rated > 0 {
		s.Percent = int64(s.Succeeded*100) / int64(s.Rated)
	}
	return s, nil
}

func (r *Reporter) write(s *Summary) error {
	s.Path = r.ReportPath(s.Period)
	if err := storage.WriteFileAtomic(s.Path, []byte(r.Render(s)), 0o644); err != nil {
		return fmt.Errorf("%w: write report %s: %w", storage.ErrIO, s.Path, err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("report: marshal summary: %w", err)
	}
	jsonPath := strings.TrimSuffix(s.Path, ".txt") + ".json"
	if err := storage.WriteFileAtomic(jsonPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("%w: write report %s: %w", storage.ErrIO, jsonPath, err)
	}
	return nil
}

// Render formats a summary as the human-readable report text.
func (r *Reporter) Render(s *Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s - %s\n", r.Title, s.Period)
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	b.WriteString(r.Heading + "\n")
	for _, c := range s.Categories {
		fmt.Fprintf(&b, "  %s: %d\n", c.Name, c.Count)
	}
	b.WriteString("\nSuccess rate:\n")
	fmt.Fprintf(&b, "  %d/%d (%d%%)\n", s.Succeeded, s.Rated, s.Percent)
	if s.Malformed > 0 {
		fmt.Fprintf(&b, "\nSkipped malformed lines: %d\n", s.Malformed)
	}
	return b.String()
}
