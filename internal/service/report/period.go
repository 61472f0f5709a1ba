package report

import (
	"fmt"
	"strings"
	"time"
)

// Granularity buckets instants into calendar periods. Key and Previous
// operate on the wall clock of the time they are given; callers convert to
// the reporting location first.
type Granularity interface {
	// Name is the granularity's config name and report file prefix.
	Name() string
	// Key is the period containing t.
	Key(t time.Time) string
	// Previous is the period immediately before the one containing t.
	Previous(t time.Time) string
}

// Daily periods are calendar days, keyed 2006-01-02.
type Daily struct{}

func (Daily) Name() string { return "daily" }

func (Daily) Key(t time.Time) string { return t.Format(time.DateOnly) }

func (d Daily) Previous(t time.Time) string { return d.Key(t.AddDate(0, 0, -1)) }

// Weekly periods are ISO-8601 weeks, keyed 2006-W01.
type Weekly struct{}

func (Weekly) Name() string { return "weekly" }

func (Weekly) Key(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func (w Weekly) Previous(t time.Time) string { return w.Key(t.AddDate(0, 0, -7)) }

// Monthly periods are calendar months, keyed 2006-01.
type Monthly struct{}

func (Monthly) Name() string { return "monthly" }

func (Monthly) Key(t time.Time) string { return t.Format("2006-01") }

func (m Monthly) Previous(t time.Time) string {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return m.Key(first.AddDate(0, -1, 0))
}

// ParseGranularity resolves a config name. Empty means daily.
func ParseGranularity(name string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "daily", "day":
		return Daily{}, nil
	case "weekly", "week":
		return Weekly{}, nil
	case "monthly", "month":
		return Monthly{}, nil
	default:
		return nil, fmt.Errorf("report: unknown period %q (want daily, weekly or monthly)", name)
	}
}
