// Package window computes rolling statistics over the most recent records of
// a channel. All functions are pure and deterministic: results depend only on
// the input slice and field name, so they are recomputed fresh on every query.
package window

import (
	"github.com/ashita-ai/hookmeter/internal/model"
)

// DefaultSize is the window used by the hook summaries ("last 10 runs").
const DefaultSize = 10

// Direction is the sign of a trend.
type Direction string

const (
	Increasing Direction = "increasing"
	Decreasing Direction = "decreasing"
	Stable     Direction = "stable"
)

// Trend compares the first and last element of a window.
type Trend struct {
	Direction Direction `json:"direction"`
	Delta     int64     `json:"delta"` // last - first
}

// Rate is a success ratio over records that carry a status.
type Rate struct {
	Total     int   `json:"total"`
	Succeeded int   `json:"succeeded"`
	Percent   int64 `json:"percent"` // floor(succeeded*100/total); 0 when total is 0
}

// Stats bundles the window statistics the hooks print and dispatch.
type Stats struct {
	Field   string  `json:"field"`
	Size    int     `json:"size"`
	Values  []int64 `json:"values"`
	Average int64   `json:"average"`
	Trend   Trend   `json:"trend"`
	Rate    Rate    `json:"rate"`
}

// LastN returns the final n elements of s, or all of s when it is shorter.
// n <= 0 yields an empty slice. The result never aliases s.
func LastN[T any](s []T, n int) []T {
	if n <= 0 || len(s) == 0 {
		return []T{}
	}
	if n > len(s) {
		n = len(s)
	}
	out := make([]T, n)
	copy(out, s[len(s)-n:])
	return out
}

// Values extracts field from each record. Records lacking the field yield 0.
func Values(records []model.EventRecord, field string) []int64 {
	out := make([]int64, len(records))
	for i, r := range records {
		out[i] = r.Field(field)
	}
	return out
}

// Average returns the floor average of field across records. The average of
// an empty window is 0; callers that must tell "no data" from "zero" check
// len(records) first.
func Average(records []model.EventRecord, field string) int64 {
	if len(records) == 0 {
		return 0
	}
	var sum int64
	for _, r := range records {
		sum += r.Field(field)
	}
	return floorDiv(sum, int64(len(records)))
}

// TrendOf compares the first and last records of the window on field.
// Windows with fewer than two records are stable with delta 0.
func TrendOf(records []model.EventRecord, field string) Trend {
	if len(records) == 0 {
		return Trend{Direction: Stable}
	}
	delta := records[len(records)-1].Field(field) - records[0].Field(field)
	switch {
	case delta > 0:
		return Trend{Direction: Increasing, Delta: delta}
	case delta < 0:
		return Trend{Direction: Decreasing, Delta: delta}
	default:
		return Trend{Direction: Stable}
	}
}

// SuccessRate counts successes among records that carry a status. Records
// without a pass/fail notion are ignored.
func SuccessRate(records []model.EventRecord) Rate {
	var rate Rate
	for _, r := range records {
		if !r.HasStatus() {
			continue
		}
		rate.Total++
		if r.Succeeded() {
			rate.Succeeded++
		}
	}
	if rate.Total > 0 {
		rate.Percent = int64(rate.Succeeded*100) / int64(rate.Total)
	}
	return rate
}

// Summarize computes all window statistics over the last n records.
func Summarize(records []model.EventRecord, field string, n int) Stats {
	w := LastN(records, n)
	return Stats{
		Field:   field,
		Size:    len(w),
		Values:  Values(w, field),
		Average: Average(w, field),
		Trend:   TrendOf(w, field),
		Rate:    SuccessRate(w),
	}
}

// floorDiv rounds toward negative infinity, unlike Go's truncating division.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
