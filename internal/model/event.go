// Package model defines the core domain types for hookmeter.
//
// An EventRecord is one observation of a lifecycle hook firing. Records are
// appended to a channel log and never mutated or deleted afterwards; every
// aggregate is recomputed from the raw log.
package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind is the category of an observed event.
type Kind string

const (
	KindCommand        Kind = "command"
	KindTestRun        Kind = "test_run"
	KindCoverageSample Kind = "coverage_sample"
	KindDeploy         Kind = "deploy"
	KindSpecEvent      Kind = "spec_event"
	KindSync           Kind = "sync"
)

var knownKinds = []Kind{
	KindCommand,
	KindTestRun,
	KindCoverageSample,
	KindDeploy,
	KindSpecEvent,
	KindSync,
}

// IsKnownKind reports whether k is one of the defined kinds.
func IsKnownKind(k Kind) bool {
	for _, known := range knownKinds {
		if known == k {
			return true
		}
	}
	return false
}

// Status is the pass/fail outcome of an event. Empty for kinds without one.
type Status string

const (
	StatusNone    Status = ""
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// StatusFromBool maps ok to success or failed.
func StatusFromBool(ok bool) Status {
	if ok {
		return StatusSuccess
	}
	return StatusFailed
}

// Metric field names.
const (
	FieldDurationMs          = "duration_ms"
	FieldExitCode            = "exit_code"
	FieldCoveragePct         = "coverage_pct"
	FieldCoverageLinesPct    = "coverage_lines_pct"
	FieldCoverageBranchesPct = "coverage_branches_pct"
	FieldTestsTotal          = "tests_total"
	FieldTestsPassed         = "tests_passed"
	FieldTestsFailed         = "tests_failed"
	FieldFilesCount          = "files_count"
	FieldErrors              = "errors"
)

// Tag keys.
const (
	TagCommand     = "command"
	TagArgs        = "args"
	TagUser        = "user"
	TagEnvironment = "environment"
	TagVersion     = "version"
	TagStrategy    = "strategy"
	TagURL         = "url"
	TagSpecID      = "spec_id"
	TagPriority    = "priority"
	TagType        = "type"
	TagResult      = "result"
	TagPath        = "path"
	TagPhase       = "phase"
)

// EventRecord is an append-only observation in a channel log.
// Source of truth. Never mutated or deleted.
type EventRecord struct {
	ID        uuid.UUID         `json:"id"`
	Kind      Kind              `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	Status    Status            `json:"status,omitempty"`
	Fields    map[string]int64  `json:"numericFields,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// UnmarshalJSON decodes a record, also accepting the numeric_fields key
// written by earlier releases.
func (r *EventRecord) UnmarshalJSON(data []byte) error {
	type plain EventRecord
	aux := struct {
		*plain
		LegacyFields map[string]int64 `json:"numeric_fields"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(r.Fields) == 0 && len(aux.LegacyFields) > 0 {
		r.Fields = aux.LegacyFields
	}
	return nil
}

// recordNamespace seeds DerivedID.
var recordNamespace = uuid.MustParse("6f1c2b9e-3d4a-5e8f-9a0b-1c2d3e4f5a6b")

// DerivedID returns a deterministic ID for a record persisted without one,
// keyed by its channel, its 1-based position there and its encoded content.
// Replaying the same append-only channel always yields the same IDs.
func DerivedID(channel string, seq int, content []byte) uuid.UUID {
	return uuid.NewSHA1(recordNamespace, fmt.Appendf(nil, "%s\x00%d\x00%s", channel, seq, content))
}

// NewRecord returns a record with a fresh ID and non-nil maps.
func NewRecord(kind Kind, ts time.Time, status Status) EventRecord {
	return EventRecord{
		ID:        uuid.New(),
		Kind:      kind,
		Timestamp: ts.UTC(),
		Status:    status,
		Fields:    map[string]int64{},
		Tags:      map[string]string{},
	}
}

// Field returns the numeric field value, or 0 when the record lacks it.
func (r EventRecord) Field(name string) int64 {
	return r.Fields[name]
}

// Tag returns the tag value, or "" when absent.
func (r EventRecord) Tag(key string) string {
	return r.Tags[key]
}

// Succeeded reports whether the record carries a success status.
func (r EventRecord) Succeeded() bool {
	return r.Status == StatusSuccess
}

// HasStatus reports whether the record's kind carries a pass/fail notion.
func (r EventRecord) HasStatus() bool {
	return r.Status != StatusNone
}
