package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrInput is returned when hook input values cannot be parsed.
var ErrInput = errors.New("model: invalid hook input")

// DefaultInputPrefix is the prefix the command runner puts on every variable.
const DefaultInputPrefix = "MJ2_"

// timestampLayouts are tried in order when parsing TIMESTAMP. The zone-less
// layouts are what Python's datetime.isoformat() emits for naive datetimes.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601 instant. Zone-less values are read as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: TIMESTAMP=%q is not an ISO-8601 instant", ErrInput, s)
}

// ParseInput decodes an environment-style mapping into dst (a pointer to one
// of the *Input structs). Missing numeric keys decode to 0 and missing string
// keys to "". Present but malformed values return ErrInput.
func ParseInput(vars map[string]string, prefix string, dst any) error {
	if err := env.ParseWithOptions(dst, env.Options{
		Environment: vars,
		Prefix:      prefix,
	}); err != nil {
		return fmt.Errorf("%w: %w", ErrInput, err)
	}
	return nil
}

func resolveTimestamp(raw string, now time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return now.UTC(), nil
	}
	return ParseTimestamp(raw)
}

// CommandInput carries pre-command and post-command variables.
type CommandInput struct {
	Command    string `env:"COMMAND"`
	Args       string `env:"ARGS"`
	ExitCode   int64  `env:"EXIT_CODE"`
	DurationMs int64  `env:"DURATION"`
	User       string `env:"USER"`
	Timestamp  string `env:"TIMESTAMP"`
}

// Record builds a command record. Pre-command invocations carry no outcome yet,
// so they are recorded without a status.
func (in CommandInput) Record(now time.Time, completed bool) (EventRecord, error) {
	ts, err := resolveTimestamp(in.Timestamp, now)
	if err != nil {
		return EventRecord{}, err
	}
	status := StatusNone
	phase := "pre"
	if completed {
		status = StatusFromBool(in.ExitCode == 0)
		phase = "post"
	}
	rec := NewRecord(KindCommand, ts, status)
	rec.Tags[TagCommand] = in.Command
	rec.Tags[TagArgs] = in.Args
	rec.Tags[TagUser] = in.User
	rec.Tags[TagPhase] = phase
	if completed {
		rec.Fields[FieldExitCode] = in.ExitCode
		rec.Fields[FieldDurationMs] = in.DurationMs
	}
	return rec, nil
}

// TestRunInput carries on-test-run variables.
type TestRunInput struct {
	Result           string `env:"TEST_RESULT"`
	Total            int64  `env:"TEST_TOTAL"`
	Passed           int64  `env:"TEST_PASSED"`
	Failed           int64  `env:"TEST_FAILED"`
	Coverage         int64  `env:"COVERAGE"`
	CoverageLines    int64  `env:"COVERAGE_LINES"`
	CoverageBranches int64  `env:"COVERAGE_BRANCHES"`
	DurationMs       int64  `env:"TEST_DURATION"`
	Timestamp        string `env:"TIMESTAMP"`
}

// Record builds a test-run record. Result "passed" is success, any other
// non-empty result is failed, and an empty result carries no status.
func (in TestRunInput) Record(now time.Time) (EventRecord, error) {
	ts, err := resolveTimestamp(in.Timestamp, now)
	if err != nil {
		return EventRecord{}, err
	}
	status := StatusNone
	if in.Result != "" {
		status = StatusFromBool(in.Result == "passed")
	}
	rec := NewRecord(KindTestRun, ts, status)
	rec.Tags[TagResult] = in.Result
	rec.Fields[FieldTestsTotal] = in.Total
	rec.Fields[FieldTestsPassed] = in.Passed
	rec.Fields[FieldTestsFailed] = in.Failed
	rec.Fields[FieldCoveragePct] = in.Coverage
	rec.Fields[FieldCoverageLinesPct] = in.CoverageLines
	rec.Fields[FieldCoverageBranchesPct] = in.CoverageBranches
	rec.Fields[FieldDurationMs] = in.DurationMs
	return rec, nil
}

// DeployInput carries on-deploy variables.
type DeployInput struct {
	Environment string `env:"DEPLOY_ENV"`
	Version     string `env:"DEPLOY_VERSION"`
	Strategy    string `env:"DEPLOY_STRATEGY"`
	URL         string `env:"DEPLOY_URL"`
	DurationMs  int64  `env:"DEPLOY_DURATION"`
	Status      string `env:"DEPLOY_STATUS"`
	Timestamp   string `env:"TIMESTAMP"`
}

// Record builds a deploy record.
func (in DeployInput) Record(now time.Time) (EventRecord, error) {
	ts, err := resolveTimestamp(in.Timestamp, now)
	if err != nil {
		return EventRecord{}, err
	}
	rec := NewRecord(KindDeploy, ts, StatusFromBool(in.Status == "success"))
	rec.Tags[TagEnvironment] = in.Environment
	rec.Tags[TagVersion] = in.Version
	rec.Tags[TagStrategy] = in.Strategy
	rec.Tags[TagURL] = in.URL
	rec.Fields[FieldDurationMs] = in.DurationMs
	return rec, nil
}

// SpecInput carries on-spec-created and on-spec-updated variables.
type SpecInput struct {
	ID        string `env:"SPEC_ID"`
	Path      string `env:"SPEC_PATH"`
	Priority  string `env:"SPEC_PRIORITY"`
	Type      string `env:"SPEC_TYPE"`
	Timestamp string `env:"TIMESTAMP"`
}

// Record builds a spec record. Spec events have no pass/fail notion.
func (in SpecInput) Record(now time.Time, phase string) (EventRecord, error) {
	ts, err := resolveTimestamp(in.Timestamp, now)
	if err != nil {
		return EventRecord{}, err
	}
	rec := NewRecord(KindSpecEvent, ts, StatusNone)
	rec.Tags[TagSpecID] = in.ID
	rec.Tags[TagPath] = in.Path
	rec.Tags[TagPriority] = in.Priority
	rec.Tags[TagType] = in.Type
	rec.Tags[TagPhase] = phase
	return rec, nil
}

// SyncInput carries on-sync-done variables.
type SyncInput struct {
	FilesCount int64  `env:"SYNC_FILES_COUNT"`
	DurationMs int64  `env:"SYNC_DURATION"`
	Errors     int64  `env:"SYNC_ERRORS"`
	Timestamp  string `env:"TIMESTAMP"`
}

// Record builds a sync record; a sync without errors is a success.
func (in SyncInput) Record(now time.Time) (EventRecord, error) {
	ts, err := resolveTimestamp(in.Timestamp, now)
	if err != nil {
		return EventRecord{}, err
	}
	rec := NewRecord(KindSync, ts, StatusFromBool(in.Errors == 0))
	rec.Fields[FieldFilesCount] = in.FilesCount
	rec.Fields[FieldDurationMs] = in.DurationMs
	rec.Fields[FieldErrors] = in.Errors
	return rec, nil
}
