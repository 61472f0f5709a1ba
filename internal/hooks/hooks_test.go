package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/ashita-ai/hookmeter/internal/config"
	"github.com/ashita-ai/hookmeter/internal/dispatch"
	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/service/gate"
	"github.com/ashita-ai/hookmeter/internal/service/window"
	"github.com/ashita-ai/hookmeter/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		MetricsDir:          filepath.Join(dir, "metrics"),
		BadgeDir:            filepath.Join(dir, "badges"),
		InputPrefix:         model.DefaultInputPrefix,
		WindowSize:          10,
		ReportPeriod:        "daily",
		ReportTZ:            "UTC",
		CoverageThreshold:   85,
		CoveragePolicy:      gate.Blocking,
		CoverageBands:       gate.DefaultCoverageBands,
		LowCoverageBelow:    70,
		DurationWarnMs:      120000,
		TrackedCommands:     []string{"2-run", "2f-build"},
		SlackEnvironments:   []string{"staging", "production"},
		Badges:              true,
		CollaboratorTimeout: time.Second,
	}
}

var day2 = time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)

func handle(t *testing.T, deps Deps, hook string, env map[string]string, now time.Time) Outcome {
	t.Helper()
	h, ok := Registry(deps)[hook]
	require.True(t, ok, "hook %s", hook)
	out, err := h.Handle(context.Background(), Invocation{Env: env, Now: now})
	require.NoError(t, err)
	return out
}

func TestRegistryNames(t *testing.T) {
	reg := Registry(Deps{Config: testConfig(t)})
	for _, name := range []string{HookPostCommand, HookPreCommand, HookTestRun, HookDeploy, HookSpecCreated, HookSpecUpdated, HookSyncDone} {
		assert.Contains(t, reg, name)
	}
}

func TestCommandHook_TrackedSummaryAndReport(t *testing.T) {
	cfg := testConfig(t)
	deps := Deps{Config: cfg, Logger: testLogger()}

	day1 := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	runs := []struct {
		exit, duration string
		at             time.Time
	}{
		{"0", "1000", day1},
		{"1", "3000", day1.Add(time.Hour)},
		{"0", "2000", day1.Add(2 * time.Hour)},
	}
	for _, r := range runs {
		handle(t, deps, HookPostCommand, map[string]string{
			"MJ2_COMMAND": "2-run", "MJ2_EXIT_CODE": r.exit, "MJ2_DURATION": r.duration,
		}, r.at)
	}

	out := handle(t, deps, HookPostCommand, map[string]string{
		"MJ2_COMMAND": "2-run", "MJ2_EXIT_CODE": "0", "MJ2_DURATION": "2000",
		"MJ2_TIMESTAMP": "2024-01-02T09:00:00",
	}, day2)

	assert.Equal(t, gate.ExitContinue, out.ExitCode)
	require.NotNil(t, out.Stats)
	assert.Equal(t, int64(2000), out.Stats.Average)
	assert.Equal(t, window.Rate{Total: 4, Succeeded: 3, Percent: 75}, out.Stats.Rate)
	assert.Contains(t, out.Lines, "   Total executions: 4")

	require.NotNil(t, out.Report, "first command of the day reports on the previous day")
	assert.Equal(t, "2024-01-01", out.Report.Period)
	assert.Equal(t, 3, out.Report.Total)

	text, err := os.ReadFile(filepath.Join(cfg.MetricsDir, "daily-report-2024-01-01.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(text), "Commands executed:\n  2-run: 3\n")
	assert.Contains(t, string(text), "2/3 (66%)")

	again := handle(t, deps, HookPostCommand, map[string]string{"MJ2_COMMAND": "1-plan"}, day2.Add(time.Hour))
	assert.Nil(t, again.Report)
	assert.Nil(t, again.Stats, "untracked commands get no summary")
}

func TestCommandHook_SlowCommandWarnsWithoutBlocking(t *testing.T) {
	deps := Deps{Config: testConfig(t), Logger: testLogger()}
	out := handle(t, deps, HookPostCommand, map[string]string{
		"MJ2_COMMAND": "1-plan", "MJ2_DURATION": "150000",
	}, day2)

	require.NotNil(t, out.Verdict)
	assert.False(t, out.Verdict.Pass)
	assert.Equal(t, gate.ExitContinue, out.ExitCode)
	found := false
	for _, l := range out.Lines {
		if strings.Contains(l, "longer than expected") {
			found = true
		}
	}
	assert.True(t, found, "lines: %q", out.Lines)
}

func TestCommandHook_MalformedInput(t *testing.T) {
	deps := Deps{Config: testConfig(t), Logger: testLogger()}
	h := Registry(deps)[HookPostCommand]
	_, err := h.Handle(context.Background(), Invocation{Env: map[string]string{"MJ2_EXIT_CODE": "zero"}, Now: day2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInput))
}

func TestPreCommandHook_RecordsWithoutStatus(t *testing.T) {
	cfg := testConfig(t)
	out := handle(t, Deps{Config: cfg, Logger: testLogger()}, HookPreCommand, map[string]string{"MJ2_COMMAND": "2-run"}, day2)
	assert.Equal(t, gate.ExitContinue, out.ExitCode)
	assert.False(t, out.Record.HasStatus())

	recs, _, err := storage.NewEventStore(filepath.Join(cfg.MetricsDir, ChannelPreCommands), testLogger()).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "pre", recs[0].Tag(model.TagPhase))
}

type alertCapture struct {
	mu       sync.Mutex
	payloads []map[string]any
}

func (a *alertCapture) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		a.mu.Lock()
		a.payloads = append(a.payloads, body)
		a.mu.Unlock()
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTestRunHook_BelowThresholdBlocksAndAlerts(t *testing.T) {
	cfg := testConfig(t)
	capture := &alertCapture{}
	srv := capture.server(t)

	badges := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<svg>" + r.URL.EscapedPath() + "</svg>"))
	}))
	t.Cleanup(badges.Close)

	deps := Deps{
		Config: cfg,
		Logger: testLogger(),
		Alerts: dispatch.NewWebhook(srv.URL),
		Badges: dispatch.NewShieldsBadge(badges.URL),
	}

	for _, c := range []string{"70", "70"} {
		handle(t, deps, HookTestRun, map[string]string{"MJ2_COVERAGE": c, "MJ2_TEST_RESULT": "passed"}, day2)
	}
	out := handle(t, deps, HookTestRun, map[string]string{
		"MJ2_COVERAGE": "72", "MJ2_TEST_RESULT": "passed", "MJ2_TIMESTAMP": "2024-01-02T10:00:00Z",
	}, day2)

	assert.Equal(t, gate.ExitBlocked, out.ExitCode)
	require.NotNil(t, out.Verdict)
	assert.Equal(t, int64(13), out.Verdict.Deficit)
	assert.Equal(t, "yellow", out.Band)
	assert.Empty(t, out.Warnings)

	require.Len(t, capture.payloads, 3)
	last := capture.payloads[2]
	assert.Equal(t, "coverage_low", last["type"])
	assert.InDelta(t, 72, last["coverage"], 0)
	assert.InDelta(t, 85, last["threshold"], 0)
	assert.InDelta(t, 13, last["diff"], 0)
	assert.Equal(t, "2024-01-02T10:00:00Z", last["timestamp"])

	require.NotNil(t, out.Stats)
	assert.Equal(t, []int64{70, 70, 72}, out.Stats.Values)
	assert.Equal(t, window.Trend{Direction: window.Increasing, Delta: 2}, out.Stats.Trend)

	svg, err := os.ReadFile(filepath.Join(cfg.BadgeDir, CoverageBadgeFile))
	require.NoError(t, err)
	assert.Equal(t, "<svg>/badge/coverage-72%25-yellow</svg>", string(svg))
}

func TestTestRunHook_AdvisoryPolicyNeverBlocks(t *testing.T) {
	cfg := testConfig(t)
	cfg.CoveragePolicy = gate.Advisory
	out := handle(t, Deps{Config: cfg, Logger: testLogger()}, HookTestRun, map[string]string{"MJ2_COVERAGE": "10"}, day2)
	assert.Equal(t, gate.ExitContinue, out.ExitCode)
	assert.False(t, out.Verdict.Pass)
}

func TestTestRunHook_PassingCoverage(t *testing.T) {
	cfg := testConfig(t)
	capture := &alertCapture{}
	srv := capture.server(t)

	out := handle(t, Deps{Config: cfg, Logger: testLogger(), Alerts: dispatch.NewWebhook(srv.URL)},
		HookTestRun, map[string]string{"MJ2_COVERAGE": "91"}, day2)
	assert.Equal(t, gate.ExitContinue, out.ExitCode)
	assert.Equal(t, "brightgreen", out.Band)
	assert.Empty(t, capture.payloads)
	assert.Nil(t, out.Stats, "a single run has no trend")
}

func TestTestRunHook_LowCoverageReport(t *testing.T) {
	cfg := testConfig(t)
	handle(t, Deps{Config: cfg, Logger: testLogger()}, HookTestRun, map[string]string{
		"MJ2_COVERAGE": "55", "MJ2_COVERAGE_LINES": "60", "MJ2_COVERAGE_BRANCHES": "40",
		"MJ2_TEST_TOTAL": "10", "MJ2_TEST_PASSED": "9", "MJ2_TEST_FAILED": "1",
	}, day2)

	matches, err := filepath.Glob(filepath.Join(cfg.MetricsDir, "low-coverage-report-*.txt"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "low-coverage-report-20240102_090000.txt", filepath.Base(matches[0]))

	text, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(text), "Difference: -30%")
	assert.Contains(t, string(text), "  Branches: 40%")
}

func TestTestRunHook_CollaboratorFailuresAreWarnings(t *testing.T) {
	cfg := testConfig(t)
	cfg.CoveragePolicy = gate.Advisory
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(down.Close)

	out := handle(t, Deps{
		Config: cfg,
		Logger: testLogger(),
		Alerts: dispatch.NewWebhook(down.URL),
		Badges: dispatch.NewShieldsBadge(down.URL),
	}, HookTestRun, map[string]string{"MJ2_COVERAGE": "80"}, day2)

	assert.Equal(t, gate.ExitContinue, out.ExitCode)
	assert.Len(t, out.Warnings, 2, "alert and badge failures: %q", out.Warnings)
}

func TestTestRunHook_BadBandsAreConfigErrors(t *testing.T) {
	cfg := testConfig(t)
	cfg.CoverageBands = gate.Bands{{Min: 90, Label: "good"}}
	h := Registry(Deps{Config: cfg, Logger: testLogger()})[HookTestRun]

	_, err := h.Handle(context.Background(), Invocation{Env: map[string]string{"MJ2_COVERAGE": "50"}, Now: day2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, gate.ErrConfig))

	_, statErr := os.Stat(filepath.Join(cfg.MetricsDir, ChannelCoverage))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "nothing is appended on a config error")
}

type captureNotifier struct {
	decisions []dispatch.Decision
	payloads  []dispatch.Payload
}

func (c *captureNotifier) Notify(_ context.Context, d dispatch.Decision, p dispatch.Payload) error {
	c.decisions = append(c.decisions, d)
	c.payloads = append(c.payloads, p)
	return nil
}

func TestDeployHook(t *testing.T) {
	cfg := testConfig(t)
	notifier := &captureNotifier{}
	deps := Deps{Config: cfg, Logger: testLogger(), Deploys: notifier}

	handle(t, deps, HookDeploy, map[string]string{"MJ2_DEPLOY_ENV": "production", "MJ2_DEPLOY_STATUS": "success"}, day2)
	handle(t, deps, HookDeploy, map[string]string{"MJ2_DEPLOY_ENV": "staging", "MJ2_DEPLOY_STATUS": "failed"}, day2)
	out := handle(t, deps, HookDeploy, map[string]string{
		"MJ2_DEPLOY_ENV": "production", "MJ2_DEPLOY_STATUS": "failed",
		"MJ2_DEPLOY_VERSION": "v2", "MJ2_DEPLOY_DURATION": "3000",
	}, day2)

	assert.Equal(t, gate.ExitContinue, out.ExitCode)
	require.NotNil(t, out.Stats)
	assert.Equal(t, window.Rate{Total: 2, Succeeded: 1, Percent: 50}, out.Stats.Rate, "rate is per environment")

	require.Len(t, notifier.decisions, 3)
	assert.Equal(t, []dispatch.Decision{dispatch.OK, dispatch.Alert, dispatch.Alert}, notifier.decisions)
	assert.Equal(t, "v2", notifier.payloads[2].Field(dispatch.FieldVersion))
	assert.Equal(t, "3000", notifier.payloads[2].Field(dispatch.FieldDurationMs))
}

type fakeUploader struct {
	backups []dispatch.Backup
	err     error
}

func (f *fakeUploader) Upload(_ context.Context, b dispatch.Backup) (dispatch.UploadResult, error) {
	f.backups = append(f.backups, b)
	if f.err != nil {
		return dispatch.UploadResult{}, f.err
	}
	return dispatch.UploadResult{Bucket: "b", BackupKey: "backups/" + b.ID, LatestKey: "latest/" + b.ID, MetadataKey: "metadata/" + b.ID}, nil
}

func TestSpecHook_BacksUpSpec(t *testing.T) {
	cfg := testConfig(t)
	specPath := filepath.Join(t.TempDir(), "SPEC-001.md")
	require.NoError(t, os.WriteFile(specPath, []byte("# SPEC-001\n"), 0o644))

	up := &fakeUploader{}
	out := handle(t, Deps{Config: cfg, Logger: testLogger(), Uploader: up}, HookSpecCreated, map[string]string{
		"MJ2_SPEC_ID": "SPEC-001", "MJ2_SPEC_PATH": specPath, "MJ2_SPEC_PRIORITY": "high",
	}, day2)

	require.Len(t, up.backups, 1)
	assert.Equal(t, "# SPEC-001\n", string(up.backups[0].Body))
	assert.Equal(t, "high", up.backups[0].Priority)
	require.NotNil(t, out.Uploaded)
	assert.Equal(t, "created", out.Record.Tag(model.TagPhase))
	assert.Empty(t, out.Warnings)
}

func TestSpecHook_MissingFileStillRecords(t *testing.T) {
	cfg := testConfig(t)
	up := &fakeUploader{}
	out := handle(t, Deps{Config: cfg, Logger: testLogger(), Uploader: up}, HookSpecUpdated, map[string]string{
		"MJ2_SPEC_ID": "SPEC-404", "MJ2_SPEC_PATH": filepath.Join(t.TempDir(), "missing.md"),
	}, day2)

	assert.Equal(t, gate.ExitContinue, out.ExitCode)
	assert.Empty(t, up.backups)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "spec file not found")

	recs, _, err := storage.NewEventStore(filepath.Join(cfg.MetricsDir, ChannelSpecs), testLogger()).ReadAll()
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestSpecHook_UploadFailureIsWarning(t *testing.T) {
	cfg := testConfig(t)
	specPath := filepath.Join(t.TempDir(), "SPEC-002.md")
	require.NoError(t, os.WriteFile(specPath, []byte("x"), 0o644))

	out := handle(t, Deps{Config: cfg, Logger: testLogger(), Uploader: &fakeUploader{err: errors.New("AccessDenied")}},
		HookSpecCreated, map[string]string{"MJ2_SPEC_ID": "SPEC-002", "MJ2_SPEC_PATH": specPath}, day2)
	assert.Equal(t, gate.ExitContinue, out.ExitCode)
	assert.Nil(t, out.Uploaded)
	require.Len(t, out.Warnings, 1)
}

func TestSyncHook(t *testing.T) {
	deps := Deps{Config: testConfig(t), Logger: testLogger()}
	handle(t, deps, HookSyncDone, map[string]string{"MJ2_SYNC_FILES_COUNT": "10"}, day2)
	out := handle(t, deps, HookSyncDone, map[string]string{"MJ2_SYNC_FILES_COUNT": "20", "MJ2_SYNC_ERRORS": "2"}, day2)

	assert.Equal(t, gate.ExitContinue, out.ExitCode, "sync errors never block")
	assert.False(t, out.Verdict.Pass)
	assert.Equal(t, int64(15), out.Stats.Average)
	assert.Equal(t, int64(50), out.Stats.Rate.Percent)
}

func TestGateFailuresAreCounted(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	deps := Deps{Config: testConfig(t), Logger: testLogger(), Meter: provider.Meter("hooks-test")}
	handle(t, deps, HookTestRun, map[string]string{"MJ2_COVERAGE": "60"}, day2)
	handle(t, deps, HookTestRun, map[string]string{"MJ2_COVERAGE": "95"}, day2)
	handle(t, deps, HookPostCommand, map[string]string{"MJ2_COMMAND": "1-plan", "MJ2_DURATION": "150000"}, day2)
	handle(t, deps, HookSyncDone, map[string]string{"MJ2_SYNC_ERRORS": "1"}, day2)
	handle(t, deps, HookSyncDone, map[string]string{"MJ2_SYNC_ERRORS": "0"}, day2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	got := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "hookmeter.gate.failures" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				hook, _ := dp.Attributes.Value(attribute.Key("hook"))
				policy, _ := dp.Attributes.Value(attribute.Key("policy"))
				got[hook.AsString()+"/"+policy.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{
		"test-run/blocking":     1,
		"post-command/advisory": 1,
		"sync-done/advisory":    1,
	}, got)
}

type failingReplica struct{ calls int }

func (f *failingReplica) Mirror(context.Context, string, model.EventRecord) error {
	f.calls++
	return errors.New("connection refused")
}

func TestReplicaFailureIsWarning(t *testing.T) {
	rep := &failingReplica{}
	out := handle(t, Deps{Config: testConfig(t), Logger: testLogger(), Replica: rep}, HookPreCommand,
		map[string]string{"MJ2_COMMAND": "x"}, day2)
	assert.Equal(t, 1, rep.calls)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "mirror")
}

func TestAppendFailureIsError(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(cfg.MetricsDir), 0o755))
	require.NoError(t, os.WriteFile(cfg.MetricsDir, []byte("not a dir"), 0o644))

	h := Registry(Deps{Config: cfg, Logger: testLogger()})[HookSyncDone]
	_, err := h.Handle(context.Background(), Invocation{Env: map[string]string{}, Now: day2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrIO))
}
