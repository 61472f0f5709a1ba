// Package hooks implements the lifecycle hook handlers. Every handler follows
// the same pipeline: parse the runner's input, append one record to its
// channel, aggregate a window of recent records, evaluate gates, run the
// periodic reporter where configured and hand decisions to collaborators.
//
// Store failures and malformed configuration are returned as errors.
// Collaborator failures become warnings on the Outcome and never change the
// exit code.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hookmeter/internal/config"
	"github.com/ashita-ai/hookmeter/internal/dispatch"
	"github.com/ashita-ai/hookmeter/internal/mirror"
	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/service/gate"
	"github.com/ashita-ai/hookmeter/internal/service/report"
	"github.com/ashita-ai/hookmeter/internal/service/window"
	"github.com/ashita-ai/hookmeter/internal/storage"
	"github.com/ashita-ai/hookmeter/internal/telemetry"
)

// Channel file names under the metrics directory.
const (
	ChannelCommands    = "commands.jsonl"
	ChannelPreCommands = "commands-pre.jsonl"
	ChannelCoverage    = "coverage-history.jsonl"
	ChannelDeploys     = "deploys.jsonl"
	ChannelSpecs       = "specs.jsonl"
	ChannelSyncs       = "syncs.jsonl"

	// ReportMarker is the command channel's period marker.
	ReportMarker = ".last_report"
)

// Hook names as passed by the runner.
const (
	HookPostCommand = "post-command"
	HookPreCommand  = "pre-command"
	HookTestRun     = "test-run"
	HookDeploy      = "deploy"
	HookSpecCreated = "spec-created"
	HookSpecUpdated = "spec-updated"
	HookSyncDone    = "sync-done"
)

// Invocation is one firing of a hook.
type Invocation struct {
	Env map[string]string // runner variables, usually the process environment
	Now time.Time
}

// Outcome is what a handler computed. Lines is the human summary for the
// runner's console.
type Outcome struct {
	Hook     string                 `json:"hook"`
	ExitCode int                    `json:"exit_code"`
	Record   model.EventRecord      `json:"record"`
	Stats    *window.Stats          `json:"stats,omitempty"`
	Verdict  *gate.Verdict          `json:"verdict,omitempty"`
	Band     string                 `json:"band,omitempty"`
	Report   *report.Summary        `json:"report,omitempty"`
	Uploaded *dispatch.UploadResult `json:"uploaded,omitempty"`
	Lines    []string               `json:"lines,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
}

func (o *Outcome) say(format string, args ...any) {
	o.Lines = append(o.Lines, fmt.Sprintf(format, args...))
}

func (o *Outcome) warn(err error) {
	if err != nil {
		o.Warnings = append(o.Warnings, err.Error())
	}
}

// Handler processes one hook.
type Handler interface {
	Name() string
	Handle(ctx context.Context, inv Invocation) (Outcome, error)
}

// Deps are the collaborators shared by all handlers. Nil collaborators are
// treated as unconfigured.
type Deps struct {
	Config   config.Config
	Logger   *slog.Logger
	Guard    *dispatch.Guard
	Alerts   dispatch.Notifier     // coverage alerts
	Deploys  dispatch.Notifier     // deploy announcements
	Uploader dispatch.Uploader     // spec backups
	Badges   dispatch.BadgeFetcher // coverage badge
	Replica  mirror.Replica        // optional database mirror
	Meter    metric.Meter          // nil uses the global provider

	gateFailures metric.Int64Counter
}

func (d *Deps) normalize() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Guard == nil {
		d.Guard = dispatch.NewGuard(d.Logger)
	}
	if d.Alerts == nil {
		d.Alerts = dispatch.Noop{}
	}
	if d.Deploys == nil {
		d.Deploys = dispatch.Noop{}
	}
	if d.Meter == nil {
		d.Meter = telemetry.Meter("hookmeter/hooks")
	}
	d.gateFailures = telemetry.CounterOn(d.Meter, "hookmeter.gate.failures", "Failing gate verdicts by hook and policy")
	if d.Config.WindowSize <= 0 {
		d.Config.WindowSize = window.DefaultSize
	}
	if d.Config.InputPrefix == "" {
		d.Config.InputPrefix = model.DefaultInputPrefix
	}
}

// store opens the named channel under the metrics directory.
func (d *Deps) store(channel string) *storage.EventStore {
	return storage.NewEventStore(filepath.Join(d.Config.MetricsDir, channel), d.Logger)
}

// appendRecord persists rec and mirrors it when a replica is configured.
func (d *Deps) appendRecord(ctx context.Context, s *storage.EventStore, rec model.EventRecord, out *Outcome) error {
	if err := s.Append(ctx, rec); err != nil {
		return err
	}
	out.Record = rec
	if d.Replica != nil {
		out.warn(d.Guard.Do(ctx, "mirror", func(ctx context.Context) error {
			return d.Replica.Mirror(ctx, s.Channel(), rec)
		}))
	}
	return nil
}

// gateFailed counts a failing verdict.
func (d *Deps) gateFailed(ctx context.Context, hook string, policy gate.Policy) {
	d.gateFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("hook", hook),
		attribute.String("policy", policy.String()),
	))
}

func (d *Deps) parse(inv Invocation, dst any) error {
	return model.ParseInput(inv.Env, d.Config.InputPrefix, dst)
}

// Registry returns every handler keyed by hook name.
func Registry(d Deps) map[string]Handler {
	d.normalize()
	deps := &d
	handlers := []Handler{
		&CommandHook{deps: deps},
		&PreCommandHook{deps: deps},
		&TestRunHook{deps: deps},
		&DeployHook{deps: deps},
		&SpecHook{deps: deps, phase: "created"},
		&SpecHook{deps: deps, phase: "updated"},
		&SyncHook{deps: deps},
	}
	out := make(map[string]Handler, len(handlers))
	for _, h := range handlers {
		out[h.Name()] = h
	}
	return out
}
