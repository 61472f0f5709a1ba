package hooks

import (
	"context"
	"path/filepath"
	"slices"

	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/service/gate"
	"github.com/ashita-ai/hookmeter/internal/service/report"
	"github.com/ashita-ai/hookmeter/internal/service/window"
	"github.com/ashita-ai/hookmeter/internal/storage"
)

// CommandHook records completed commands, summarizes tracked commands, warns
// on slow runs and emits the periodic command report.
type CommandHook struct {
	deps *Deps
}

func (h *CommandHook) Name() string { return HookPostCommand }

func (h *CommandHook) Handle(ctx context.Context, inv Invocation) (Outcome, error) {
	d := h.deps
	out := Outcome{Hook: h.Name()}

	var in model.CommandInput
	if err := d.parse(inv, &in); err != nil {
		return out, err
	}
	rec, err := in.Record(inv.Now, true)
	if err != nil {
		return out, err
	}

	s := d.store(ChannelCommands)
	if err := d.appendRecord(ctx, s, rec, &out); err != nil {
		return out, err
	}
	out.say("Metrics recorded to %s", s.Path())

	if slices.Contains(d.Config.TrackedCommands, in.Command) {
		history, _, err := s.Collect(storage.And(
			storage.KindIs(model.KindCommand),
			storage.TagEquals(model.TagCommand, in.Command),
		))
		if err != nil {
			return out, err
		}
		if len(history) > 0 {
			rate := window.SuccessRate(history)
			stats := window.Summarize(history, model.FieldDurationMs, d.Config.WindowSize)
			stats.Rate = rate // full history, not just the window
			out.Stats = &stats
			out.say("Command: %s", in.Command)
			out.say("   Total executions: %d", len(history))
			out.say("   Success rate: %d%%", rate.Percent)
			out.say("   Avg duration (last %d): %dms", d.Config.WindowSize, stats.Average)
		}
	}

	v := gate.Ceiling(in.DurationMs, d.Config.DurationWarnMs)
	out.Verdict = &v
	if !v.Pass {
		out.say("Warning: command took longer than expected (%s)", v.Diagnostic(model.FieldDurationMs))
		d.gateFailed(ctx, h.Name(), gate.Advisory)
	}

	r := report.New(s,
		storage.NewMarker(filepath.Join(d.Config.MetricsDir, ReportMarker), d.Logger),
		d.Config.Granularity(), model.TagCommand, d.Config.MetricsDir, d.Logger)
	r.Location = d.Config.Location()
	r.Heading = "Commands executed:"
	summary, err := r.Run(ctx, inv.Now)
	if err != nil {
		return out, err
	}
	if summary != nil {
		out.Report = summary
		out.say("%s report generated: %s", summary.Granularity, summary.Path)
	}

	out.ExitCode = gate.ExitContinue
	return out, nil
}

// PreCommandHook records that a command is about to run. It never blocks.
type PreCommandHook struct {
	deps *Deps
}

func (h *PreCommandHook) Name() string { return HookPreCommand }

func (h *PreCommandHook) Handle(ctx context.Context, inv Invocation) (Outcome, error) {
	d := h.deps
	out := Outcome{Hook: h.Name()}

	var in model.CommandInput
	if err := d.parse(inv, &in); err != nil {
		return out, err
	}
	rec, err := in.Record(inv.Now, false)
	if err != nil {
		return out, err
	}
	s := d.store(ChannelPreCommands)
	if err := d.appendRecord(ctx, s, rec, &out); err != nil {
		return out, err
	}
	out.say("Starting %s", in.Command)
	return out, nil
}
