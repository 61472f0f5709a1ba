package hooks

import (
	"context"

	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/service/gate"
	"github.com/ashita-ai/hookmeter/internal/service/window"
	"github.com/ashita-ai/hookmeter/internal/storage"
)

// SyncHook records sync runs. Errors are reported but never block.
type SyncHook struct {
	deps *Deps
}

func (h *SyncHook) Name() string { return HookSyncDone }

func (h *SyncHook) Handle(ctx context.Context, inv Invocation) (Outcome, error) {
	d := h.deps
	out := Outcome{Hook: h.Name()}

	var in model.SyncInput
	if err := d.parse(inv, &in); err != nil {
		return out, err
	}
	rec, err := in.Record(inv.Now)
	if err != nil {
		return out, err
	}

	s := d.store(ChannelSyncs)
	if err := d.appendRecord(ctx, s, rec, &out); err != nil {
		return out, err
	}
	out.say("Sync done: %d files in %dms", in.FilesCount, in.DurationMs)

	v := gate.Ceiling(in.Errors, 0)
	out.Verdict = &v
	out.ExitCode = gate.Advisory.ExitCode(v)
	if !v.Pass {
		out.say("Warning: %s", v.Diagnostic("sync errors"))
		d.gateFailed(ctx, h.Name(), gate.Advisory)
	}

	history, _, err := s.Collect(storage.KindIs(model.KindSync))
	if err != nil {
		return out, err
	}
	stats := window.Summarize(history, model.FieldFilesCount, d.Config.WindowSize)
	out.Stats = &stats
	out.say("   Avg files (last %d): %d", stats.Size, stats.Average)
	out.say("   Clean syncs (last %d): %d%%", stats.Size, stats.Rate.Percent)
	return out, nil
}
