package hooks

import (
	"context"
	"time"

	"github.com/ashita-ai/hookmeter/internal/dispatch"
	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/service/window"
	"github.com/ashita-ai/hookmeter/internal/storage"
)

// DeployHook records deployments, summarizes the recent success rate per
// environment and announces the deploy to Slack.
type DeployHook struct {
	deps *Deps
}

func (h *DeployHook) Name() string { return HookDeploy }

func (h *DeployHook) Handle(ctx context.Context, inv Invocation) (Outcome, error) {
	d := h.deps
	out := Outcome{Hook: h.Name()}

	var in model.DeployInput
	if err := d.parse(inv, &in); err != nil {
		return out, err
	}
	rec, err := in.Record(inv.Now)
	if err != nil {
		return out, err
	}

	s := d.store(ChannelDeploys)
	if err := d.appendRecord(ctx, s, rec, &out); err != nil {
		return out, err
	}

	history, _, err := s.Collect(storage.And(
		storage.KindIs(model.KindDeploy),
		storage.TagEquals(model.TagEnvironment, in.Environment),
	))
	if err != nil {
		return out, err
	}
	stats := window.Summarize(history, model.FieldDurationMs, d.Config.WindowSize)
	out.Stats = &stats
	out.say("Deploy %s to %s: %s", in.Version, in.Environment, rec.Status)
	out.say("   Success rate (last %d): %d/%d (%d%%)", stats.Size, stats.Rate.Succeeded, stats.Rate.Total, stats.Rate.Percent)
	out.say("   Avg duration (last %d): %dms", stats.Size, stats.Average)

	payload := dispatch.Payload{
		Type: "deploy",
		Fields: map[string]any{
			dispatch.FieldEnvironment: in.Environment,
			dispatch.FieldVersion:     in.Version,
			dispatch.FieldStrategy:    in.Strategy,
			dispatch.FieldDurationMs:  in.DurationMs,
			dispatch.FieldURL:         in.URL,
		},
		Timestamp: rec.Timestamp.Format(time.RFC3339),
	}
	out.warn(d.Guard.Do(ctx, "slack", func(ctx context.Context) error {
		return d.Deploys.Notify(ctx, dispatch.DecisionFor(rec.Succeeded()), payload)
	}))
	return out, nil
}
