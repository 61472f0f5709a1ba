package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ashita-ai/hookmeter/internal/dispatch"
	"github.com/ashita-ai/hookmeter/internal/model"
)

// SpecHook records spec creation and updates and backs the document up to
// object storage when an uploader is configured.
type SpecHook struct {
	deps  *Deps
	phase string // "created" or "updated"
}

func (h *SpecHook) Name() string { return "spec-" + h.phase }

func (h *SpecHook) Handle(ctx context.Context, inv Invocation) (Outcome, error) {
	d := h.deps
	out := Outcome{Hook: h.Name()}

	var in model.SpecInput
	if err := d.parse(inv, &in); err != nil {
		return out, err
	}
	rec, err := in.Record(inv.Now, h.phase)
	if err != nil {
		return out, err
	}

	s := d.store(ChannelSpecs)
	if err := d.appendRecord(ctx, s, rec, &out); err != nil {
		return out, err
	}
	out.say("Spec %s %s", in.ID, h.phase)

	if d.Uploader == nil {
		return out, nil
	}

	body, err := os.ReadFile(in.Path) //nolint:gosec // path supplied by the runner
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			err = fmt.Errorf("%w: spec file not found: %s", dispatch.ErrUnavailable, in.Path)
		}
		out.warn(err)
		d.Logger.Warn("hooks: skipping spec backup", "spec_id", in.ID, "error", err)
		return out, nil
	}

	backup := dispatch.Backup{
		ID:        in.ID,
		Priority:  in.Priority,
		Type:      in.Type,
		Timestamp: rec.Timestamp.Format(time.RFC3339),
		At:        inv.Now.UTC(),
		Body:      body,
	}
	var res dispatch.UploadResult
	err = d.Guard.Do(ctx, "s3", func(ctx context.Context) error {
		var err error
		res, err = d.Uploader.Upload(ctx, backup)
		return err
	})
	if err != nil {
		out.warn(err)
		return out, nil
	}
	out.Uploaded = &res
	out.say("Spec backed up: s3://%s/%s", res.Bucket, res.BackupKey)
	out.say("   Latest: s3://%s/%s", res.Bucket, res.LatestKey)
	out.say("   Metadata: s3://%s/%s", res.Bucket, res.MetadataKey)
	return out, nil
}
