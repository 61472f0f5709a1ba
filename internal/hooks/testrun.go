package hooks

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ashita-ai/hookmeter/internal/dispatch"
	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/service/gate"
	"github.com/ashita-ai/hookmeter/internal/service/window"
	"github.com/ashita-ai/hookmeter/internal/storage"
)

// CoverageBadgeFile is the badge written under the badge directory.
const CoverageBadgeFile = "coverage.svg"

// TestRunHook records coverage, gates it against the configured threshold,
// reports the trend, refreshes the badge and writes a detailed report when
// coverage is very low.
type TestRunHook struct {
	deps *Deps
}

func (h *TestRunHook) Name() string { return HookTestRun }

func (h *TestRunHook) Handle(ctx context.Context, inv Invocation) (Outcome, error) {
	d := h.deps
	cfg := d.Config
	out := Outcome{Hook: h.Name()}

	var in model.TestRunInput
	if err := d.parse(inv, &in); err != nil {
		return out, err
	}
	rec, err := in.Record(inv.Now)
	if err != nil {
		return out, err
	}

	// Band lookup first: a broken band table is a deployment mistake and
	// must surface before anything is written.
	band, err := gate.ClassifyBand(in.Coverage, cfg.CoverageBands)
	if err != nil {
		return out, err
	}
	out.Band = band

	s := d.store(ChannelCoverage)
	if err := d.appendRecord(ctx, s, rec, &out); err != nil {
		return out, err
	}
	out.say("Tests: %s", in.Result)
	out.say("Total: %d (Passed: %d, Failed: %d)", in.Total, in.Passed, in.Failed)
	out.say("Coverage: %d%% (threshold %d%%)", in.Coverage, cfg.CoverageThreshold)

	v := gate.Evaluate(in.Coverage, cfg.CoverageThreshold)
	out.Verdict = &v
	out.ExitCode = cfg.CoveragePolicy.ExitCode(v)
	if v.Pass {
		out.say("Coverage OK: %d%%", in.Coverage)
	} else {
		out.say("Coverage below threshold: %s", v.Diagnostic("coverage"))
		d.gateFailed(ctx, h.Name(), cfg.CoveragePolicy)
		payload := dispatch.Payload{
			Type: "coverage_low",
			Fields: map[string]any{
				"coverage":  in.Coverage,
				"threshold": cfg.CoverageThreshold,
				"diff":      v.Deficit,
			},
			Timestamp: rec.Timestamp.Format(time.RFC3339),
		}
		out.warn(d.Guard.Do(ctx, "coverage-alert", func(ctx context.Context) error {
			return d.Alerts.Notify(ctx, dispatch.Alert, payload)
		}))
	}

	history, _, err := s.Collect(storage.KindIs(model.KindTestRun))
	if err != nil {
		return out, err
	}
	if len(history) > 1 {
		stats := window.Summarize(history, model.FieldCoveragePct, cfg.WindowSize)
		out.Stats = &stats
		out.say("Coverage trend (last %d runs): %s", cfg.WindowSize, joinValues(stats.Values))
		out.say("   Average: %d%%", stats.Average)
		switch stats.Trend.Direction {
		case window.Decreasing:
			out.say("Coverage is decreasing: %d%%", stats.Trend.Delta)
		case window.Increasing:
			out.say("Coverage is increasing: +%d%%", stats.Trend.Delta)
		default:
			out.say("Coverage is stable at %d%%", in.Coverage)
		}
	}

	if cfg.Badges && d.Badges != nil {
		path := filepath.Join(cfg.BadgeDir, CoverageBadgeFile)
		err := d.Guard.Do(ctx, "badge", func(ctx context.Context) error {
			svg, err := d.Badges.Fetch(ctx, "coverage", in.Coverage, band)
			if err != nil {
				return err
			}
			return storage.WriteFileAtomic(path, svg, 0o644)
		})
		if err != nil {
			out.warn(err)
		} else {
			out.say("Coverage badge updated: %s", path)
		}
	}

	if in.Coverage < cfg.LowCoverageBelow {
		path := filepath.Join(cfg.MetricsDir,
			fmt.Sprintf("low-coverage-report-%s.txt", inv.Now.UTC().Format("20060102_150405")))
		if err := storage.WriteFileAtomic(path, []byte(lowCoverageReport(in, cfg.CoverageThreshold, rec)), 0o644); err != nil {
			return out, fmt.Errorf("%w: write low coverage report: %w", storage.ErrIO, err)
		}
		out.say("Low coverage report generated: %s", path)
	}

	return out, nil
}

func joinValues(values []int64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}

func lowCoverageReport(in model.TestRunInput, threshold int64, rec model.EventRecord) string {
	var b strings.Builder
	b.WriteString("LOW COVERAGE ALERT\n")
	b.WriteString(strings.Repeat("=", 40) + "\n\n")
	fmt.Fprintf(&b, "Current Coverage: %d%%\n", in.Coverage)
	fmt.Fprintf(&b, "Threshold: %d%%\n", threshold)
	fmt.Fprintf(&b, "Difference: -%d%%\n\n", max(0, threshold-in.Coverage))
	b.WriteString("Coverage Breakdown:\n")
	fmt.Fprintf(&b, "  Lines: %d%%\n", in.CoverageLines)
	fmt.Fprintf(&b, "  Branches: %d%%\n\n", in.CoverageBranches)
	b.WriteString("Test Results:\n")
	fmt.Fprintf(&b, "  Total: %d\n", in.Total)
	fmt.Fprintf(&b, "  Passed: %d\n", in.Passed)
	fmt.Fprintf(&b, "  Failed: %d\n\n", in.Failed)
	fmt.Fprintf(&b, "Timestamp: %s\n\n", rec.Timestamp.Format(time.RFC3339))
	b.WriteString("Action Required:\n")
	b.WriteString("- Add unit tests for uncovered code paths\n")
	fmt.Fprintf(&b, "- Aim for %d%% coverage minimum\n", threshold)
	return b.String()
}
