// Package hookmeter is the public API for embedding the hook metrics engine.
//
// A command runner fires lifecycle hooks; each firing appends one record to a
// channel, aggregates a window of recent records, evaluates gates and hands
// decisions to collaborators:
//
//	app, err := hookmeter.New(ctx,
//	    hookmeter.WithVersion(version),
//	    hookmeter.WithLogger(logger),
//	    hookmeter.WithAlertNotifier(myPager{}),
//	)
//	if err != nil { ... }
//	defer app.Close(ctx)
//	res, err := app.Run(ctx, "test-run", env)
//	os.Exit(hookmeter.ExitCode(res, err))
//
// The import graph enforces a strict no-cycle rule: hookmeter (root) imports
// internal/*, but internal/* never imports hookmeter (root). Public types are
// standalone structs; conversion helpers live here because this is the only
// file that sees both sides of the boundary.
package hookmeter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashita-ai/hookmeter/internal/config"
	"github.com/ashita-ai/hookmeter/internal/dispatch"
	"github.com/ashita-ai/hookmeter/internal/hooks"
	"github.com/ashita-ai/hookmeter/internal/mirror"
	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/service/report"
	"github.com/ashita-ai/hookmeter/internal/service/window"
	"github.com/ashita-ai/hookmeter/internal/storage"
	"github.com/ashita-ai/hookmeter/internal/telemetry"
	"github.com/ashita-ai/hookmeter/migrations"
)

// ErrUnknownHook is returned by Run for hook names with no handler.
var ErrUnknownHook = errors.New("hookmeter: unknown hook")

// ErrNoDatabase is returned by Mirror when no Postgres mirror is configured.
var ErrNoDatabase = errors.New("hookmeter: HOOKMETER_DATABASE_URL is not set")

// App wires configuration, channels and collaborators. Construct with New().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	handlers     map[string]hooks.Handler
	pg           *mirror.Postgres // nil when no database is configured
	otelShutdown telemetry.Shutdown
	tracer       trace.Tracer
	clock        func() time.Time
	warnings     []string // collaborator setup failures, repeated on every Result
	logger       *slog.Logger
	version      string
}

// New loads configuration, initializes telemetry and builds every configured
// collaborator. A collaborator that cannot be reached (the Postgres mirror)
// is logged and skipped; malformed configuration is an error.
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	version := o.version
	if version == "" {
		version = "dev"
	}
	clock := o.clock
	if clock == nil {
		clock = time.Now
	}

	// Load .env file if present (non-fatal; CI runners won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := applyOverrides(&cfg, o); err != nil {
		return nil, err
	}

	otelShutdown, err := telemetry.Init(ctx, telemetry.Options{
		Endpoint:      cfg.OTELEndpoint,
		ServiceName:   cfg.ServiceName,
		Version:       version,
		Insecure:      cfg.OTELInsecure,
		ExportTimeout: cfg.CollaboratorTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{
		cfg:          cfg,
		otelShutdown: otelShutdown,
		tracer:       telemetry.Tracer("hookmeter"),
		clock:        clock,
		logger:       logger,
		version:      version,
	}

	deps := hooks.Deps{
		Config: cfg,
		Logger: logger,
		Guard:  dispatch.NewGuard(logger).WithTimeout(cfg.CollaboratorTimeout),
	}
	deps.Alerts = withExtra(dispatch.NewWebhook(cfg.CoverageAlertWebhook), o.alerts)
	deps.Deploys = withExtra(dispatch.NewSlack(cfg.SlackWebhookURL, cfg.SlackEnvironments), o.deploys)

	switch {
	case o.uploader != nil:
		deps.Uploader = &uploaderAdapter{u: o.uploader}
	case cfg.S3BackupBucket != "":
		up, err := dispatch.NewS3Uploader(ctx, dispatch.S3Config{
			BucketURL: cfg.S3BackupBucket,
			Region:    cfg.AWSRegion,
			Endpoint:  cfg.S3Endpoint,
		})
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("s3: %w", err)
		}
		deps.Uploader = up
	}

	if cfg.Badges {
		if o.badges != nil {
			deps.Badges = o.badges
		} else {
			deps.Badges = dispatch.NewShieldsBadge(cfg.ShieldsURL)
		}
	}

	switch {
	case o.replica != nil:
		deps.Replica = &replicaAdapter{r: o.replica}
	case cfg.DatabaseURL != "":
		if pg, err := a.connectMirror(ctx); err != nil {
			logger.Warn("mirror: disabled for this invocation", "error", err)
			a.warnings = append(a.warnings, err.Error())
		} else {
			a.pg = pg
			deps.Replica = pg
		}
	}

	a.handlers = hooks.Registry(deps)
	logger.Debug("hookmeter ready", "version", version, "metrics_dir", cfg.MetricsDir,
		"mirror", deps.Replica != nil, "s3", deps.Uploader != nil)
	return a, nil
}

func applyOverrides(cfg *config.Config, o resolvedOptions) error {
	if o.metricsDir != "" {
		cfg.MetricsDir = o.metricsDir
	}
	if o.badgeDir != "" {
		cfg.BadgeDir = o.badgeDir
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.thresholdsFile != "" && o.thresholdsFile != cfg.ThresholdsFile {
		t, err := config.LoadThresholds(o.thresholdsFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		t.Apply(cfg)
		cfg.ThresholdsFile = o.thresholdsFile
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	return nil
}

func (a *App) connectMirror(ctx context.Context) (*mirror.Postgres, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CollaboratorTimeout)
	defer cancel()
	pg, err := mirror.NewPostgres(ctx, a.cfg.DatabaseURL, a.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", dispatch.ErrUnavailable, err)
	}
	if err := pg.RunMigrations(ctx, migrations.FS); err != nil {
		pg.Close()
		return nil, fmt.Errorf("%w: %w", dispatch.ErrUnavailable, err)
	}
	return pg, nil
}

// Hooks lists the hook names Run accepts.
func (a *App) Hooks() []string {
	names := make([]string, 0, len(a.handlers))
	for name := range a.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Run processes one hook firing. env carries the runner's variables (usually
// the process environment). The returned error is non-nil when the hook could
// not run; gate failures are reported through Result.ExitCode.
func (a *App) Run(ctx context.Context, hook string, env map[string]string) (Result, error) {
	h, ok := a.handlers[hook]
	if !ok {
		return Result{Hook: hook, ExitCode: ExitError}, fmt.Errorf("%w: %q", ErrUnknownHook, hook)
	}

	ctx, span := a.tracer.Start(ctx, "hookmeter.hook", trace.WithAttributes(attribute.String("hook", hook)))
	defer span.End()

	out, err := h.Handle(ctx, hooks.Invocation{Env: env, Now: a.clock()})
	res := toPublicResult(out)
	res.Hook = hook
	res.Warnings = append(append([]string(nil), a.warnings...), res.Warnings...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.ExitCode = ExitError
		return res, fmt.Errorf("%s: %w", hook, err)
	}
	span.SetAttributes(attribute.Int("exit_code", res.ExitCode))
	return res, nil
}

// ExitCode maps a Run result to the process exit code.
func ExitCode(res Result, err error) int {
	if err != nil {
		return ExitError
	}
	return res.ExitCode
}

// Report summarizes period of channel by categoryTag without advancing any
// marker. An empty period means the period before now.
func (a *App) Report(ctx context.Context, channel, categoryTag, period string) (Summary, error) {
	s, err := a.store(channel)
	if err != nil {
		return Summary{}, err
	}
	r := report.New(s, nil, a.cfg.Granularity(), categoryTag, a.cfg.MetricsDir, a.logger)
	r.Location = a.cfg.Location()
	if period == "" {
		period = r.Granularity.Previous(a.clock().In(r.Location))
	}
	sum, err := r.Summarize(ctx, period)
	if err != nil {
		return Summary{}, err
	}
	return toPublicSummary(sum, r.Render(sum)), nil
}

// Stats computes window statistics over the last n records of channel on
// field. When tag is "key=value", only records carrying that tag count.
func (a *App) Stats(ctx context.Context, channel, field, tag string, n int) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	s, err := a.store(channel)
	if err != nil {
		return Stats{}, err
	}
	pred := func(model.EventRecord) bool { return true }
	if tag != "" {
		k, v, ok := strings.Cut(tag, "=")
		if !ok {
			return Stats{}, fmt.Errorf("%w: tag filter %q must be key=value", model.ErrInput, tag)
		}
		pred = storage.TagEquals(k, v)
	}
	if n <= 0 {
		n = a.cfg.WindowSize
	}
	records, rs, err := s.Collect(pred)
	if err != nil {
		return Stats{}, err
	}
	st := window.Summarize(records, field, n)
	return Stats{
		Channel:   s.Channel(),
		Field:     field,
		Size:      st.Size,
		Values:    st.Values,
		Average:   st.Average,
		Trend:     string(st.Trend.Direction),
		Delta:     st.Trend.Delta,
		Total:     st.Rate.Total,
		Succeeded: st.Rate.Succeeded,
		Percent:   st.Rate.Percent,
		Malformed: rs.Malformed,
	}, nil
}

// ExportSQLite copies every record of channel into the SQLite database at
// path and returns how many rows were new.
func (a *App) ExportSQLite(ctx context.Context, channel, path string) (int, error) {
	s, err := a.store(channel)
	if err != nil {
		return 0, err
	}
	records, _, err := s.ReadAll()
	if err != nil {
		return 0, err
	}
	return mirror.ExportSQLite(ctx, path, s.Channel(), records)
}

// Mirror replays every record of channel into the Postgres mirror and
// returns how many rows were new.
func (a *App) Mirror(ctx context.Context, channel string) (int, error) {
	if a.pg == nil {
		if len(a.warnings) > 0 {
			return 0, fmt.Errorf("hookmeter: mirror unavailable: %s", a.warnings[0])
		}
		return 0, ErrNoDatabase
	}
	s, err := a.store(channel)
	if err != nil {
		return 0, err
	}
	records, _, err := s.ReadAll()
	if err != nil {
		return 0, err
	}
	return a.pg.MirrorAll(ctx, s.Channel(), records)
}

// Close releases the database pool and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	if a.pg != nil {
		a.pg.Close()
	}
	if err := a.otelShutdown(ctx); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// store resolves a channel name ("coverage-history" or
// "coverage-history.jsonl") under the metrics directory.
func (a *App) store(channel string) (*storage.EventStore, error) {
	name := strings.TrimSpace(channel)
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, fmt.Errorf("%w: invalid channel %q", model.ErrInput, channel)
	}
	if !strings.HasSuffix(name, ".jsonl") {
		name += ".jsonl"
	}
	return storage.NewEventStore(filepath.Join(a.cfg.MetricsDir, name), a.logger), nil
}

// ── Adapters ──────────────────────────────────────────────────────────────

// withExtra fans a configured notifier out to an embedder-supplied one.
func withExtra(configured dispatch.Notifier, extra Notifier) dispatch.Notifier {
	if extra == nil {
		return configured
	}
	adapted := &notifierAdapter{n: extra}
	if _, ok := configured.(dispatch.Noop); ok {
		return adapted
	}
	return dispatch.Fanout{configured, adapted}
}

// notifierAdapter bridges the public Notifier to dispatch.Notifier.
type notifierAdapter struct{ n Notifier }

func (a *notifierAdapter) Notify(ctx context.Context, d dispatch.Decision, p dispatch.Payload) error {
	return a.n.Notify(ctx, d == dispatch.Alert, Event{Type: p.Type, Fields: p.Fields, Timestamp: p.Timestamp})
}

// uploaderAdapter bridges the public Uploader to dispatch.Uploader.
type uploaderAdapter struct{ u Uploader }

func (a *uploaderAdapter) Upload(ctx context.Context, b dispatch.Backup) (dispatch.UploadResult, error) {
	res, err := a.u.Upload(ctx, Backup{
		ID:        b.ID,
		Priority:  b.Priority,
		Type:      b.Type,
		Timestamp: b.Timestamp,
		At:        b.At,
		Body:      b.Body,
	})
	if err != nil {
		return dispatch.UploadResult{}, err
	}
	return dispatch.UploadResult{
		Bucket:      res.Bucket,
		BackupKey:   res.BackupKey,
		LatestKey:   res.LatestKey,
		MetadataKey: res.MetadataKey,
	}, nil
}

// replicaAdapter bridges the public Replica to mirror.Replica.
type replicaAdapter struct{ r Replica }

func (a *replicaAdapter) Mirror(ctx context.Context, channel string, rec model.EventRecord) error {
	return a.r.Mirror(ctx, channel, toPublicRecord(rec))
}

func toPublicRecord(r model.EventRecord) Record {
	return Record{
		ID:        r.ID.String(),
		Kind:      string(r.Kind),
		Timestamp: r.Timestamp,
		Status:    string(r.Status),
		Fields:    r.Fields,
		Tags:      r.Tags,
	}
}

func toPublicResult(o hooks.Outcome) Result {
	res := Result{
		Hook:     o.Hook,
		ExitCode: o.ExitCode,
		Band:     o.Band,
		Lines:    o.Lines,
		Warnings: o.Warnings,
	}
	if o.Record.Kind != "" {
		res.Record = toPublicRecord(o.Record)
	}
	if o.Report != nil {
		res.ReportPath = o.Report.Path
	}
	return res
}

func toPublicSummary(s *report.Summary, text string) Summary {
	out := Summary{
		Channel:     s.Channel,
		Period:      s.Period,
		Granularity: s.Granularity,
		Total:       s.Total,
		Rated:       s.Rated,
		Succeeded:   s.Succeeded,
		Percent:     s.Percent,
		Malformed:   s.Malformed,
		Text:        text,
	}
	for _, c := range s.Categories {
		out.Categories = append(out.Categories, Category{Name: c.Name, Count: c.Count})
	}
	return out
}
