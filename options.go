package hookmeter

import (
	"log/slog"
	"time"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	metricsDir     string
	badgeDir       string
	databaseURL    string
	thresholdsFile string
	logger         *slog.Logger
	version        string
	clock          func() time.Time
	alerts         Notifier
	deploys        Notifier
	uploader       Uploader
	badges         BadgeFetcher
	replica        Replica
}

// WithMetricsDir overrides the channel directory (HOOKMETER_METRICS_DIR).
func WithMetricsDir(dir string) Option {
	return func(o *resolvedOptions) { o.metricsDir = dir }
}

// WithBadgeDir overrides the badge directory (HOOKMETER_BADGE_DIR).
func WithBadgeDir(dir string) Option {
	return func(o *resolvedOptions) { o.badgeDir = dir }
}

// WithDatabaseURL overrides the Postgres mirror DSN (HOOKMETER_DATABASE_URL).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithThresholdsFile overrides the YAML thresholds file (HOOKMETER_THRESHOLDS_FILE).
func WithThresholdsFile(path string) Option {
	return func(o *resolvedOptions) { o.thresholdsFile = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and telemetry.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithClock replaces time.Now as the source of invocation time.
func WithClock(now func() time.Time) Option {
	return func(o *resolvedOptions) { o.clock = now }
}

// WithAlertNotifier adds a receiver for coverage alerts. When
// COVERAGE_ALERT_WEBHOOK is also set, both receive every alert.
func WithAlertNotifier(n Notifier) Option {
	return func(o *resolvedOptions) { o.alerts = n }
}

// WithDeployNotifier adds a receiver for deploy announcements alongside the
// Slack notifier built from SLACK_WEBHOOK_URL.
func WithDeployNotifier(n Notifier) Option {
	return func(o *resolvedOptions) { o.deploys = n }
}

// WithUploader replaces the S3 spec backup uploader.
func WithUploader(u Uploader) Option {
	return func(o *resolvedOptions) { o.uploader = u }
}

// WithBadgeFetcher replaces the shields.io badge fetcher.
func WithBadgeFetcher(b BadgeFetcher) Option {
	return func(o *resolvedOptions) { o.badges = b }
}

// WithReplica replaces the Postgres mirror.
func WithReplica(r Replica) Option {
	return func(o *resolvedOptions) { o.replica = r }
}
