// Package config loads and validates hookmeter configuration from environment
// variables and an optional YAML thresholds file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashita-ai/hookmeter/internal/model"
	"github.com/ashita-ai/hookmeter/internal/service/gate"
	"github.com/ashita-ai/hookmeter/internal/service/report"
)

// Config holds all hookmeter configuration.
type Config struct {
	// Storage locations.
	MetricsDir string // Channel logs, markers and reports.
	BadgeDir   string // Rendered status badges.

	// Hook input.
	InputPrefix string // Prefix of the runner's environment keys.

	// Aggregation and reporting.
	WindowSize   int
	ReportPeriod string // "daily", "weekly" or "monthly"
	ReportTZ     string // IANA zone for period boundaries.

	// Coverage gate.
	CoverageThreshold int64
	CoveragePolicy    gate.Policy
	CoverageBands     gate.Bands
	LowCoverageBelow  int64 // Write a detailed report below this value.

	// Command metrics.
	DurationWarnMs  int64
	TrackedCommands []string

	// Collaborators. Empty values disable them.
	CoverageAlertWebhook string
	SlackWebhookURL      string
	SlackEnvironments    []string
	S3BackupBucket       string // s3://bucket/prefix/
	AWSRegion            string
	S3Endpoint           string
	Badges               bool
	ShieldsURL           string
	DatabaseURL          string // Postgres mirror.
	CollaboratorTimeout  time.Duration

	// OTEL settings.
	OTELEndpoint string
	ServiceName  string
	OTELInsecure bool

	// Operational settings.
	LogLevel       string
	ThresholdsFile string
}

// Load reads configuration from environment variables with sensible defaults,
// then applies the thresholds file when one is configured. All malformed
// variables are reported together.
func Load() (Config, error) {
	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := Config{
		MetricsDir:           envStr("HOOKMETER_METRICS_DIR", ".mj2/metrics"),
		BadgeDir:             envStr("HOOKMETER_BADGE_DIR", ".github/badges"),
		InputPrefix:          envStr("HOOKMETER_INPUT_PREFIX", model.DefaultInputPrefix),
		ReportPeriod:         envStr("HOOKMETER_REPORT_PERIOD", "daily"),
		ReportTZ:             envStr("HOOKMETER_REPORT_TZ", "UTC"),
		CoverageBands:        gate.DefaultCoverageBands,
		TrackedCommands:      envList("HOOKMETER_TRACKED_COMMANDS", []string{"2-run", "2f-build"}),
		CoverageAlertWebhook: envStr("COVERAGE_ALERT_WEBHOOK", ""),
		SlackWebhookURL:      envStr("SLACK_WEBHOOK_URL", ""),
		SlackEnvironments:    envList("HOOKMETER_SLACK_ENVIRONMENTS", []string{"staging", "production"}),
		S3BackupBucket:       envStr("S3_BACKUP_BUCKET", ""),
		AWSRegion:            envStr("AWS_REGION", ""),
		S3Endpoint:           envStr("HOOKMETER_S3_ENDPOINT", ""),
		ShieldsURL:           envStr("HOOKMETER_SHIELDS_URL", "https://img.shields.io"),
		DatabaseURL:          envStr("HOOKMETER_DATABASE_URL", ""),
		OTELEndpoint:         envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:          envStr("OTEL_SERVICE_NAME", "hookmeter"),
		LogLevel:             envStr("HOOKMETER_LOG_LEVEL", "info"),
		ThresholdsFile:       envStr("HOOKMETER_THRESHOLDS_FILE", ""),
	}

	var err error
	cfg.WindowSize, err = envInt("HOOKMETER_WINDOW_SIZE", 10)
	collect(err)
	cfg.CoverageThreshold, err = envInt64("COVERAGE_THRESHOLD", 85)
	collect(err)
	cfg.LowCoverageBelow, err = envInt64("LOW_COVERAGE_REPORT_BELOW", 70)
	collect(err)
	cfg.DurationWarnMs, err = envInt64("HOOKMETER_DURATION_WARN_MS", 120000)
	collect(err)
	cfg.CollaboratorTimeout, err = envDuration("HOOKMETER_COLLABORATOR_TIMEOUT", 10*time.Second)
	collect(err)
	cfg.Badges, err = envBool("HOOKMETER_BADGES", true)
	collect(err)
	cfg.OTELInsecure, err = envBool("HOOKMETER_OTEL_INSECURE", false)
	collect(err)

	policy := envStr("HOOKMETER_COVERAGE_POLICY", "blocking")
	cfg.CoveragePolicy, err = gate.ParsePolicy(policy)
	if err != nil {
		collect(fmt.Errorf("HOOKMETER_COVERAGE_POLICY=%q is not a valid policy", policy))
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}

	if cfg.ThresholdsFile != "" {
		t, err := LoadThresholds(cfg.ThresholdsFile)
		if err != nil {
			return Config{}, err
		}
		t.Apply(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	if c.MetricsDir == "" {
		return fmt.Errorf("config: HOOKMETER_METRICS_DIR is required")
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("config: HOOKMETER_WINDOW_SIZE must be positive")
	}
	if c.CoverageThreshold < 0 || c.CoverageThreshold > 100 {
		return fmt.Errorf("config: COVERAGE_THRESHOLD must be between 0 and 100, got %d", c.CoverageThreshold)
	}
	if c.DurationWarnMs <= 0 {
		return fmt.Errorf("config: HOOKMETER_DURATION_WARN_MS must be positive")
	}
	if c.CollaboratorTimeout <= 0 {
		return fmt.Errorf("config: HOOKMETER_COLLABORATOR_TIMEOUT must be positive")
	}
	if err := c.CoverageBands.Validate(); err != nil {
		return fmt.Errorf("config: coverage bands: %w", err)
	}
	if _, err := report.ParseGranularity(c.ReportPeriod); err != nil {
		return fmt.Errorf("config: HOOKMETER_REPORT_PERIOD: %w", err)
	}
	if _, err := time.LoadLocation(c.ReportTZ); err != nil {
		return fmt.Errorf("config: HOOKMETER_REPORT_TZ=%q: %w", c.ReportTZ, err)
	}
	return nil
}

// Location returns the reporting time zone. Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.ReportTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Granularity returns the configured report period.
func (c Config) Granularity() report.Granularity {
	g, err := report.ParseGranularity(c.ReportPeriod)
	if err != nil {
		return report.Daily{}
	}
	return g
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

// envList splits a comma-separated value, dropping empty items.
func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
