package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ashita-ai/hookmeter/internal/service/gate"
)

// Thresholds is the optional YAML file that overrides gate limits and band
// tables. Omitted keys keep the environment or default value.
//
//	coverage:
//	  threshold: 85
//	  policy: blocking
//	  low_report_below: 70
//	  bands:
//	    - {min: 90, label: brightgreen}
//	    - {min: 0, label: red}
//	duration:
//	  warn_ms: 120000
//	commands:
//	  tracked: [2-run, 2f-build]
type Thresholds struct {
	Coverage CoverageThresholds `yaml:"coverage"`
	Duration DurationThresholds `yaml:"duration"`
	Commands CommandThresholds  `yaml:"commands"`
}

// CoverageThresholds configures the coverage gate.
type CoverageThresholds struct {
	Threshold      *int64     `yaml:"threshold"`
	Policy         string     `yaml:"policy"`
	LowReportBelow *int64     `yaml:"low_report_below"`
	Bands          gate.Bands `yaml:"bands"`
}

// DurationThresholds configures the command duration ceiling.
type DurationThresholds struct {
	WarnMs *int64 `yaml:"warn_ms"`
}

// CommandThresholds selects commands that get per-command summaries.
type CommandThresholds struct {
	Tracked []string `yaml:"tracked"`
}

// LoadThresholds reads and validates the thresholds file at path.
func LoadThresholds(path string) (*Thresholds, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator configuration
	if err != nil {
		return nil, fmt.Errorf("config: read thresholds file: %w", err)
	}
	return ParseThresholds(data)
}

// ParseThresholds decodes a thresholds document. Unknown keys are rejected
// so a typo cannot silently disable a gate.
func ParseThresholds(data []byte) (*Thresholds, error) {
	var t Thresholds
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: thresholds file: %w", gate.ErrConfig, err)
	}
	if t.Coverage.Policy != "" {
		if _, err := gate.ParsePolicy(t.Coverage.Policy); err != nil {
			return nil, fmt.Errorf("config: thresholds file: %w", err)
		}
	}
	if t.Coverage.Bands != nil {
		if err := t.Coverage.Bands.Validate(); err != nil {
			return nil, fmt.Errorf("config: thresholds file: coverage bands: %w", err)
		}
	}
	return &t, nil
}

// Apply overlays the file's values onto cfg.
func (t *Thresholds) Apply(cfg *Config) {
	if t.Coverage.Threshold != nil {
		cfg.CoverageThreshold = *t.Coverage.Threshold
	}
	if t.Coverage.Policy != "" {
		if p, err := gate.ParsePolicy(t.Coverage.Policy); err == nil {
			cfg.CoveragePolicy = p
		}
	}
	if t.Coverage.LowReportBelow != nil {
		cfg.LowCoverageBelow = *t.Coverage.LowReportBelow
	}
	if t.Coverage.Bands != nil {
		cfg.CoverageBands = t.Coverage.Bands
	}
	if t.Duration.WarnMs != nil {
		cfg.DurationWarnMs = *t.Duration.WarnMs
	}
	if t.Commands.Tracked != nil {
		cfg.TrackedCommands = t.Commands.Tracked
	}
}
