// Package gate compares a metric against configured limits. Evaluation is
// pure: a failing verdict is a computed outcome, not an error. Whether a
// failure blocks the invoking command is decided by the caller's Policy.
package gate

import (
	"errors"
	"fmt"
)

// ErrConfig reports a malformed or incomplete threshold configuration.
var ErrConfig = errors.New("gate: invalid configuration")

// Verdict is the result of comparing a value against a threshold.
type Verdict struct {
	Pass      bool  `json:"pass"`
	Deficit   int64 `json:"deficit"` // distance to the limit; 0 on pass
	Value     int64 `json:"value"`
	Threshold int64 `json:"threshold"`

	// ceiling is set for verdicts produced by Ceiling.
	ceiling bool
}

// Evaluate passes when value >= threshold. Deficit is max(0, threshold-value).
func Evaluate(value, threshold int64) Verdict {
	v := Verdict{Value: value, Threshold: threshold, Pass: value >= threshold}
	if !v.Pass {
		v.Deficit = threshold - value
	}
	return v
}

// Ceiling passes when value <= limit. Deficit is how far value exceeds limit.
func Ceiling(value, limit int64) Verdict {
	v := Verdict{Value: value, Threshold: limit, Pass: value <= limit, ceiling: true}
	if !v.Pass {
		v.Deficit = value - limit
	}
	return v
}

// Diagnostic describes the verdict for the named metric.
func (v Verdict) Diagnostic(metric string) string {
	switch {
	case v.Pass && v.ceiling:
		return fmt.Sprintf("%s %d within limit %d", metric, v.Value, v.Threshold)
	case v.Pass:
		return fmt.Sprintf("%s %d meets threshold %d", metric, v.Value, v.Threshold)
	case v.ceiling:
		return fmt.Sprintf("%s %d exceeds limit %d (over by %d)", metric, v.Value, v.Threshold, v.Deficit)
	default:
		return fmt.Sprintf("%s %d below threshold %d (missing %d)", metric, v.Value, v.Threshold, v.Deficit)
	}
}
