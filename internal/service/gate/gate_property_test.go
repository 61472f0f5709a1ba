//go:build property
// +build property

package gate

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestEvaluateProperties verifies the verdict laws.
// Property: Pass == (value >= threshold) and Deficit == max(0, threshold-value).
func TestEvaluateProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("pass and deficit are consistent", prop.ForAll(
		func(value, threshold int64) bool {
			v := Evaluate(value, threshold)
			if v.Pass != (value >= threshold) {
				return false
			}
			return v.Deficit == max(0, threshold-value)
		},
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(-1000, 1000),
	))

	properties.Property("blocking exits non-zero exactly on failure", prop.ForAll(
		func(value, threshold int64) bool {
			v := Evaluate(value, threshold)
			blocked := Blocking.ExitCode(v) != ExitContinue
			return blocked == !v.Pass && Advisory.ExitCode(v) == ExitContinue
		},
		gen.Int64Range(-1000, 1000),
		gen.Int64Range(-1000, 1000),
	))

	properties.TestingRun(t)
}

// TestClassifyBandTotal verifies a valid table classifies every non-negative value.
// Property: for value >= 0, ClassifyBand(value, DefaultCoverageBands) never fails
// and the chosen band's Min <= value.
func TestClassifyBandTotal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("default coverage bands are total", prop.ForAll(
		func(value int64) bool {
			label, err := ClassifyBand(value, DefaultCoverageBands)
			if err != nil {
				return false
			}
			for _, b := range DefaultCoverageBands {
				if b.Label == label {
					return b.Min <= value
				}
			}
			return false
		},
		gen.Int64Range(0, 200),
	))

	properties.TestingRun(t)
}
