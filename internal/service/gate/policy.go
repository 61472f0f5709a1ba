package gate

import (
	"fmt"
	"strings"
)

// Exit codes returned to the command runner.
const (
	ExitContinue = 0
	ExitBlocked  = 1
)

// Policy decides the consequence of a failing verdict at a call site.
type Policy int

const (
	// Advisory reports failures without blocking.
	Advisory Policy = iota
	// Blocking turns a failing verdict into ExitBlocked.
	Blocking
)

func (p Policy) String() string {
	if p == Blocking {
		return "blocking"
	}
	return "advisory"
}

// ParsePolicy accepts "blocking" or "advisory" (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "blocking", "block":
		return Blocking, nil
	case "advisory", "warn", "":
		return Advisory, nil
	default:
		return Advisory, fmt.Errorf("%w: unknown policy %q", ErrConfig, s)
	}
}

// ExitCode maps a verdict to the runner's exit contract.
func (p Policy) ExitCode(v Verdict) int {
	if p == Blocking && !v.Pass {
		return ExitBlocked
	}
	return ExitContinue
}

// UnmarshalText lets Policy be read from YAML and environment values.
func (p *Policy) UnmarshalText(text []byte) error {
	parsed, err := ParsePolicy(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// MarshalText is the inverse of UnmarshalText.
func (p Policy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}
