// Package dispatch is the boundary to external collaborators: webhooks,
// Slack, object storage and badge rendering. Hooks decide whether and what to
// send; this package only delivers. Every collaborator is optional and an
// unconfigured one is a no-op.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/hookmeter/internal/telemetry"
)

// ErrUnavailable marks a collaborator that is unconfigured, unreachable or
// rejected the request. It never fails a hook.
var ErrUnavailable = errors.New("dispatch: collaborator unavailable")

// Decision is the go/no-go outcome handed to a notifier.
type Decision string

const (
	Alert Decision = "alert"
	OK    Decision = "ok"
)

// DecisionFor maps a passing check to OK and a failing one to Alert.
func DecisionFor(pass bool) Decision {
	if pass {
		return OK
	}
	return Alert
}

// Payload is a notification body. It marshals flat:
// {"type": ..., <fields>..., "timestamp": ...}.
type Payload struct {
	Type      string
	Fields    map[string]any
	Timestamp string
}

func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Fields)+2)
	maps.Copy(out, p.Fields)
	out["type"] = p.Type
	if p.Timestamp != "" {
		out["timestamp"] = p.Timestamp
	}
	return json.Marshal(out)
}

// Field returns a payload field formatted for display, or "" when absent.
func (p Payload) Field(key string) string {
	v, ok := p.Fields[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Notifier delivers a decision and its payload.
type Notifier interface {
	Notify(ctx context.Context, d Decision, p Payload) error
}

// Noop discards every notification.
type Noop struct{}

func (Noop) Notify(context.Context, Decision, Payload) error { return nil }

// Fanout delivers to every notifier concurrently and joins their errors.
// The group carries no context: one sink failing must not cancel delivery to
// the others, and every failure is reported rather than only the first.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, d Decision, p Payload) error {
	var g errgroup.Group
	errs := make([]error, len(f))
	for i, n := range f {
		if n == nil {
			continue
		}
		g.Go(func() error {
			errs[i] = n.Notify(ctx, d, p)
			return nil
		})
	}
	_ = g.Wait() // goroutines report through errs
	return errors.Join(errs...)
}

// StatusError is a non-2xx response from a collaborator.
type StatusError struct {
	Collaborator string
	StatusCode   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("dispatch: %s returned HTTP %d", e.Collaborator, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrUnavailable }

// Guard contains collaborator failures: they are logged and counted, then
// returned as warnings that callers report without changing the exit code.
type Guard struct {
	logger   *slog.Logger
	timeout  time.Duration
	failures metric.Int64Counter
}

// DefaultTimeout bounds a single collaborator call.
const DefaultTimeout = 10 * time.Second

// NewGuard returns a guard that bounds each call by DefaultTimeout.
func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		logger:   logger,
		timeout:  DefaultTimeout,
		failures: telemetry.Counter("hookmeter/dispatch", "hookmeter.collaborator.failures", "Collaborator calls that failed and were skipped"),
	}
}

// WithTimeout sets the per-call bound. Non-positive values are ignored.
func (g *Guard) WithTimeout(d time.Duration) *Guard {
	if d > 0 {
		g.timeout = d
	}
	return g
}

// Do runs fn for the named collaborator. The returned error, if any, wraps
// ErrUnavailable and is a warning only.
func (g *Guard) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	g.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("collaborator", name)))
	g.logger.Warn("dispatch: collaborator failed, skipping", "collaborator", name, "error", err)
	if errors.Is(err, ErrUnavailable) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, name, err)
}
