// Package telemetry initializes OpenTelemetry tracing and metrics exporters.
//
// A hook invocation is a short-lived process: spans and metrics are held for
// the life of the process and exported once by Shutdown. Callers must invoke
// the returned Shutdown before exiting or the invocation's telemetry is lost.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var noopMeter = noop.NewMeterProvider().Meter("hookmeter/noop")

// Shutdown flushes and stops the providers installed by Init.
type Shutdown func(ctx context.Context) error

// Options configures Init.
type Options struct {
	Endpoint      string // OTLP HTTP host:port; empty disables export
	ServiceName   string
	Version       string
	Insecure      bool
	ExportTimeout time.Duration // bound on each export, including the final flush
}

// idleInterval is longer than any hook invocation, so exports happen once,
// from Shutdown, instead of on a timer.
const idleInterval = time.Hour

// Init installs global tracer and meter providers that buffer the whole
// invocation in memory and export it in one flush from Shutdown. With an
// empty endpoint the global no-op providers stay in place.
func Init(ctx context.Context, o Options) (Shutdown, error) {
	if o.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	if o.ExportTimeout <= 0 {
		o.ExportTimeout = 10 * time.Second
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.ServiceName),
			semconv.ServiceVersionKey.String(o.Version),
		),
		resource.WithProcessPID(),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(o.Endpoint),
		otlptracehttp.WithTimeout(o.ExportTimeout),
	}
	if o.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp,
			sdktrace.WithBatchTimeout(idleInterval),
			sdktrace.WithExportTimeout(o.ExportTimeout),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	// Webhook requests inject this into their headers.
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	metricOpts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(o.Endpoint),
		otlpmetrichttp.WithTimeout(o.ExportTimeout),
	}
	if o.Insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp,
				sdkmetric.WithInterval(idleInterval),
				sdkmetric.WithTimeout(o.ExportTimeout),
			),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		// Both providers flush on shutdown; neither may skip the other.
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Tracer returns the global tracer for the given instrumentation scope.
func Tracer(name string) trace.Tracer {
	return otel.GetTracerProvider().Tracer(name)
}

// Counter creates an Int64Counter on the named global meter.
func Counter(scope, name, description string) metric.Int64Counter {
	return CounterOn(Meter(scope), name, description)
}

// CounterOn creates an Int64Counter on m. Instrument creation errors are
// swallowed: a broken exporter must not stop a hook from recording its event.
func CounterOn(m metric.Meter, name, description string) metric.Int64Counter {
	c, err := m.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		c, _ = noopMeter.Int64Counter(name)
	}
	return c
}
