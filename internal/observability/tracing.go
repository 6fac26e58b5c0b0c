// Package observability wires the core's OpenTelemetry tracing and Prometheus metrics. Neither
// concern is a hard dependency of the components that use them: Tracer returns a tracer from the
// global provider, which is a no-op until NewTracerProvider installs one, and a nil *Metrics
// simply skips instrumentation, so callers like the Engine and Dispatcher can accept them as
// optional construction options.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures the tracer provider installed by NewTracerProvider.
//
// There is deliberately no OTLP endpoint here: shipping spans to a collector is packaging, out
// of scope for this core. The only exporter NewTracerProvider knows how to build is stdout,
// which is enough to see the span tree a run produced without standing up any infrastructure.
type TraceConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// SamplingRate is the fraction of traces recorded, 0.0 to 1.0. Defaults to 1.0.
	SamplingRate float64

	Attributes map[string]string

	// PrettyPrint indents the stdout exporter's JSON for human reading instead of one line per
	// span. Useful for local smoke-testing, noisy for anything piping the output elsewhere.
	PrettyPrint bool
}

// NewTracerProvider builds a TracerProvider backed by the stdout exporter and installs it as the
// global provider, returning a shutdown func that flushes and stops it. If enabled is false, it
// leaves the global no-op provider in place and returns a shutdown func that does nothing, so
// callers can unconditionally `defer shutdown(ctx)` regardless of whether tracing is on.
func NewTracerProvider(ctx context.Context, enabled bool, cfg TraceConfig) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	if cfg.SamplingRate == 0 {
		cfg.SamplingRate = 1.0
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "corerun"
	}

	exporterOpts := []stdouttrace.Option{}
	if cfg.PrettyPrint {
		exporterOpts = append(exporterOpts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("observability: building stdout trace exporter: %w", err)
	}

	attrs := []attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRate >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRate <= 0.0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRate)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

// Tracer is the package's name for the tracer components pull spans from. It is just
// otel.Tracer(name): because the global TracerProvider is a lazily-resolving proxy, a Tracer
// obtained before NewTracerProvider runs still picks up the real provider once installed.
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }

// RecordError marks span as failed and attaches err, a no-op if err is nil.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
