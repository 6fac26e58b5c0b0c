package observability

import (
	"context"
	"testing"
)

func TestNewTracerProviderDisabledIsNoop(t *testing.T) {
	shutdown, err := NewTracerProvider(context.Background(), false, TraceConfig{})
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestNewTracerProviderEnabledBuildsStdoutExporter(t *testing.T) {
	shutdown, err := NewTracerProvider(context.Background(), true, TraceConfig{
		ServiceName:    "corerun-test",
		ServiceVersion: "0.0.0-test",
		SamplingRate:   1.0,
	})
	if err != nil {
		t.Fatalf("NewTracerProvider: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	ctx, span := Tracer("corerun/test").Start(context.Background(), "unit-test-span")
	span.End()
	if ctx == nil {
		t.Fatal("expected a non-nil context from Start")
	}
}

func TestRecordErrorIsNilSafe(t *testing.T) {
	_, span := Tracer("corerun/test").Start(context.Background(), "noop")
	defer span.End()
	RecordError(span, nil)
}
