package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

// restoreGlobals puts the process-wide otel state back after a test so
// tests stay order-independent.
func restoreGlobals(t *testing.T) {
	t.Helper()
	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
	})
}

func TestInitTracingDisabledIsNoOp(t *testing.T) {
	restoreGlobals(t)

	var buf bytes.Buffer
	shutdown, err := InitTracing(TracingConfig{Enabled: false, Writer: &buf})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "probe")
	span.End()
	if buf.Len() != 0 {
		t.Errorf("disabled tracing wrote %d bytes, want 0", buf.Len())
	}
}

func TestInitTracingExportsSpans(t *testing.T) {
	restoreGlobals(t)

	var buf bytes.Buffer
	shutdown, err := InitTracing(TracingConfig{
		Enabled:        true,
		ServiceName:    "toolgate-test",
		ServiceVersion: "0.0.1",
		Writer:         &buf,
	})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "gateway.test_span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "gateway.test_span") {
		t.Errorf("exported spans missing span name, got: %s", out)
	}
	if !strings.Contains(out, "toolgate-test") {
		t.Errorf("exported spans missing service name, got: %s", out)
	}
}

func TestTraceIDFromContext(t *testing.T) {
	restoreGlobals(t)

	if id := TraceIDFromContext(context.Background()); id != "" {
		t.Errorf("TraceIDFromContext(empty ctx) = %q, want empty", id)
	}

	var buf bytes.Buffer
	shutdown, err := InitTracing(TracingConfig{
		Enabled:     true,
		ServiceName: "toolgate-test",
		Writer:      &buf,
	})
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	ctx, span := Tracer().Start(context.Background(), "probe")
	defer span.End()

	want := span.SpanContext().TraceID().String()
	if got := TraceIDFromContext(ctx); got != want {
		t.Errorf("TraceIDFromContext = %q, want %q", got, want)
	}
}
