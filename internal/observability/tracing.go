// Package observability configures the gateway's OpenTelemetry trace
// pipeline. Spans are exported as JSON lines when tracing is enabled; when
// disabled the global no-op provider stays in place and instrumentation
// sites record nothing.
package observability

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName scopes every span the gateway emits.
const instrumentationName = "github.com/toolgate/toolgate"

// TracingConfig describes the span pipeline for one gateway process.
type TracingConfig struct {
	// Enabled turns span export on. When false, InitTracing leaves the
	// global no-op provider untouched.
	Enabled bool

	// ServiceName and ServiceVersion identify the process in exported
	// spans.
	ServiceName    string
	ServiceVersion string

	// Writer receives exported spans. Defaults to os.Stdout.
	Writer io.Writer
}

// InitTracing installs the global tracer provider and text-map propagators.
// The returned shutdown function flushes buffered spans and must be called
// during process teardown. With tracing disabled both the install and the
// shutdown are no-ops.
func InitTracing(cfg TracingConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("create stdout span exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return provider.Shutdown, nil
}

// Tracer returns the gateway tracer from the global provider. Before
// InitTracing, or with tracing disabled, this is the no-op tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// TraceIDFromContext returns the hex trace ID of the span in ctx, empty
// when the context carries no valid span.
func TraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
