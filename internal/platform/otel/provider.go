// Package otel configures OpenTelemetry tracing for the bridge process.
package otel

import (
	"context"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// EnvEndpoint names the OTLP/HTTP collector endpoint variable.
	EnvEndpoint = "IPYTHON_MCP_OTEL_ENDPOINT"
	// EnvEnabled turns tracing off when set to "false".
	EnvEnabled = "IPYTHON_MCP_OTEL_ENABLED"

	instrumentationPrefix = "github.com/louisbranch/ipython-mcp/"
)

// Setup initialises OpenTelemetry tracing for the given service.
//
// Tracing is opt-in: when IPYTHON_MCP_OTEL_ENDPOINT is empty or
// IPYTHON_MCP_OTEL_ENABLED is "false", Setup returns a no-op shutdown
// function and no global provider is registered.
//
// The returned shutdown function flushes pending spans and should be deferred
// by the caller.
func Setup(ctx context.Context, serviceName string) (shutdown func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }

	if strings.EqualFold(os.Getenv(EnvEnabled), "false") {
		return noop, nil
	}

	endpoint := os.Getenv(EnvEndpoint)
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(endpoint),
	)
	if err != nil {
		return noop, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return noop, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

// Tracer returns a tracer named after a package path relative to the module
// root, e.g. Tracer("services/kernel/client").
func Tracer(pkg string) trace.Tracer {
	return otel.Tracer(instrumentationPrefix + strings.TrimPrefix(pkg, "/"))
}
