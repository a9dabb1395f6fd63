// Package telemetry wires the otel spans emitted by capture and export to an OTLP collector.
package telemetry

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	// EndpointEnv names the OTLP/HTTP collector URL. Tracing stays off while it is empty.
	EndpointEnv = "SCREENREEL_OTEL_ENDPOINT"
	// EnabledEnv set to "false" disables tracing even when an endpoint is configured.
	EnabledEnv = "SCREENREEL_OTEL_ENABLED"
)

// ShutdownFunc flushes pending spans.
type ShutdownFunc func(context.Context) error

// Setup installs a global tracer provider for serviceName when an endpoint is configured.
// lookupEnv defaults to os.LookupEnv. Without an endpoint it returns a no-op shutdown and
// leaves the global provider untouched, so spans stay non-recording.
func Setup(ctx context.Context, serviceName string, lookupEnv func(string) (string, bool)) (ShutdownFunc, error) {
	noop := func(context.Context) error { return nil }
	if lookupEnv == nil {
		lookupEnv = os.LookupEnv
	}

	if v, _ := lookupEnv(EnabledEnv); strings.EqualFold(strings.TrimSpace(v), "false") {
		return noop, nil
	}
	endpoint, _ := lookupEnv(EndpointEnv)
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return noop, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return noop, fmt.Errorf("telemetry: create exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return noop, fmt.Errorf("telemetry: build resource: %w", err)
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
