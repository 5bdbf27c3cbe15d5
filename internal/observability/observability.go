// Package observability sets up OpenTelemetry tracing over OTLP HTTP. The
// collector endpoint is expected to run alongside the process; a local agent
// buffers and forwards spans, so the exporter never talks to a backend
// directly.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/devrecall/devrecall/internal/config"
	"github.com/devrecall/devrecall/internal/log"
)

// DefaultEndpoint is the default local OTLP HTTP collector endpoint.
const DefaultEndpoint = "localhost:4318"

// Setup creates a tracer provider exporting to the configured OTLP endpoint
// and registers it globally. It returns the tracer for the core pipelines
// and a shutdown function that flushes pending spans.
//
// An exporter construction failure disables tracing rather than failing
// startup: traces are diagnostics, not a dependency.
func Setup(ctx context.Context, cfg config.OtelConfig, logger log.Logger) (trace.Tracer, func(context.Context) error, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "devrecall"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("failed to create otlp exporter, tracing disabled", "error", err)
		nop := noop.NewTracerProvider().Tracer("")
		return nop, func(context.Context) error { return nil }, nil
	}

	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceName(serviceName)),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(
			attribute.String("deployment.environment", cfg.Environment)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Debug("tracing enabled", "endpoint", endpoint, "service", serviceName)
	return tp.Tracer("devrecall"), tp.Shutdown, nil
}
