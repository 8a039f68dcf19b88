// Package telemetry builds the tracer provider used to emit spans around
// query planning and each subgraph fetch.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures exporter construction. Collector-side auth and the wire
// format itself stay a collaborator concern; this only builds the client.
type Config struct {
	ServiceName string
	Endpoint    string // OTLP/HTTP collector endpoint, host:port
	Insecure    bool
	Headers     map[string]string
}

// Setup configures the global tracer provider and returns a shutdown func.
// If endpoint is empty, telemetry is disabled and Setup is a no-op.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.Endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}

	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the gateway's named tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer("federation-gateway")
}

// StartPlanSpan opens a span around query planning for operationName.
func StartPlanSpan(ctx context.Context, tracer trace.Tracer, operationName string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "gateway.plan")
	span.SetAttributes(attribute.String("graphql.operation.name", operationName))
	return ctx, span
}

// StartFetchSpan opens a span around one subgraph fetch.
func StartFetchSpan(ctx context.Context, tracer trace.Tracer, subgraph, operationType string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "subgraph.fetch")
	span.SetAttributes(
		attribute.String("gateway.subgraph", subgraph),
		attribute.String("gateway.operation_type", operationType),
	)
	return ctx, span
}

// EndWithCost records the final estimated/actual cost on span before ending
// it, so a trace viewer can correlate demand-control decisions with latency.
func EndWithCost(span trace.Span, estimated, actual int) {
	span.SetAttributes(
		attribute.Int("gateway.cost.estimated", estimated),
		attribute.Int("gateway.cost.actual", actual),
	)
	span.End()
}
