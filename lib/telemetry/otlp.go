package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceNamespace groups every binary of the point of sale backend under
// one namespace in the collector.
const ServiceNamespace = "wisppos"

// otlpEndpoint is one signal's collector. the grpc endpoint wins when both
// are set, with neither the exporter falls back to the http default
// (localhost:4318).
type otlpEndpoint struct {
	GrpcEndpoint string            `json:"grpc_endpoint"`
	HttpEndpoint string            `json:"http_endpoint"`
	Headers      map[string]string `json:"headers"`
}

func (e otlpEndpoint) transport() string {
	if e.GrpcEndpoint != "" {
		return "grpc"
	}
	return "http"
}

func (e otlpEndpoint) endpoint() string {
	if e.GrpcEndpoint != "" {
		return e.GrpcEndpoint
	}
	return e.HttpEndpoint
}

type config struct {
	// Environment is reported as deployment.environment, e.g. "production"
	// or "staging" for a test tenant of the portal.
	Environment string `json:"environment"`
	// SampleRatio is the share of root traces kept, anything outside (0, 1)
	// keeps every trace.
	SampleRatio float64 `json:"sample_ratio"`
	Otlp        struct {
		Traces  otlpEndpoint `json:"traces"`
		Metrics otlpEndpoint `json:"metrics"`
	} `json:"otlp"`
}

func newResource(serviceName string, c config) (*resource.Resource, error) {
	attrs := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNamespace(ServiceNamespace),
		semconv.ServiceName(serviceName),
	)
	if c.Environment != "" {
		attrs, _ = resource.Merge(attrs, resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.DeploymentEnvironment(c.Environment),
		))
	}
	if host, err := os.Hostname(); err == nil {
		attrs, _ = resource.Merge(attrs, resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceInstanceID(serviceName+"@"+host),
		))
	}
	return resource.Merge(resource.Default(), attrs)
}

func newSampler(ratio float64) trace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return trace.AlwaysSample()
	}
	return trace.ParentBased(trace.TraceIDRatioBased(ratio))
}

func newTraceProvider(ctx context.Context, r *resource.Resource, c config) (*trace.TracerProvider, error) {
	exporter, err := newSpanExporter(ctx, c.Otlp.Traces)
	if err != nil {
		return nil, err
	}
	return trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(r),
		trace.WithSampler(newSampler(c.SampleRatio)),
	), nil
}

func newSpanExporter(ctx context.Context, e otlpEndpoint) (trace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	slog.Info(
		"span exporter initialized",
		"transport", e.transport(),
		"endpoint", e.endpoint(),
		"headers", len(e.Headers) > 0,
	)
	if e.transport() == "grpc" {
		return otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpointURL(e.GrpcEndpoint),
			otlptracegrpc.WithHeaders(e.Headers),
		)
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithHeaders(e.Headers)}
	if e.HttpEndpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpointURL(e.HttpEndpoint))
	}
	return otlptracehttp.New(ctx, opts...)
}

func newMetricProvider(ctx context.Context, r *resource.Resource, c config) (*metric.MeterProvider, error) {
	exporter, err := newMetricExporter(ctx, c.Otlp.Metrics)
	if err != nil {
		return nil, err
	}
	return metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(exporter, metric.WithInterval(time.Second*15))),
		metric.WithResource(r),
	), nil
}

func newMetricExporter(ctx context.Context, e otlpEndpoint) (metric.Exporter, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	slog.Info(
		"metric exporter initialized",
		"transport", e.transport(),
		"endpoint", e.endpoint(),
		"headers", len(e.Headers) > 0,
	)
	if e.transport() == "grpc" {
		return otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpointURL(e.GrpcEndpoint),
			otlpmetricgrpc.WithHeaders(e.Headers),
		)
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithHeaders(e.Headers)}
	if e.HttpEndpoint != "" {
		opts = append(opts, otlpmetrichttp.WithEndpointURL(e.HttpEndpoint))
	}
	return otlpmetrichttp.New(ctx, opts...)
}
