// Package tracing configures the OpenTelemetry tracer provider used by the
// engine and the activity dispatcher.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls span export.
type Config struct {
	Enabled     bool
	ServiceName string

	// Endpoint is the OTLP/HTTP collector host:port. Empty uses the
	// OTEL_EXPORTER_OTLP_* environment variables.
	Endpoint string
	Insecure bool

	// SampleRatio in (0, 1) samples a fraction of traces; anything else
	// samples every trace.
	SampleRatio float64
}

// ShutdownFunc flushes and stops the provider.
type ShutdownFunc func(context.Context) error

// Setup builds a tracer provider for cfg and installs it as the global
// provider. When tracing is disabled it returns a no-op provider and leaves
// the globals untouched.
func Setup(ctx context.Context, cfg Config) (trace.TracerProvider, ShutdownFunc, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	tp, err := newTracerProvider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp, tp.Shutdown, nil
}

func newTracerProvider(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	name := cfg.ServiceName
	if name == "" {
		name = "pedidoflow"
	}

	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(name),
		),
	)
	if err != nil {
		return nil, err
	}

	var opts []otlptracehttp.Option
	if cfg.Endpoint != "" {
		opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
	}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
		sampler = sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sampler),
	), nil
}
