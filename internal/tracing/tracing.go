// Package tracing owns the process tracer. Spans are always created; they are
// only exported when an OTLP endpoint is enabled.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultServiceName = "task-augmentor"

// Version is reported as service.version.
var Version = "dev"

// Config is the tracing section of the service configuration.
type Config struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

var (
	tracer     atomic.Pointer[oteltrace.Tracer]
	propagator = propagation.TraceContext{}
)

func setTracer(name string) {
	t := otel.Tracer(name)
	tracer.Store(&t)
}

// Initialize installs the tracer. With tracing disabled spans still carry
// valid ids once a provider is set by the caller, but nothing is exported.
// The returned func flushes and stops the exporter.
func Initialize(cfg Config, logger *zap.Logger) (func(context.Context) error, error) {
	name := cfg.ServiceName
	if name == "" {
		name = defaultServiceName
	}
	noop := func(context.Context) error { return nil }
	setTracer(name)
	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return noop, nil
	}

	endpoint := cfg.OTLPEndpoint
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("otlp exporter: %w", err)
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(name),
		semconv.ServiceVersion(Version),
	))
	if err != nil {
		return noop, fmt.Errorf("trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagator)
	setTracer(name)

	logger.Info("Tracing initialized",
		zap.String("endpoint", endpoint),
		zap.Float64("sample_ratio", cfg.SampleRatio),
	)
	return provider.Shutdown, nil
}

// sampler honours the caller's decision and samples new traces at ratio.
// Ratios outside (0,1) sample everything.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// StartSpan starts a span on the process tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	t := tracer.Load()
	if t == nil {
		setTracer(defaultServiceName)
		t = tracer.Load()
	}
	return (*t).Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

// Extract returns ctx carrying the remote span context from an incoming
// traceparent header, if any.
func Extract(ctx context.Context, h http.Header) context.Context {
	return propagator.Extract(ctx, propagation.HeaderCarrier(h))
}

// W3CTraceparent renders the active span context as a traceparent value, or
// "" when there is none.
func W3CTraceparent(ctx context.Context) string {
	carrier := propagation.MapCarrier{}
	propagator.Inject(ctx, carrier)
	return carrier.Get("traceparent")
}

// InjectTraceparent sets the traceparent header for the active span.
func InjectTraceparent(ctx context.Context, h http.Header) {
	if tp := W3CTraceparent(ctx); tp != "" {
		h.Set("traceparent", tp)
	}
}
