// ABOUTME: OpenTelemetry tracing for scan requests and signature updates
// ABOUTME: OTLP gRPC export, ratio sampling and span helpers shared by every entry point

package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig is the [tracing] section.
type TracingConfig struct {
	Enabled bool `toml:"enabled"`
	// Endpoint is the OTLP collector, host:port.
	Endpoint string `toml:"endpoint"`
	Insecure bool   `toml:"insecure"`
	// SamplingRatio is the share of root spans kept, 0 to 1.
	SamplingRatio float64 `toml:"sampling_ratio"`

	ServiceName string `toml:"-"`
	Version     string `toml:"-"`
}

// TracerName is the instrumentation scope of StartSpan.
const TracerName = "hikmaai-lens"

// Span attributes set on scan and update spans.
const (
	AttrVerdict       = attribute.Key("scan.verdict")
	AttrSignature     = attribute.Key("scan.signature")
	AttrStrength      = attribute.Key("scan.strength")
	AttrBytesExamined = attribute.Key("scan.bytes_examined")
	AttrTruncated     = attribute.Key("scan.truncated")
	AttrCacheHit      = attribute.Key("scan.cache_hit")
	AttrFingerprint   = attribute.Key("signatures.fingerprint")
)

// TracerProvider owns the SDK provider so the daemon can flush it on exit.
type TracerProvider struct {
	sdk     *sdktrace.TracerProvider
	enabled bool
}

// NewTracerProvider returns a local-only provider when tracing is disabled.
// When enabled it exports over OTLP gRPC and becomes the global provider,
// with W3C trace context and baggage propagation.
func NewTracerProvider(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if !cfg.Enabled {
		return &TracerProvider{sdk: sdktrace.NewTracerProvider()}, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("building trace resource: %w", err)
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter for %s: %w", cfg.Endpoint, err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SamplingRatio)),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	return &TracerProvider{sdk: sdk, enabled: true}, nil
}

func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.NeverSample()
	case ratio >= 1:
		return sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Tracer returns a named tracer from this provider.
func (tp *TracerProvider) Tracer(name string) trace.Tracer { return tp.sdk.Tracer(name) }

// IsEnabled reports whether spans are exported.
func (tp *TracerProvider) IsEnabled() bool { return tp.enabled }

// Shutdown flushes pending spans.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp == nil || tp.sdk == nil {
		return nil
	}
	return tp.sdk.Shutdown(ctx)
}

// StartSpan starts a span on the global provider.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(TracerName).Start(ctx, name, opts...)
}

// ExtractTraceID returns the hex trace ID in ctx, or "".
func ExtractTraceID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	return ""
}

// ExtractSpanID returns the hex span ID in ctx, or "".
func ExtractSpanID(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.SpanID().String()
	}
	return ""
}

// RecordError marks span failed. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
