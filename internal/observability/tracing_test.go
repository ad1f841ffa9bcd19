// ABOUTME: Tests for OpenTelemetry tracing setup
// ABOUTME: Uses the SDK span recorder to check IDs, error status and sampler choice

package observability

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	t.Parallel()

	tp, err := NewTracerProvider(context.Background(), TracingConfig{})
	if err != nil {
		t.Fatalf("NewTracerProvider() error: %v", err)
	}
	if tp.IsEnabled() {
		t.Error("IsEnabled() = true for a disabled config")
	}
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error: %v", err)
	}

	var nilProvider *TracerProvider
	if err := nilProvider.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() on nil provider error: %v", err)
	}
}

func TestSamplerFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ratio float64
		want  string
	}{
		{0, "AlwaysOffSampler"},
		{-1, "AlwaysOffSampler"},
		{1, "AlwaysOnSampler"},
		{0.25, "ParentBased"},
	}

	for _, tt := range tests {
		if got := samplerFor(tt.ratio).Description(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("samplerFor(%v) = %q, want prefix %q", tt.ratio, got, tt.want)
		}
	}
}

func TestSpanIDsAndErrors(t *testing.T) {
	t.Parallel()

	rec := tracetest.NewSpanRecorder()
	tp := &TracerProvider{sdk: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)), enabled: true}
	defer tp.Shutdown(context.Background())

	if ExtractTraceID(context.Background()) != "" || ExtractSpanID(context.Background()) != "" {
		t.Error("IDs should be empty without a span")
	}

	ctx, span := tp.Tracer(TracerName).Start(context.Background(), "signatures.update")
	if len(ExtractTraceID(ctx)) != 32 || len(ExtractSpanID(ctx)) != 16 {
		t.Errorf("trace id %q, span id %q", ExtractTraceID(ctx), ExtractSpanID(ctx))
	}
	RecordError(span, nil)
	RecordError(span, errors.New("feed unavailable"))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("recorded %d spans, want 1", len(ended))
	}
	if st := ended[0].Status(); st.Code != codes.Error || st.Description != "feed unavailable" {
		t.Errorf("status = %+v", st)
	}
	if n := len(ended[0].Events()); n != 1 {
		t.Errorf("error events = %d, want 1", n)
	}
}
