package tracing

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
)

func useSDKProvider(t *testing.T) {
	t.Helper()
	prev := otel.GetTracerProvider()
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
}

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestTraceparentRoundTrip(t *testing.T) {
	useSDKProvider(t)
	_, err := Initialize(Config{ServiceName: "test"}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, span := StartSpan(context.Background(), "work")
	defer span.End()

	tp := W3CTraceparent(ctx)
	parts := strings.Split(tp, "-")
	require.Len(t, parts, 4, tp)
	assert.Equal(t, "00", parts[0])
	assert.Equal(t, span.SpanContext().TraceID().String(), parts[1])

	h := http.Header{}
	InjectTraceparent(ctx, h)
	assert.Equal(t, tp, h.Get("traceparent"))

	child, childSpan := StartSpan(Extract(context.Background(), h), "child")
	defer childSpan.End()
	assert.Equal(t, span.SpanContext().TraceID(), childSpan.SpanContext().TraceID())
	assert.NotEqual(t, tp, W3CTraceparent(child))
}

func TestTraceparentWithoutSpan(t *testing.T) {
	assert.Empty(t, W3CTraceparent(context.Background()))
	h := http.Header{}
	InjectTraceparent(context.Background(), h)
	assert.Empty(t, h.Get("traceparent"))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased")
}
