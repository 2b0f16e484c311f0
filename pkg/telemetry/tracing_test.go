package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/0xmhha/tokenwallet-go/internal/config"
)

func TestInitTracer_DisabledInstallsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), config.TelemetryConfig{Endpoint: "localhost:4318"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	defer span.End()
	assert.False(t, span.SpanContext().IsValid())
}

func TestInitTracer_EnabledInstallsSDKProvider(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), config.TelemetryConfig{
		Enabled:     true,
		Endpoint:    "localhost:4318",
		Insecure:    true,
		ServiceName: "tokenwallet-test",
		SampleRatio: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
	})

	_, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	assert.True(t, ok)

	_, span := otel.Tracer("test").Start(context.Background(), "sampled")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// nothing reachable at the endpoint; shutdown must still return
	_ = shutdown(ctx)
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(0).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}
