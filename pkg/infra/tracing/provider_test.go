package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	tracingopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/tracing"
)

func TestOptionsValidate(t *testing.T) {
	opts := tracingopts.NewOptions()
	assert.Empty(t, opts.Validate(), "disabled tracing is always valid")

	opts.Enabled = true
	assert.Empty(t, opts.Validate())

	opts.Exporter = "zipkin"
	opts.Sampler = "sometimes"
	opts.SamplerRatio = 2
	assert.Len(t, opts.Validate(), 3)

	opts = tracingopts.NewOptions()
	opts.Enabled = true
	opts.Endpoint = ""
	assert.Len(t, opts.Validate(), 1)
	opts.Exporter = tracingopts.ExporterStdout
	assert.Empty(t, opts.Validate())
}

func TestNewProviderDisabled(t *testing.T) {
	p, err := NewProvider(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderNoop(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	opts := tracingopts.NewOptions()
	opts.Enabled = true
	opts.Exporter = tracingopts.ExporterNoop

	p, err := NewProvider(context.Background(), opts)
	require.NoError(t, err)
	defer p.Shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "test", "op")
	defer span.End()
	assert.NotEmpty(t, TraceIDFromContext(ctx))
}

func TestNewProviderRejectsInvalid(t *testing.T) {
	opts := tracingopts.NewOptions()
	opts.Enabled = true
	opts.Exporter = "zipkin"
	_, err := NewProvider(context.Background(), opts)
	assert.Error(t, err)
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	RecordError(ctx, nil)
	RecordError(ctx, errors.New("boom"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "boom", ended[0].Status().Description)
	assert.Len(t, ended[0].Events(), 1)
	assert.Empty(t, TraceIDFromContext(context.Background()))
}
