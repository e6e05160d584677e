package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestFieldsAreSortedAndImmutable(t *testing.T) {
	base := WithRequestID(context.Background(), "r1")
	withUser := WithUserID(base, "u1")
	withChat := WithChatID(withUser, "c1")

	assert.Equal(t, []any{"request_id", "r1"}, Fields(base))
	assert.Equal(t, []any{"chat_id", "c1", "request_id", "r1", "user_id", "u1"}, Fields(withChat))
}

func TestEmptyValuesAreSkipped(t *testing.T) {
	ctx := WithUserID(WithRequestID(context.Background(), ""), "")
	assert.Nil(t, Fields(ctx))

	ctx = WithFields(ctx, 2, "v", "dangling")
	assert.Nil(t, Fields(ctx))
}

func TestWithFieldsKeepsStringKeyedPairs(t *testing.T) {
	ctx := WithFields(context.Background(), "k", 1, 2, "v", "dangling")
	assert.Equal(t, []any{"k", 1}, Fields(ctx))

	ctx = WithFields(ctx, "stage", "retrieve", "k", 3)
	assert.Equal(t, []any{"k", 3, "stage", "retrieve"}, Fields(ctx))
}

func TestWithTrace(t *testing.T) {
	ctx := WithTrace(context.Background())
	assert.Nil(t, Fields(ctx))

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	kv := Fields(WithTrace(ctx))
	assert.Equal(t, []any{
		"span_id", span.SpanContext().SpanID().String(),
		"trace_id", span.SpanContext().TraceID().String(),
	}, kv)
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))
	assert.NotNil(t, FromContext(WithChatID(context.Background(), "c1")))
}
