// Package logger 通过 context 传递请求级日志字段（request_id、user_id、chat_id、trace_id）。
package logger

import (
	"context"
	"sort"

	"github.com/kart-io/logger"
	"github.com/kart-io/logger/core"
	"go.opentelemetry.io/otel/trace"
)

type fieldsKey struct{}

// fields 不可变，每次添加字段都复制一份。
type fields map[string]any

func fromContext(ctx context.Context) fields {
	if f, ok := ctx.Value(fieldsKey{}).(fields); ok {
		return f
	}
	return nil
}

func with(ctx context.Context, kv map[string]any) context.Context {
	old := fromContext(ctx)
	f := make(fields, len(old)+len(kv))
	for k, v := range old {
		f[k] = v
	}
	for k, v := range kv {
		f[k] = v
	}
	return context.WithValue(ctx, fieldsKey{}, f)
}

// WithRequestID adds request_id to the context fields.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return with(ctx, map[string]any{"request_id": requestID})
}

// WithUserID adds user_id to the context fields.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return with(ctx, map[string]any{"user_id": userID})
}

// WithChatID adds chat_id to the context fields.
func WithChatID(ctx context.Context, chatID string) context.Context {
	if chatID == "" {
		return ctx
	}
	return with(ctx, map[string]any{"chat_id": chatID})
}

// WithFields 添加任意键值对。键不是字符串的一对被丢弃，值的类型不限；奇数个参数时忽略最后一个。
// 同名键覆盖已有的值。
func WithFields(ctx context.Context, keysAndValues ...any) context.Context {
	kv := make(map[string]any, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			kv[key] = keysAndValues[i+1]
		}
	}
	if len(kv) == 0 {
		return ctx
	}
	return with(ctx, kv)
}

// WithTrace 从当前 span 取 trace_id 与 span_id。
func WithTrace(ctx context.Context) context.Context {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return ctx
	}
	return with(ctx, map[string]any{
		"trace_id": sc.TraceID().String(),
		"span_id":  sc.SpanID().String(),
	})
}

// Fields returns the context fields as key-value pairs sorted by key.
func Fields(ctx context.Context) []any {
	f := fromContext(ctx)
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(f)*2)
	for _, k := range keys {
		out = append(out, k, f[k])
	}
	return out
}

// FromContext returns the global logger carrying the context fields.
func FromContext(ctx context.Context) core.Logger {
	kv := Fields(ctx)
	if len(kv) == 0 {
		return logger.Global()
	}
	return logger.Global().With(kv...)
}
