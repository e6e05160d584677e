package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/tracing"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
)

// Generator 答案生成阶段。
type Generator struct {
	invoker *invoker
	metrics *metrics.ChatMetrics
}

// NewGenerator creates a Generator.
func NewGenerator(gateway llm.Gateway, m *metrics.ChatMetrics) *Generator {
	return &Generator{invoker: &invoker{gateway: gateway, metrics: m}, metrics: m}
}

// Answer 生成答案。有流式接收方时使用流式调用并按序转发分片。
// 停止原因不可接受时返回空串；内容过滤返回配置的拦截文案。两者都不是错误。
func (g *Generator) Answer(ctx context.Context, t *turn, question, contextText string, label Label) (string, error) {
	ctx, span := tracing.StartSpan(ctx, tracerName, "generate")
	defer span.End()

	chain := t.opts.LLM.QA
	resp, err := g.invoker.callChain(ctx, t, chain, map[string]string{
		"context":             contextText,
		"question":            question,
		"classification_type": string(label),
	}, t.sink.chunkFunc())
	if err != nil {
		if cf, ok := llm.AsContentFilter(err); ok {
			g.metrics.RecordContentFilter()
			msg := blockedMessage(t, cf.Input)
			logger.Warnw("answer blocked by content filter", "chat_id", t.chatID, "input", cf.Input)
			_ = t.sink.send(msg)
			return msg, nil
		}
		tracing.RecordError(ctx, err)
		return "", err
	}

	if !resp.StopReason.Accepted() {
		g.metrics.RecordEmptyAnswer()
		logger.Warnw("answer discarded", "chat_id", t.chatID, "stop_reason", resp.StopReason)
		return "", nil
	}
	return resp.Text, nil
}

// blockedMessage 链路 kwargs 中的 blocked_input_message / blocked_output_message 优先于全局护栏配置。
func blockedMessage(t *turn, input bool) string {
	key, msg := "blocked_output_message", t.opts.Guardrail.BlockedOutputMessage
	if input {
		key, msg = "blocked_input_message", t.opts.Guardrail.BlockedInputMessage
	}
	if s, ok := t.opts.LLM.QA.Kwargs[key].(string); ok && s != "" {
		return s
	}
	return msg
}
