package biz

import (
	"context"
	"strings"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/store"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/tracing"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
)

// Rewriter 把追问改写为不依赖上下文的独立问题。
type Rewriter struct {
	invoker  *invoker
	messages store.MessageStore
}

// NewRewriter creates a Rewriter.
func NewRewriter(gateway llm.Gateway, messages store.MessageStore, m *metrics.ChatMetrics) *Rewriter {
	return &Rewriter{
		invoker:  &invoker{gateway: gateway, metrics: m},
		messages: messages,
	}
}

// Rewrite 从不失败：没有历史时不调用模型，任何错误都退回原问题。
func (r *Rewriter) Rewrite(ctx context.Context, t *turn, question string) string {
	chain := t.opts.LLM.Standalone
	if chain == nil {
		return question
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "rewrite")
	defer span.End()

	history, err := r.messages.ListRecent(ctx, t.userID, t.chatID, t.opts.MaxConversationHistory)
	if err != nil {
		logger.Warnw("failed to read history, using original question", "chat_id", t.chatID, "error", err.Error())
		return question
	}
	if len(history) == 0 {
		return question
	}

	resp, err := r.invoker.callChain(ctx, t, chain, map[string]string{
		"chat_history": FormatChatHistory(history),
		"question":     question,
	}, nil)
	if err != nil {
		logger.Warnw("standalone rewrite failed, using original question", "chat_id", t.chatID, "error", err.Error())
		return question
	}
	if !resp.StopReason.Accepted() {
		return question
	}
	return ParseStandalone(resp.Text, question)
}

// FormatChatHistory 按 "\nUser: ..." / "\nAI: ..." 拼接历史消息。
func FormatChatHistory(history []*model.Message) string {
	var sb strings.Builder
	for _, m := range history {
		switch m.Type {
		case model.MessageHuman:
			sb.WriteString("\nUser: ")
		case model.MessageAI:
			sb.WriteString("\nAI: ")
		default:
			continue
		}
		sb.WriteString(m.Content)
	}
	return sb.String()
}
