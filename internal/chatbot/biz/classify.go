package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/tracing"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
)

const tracerName = "chatbot/biz"

// Classifier 分类阶段。handoff_request 时推进转接状态并生成对应回复。
type Classifier struct {
	invoker *invoker
	handoff *HandoffService
	metrics *metrics.ChatMetrics
}

// NewClassifier creates a Classifier.
func NewClassifier(gateway llm.Gateway, handoff *HandoffService, m *metrics.ChatMetrics) *Classifier {
	return &Classifier{
		invoker: &invoker{gateway: gateway, metrics: m},
		handoff: handoff,
		metrics: m,
	}
}

// Classify 对问题分类。未配置分类链路、输出无法解析或输入被拦截时返回 question。
// 模型传输错误与转接计数错误直接返回。
func (c *Classifier) Classify(ctx context.Context, t *turn, question string) (*ClassificationResult, error) {
	chain := t.opts.LLM.Classification
	if chain == nil {
		return &ClassificationResult{Label: LabelQuestion}, nil
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "classify")
	defer span.End()

	resp, err := c.invoker.callChain(ctx, t, chain, map[string]string{"question": question}, nil)
	if err != nil {
		if _, ok := llm.AsContentFilter(err); ok {
			c.metrics.RecordContentFilter()
			logger.Warnw("classification filtered, defaulting to question", "chat_id", t.chatID, "error", err.Error())
			t.trace.Add("classification_response", nil)
			return &ClassificationResult{Label: LabelQuestion}, nil
		}
		tracing.RecordError(ctx, err)
		return nil, err
	}

	result, ok := ParseClassification(resp.Text)
	if !ok {
		c.metrics.RecordUnparsedClassification()
		logger.Warnw("unable to parse classification response", "chat_id", t.chatID, "response", resp.Text)
		t.trace.Add("classification_response", nil)
		return &ClassificationResult{Label: LabelQuestion}, nil
	}
	t.trace.Add("classification_response", result)
	span.SetAttributes(tracing.String("chatbot.label", string(result.Label)))

	if result.Label == LabelHandoffRequest && t.opts.HandoffEnabled() {
		if err := c.respondToHandoff(ctx, t, result); err != nil {
			tracing.RecordError(ctx, err)
			return nil, err
		}
	}

	logger.Debugw("question classified", "chat_id", t.chatID, "label", result.Label, "language", result.Language)
	return result, nil
}

// respondToHandoff 推进转接状态，并用状态对应的提示生成回复。
func (c *Classifier) respondToHandoff(ctx context.Context, t *turn, result *ClassificationResult) error {
	cfg := t.opts.Handoff
	state, err := c.handoff.Increment(ctx, t.userID, t.chatID, cfg.Threshold)
	if err != nil {
		return err
	}
	result.HandoffState = state
	t.trace.Add("handoff_state", state)

	chain := t.opts.LLM.Classification
	resp, err := c.invoker.generate(ctx, t, &llm.Request{
		ModelID:      chain.ModelID,
		Prompt:       handoffPrompt(cfg, state, result.Language, t.opts.DefaultLanguage),
		SystemPrompt: chain.SystemPrompt,
		Inference:    inferenceConfig(chain.ModelKwargs),
	}, nil)
	if err != nil {
		if _, ok := llm.AsContentFilter(err); ok {
			c.metrics.RecordContentFilter()
			result.Response = t.opts.Guardrail.BlockedOutputMessage
			return nil
		}
		return err
	}
	if resp.StopReason.Accepted() {
		result.Response = resp.Text
	} else {
		logger.Warnw("handoff response discarded", "chat_id", t.chatID, "stop_reason", resp.StopReason)
		result.Response = ""
	}
	return nil
}
