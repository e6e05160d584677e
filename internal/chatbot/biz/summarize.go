package biz

import (
	"context"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/store"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
)

// 摘要提示的固定部分。
const (
	summarizerRole = "You are a detailed note-taker for a customer service chatbot that helps users solve " +
		"technical issues. You carefully read through conversations and focus on the details you're asked " +
		"to find by the system. Do not output anything except text."
	summarizerBasePrompt = "Create a summary of the conversation below that captures the key points of the " +
		"conversation. Keep the summary to a few bullet points."
	conversationStart = "CONVERSATION START:"
	conversationEnd   = "CONVERSATION END"
	detailsHeader     = "Especially focus on the following types of details:"
	detailsFooter     = "...as well as any other details that are important to the purpose of the conversation."

	// FailedToSummarize 摘要失败时写入的文本。
	FailedToSummarize = "Summarizer failed to generate a response."
)

// Submitter 异步执行任务，通常是 pool.Pool。
type Submitter interface {
	Submit(task func()) error
}

// Summarizer 生成转接摘要并把会话推进到 handoff_just_triggered。
type Summarizer struct {
	gateway  llm.Gateway
	chats    store.ChatStore
	messages store.MessageStore
	workers  Submitter
	metrics  *metrics.ChatMetrics
	// timeout 单个异步摘要任务的时限
	timeout time.Duration
}

// NewSummarizer creates a Summarizer.
func NewSummarizer(gateway llm.Gateway, chats store.ChatStore, messages store.MessageStore, workers Submitter, m *metrics.ChatMetrics) *Summarizer {
	return &Summarizer{
		gateway:  gateway,
		chats:    chats,
		messages: messages,
		workers:  workers,
		metrics:  m,
		timeout:  2 * time.Minute,
	}
}

// BuildSummaryPrompt 组装摘要提示。返回 (system, prompt)。
func BuildSummaryPrompt(history []*model.Message, details []string) (string, string) {
	lines := make([]string, 0, len(history))
	for _, m := range history {
		switch m.Type {
		case model.MessageHuman:
			lines = append(lines, "Human: "+m.Content)
		case model.MessageAI:
			lines = append(lines, "Ai: "+m.Content)
		}
	}

	parts := []string{summarizerBasePrompt, conversationStart, strings.Join(lines, "\n\n"), conversationEnd}
	if len(details) > 0 {
		var sb strings.Builder
		sb.WriteString(detailsHeader)
		for _, d := range details {
			sb.WriteString("\n- ")
			sb.WriteString(d)
		}
		sb.WriteString("\n")
		sb.WriteString(detailsFooter)
		parts = append(parts, sb.String())
	}
	return summarizerRole, strings.Join(parts, "\n\n")
}

// Summarize 同步生成摘要。模型失败或停止原因异常时返回 FailedToSummarize，用量仍然返回。
func (s *Summarizer) Summarize(ctx context.Context, cfg *chatbot.HandoffConfig, userID, chatID string) (string, *Usage, error) {
	history, err := s.allMessages(ctx, userID, chatID)
	if err != nil {
		return "", nil, err
	}

	system, prompt := BuildSummaryPrompt(history, cfg.Details)
	start := time.Now()
	resp, err := s.gateway.Generate(ctx, &llm.Request{
		ModelID:      cfg.ModelID,
		Prompt:       prompt,
		SystemPrompt: system,
		Inference:    inferenceConfig(cfg.ModelKwargs),
	})
	if err != nil {
		s.metrics.RecordLLMCall(time.Since(start), 0, 0, err)
		logger.Errorw("handoff summary failed", "chat_id", chatID, "error", err.Error())
		return FailedToSummarize, nil, nil
	}
	s.metrics.RecordLLMCall(time.Since(start), resp.InputTokens, resp.OutputTokens, nil)

	usage := &Usage{ModelID: cfg.ModelID, InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens}
	if !resp.StopReason.Accepted() || strings.TrimSpace(resp.Text) == "" {
		logger.Warnw("handoff summary discarded", "chat_id", chatID, "stop_reason", resp.StopReason)
		return FailedToSummarize, usage, nil
	}
	return resp.Text, usage, nil
}

// Trigger 校验会话后异步生成摘要，写入摘要与成本，并进入 handoff_just_triggered。
func (s *Summarizer) Trigger(ctx context.Context, opts *chatbot.Options, userID, chatID string) error {
	if !opts.HandoffEnabled() {
		return errors.ErrHandoffDisabled
	}
	if _, err := s.chats.Get(ctx, userID, chatID); err != nil {
		return err
	}

	cfg := opts.Handoff
	return s.workers.Submit(func() {
		bg, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()
		if err := s.run(bg, opts, cfg, userID, chatID); err != nil {
			logger.Errorw("handoff trigger failed", "chat_id", chatID, "error", err.Error())
		}
	})
}

func (s *Summarizer) run(ctx context.Context, opts *chatbot.Options, cfg *chatbot.HandoffConfig, userID, chatID string) error {
	summary, usage, err := s.Summarize(ctx, cfg, userID, chatID)
	if err != nil {
		return err
	}
	if err := s.chats.PopulateHandoff(ctx, userID, chatID, summary); err != nil {
		return err
	}
	s.metrics.RecordHandoffSummary()

	if usage != nil {
		totals := CostOf(opts, []Usage{*usage})
		if err := s.chats.AddCost(ctx, userID, chatID, totals); err != nil {
			logger.Warnw("failed to record summary cost", "chat_id", chatID, "error", err.Error())
		} else {
			s.metrics.RecordCost(totals.Cost)
		}
	}

	for attempt := 0; attempt <= maxTransitionRetries; attempt++ {
		chat, err := s.chats.Get(ctx, userID, chatID)
		if err != nil {
			return err
		}
		if chat.HandoffState == model.HandoffJustTriggered {
			return nil
		}
		err = s.chats.SetHandoffState(ctx, userID, chatID, chat.HandoffState, model.HandoffJustTriggered)
		if err == nil {
			s.metrics.RecordHandoffTransition()
			logger.Infow("handoff triggered", "chat_id", chatID, "from", chat.HandoffState)
			return nil
		}
		if !errors.IsCode(err, errors.ErrConcurrentUpdate.Code) {
			return err
		}
	}
	return errors.ErrConcurrentUpdate
}

// allMessages 读取会话全部消息，按时间正序。
func (s *Summarizer) allMessages(ctx context.Context, userID, chatID string) ([]*model.Message, error) {
	var (
		all   []*model.Message
		token string
	)
	for {
		page, err := s.messages.List(ctx, userID, chatID, token, store.DefaultPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Messages...)
		if page.NextToken == "" {
			return all, nil
		}
		token = page.NextToken
	}
}
