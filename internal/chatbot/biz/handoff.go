package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/store"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
)

// Transition 转接状态机，纯函数。count 为自增之后的请求次数。
//
//	当前状态               count < t     count >= t
//	no_handoff             no_handoff    handoff_up
//	handoff_just_triggered no_handoff    handoff_completing
//	handoff_completing     no_handoff    handoff_completing
//	handoff_up             no_handoff    handoff_up
func Transition(state model.HandoffState, count, threshold int) model.HandoffState {
	if count < threshold {
		return model.HandoffNone
	}
	switch state {
	case model.HandoffJustTriggered, model.HandoffCompleting:
		return model.HandoffCompleting
	default:
		return model.HandoffUp
	}
}

// maxTransitionRetries 状态 CAS 冲突时的重试次数。
const maxTransitionRetries = 5

// HandoffService 转接计数与状态的唯一写入方。
type HandoffService struct {
	chats   store.ChatStore
	metrics *metrics.ChatMetrics
}

// NewHandoffService creates a HandoffService.
func NewHandoffService(chats store.ChatStore, m *metrics.ChatMetrics) *HandoffService {
	return &HandoffService{chats: chats, metrics: m}
}

// Increment 计数原子加一，再对新计数应用状态表。
// 状态写入是比较并交换；与并发请求冲突时重新读取状态重算，不重复自增。
func (s *HandoffService) Increment(ctx context.Context, userID, chatID string, threshold int) (model.HandoffState, error) {
	count, state, err := s.chats.IncrementHandoffCounter(ctx, userID, chatID)
	if err != nil {
		return "", fmt.Errorf("increment handoff counter: %w", err)
	}

	for attempt := 0; ; attempt++ {
		next := Transition(state, count, threshold)
		if next == state {
			return next, nil
		}

		err := s.chats.SetHandoffState(ctx, userID, chatID, state, next)
		if err == nil {
			s.metrics.RecordHandoffTransition()
			logger.Infow("handoff state changed",
				"chat_id", chatID, "from", state, "to", next, "requests", count, "threshold", threshold)
			return next, nil
		}
		if !stderrors.Is(err, errors.ErrConcurrentUpdate) || attempt >= maxTransitionRetries {
			return "", fmt.Errorf("set handoff state: %w", err)
		}

		chat, err := s.chats.Get(ctx, userID, chatID)
		if err != nil {
			return "", fmt.Errorf("reload chat: %w", err)
		}
		state = chat.HandoffState
		if chat.HandoffRequests > count {
			count = chat.HandoffRequests
		}
	}
}

// ForceUp 管理员强制进入 handoff_up。
func (s *HandoffService) ForceUp(ctx context.Context, userID, chatID string) error {
	for attempt := 0; ; attempt++ {
		chat, err := s.chats.Get(ctx, userID, chatID)
		if err != nil {
			return err
		}
		if chat.HandoffState == model.HandoffUp {
			return nil
		}
		err = s.chats.SetHandoffState(ctx, userID, chatID, chat.HandoffState, model.HandoffUp)
		if err == nil {
			s.metrics.RecordHandoffTransition()
			logger.Infow("handoff forced up", "chat_id", chatID, "from", chat.HandoffState)
			return nil
		}
		if !stderrors.Is(err, errors.ErrConcurrentUpdate) || attempt >= maxTransitionRetries {
			return err
		}
	}
}

// Info 返回会话的转接信息。
func (s *HandoffService) Info(ctx context.Context, userID, chatID string) (*model.HandoffInfo, error) {
	chat, err := s.chats.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	return &model.HandoffInfo{
		State:    chat.HandoffState,
		Requests: chat.HandoffRequests,
		Summary:  chat.HandoffObject,
	}, nil
}

// handoffPrompt 按新状态选择回复提示，语言不是默认语言时追加语言指令。
func handoffPrompt(cfg *chatbot.HandoffConfig, state model.HandoffState, language, defaultLanguage string) string {
	var prompt string
	switch state {
	case model.HandoffJustTriggered:
		prompt = cfg.Prompts.HandoffJustTriggered
	case model.HandoffCompleting:
		prompt = cfg.Prompts.HandoffCompleting
	default:
		prompt = cfg.Prompts.HandoffRequested
	}
	if language != "" && !strings.EqualFold(language, defaultLanguage) {
		prompt += fmt.Sprintf(" Respond in %s.", language)
	}
	return prompt
}
