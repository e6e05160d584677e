package biz

import (
	"context"
	"strings"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/store"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
)

// DefaultChatTitle 未提供标题时使用。
const DefaultChatTitle = "New Chat"

// maxPageSize 消息分页上限。
const maxPageSize = 200

// ChatService 会话与消息的管理操作。
type ChatService struct {
	chats    store.ChatStore
	messages store.MessageStore
}

// NewChatService creates a ChatService.
func NewChatService(chats store.ChatStore, messages store.MessageStore) *ChatService {
	return &ChatService{chats: chats, messages: messages}
}

// Create creates a chat owned by userID.
func (s *ChatService) Create(ctx context.Context, userID, title string) (*model.Chat, error) {
	chat := &model.Chat{UserID: userID, Title: normalizeTitle(title)}
	if err := s.chats.Create(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// List returns the user's chats, newest first.
func (s *ChatService) List(ctx context.Context, userID string) ([]*model.Chat, error) {
	return s.chats.List(ctx, userID)
}

// Rename updates the chat title.
func (s *ChatService) Rename(ctx context.Context, userID, chatID, title string) (*model.Chat, error) {
	return s.chats.UpdateTitle(ctx, userID, chatID, normalizeTitle(title))
}

// Delete removes the chat together with its messages and sources.
func (s *ChatService) Delete(ctx context.Context, userID, chatID string) error {
	return s.chats.Delete(ctx, userID, chatID)
}

// Messages 分页读取消息，limit 超出范围时按默认值或上限处理。
func (s *ChatService) Messages(ctx context.Context, userID, chatID, nextToken string, limit int) (*model.MessagePage, error) {
	if _, err := s.chats.Get(ctx, userID, chatID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = store.DefaultPageSize
	case limit > maxPageSize:
		limit = maxPageSize
	}
	page, err := s.messages.List(ctx, userID, chatID, nextToken, limit)
	if err != nil {
		return nil, err
	}
	if page.Messages == nil {
		page.Messages = []*model.Message{}
	}
	return page, nil
}

// Sources returns the documents an ai message cited.
func (s *ChatService) Sources(ctx context.Context, userID, chatID, messageID string) ([]*model.Source, error) {
	if _, err := s.chats.Get(ctx, userID, chatID); err != nil {
		return nil, err
	}
	return s.messages.ListSources(ctx, userID, chatID, messageID)
}

// DeleteMessage removes one message and its sources.
func (s *ChatService) DeleteMessage(ctx context.Context, userID, chatID, messageID string) error {
	if _, err := s.chats.Get(ctx, userID, chatID); err != nil {
		return err
	}
	return s.messages.Delete(ctx, userID, chatID, messageID)
}

// Feedback 记录对 ai 消息的评价，thumb 为 up 或 down。
func (s *ChatService) Feedback(ctx context.Context, userID, chatID, messageID, thumb, feedback string) error {
	if thumb != "up" && thumb != "down" {
		return errors.ErrInvalidParam.WithMessagef("thumb must be up or down, got %q", thumb)
	}
	return s.messages.UpdateFeedback(ctx, userID, chatID, messageID, thumb, strings.TrimSpace(feedback))
}

// Cost returns the chat's running token and cost totals.
func (s *ChatService) Cost(ctx context.Context, userID, chatID string) (*model.CostTotals, error) {
	chat, err := s.chats.Get(ctx, userID, chatID)
	if err != nil {
		return nil, err
	}
	return &model.CostTotals{
		InputTokens:  chat.InputTokens,
		OutputTokens: chat.OutputTokens,
		Cost:         chat.Cost,
	}, nil
}

func normalizeTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultChatTitle
	}
	return title
}
