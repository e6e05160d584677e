// Package store 会话存储：会话、消息、引用文档，以及转接计数与成本累计。
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/id"
)

// DefaultPageSize 消息分页默认大小。
const DefaultPageSize = 50

// Factory 存储工厂。
type Factory interface {
	Chats() ChatStore
	Messages() MessageStore
	// AutoMigrate 创建表或索引
	AutoMigrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// ChatStore 会话记录。所有操作按 (userID, chatID) 定位，会话不存在返回 ErrChatNotFound。
type ChatStore interface {
	Create(ctx context.Context, chat *model.Chat) error
	Get(ctx context.Context, userID, chatID string) (*model.Chat, error)
	// List 按创建时间倒序
	List(ctx context.Context, userID string) ([]*model.Chat, error)
	UpdateTitle(ctx context.Context, userID, chatID, title string) (*model.Chat, error)
	// Delete 同时删除消息与引用文档
	Delete(ctx context.Context, userID, chatID string) error

	// IncrementHandoffCounter 原子加一，返回新计数与自增时刻的转接状态。
	IncrementHandoffCounter(ctx context.Context, userID, chatID string) (int, model.HandoffState, error)
	// SetHandoffState 比较并交换，当前状态不等于 expected 时返回 ErrConcurrentUpdate。
	SetHandoffState(ctx context.Context, userID, chatID string, expected, next model.HandoffState) error
	// PopulateHandoff 写入转接摘要。
	PopulateHandoff(ctx context.Context, userID, chatID, summary string) error

	// AddCost 原子累加用量与费用。
	AddCost(ctx context.Context, userID, chatID string, delta model.CostTotals) error
}

// MessageStore 消息与引用文档。
type MessageStore interface {
	// AppendTurn 写入一问一答，ai.Sources 一并写入。
	AppendTurn(ctx context.Context, human, ai *model.Message) error
	// ListRecent 返回最近 limit 条消息，按时间正序。
	ListRecent(ctx context.Context, userID, chatID string, limit int) ([]*model.Message, error)
	// List 按时间正序分页，nextToken 取自上一页。
	List(ctx context.Context, userID, chatID, nextToken string, limit int) (*model.MessagePage, error)
	ListSources(ctx context.Context, userID, chatID, messageID string) ([]*model.Source, error)
	Delete(ctx context.Context, userID, chatID, messageID string) error
	UpdateFeedback(ctx context.Context, userID, chatID, messageID, thumb, feedback string) error
}

// cursor 分页游标：上一页最后一条消息的 ID。消息 ID 为单调 ULID，顺序即写入顺序。
type cursor struct {
	ID string
}

func (c cursor) String() string {
	return c.ID
}

func parseCursor(token string) (*cursor, error) {
	if token == "" {
		return nil, nil
	}
	if !id.IsULID(token) {
		return nil, fmt.Errorf("invalid next token %q", token)
	}
	return &cursor{ID: token}, nil
}

// page 满页时才返回下一页游标。
func page(msgs []*model.Message, limit int) *model.MessagePage {
	p := &model.MessagePage{Messages: msgs}
	if limit > 0 && len(msgs) == limit {
		p.NextToken = cursor{ID: msgs[len(msgs)-1].ID}.String()
	}
	return p
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return limit
}

func reverse(msgs []*model.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// prepareTurn 补齐 ID 与时间戳。消息按单调 ULID 排序，human 的 ID 先于 ai 生成。
func prepareTurn(human, ai *model.Message) {
	now := time.Now().UnixMilli()
	human.ID = id.NewULID()
	ai.ID = id.NewULID()
	if human.CreatedAt == 0 {
		human.CreatedAt = now
	}
	if ai.CreatedAt == 0 {
		ai.CreatedAt = now
	}
	human.Type, ai.Type = model.MessageHuman, model.MessageAI
	for i, src := range ai.Sources {
		if src.ID == "" {
			src.ID = id.NewULID()
		}
		src.ChatID = ai.ChatID
		src.MessageID = ai.ID
		src.Rank = i
	}
}
