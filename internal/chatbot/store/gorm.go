package store

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/id"
)

// maxOptimisticRetries 乐观锁冲突的最大重试次数。
const maxOptimisticRetries = 5

// gormStore implements Factory on any GORM dialect (postgres, mysql, sqlite).
type gormStore struct {
	db *gorm.DB
}

// NewGORM creates a GORM-backed store.
func NewGORM(db *gorm.DB) Factory {
	return &gormStore{db: db}
}

func (s *gormStore) Chats() ChatStore       { return &gormChats{db: s.db} }
func (s *gormStore) Messages() MessageStore { return &gormMessages{db: s.db} }

func (s *gormStore) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&model.Chat{}, &model.Message{}, &model.Source{})
}

func (s *gormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 连接由组件层持有，这里不关闭。
func (s *gormStore) Close() error { return nil }

func dbError(err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.ErrChatNotFound
	}
	return errors.ErrDatabase.WithCause(err)
}

type gormChats struct {
	db *gorm.DB
}

func (c *gormChats) scope(ctx context.Context, userID, chatID string) *gorm.DB {
	return c.db.WithContext(ctx).Model(&model.Chat{}).Where("id = ? AND user_id = ?", chatID, userID)
}

func (c *gormChats) Create(ctx context.Context, chat *model.Chat) error {
	if chat.ID == "" {
		chat.ID = id.NewULID()
	}
	return dbError(c.db.WithContext(ctx).Create(chat).Error)
}

func (c *gormChats) Get(ctx context.Context, userID, chatID string) (*model.Chat, error) {
	var chat model.Chat
	if err := c.scope(ctx, userID, chatID).First(&chat).Error; err != nil {
		return nil, dbError(err)
	}
	return &chat, nil
}

func (c *gormChats) List(ctx context.Context, userID string) ([]*model.Chat, error) {
	var chats []*model.Chat
	err := c.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Find(&chats).Error
	return chats, dbError(err)
}

func (c *gormChats) UpdateTitle(ctx context.Context, userID, chatID, title string) (*model.Chat, error) {
	res := c.scope(ctx, userID, chatID).Updates(map[string]any{
		"title":      title,
		"updated_at": time.Now().UnixMilli(),
	})
	if res.Error != nil {
		return nil, dbError(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errors.ErrChatNotFound
	}
	return c.Get(ctx, userID, chatID)
}

func (c *gormChats) Delete(ctx context.Context, userID, chatID string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", chatID, userID).Delete(&model.Chat{})
		if res.Error != nil {
			return dbError(res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.ErrChatNotFound
		}
		if err := tx.Where("chat_id = ?", chatID).Delete(&model.Source{}).Error; err != nil {
			return dbError(err)
		}
		return dbError(tx.Where("chat_id = ?", chatID).Delete(&model.Message{}).Error)
	})
}

// IncrementHandoffCounter 读取版本号后条件更新，冲突时重读重试。
func (c *gormChats) IncrementHandoffCounter(ctx context.Context, userID, chatID string) (int, model.HandoffState, error) {
	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		chat, err := c.Get(ctx, userID, chatID)
		if err != nil {
			return 0, "", err
		}

		res := c.scope(ctx, userID, chatID).
			Where("version = ?", chat.Version).
			Updates(map[string]any{
				"handoff_requests": gorm.Expr("handoff_requests + 1"),
				"version":          gorm.Expr("version + 1"),
				"updated_at":       time.Now().UnixMilli(),
			})
		if res.Error != nil {
			return 0, "", dbError(res.Error)
		}
		if res.RowsAffected == 1 {
			return chat.HandoffRequests + 1, chat.HandoffState, nil
		}
		logger.Debugw("handoff counter version conflict, retrying", "chat_id", chatID, "attempt", attempt+1)
	}
	return 0, "", errors.ErrConcurrentUpdate
}

func (c *gormChats) SetHandoffState(ctx context.Context, userID, chatID string, expected, next model.HandoffState) error {
	res := c.scope(ctx, userID, chatID).
		Where("handoff_state = ?", expected).
		Updates(map[string]any{
			"handoff_state": next,
			"version":       gorm.Expr("version + 1"),
			"updated_at":    time.Now().UnixMilli(),
		})
	if res.Error != nil {
		return dbError(res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	if _, err := c.Get(ctx, userID, chatID); err != nil {
		return err
	}
	return errors.ErrConcurrentUpdate
}

func (c *gormChats) PopulateHandoff(ctx context.Context, userID, chatID, summary string) error {
	res := c.scope(ctx, userID, chatID).Updates(map[string]any{
		"handoff_object": summary,
		"updated_at":     time.Now().UnixMilli(),
	})
	if res.Error != nil {
		return dbError(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrChatNotFound
	}
	return nil
}

func (c *gormChats) AddCost(ctx context.Context, userID, chatID string, delta model.CostTotals) error {
	res := c.scope(ctx, userID, chatID).Updates(map[string]any{
		"input_tokens":  gorm.Expr("input_tokens + ?", delta.InputTokens),
		"output_tokens": gorm.Expr("output_tokens + ?", delta.OutputTokens),
		"cost":          gorm.Expr("cost + ?", delta.Cost),
		"updated_at":    time.Now().UnixMilli(),
	})
	if res.Error != nil {
		return dbError(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrChatNotFound
	}
	return nil
}

type gormMessages struct {
	db *gorm.DB
}

func (m *gormMessages) AppendTurn(ctx context.Context, human, ai *model.Message) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Chat{}).Where("id = ? AND user_id = ?", human.ChatID, human.UserID).Count(&count).Error; err != nil {
			return dbError(err)
		}
		if count == 0 {
			return errors.ErrChatNotFound
		}

		prepareTurn(human, ai)
		if err := tx.Create(human).Error; err != nil {
			return dbError(err)
		}
		if err := tx.Create(ai).Error; err != nil {
			return dbError(err)
		}
		if len(ai.Sources) > 0 {
			if err := tx.Create(&ai.Sources).Error; err != nil {
				return dbError(err)
			}
		}
		return dbError(tx.Model(&model.Chat{}).Where("id = ?", human.ChatID).
			Update("updated_at", time.Now().UnixMilli()).Error)
	})
}

func (m *gormMessages) ListRecent(ctx context.Context, userID, chatID string, limit int) ([]*model.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	var msgs []*model.Message
	err := m.db.WithContext(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, dbError(err)
	}
	reverse(msgs)
	return msgs, nil
}

func (m *gormMessages) List(ctx context.Context, userID, chatID, nextToken string, limit int) (*model.MessagePage, error) {
	cur, err := parseCursor(nextToken)
	if err != nil {
		return nil, errors.ErrInvalidParam.WithCause(err)
	}
	limit = normalizeLimit(limit)

	q := m.db.WithContext(ctx).Where("chat_id = ? AND user_id = ?", chatID, userID)
	if cur != nil {
		q = q.Where("id > ?", cur.ID)
	}

	var msgs []*model.Message
	if err := q.Order("id ASC").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, dbError(err)
	}
	return page(msgs, limit), nil
}

func (m *gormMessages) ListSources(ctx context.Context, userID, chatID, messageID string) ([]*model.Source, error) {
	if _, err := m.get(ctx, userID, chatID, messageID); err != nil {
		return nil, err
	}
	var sources []*model.Source
	err := m.db.WithContext(ctx).
		Where("chat_id = ? AND message_id = ?", chatID, messageID).
		Order("source_rank ASC").
		Find(&sources).Error
	return sources, dbError(err)
}

func (m *gormMessages) get(ctx context.Context, userID, chatID, messageID string) (*model.Message, error) {
	var msg model.Message
	err := m.db.WithContext(ctx).
		Where("id = ? AND chat_id = ? AND user_id = ?", messageID, chatID, userID).
		First(&msg).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.ErrMessageNotFound
	}
	if err != nil {
		return nil, dbError(err)
	}
	return &msg, nil
}

func (m *gormMessages) Delete(ctx context.Context, userID, chatID, messageID string) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND chat_id = ? AND user_id = ?", messageID, chatID, userID).Delete(&model.Message{})
		if res.Error != nil {
			return dbError(res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.ErrMessageNotFound
		}
		return dbError(tx.Where("message_id = ?", messageID).Delete(&model.Source{}).Error)
	})
}

func (m *gormMessages) UpdateFeedback(ctx context.Context, userID, chatID, messageID, thumb, feedback string) error {
	res := m.db.WithContext(ctx).Model(&model.Message{}).
		Where("id = ? AND chat_id = ? AND user_id = ? AND type = ?", messageID, chatID, userID, model.MessageAI).
		Updates(map[string]any{"thumb": thumb, "feedback": feedback})
	if res.Error != nil {
		return dbError(res.Error)
	}
	if res.RowsAffected == 0 {
		return errors.ErrMessageNotFound
	}
	return nil
}
