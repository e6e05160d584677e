package model

import (
	"time"

	"gorm.io/gorm"
)

// MessageType 消息发送方。
type MessageType string

const (
	MessageHuman MessageType = "human"
	MessageAI    MessageType = "ai"
)

// Message 会话中的一条消息，写入后不再修改内容。
type Message struct {
	// ID 单调 ULID，会话内按 ID 排序即写入顺序
	ID      string      `json:"messageId" gorm:"primaryKey;type:varchar(64);index:idx_chat_seq,priority:2" bson:"_id"`
	ChatID  string      `json:"chatId" gorm:"type:varchar(64);not null;index:idx_chat_seq,priority:1" bson:"chatId"`
	UserID  string      `json:"userId" gorm:"type:varchar(128);not null;index" bson:"userId"`
	Type    MessageType `json:"messageType" gorm:"type:varchar(16);not null" bson:"messageType"`
	Content string      `json:"content" gorm:"type:text" bson:"content"`
	Tokens  int         `json:"tokens" gorm:"not null;default:0" bson:"tokens"`
	ModelID string      `json:"modelId,omitempty" gorm:"type:varchar(255)" bson:"modelId,omitempty"`

	// 仅 ai 消息
	Thumb    string `json:"thumb,omitempty" gorm:"type:varchar(8)" bson:"thumb,omitempty"`
	Feedback string `json:"feedback,omitempty" gorm:"type:text" bson:"feedback,omitempty"`

	Sources []*Source `json:"sources,omitempty" gorm:"-" bson:"-"`

	CreatedAt int64 `json:"createdAt" gorm:"autoCreateTime:milli" bson:"createdAt"`
}

// TableName returns the table name for GORM.
func (*Message) TableName() string {
	return "messages"
}

// BeforeCreate sets CreatedAt when the caller did not.
func (m *Message) BeforeCreate(_ *gorm.DB) error {
	if m.CreatedAt == 0 {
		m.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}

// Source ai 消息引用的一篇检索文档。
type Source struct {
	ID          string         `json:"sourceId" gorm:"primaryKey;type:varchar(64)" bson:"_id"`
	ChatID      string         `json:"chatId" gorm:"type:varchar(64);not null;index" bson:"chatId"`
	MessageID   string         `json:"messageId" gorm:"type:varchar(64);not null;index" bson:"messageId"`
	PageContent string         `json:"pageContent" gorm:"type:text" bson:"pageContent"`
	Metadata    map[string]any `json:"metadata,omitempty" gorm:"type:text;serializer:json" bson:"metadata,omitempty"`
	Score       float64        `json:"score" bson:"score"`
	// Rank 在回答中的引用顺序
	Rank int `json:"rank" gorm:"column:source_rank;not null;default:0" bson:"rank"`
}

// TableName returns the table name for GORM.
func (*Source) TableName() string {
	return "sources"
}

// MessagePage 一页消息，NextToken 为空表示没有更多。
type MessagePage struct {
	Messages  []*Message `json:"messages"`
	NextToken string     `json:"nextToken,omitempty"`
}
