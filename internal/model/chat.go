package model

import (
	"time"

	"gorm.io/gorm"
)

// HandoffState 会话的人工转接状态。
type HandoffState string

const (
	HandoffNone          HandoffState = "no_handoff"
	HandoffUp            HandoffState = "handoff_up"
	HandoffJustTriggered HandoffState = "handoff_just_triggered"
	HandoffCompleting    HandoffState = "handoff_completing"
)

// Valid reports whether s is one of the known states.
func (s HandoffState) Valid() bool {
	switch s {
	case HandoffNone, HandoffUp, HandoffJustTriggered, HandoffCompleting:
		return true
	}
	return false
}

// Chat 会话记录，同时承载转接计数与成本累计。
type Chat struct {
	ID     string `json:"chatId" gorm:"primaryKey;type:varchar(64);comment:会话ID" bson:"_id"`
	UserID string `json:"userId" gorm:"type:varchar(128);not null;index:idx_user_created,priority:1;comment:用户ID" bson:"userId"`
	Title  string `json:"title" gorm:"size:255;comment:标题" bson:"title"`

	HandoffRequests int          `json:"handoffRequests" gorm:"not null;default:0;comment:请求人工次数" bson:"handoffRequests"`
	HandoffState    HandoffState `json:"handoffState" gorm:"type:varchar(32);not null;default:'no_handoff';comment:转接状态" bson:"handoffState"`
	// HandoffObject 转接摘要
	HandoffObject string `json:"handoffObject,omitempty" gorm:"type:text;comment:转接摘要" bson:"handoffObject,omitempty"`

	InputTokens  int64   `json:"inputTokens" gorm:"not null;default:0" bson:"inputTokens"`
	OutputTokens int64   `json:"outputTokens" gorm:"not null;default:0" bson:"outputTokens"`
	Cost         float64 `json:"cost" gorm:"not null;default:0" bson:"cost"`

	// Version 乐观锁版本号
	Version int64 `json:"-" gorm:"not null;default:0" bson:"version"`

	CreatedAt int64 `json:"createdAt" gorm:"autoCreateTime:milli;index:idx_user_created,priority:2;comment:创建时间(毫秒)" bson:"createdAt"`
	UpdatedAt int64 `json:"updatedAt" gorm:"autoUpdateTime:milli;comment:更新时间(毫秒)" bson:"updatedAt"`
}

// TableName returns the table name for GORM.
func (*Chat) TableName() string {
	return "chats"
}

// BeforeCreate 补齐时间戳与初始转接状态。
func (c *Chat) BeforeCreate(_ *gorm.DB) error {
	now := time.Now().UnixMilli()
	if c.CreatedAt == 0 {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.HandoffState == "" {
		c.HandoffState = HandoffNone
	}
	return nil
}

// CostTotals 会话累计用量。
type CostTotals struct {
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	Cost         float64 `json:"cost"`
}

// HandoffInfo 会话转接信息。
type HandoffInfo struct {
	State    HandoffState `json:"state"`
	Requests int          `json:"requests"`
	Summary  string       `json:"summary,omitempty"`
}
