package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 消息类型
const (
	MessageTypeText   = "text"
	MessageTypeImage  = "image"
	MessageTypeSystem = "system"
)

// 系统消息内容,用于在消息流内携带关系状态迁移
// 客户端不渲染这两种内容,收到后刷新本地的敲门状态
const (
	SystemFriendConfirmedByOther = "FRIEND_CONFIRMED_BY_OTHER"
	SystemFriendshipEstablished  = "FRIENDSHIP_ESTABLISHED"
)

// SystemSenderID 系统消息的保留发送者 ID
const SystemSenderID int64 = 0

// Message 消息表
// 消息一经落库不可变,created_at 按房间单调递增,作为排序键
type Message struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	RoomID      uuid.UUID  `json:"room_id" gorm:"type:uuid;not null;index:idx_room_created,priority:1"`
	SenderID    int64      `json:"sender_id" gorm:"not null;index"` // 0 保留给系统消息
	MessageType string     `json:"message_type" gorm:"type:varchar(20);not null"`
	Content     *string    `json:"content,omitempty" gorm:"type:text"`
	ImageURL    *string    `json:"image_url,omitempty" gorm:"type:varchar(500)"`
	ReplyToID   *uuid.UUID `json:"reply_to_id,omitempty" gorm:"type:uuid"`
	ClientKey   *string    `json:"client_key,omitempty" gorm:"type:varchar(64)"` // 客户端幂等键,用于本地回显对账
	Read        bool       `json:"read" gorm:"default:false"`
	CreatedAt   time.Time  `json:"created_at" gorm:"index:idx_room_created,priority:2"`
}

func (Message) TableName() string {
	return "messages"
}

func (m *Message) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	return nil
}

// IsKnockSignal 是否为敲门协议的状态迁移信号
func (m *Message) IsKnockSignal() bool {
	if m.MessageType != MessageTypeSystem || m.Content == nil {
		return false
	}
	return *m.Content == SystemFriendConfirmedByOther || *m.Content == SystemFriendshipEstablished
}
