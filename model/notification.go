package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 通知类型
const (
	NotificationTypeKnock      = "knock"      // 有人敲门
	NotificationTypeFriendship = "friendship" // 好友关系建立
)

// Notification 通知表
// 只承载敲门/成为好友两类事件,聊天消息本身不产生通知
type Notification struct {
	ID               uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	UserID           int64      `json:"user_id" gorm:"not null;index"`
	NotificationType string     `json:"notification_type" gorm:"type:varchar(30);not null"` // 'knock' | 'friendship'
	Title            string     `json:"title" gorm:"type:varchar(200);not null"`
	RoomID           *uuid.UUID `json:"room_id,omitempty" gorm:"type:uuid"`
	FromUserID       *int64     `json:"from_user_id,omitempty"`
	IsRead           bool       `json:"is_read" gorm:"default:false"`
	ReadAt           *time.Time `json:"read_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (Notification) TableName() string {
	return "notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
