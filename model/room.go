package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 房间类型
const (
	RoomKindPrivate = "private"
	RoomKindGroup   = "group"
)

// Room 聊天房间表
// private 房间固定两个参与者，由 PairIndex 去重保证唯一
type Room struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	Kind          string     `json:"kind" gorm:"type:varchar(20);not null"` // 'private' | 'group'
	Name          *string    `json:"name,omitempty" gorm:"type:varchar(100)"`
	AvatarURL     *string    `json:"avatar_url,omitempty" gorm:"type:varchar(500)"`
	CreatedAt     time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt     time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	LastMessageID *uuid.UUID `json:"last_message_id,omitempty" gorm:"type:uuid"`
}

func (Room) TableName() string {
	return "rooms"
}

// BeforeCreate 生成主键（兼容测试用的 SQLite，不依赖 gen_random_uuid()）
func (r *Room) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RoomListItem 房间列表项(包含扩展信息)
type RoomListItem struct {
	Room
	UnreadCount     int64           `json:"unread_count"`      // 未读消息数量
	KnockStatus     *string         `json:"knock_status"`      // 当前用户的敲门状态(null 表示已是好友)
	LastMessageText *string         `json:"last_message_text"` // 最新消息内容预览
	OnlineStatus    map[string]bool `json:"online_status"`     // 成员在线状态 map[userID]isOnline
	Participants    []Participant   `json:"participants"`      // 房间参与者
}
