package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 敲门状态机的各个状态
// knock_status 为 NULL 表示双方已是好友（或房间创建时就已互相关注）
const (
	KnockStatusInitiatorTrial  = "initiator_trial"  // 发起方试聊中
	KnockStatusReceiverPending = "receiver_pending" // 接收方未应答（锁定,不能发消息）
	KnockStatusReceiverTrial   = "receiver_trial"   // 接收方已接受,试聊中
	KnockStatusFriendPending   = "friend_pending"   // 达到消息数,等待本方确认
	KnockStatusFriendConfirmed = "friend_confirmed" // 本方已确认,等待对方
	KnockStatusRejected        = "rejected"         // 已拒绝（终态）
)

// 参与者角色
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Participant 房间参与者表
// 敲门状态按 (room_id, user_id) 各自一行,双方状态独立演进
type Participant struct {
	ID                uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey"`
	RoomID            uuid.UUID  `json:"room_id" gorm:"type:uuid;not null;uniqueIndex:uniq_room_user,priority:1"`
	UserID            int64      `json:"user_id" gorm:"not null;index;uniqueIndex:uniq_room_user,priority:2"`
	Role              string     `json:"role" gorm:"type:varchar(20);default:member"` // 'member' | 'admin'
	KnockStatus       *string    `json:"knock_status" gorm:"type:varchar(30);index"`
	KnockMessageCount int        `json:"knock_message_count" gorm:"default:0"`
	KnockInitiatedAt  *time.Time `json:"knock_initiated_at,omitempty"`
	IsBlocked         bool       `json:"is_blocked" gorm:"default:false"`
	JoinedAt          time.Time  `json:"joined_at" gorm:"autoCreateTime"`

	// 用户信息（从身份服务查询补充，不存数据库）
	Name      *string `json:"name,omitempty" gorm:"-"`
	AvatarURL *string `json:"avatar_url,omitempty" gorm:"-"`
}

func (Participant) TableName() string {
	return "participants"
}

func (p *Participant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// InTrial 是否处于试聊状态（只有试聊状态的发言计入晋升计数）
func (p *Participant) InTrial() bool {
	if p.KnockStatus == nil {
		return false
	}
	return *p.KnockStatus == KnockStatusInitiatorTrial || *p.KnockStatus == KnockStatusReceiverTrial
}

// IsFriend 敲门流程已走完（状态清空即视为好友）
func (p *Participant) IsFriend() bool {
	return p.KnockStatus == nil
}
