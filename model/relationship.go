package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 关系类型
const (
	RelationFollow  = "follow"
	RelationBlocked = "blocked"
)

// UserRelationship 用户关系表
// follow 为单向关注,双向各一行即互相关注;好友关系建立时由敲门协议写入
type UserRelationship struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserID           int64     `json:"user_id" gorm:"not null;uniqueIndex:uniq_user_target_type,priority:1"`
	TargetUserID     int64     `json:"target_user_id" gorm:"not null;uniqueIndex:uniq_user_target_type,priority:2"`
	RelationshipType string    `json:"relationship_type" gorm:"type:varchar(20);not null;uniqueIndex:uniq_user_target_type,priority:3"` // 'follow' | 'blocked'
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (UserRelationship) TableName() string {
	return "user_relationships"
}

func (r *UserRelationship) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
