package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PairIndex 私聊去重索引表
// 无序用户对 -> 房间,(user_low, user_high) 上的唯一索引是并发创建收敛到
// 同一个房间的唯一依据:输家插入失败后重读本表拿到赢家的房间
type PairIndex struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	UserLow   int64     `json:"user_low" gorm:"not null;uniqueIndex:uniq_user_pair,priority:1"`
	UserHigh  int64     `json:"user_high" gorm:"not null;uniqueIndex:uniq_user_pair,priority:2"`
	RoomID    uuid.UUID `json:"room_id" gorm:"type:uuid;not null;index"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (PairIndex) TableName() string {
	return "pair_index"
}

func (p *PairIndex) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// NormalizePair 归一化用户对,保证 (A,B) 与 (B,A) 落到同一行
func NormalizePair(a, b int64) (low, high int64) {
	if a < b {
		return a, b
	}
	return b, a
}
