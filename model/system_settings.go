package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 已知的配置键
const (
	SettingOnlineStatus            = "enable_online_status"
	SettingAllowReknockAfterReject = "allow_reknock_after_reject"
	SettingKnockPromotionThreshold = "knock_promotion_threshold"
)

// SystemSettings 系统配置（超管全局配置）
type SystemSettings struct {
	ID           uuid.UUID `json:"id" gorm:"type:uuid;primary_key"`
	SettingKey   string    `json:"setting_key" gorm:"unique;not null"`
	SettingValue string    `json:"setting_value" gorm:"not null"`
	Description  string    `json:"description"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (SystemSettings) TableName() string {
	return "system_settings"
}

func (s *SystemSettings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
