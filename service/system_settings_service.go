package service

import (
	"fmt"
	"strconv"
	"sync"

	"pawmate_message/model"

	"gorm.io/gorm"
)

// SystemSettingsService 系统配置服务
type SystemSettingsService struct {
	db              *gorm.DB
	settingsCache   map[string]string
	settingsCacheMu sync.RWMutex
}

func NewSystemSettingsService(db *gorm.DB) *SystemSettingsService {
	service := &SystemSettingsService{
		db:            db,
		settingsCache: make(map[string]string),
	}
	// 启动时加载所有配置到缓存
	service.LoadSettings()
	return service
}

// InitDefaultSettings 写入缺失的默认配置(幂等,已存在的键不动)
func (s *SystemSettingsService) InitDefaultSettings(knockThreshold int, allowReknock bool) error {
	defaults := []model.SystemSettings{
		{SettingKey: model.SettingOnlineStatus, SettingValue: "true", Description: "在会话列表展示对方在线状态"},
		{SettingKey: model.SettingAllowReknockAfterReject, SettingValue: strconv.FormatBool(allowReknock), Description: "敲门被拒后允许重新发起试聊"},
		{SettingKey: model.SettingKnockPromotionThreshold, SettingValue: strconv.Itoa(knockThreshold), Description: "试聊期间晋升所需的消息数"},
	}

	for _, setting := range defaults {
		var count int64
		if err := s.db.Model(&model.SystemSettings{}).
			Where("setting_key = ?", setting.SettingKey).
			Count(&count).Error; err != nil {
			return fmt.Errorf("failed to check setting %s: %w", setting.SettingKey, err)
		}
		if count > 0 {
			continue
		}
		if err := s.db.Create(&setting).Error; err != nil {
			return fmt.Errorf("failed to create setting %s: %w", setting.SettingKey, err)
		}
	}

	return s.LoadSettings()
}

// LoadSettings 从数据库加载所有配置到内存缓存
func (s *SystemSettingsService) LoadSettings() error {
	var settings []model.SystemSettings
	if err := s.db.Find(&settings).Error; err != nil {
		return fmt.Errorf("failed to load system settings: %w", err)
	}

	s.settingsCacheMu.Lock()
	defer s.settingsCacheMu.Unlock()

	for _, setting := range settings {
		s.settingsCache[setting.SettingKey] = setting.SettingValue
	}

	return nil
}

// GetSetting 获取配置值（从缓存）
func (s *SystemSettingsService) GetSetting(key string) (string, bool) {
	s.settingsCacheMu.RLock()
	defer s.settingsCacheMu.RUnlock()

	value, exists := s.settingsCache[key]
	return value, exists
}

// GetBoolSetting 获取布尔类型配置
func (s *SystemSettingsService) GetBoolSetting(key string, defaultValue bool) bool {
	value, exists := s.GetSetting(key)
	if !exists {
		return defaultValue
	}
	return value == "true"
}

// GetIntSetting 获取整型配置
func (s *SystemSettingsService) GetIntSetting(key string, defaultValue int) int {
	value, exists := s.GetSetting(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// IsFeatureEnabled 检查功能是否启用
func (s *SystemSettingsService) IsFeatureEnabled(featureKey string) bool {
	return s.GetBoolSetting(featureKey, false)
}

// KnockPromotionThreshold 试聊晋升所需消息数
func (s *SystemSettingsService) KnockPromotionThreshold() int {
	return s.GetIntSetting(model.SettingKnockPromotionThreshold, 3)
}

// UpdateSetting 更新配置（同时更新数据库和缓存）
func (s *SystemSettingsService) UpdateSetting(key, value string) error {
	result := s.db.Model(&model.SystemSettings{}).
		Where("setting_key = ?", key).
		Update("setting_value", value)

	if result.Error != nil {
		return fmt.Errorf("failed to update setting: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return fmt.Errorf("setting key not found: %s", key)
	}

	s.settingsCacheMu.Lock()
	s.settingsCache[key] = value
	s.settingsCacheMu.Unlock()

	return nil
}

// GetAllSettings 获取所有配置
func (s *SystemSettingsService) GetAllSettings() (map[string]string, error) {
	s.settingsCacheMu.RLock()
	defer s.settingsCacheMu.RUnlock()

	// 返回缓存的副本
	result := make(map[string]string, len(s.settingsCache))
	for k, v := range s.settingsCache {
		result[k] = v
	}

	return result, nil
}
