package service

import (
	"fmt"
	"log"
	"time"

	"pawmate_message/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationService 通知服务
// 只记录敲门/成为好友两类事件;聊天消息不产生通知,未读靠会话列表
type NotificationService struct {
	db *gorm.DB
}

func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{db: db}
}

// NotifyKnock 有人敲门,给接收方留一条通知
// 通知是尽力而为,失败只记日志,不影响敲门主流程
func (s *NotificationService) NotifyKnock(userID, fromUserID int64, roomID uuid.UUID) {
	notification := &model.Notification{
		UserID:           userID,
		NotificationType: model.NotificationTypeKnock,
		Title:            "有新的敲门",
		RoomID:           &roomID,
		FromUserID:       &fromUserID,
	}
	if err := s.db.Create(notification).Error; err != nil {
		log.Printf("[ERROR] Failed to create knock notification for user %d: %v", userID, err)
	}
}

// NotifyFriendship 好友关系建立,双方各留一条通知
func (s *NotificationService) NotifyFriendship(userA, userB int64, roomID uuid.UUID) {
	for _, pair := range [][2]int64{{userA, userB}, {userB, userA}} {
		from := pair[1]
		notification := &model.Notification{
			UserID:           pair[0],
			NotificationType: model.NotificationTypeFriendship,
			Title:            "你们已成为好友",
			RoomID:           &roomID,
			FromUserID:       &from,
		}
		if err := s.db.Create(notification).Error; err != nil {
			log.Printf("[ERROR] Failed to create friendship notification for user %d: %v", pair[0], err)
		}
	}
}

// GetNotifications 获取用户通知列表
func (s *NotificationService) GetNotifications(userID int64, limit, offset int) ([]model.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var notifications []model.Notification
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&notifications).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	return notifications, nil
}

// GetUnreadCount 未读通知数
func (s *NotificationService) GetUnreadCount(userID int64) (int64, error) {
	var count int64
	err := s.db.Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error
	return count, err
}

// MarkAllAsRead 全部标为已读
func (s *NotificationService) MarkAllAsRead(userID int64) error {
	now := time.Now()
	return s.db.Model(&model.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Updates(map[string]interface{}{
			"is_read": true,
			"read_at": now,
		}).Error
}
