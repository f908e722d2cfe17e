package service

import (
	"errors"
	"fmt"

	"pawmate_message/model"
	"pawmate_message/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// KnockService 敲门状态机
// 每个参与者一行状态,双方独立演进;没有跨行原子事务,
// "双方都已确认"靠每次 confirm 后重读两行来判定,终态重置幂等
type KnockService struct {
	db        *gorm.DB
	sysSvc    *SystemSettingsService
	relSvc    *RelationshipService
	notifSvc  *NotificationService
	publisher RoomPublisher
}

// RoomPublisher 系统消息落库后向房间订阅者推送(由 WebSocket Hub 实现)
type RoomPublisher interface {
	PublishToRoom(roomID uuid.UUID, message *model.Message)
}

func NewKnockService(db *gorm.DB, sysSvc *SystemSettingsService, relSvc *RelationshipService) *KnockService {
	return &KnockService{
		db:     db,
		sysSvc: sysSvc,
		relSvc: relSvc,
	}
}

// SetNotificationService 设置通知服务（用于依赖注入）
func (s *KnockService) SetNotificationService(notifSvc *NotificationService) {
	s.notifSvc = notifSvc
}

// SetRoomPublisher 设置房间推送器（用于依赖注入）
func (s *KnockService) SetRoomPublisher(publisher RoomPublisher) {
	s.publisher = publisher
}

// GetKnockState 查询参与者的敲门状态
func (s *KnockService) GetKnockState(roomID uuid.UUID, userID int64) (*model.Participant, error) {
	var participant model.Participant
	err := s.db.Where("room_id = ? AND user_id = ?", roomID, userID).First(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NotFoundError("participant not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load participant: %w", err)
	}
	return &participant, nil
}

// GateSend 发送前的闸门检查,不通过则无任何副作用
func (s *KnockService) GateSend(roomID uuid.UUID, senderID int64) error {
	participant, err := s.GetKnockState(roomID, senderID)
	if err != nil {
		return err
	}

	if participant.IsBlocked {
		return utils.GateViolation(utils.GateReasonBlocked, "you are blocked in this room")
	}

	if participant.KnockStatus == nil {
		return nil // 好友,无限制
	}

	switch *participant.KnockStatus {
	case model.KnockStatusReceiverPending:
		return utils.GateViolation(utils.GateReasonLocked, "accept the knock before sending messages")
	case model.KnockStatusRejected:
		return utils.GateViolation(utils.GateReasonRejected, "knock was rejected")
	}

	return nil
}

// CountSend 一次成功发送计入晋升计数
// 自增在存储侧完成并且 WHERE 限定在试聊状态:同参与者多端并发发送不会丢更新,
// 晋升后的发送自然落空,不会重复累计
func (s *KnockService) CountSend(tx *gorm.DB, roomID uuid.UUID, senderID int64) error {
	result := tx.Model(&model.Participant{}).
		Where("room_id = ? AND user_id = ? AND knock_status IN ?",
			roomID, senderID,
			[]string{model.KnockStatusInitiatorTrial, model.KnockStatusReceiverTrial}).
		Update("knock_message_count", gorm.Expr("knock_message_count + ?", 1))
	if result.Error != nil {
		return fmt.Errorf("failed to count send: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil // 非试聊状态,计数不动
	}

	// 达到阈值即晋升;条件更新保证并发下只发生一次,第 4 条消息不会重触发
	threshold := s.sysSvc.KnockPromotionThreshold()
	err := tx.Model(&model.Participant{}).
		Where("room_id = ? AND user_id = ? AND knock_status IN ? AND knock_message_count >= ?",
			roomID, senderID,
			[]string{model.KnockStatusInitiatorTrial, model.KnockStatusReceiverTrial},
			threshold).
		Update("knock_status", model.KnockStatusFriendPending).Error
	if err != nil {
		return fmt.Errorf("failed to promote participant: %w", err)
	}

	return nil
}

// AcceptKnock 接收方接受敲门,进入试聊
func (s *KnockService) AcceptKnock(roomID uuid.UUID, userID int64) error {
	if _, err := s.GetKnockState(roomID, userID); err != nil {
		return err
	}

	result := s.db.Model(&model.Participant{}).
		Where("room_id = ? AND user_id = ? AND knock_status = ?",
			roomID, userID, model.KnockStatusReceiverPending).
		Update("knock_status", model.KnockStatusReceiverTrial)
	if result.Error != nil {
		return fmt.Errorf("failed to accept knock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.GateViolation(utils.GateReasonNotPending, "no pending knock to accept")
	}
	return nil
}

// RejectKnock 接收方拒绝敲门
// 本方进入 rejected 终态,同时把对方标记为 is_blocked,房间保留但被封死
func (s *KnockService) RejectKnock(roomID uuid.UUID, userID int64) error {
	if _, err := s.GetKnockState(roomID, userID); err != nil {
		return err
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Participant{}).
			Where("room_id = ? AND user_id = ? AND knock_status = ?",
				roomID, userID, model.KnockStatusReceiverPending).
			Update("knock_status", model.KnockStatusRejected)
		if result.Error != nil {
			return fmt.Errorf("failed to reject knock: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return utils.GateViolation(utils.GateReasonNotPending, "no pending knock to reject")
		}

		return tx.Model(&model.Participant{}).
			Where("room_id = ? AND user_id != ?", roomID, userID).
			Update("is_blocked", true).Error
	})
}

// ConfirmFriend 本方确认好友
// 插入 FRIEND_CONFIRMED_BY_OTHER 系统消息(由确认方署名,对方可见);
// 确认后重读双方状态,都已确认则走终态重置
func (s *KnockService) ConfirmFriend(roomID uuid.UUID, userID int64) error {
	if _, err := s.GetKnockState(roomID, userID); err != nil {
		return err
	}

	var confirmMsg *model.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&model.Participant{}).
			Where("room_id = ? AND user_id = ? AND knock_status = ?",
				roomID, userID, model.KnockStatusFriendPending).
			Update("knock_status", model.KnockStatusFriendConfirmed)
		if result.Error != nil {
			return fmt.Errorf("failed to confirm friend: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return utils.GateViolation(utils.GateReasonNotConfirmable, "nothing to confirm in current state")
		}

		content := model.SystemFriendConfirmedByOther
		confirmMsg = &model.Message{
			RoomID:      roomID,
			SenderID:    userID,
			MessageType: model.MessageTypeSystem,
			Content:     &content,
		}
		return tx.Create(confirmMsg).Error
	})
	if err != nil {
		return err
	}

	if s.publisher != nil {
		s.publisher.PublishToRoom(roomID, confirmMsg)
	}

	// 没有跨行事务,改为确认后重读两行;重置对已清空的行是 no-op,可安全重放
	return s.finalizeIfBothConfirmed(roomID)
}

// finalizeIfBothConfirmed 双方都确认后的终态迁移
// 重置更新带状态条件,并发的两个 confirm 只有一个能拿到受影响行数,
// 因此 FRIENDSHIP_ESTABLISHED 系统消息恰好落库一条
func (s *KnockService) finalizeIfBothConfirmed(roomID uuid.UUID) error {
	var confirmed int64
	err := s.db.Model(&model.Participant{}).
		Where("room_id = ? AND knock_status = ?", roomID, model.KnockStatusFriendConfirmed).
		Count(&confirmed).Error
	if err != nil {
		return fmt.Errorf("failed to count confirmed participants: %w", err)
	}
	if confirmed < 2 {
		return nil
	}

	var establishedMsg *model.Message
	var participants []model.Participant
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", roomID).Find(&participants).Error; err != nil {
			return err
		}

		result := tx.Model(&model.Participant{}).
			Where("room_id = ? AND knock_status = ?", roomID, model.KnockStatusFriendConfirmed).
			Updates(map[string]interface{}{
				"knock_status":        nil,
				"knock_message_count": 0,
			})
		if result.Error != nil {
			return fmt.Errorf("failed to reset knock state: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil // 另一个并发 confirm 已完成终态迁移
		}

		content := model.SystemFriendshipEstablished
		establishedMsg = &model.Message{
			RoomID:      roomID,
			SenderID:    model.SystemSenderID,
			MessageType: model.MessageTypeSystem,
			Content:     &content,
		}
		if err := tx.Create(establishedMsg).Error; err != nil {
			return err
		}

		// 好友关系建立,写入双向关注
		if len(participants) == 2 {
			return s.relSvc.EstablishMutualFollow(tx, participants[0].UserID, participants[1].UserID)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if establishedMsg != nil {
		if s.publisher != nil {
			s.publisher.PublishToRoom(roomID, establishedMsg)
		}
		if s.notifSvc != nil && len(participants) == 2 {
			s.notifSvc.NotifyFriendship(participants[0].UserID, participants[1].UserID, roomID)
		}
	}

	return nil
}
