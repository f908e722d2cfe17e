package service

import (
	"errors"
	"fmt"
	"time"

	"pawmate_message/model"
	"pawmate_message/utils"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// MessageService 消息总线
// 闸门通过后落库,按提交顺序推送给房间的在线订阅者;
// 不做离线补投,断线的会话重连后走 GetHistory 补齐
type MessageService struct {
	db        *gorm.DB
	roomSvc   *RoomService
	knockSvc  *KnockService
	relSvc    *RelationshipService
	publisher RoomPublisher
}

func NewMessageService(db *gorm.DB, roomSvc *RoomService, knockSvc *KnockService, relSvc *RelationshipService) *MessageService {
	return &MessageService{
		db:       db,
		roomSvc:  roomSvc,
		knockSvc: knockSvc,
		relSvc:   relSvc,
	}
}

// SetRoomPublisher 设置房间推送器（用于依赖注入）
func (s *MessageService) SetRoomPublisher(publisher RoomPublisher) {
	s.publisher = publisher
}

// GetDB 获取数据库连接（用于高级查询）
func (s *MessageService) GetDB() *gorm.DB {
	return s.db
}

// SendMessageRequest 发送消息请求
type SendMessageRequest struct {
	RoomID      uuid.UUID  `json:"room_id"`
	ReceiverID  *int64     `json:"receiver_id,omitempty"` // 无 room_id 时按接收者自动定位私聊房间
	MessageType string     `json:"message_type"`          // 'text' | 'image'
	Content     *string    `json:"content,omitempty"`
	ImageURL    *string    `json:"image_url,omitempty"`
	ReplyToID   *uuid.UUID `json:"reply_to_id,omitempty"`
	ClientKey   *string    `json:"client_key,omitempty"` // 客户端幂等键,原样写回消息行
}

// SendMessage 发送消息
// 闸门检查不通过的发送在落库前就被拒绝,没有部分副作用
func (s *MessageService) SendMessage(senderID int64, req *SendMessageRequest) (*model.Message, error) {
	// 0. 验证输入
	switch req.MessageType {
	case model.MessageTypeText:
		if req.Content == nil || *req.Content == "" {
			return nil, utils.ValidationError("content is required for text messages")
		}
	case model.MessageTypeImage:
		if req.ImageURL == nil || *req.ImageURL == "" {
			return nil, utils.ValidationError("image_url is required for image messages")
		}
	default:
		return nil, utils.ValidationError("unsupported message type: %s", req.MessageType)
	}

	// 1. 没带 room_id 时按接收者定位(或创建)私聊房间
	roomID := req.RoomID
	if roomID == uuid.Nil {
		if req.ReceiverID == nil {
			return nil, utils.ValidationError("room_id or receiver_id is required")
		}
		room, _, err := s.roomSvc.FindOrCreatePrivateRoom(senderID, *req.ReceiverID)
		if err != nil {
			return nil, err
		}
		roomID = room.ID
	}

	// 2. 拉黑检查(拉黑方的行上有 is_blocked,闸门一并覆盖;这里拦截跨房间拉黑)
	if req.ReceiverID != nil {
		blocked, err := s.relSvc.IsBlocked(senderID, *req.ReceiverID)
		if err != nil {
			return nil, utils.AsAppError(err)
		}
		if blocked {
			return nil, utils.GateViolation(utils.GateReasonBlocked, "you are blocked by this user")
		}
	}

	// 3. 关系闸门:receiver_pending 被锁定,rejected 封死
	if err := s.knockSvc.GateSend(roomID, senderID); err != nil {
		return nil, err
	}

	message := &model.Message{
		RoomID:      roomID,
		SenderID:    senderID,
		MessageType: req.MessageType,
		Content:     req.Content,
		ImageURL:    req.ImageURL,
		ReplyToID:   req.ReplyToID,
		ClientKey:   req.ClientKey,
	}

	// 4. 落库 + 计入晋升计数 + 更新房间最新消息,单事务
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		if err := s.knockSvc.CountSend(tx, roomID, senderID); err != nil {
			return err
		}

		now := time.Now()
		return tx.Model(&model.Room{}).Where("id = ?", roomID).
			Updates(map[string]interface{}{
				"last_message_at": now,
				"last_message_id": message.ID,
				"updated_at":      now,
			}).Error
	})
	if err != nil {
		return nil, utils.AsAppError(err)
	}

	// 5. 提交后按序推送给房间订阅者
	if s.publisher != nil {
		s.publisher.PublishToRoom(roomID, message)
	}

	return message, nil
}

// GetHistory 获取房间消息历史,按 created_at 升序(最旧在前),limit 截断
func (s *MessageService) GetHistory(roomID uuid.UUID, userID int64, limit int) ([]model.Message, error) {
	if err := s.requireParticipant(roomID, userID); err != nil {
		return nil, err
	}

	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var messages []model.Message
	err := s.db.Where("room_id = ?", roomID).
		Order("created_at ASC").
		Limit(limit).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}

	return messages, nil
}

// MarkRead 把房间内对方发来的未读消息全部置为已读
// 只动 sender != userId 的行,调用者自己发的消息不受影响
func (s *MessageService) MarkRead(roomID uuid.UUID, userID int64) error {
	if err := s.requireParticipant(roomID, userID); err != nil {
		return err
	}

	err := s.db.Model(&model.Message{}).
		Where("room_id = ? AND sender_id != ? AND read = ?", roomID, userID, false).
		Update("read", true).Error
	if err != nil {
		return fmt.Errorf("failed to mark messages read: %w", err)
	}
	return nil
}

// GetUnreadCount 房间内对方发来的未读消息数
func (s *MessageService) GetUnreadCount(roomID uuid.UUID, userID int64) (int64, error) {
	var count int64
	err := s.db.Model(&model.Message{}).
		Where("room_id = ? AND sender_id != ? AND read = ?", roomID, userID, false).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count unread messages: %w", err)
	}
	return count, nil
}

// GetRoomMemberIDs 房间参与者的用户 ID 列表
func (s *MessageService) GetRoomMemberIDs(roomID uuid.UUID) ([]int64, error) {
	participants, err := s.roomSvc.GetParticipants(roomID)
	if err != nil {
		return nil, err
	}
	return lo.Map(participants, func(p model.Participant, _ int) int64 { return p.UserID }), nil
}

// IsParticipant 调用者是否房间参与者(订阅前校验用)
func (s *MessageService) IsParticipant(roomID uuid.UUID, userID int64) bool {
	return s.requireParticipant(roomID, userID) == nil
}

// requireParticipant 校验调用者是房间参与者
func (s *MessageService) requireParticipant(roomID uuid.UUID, userID int64) error {
	var count int64
	err := s.db.Model(&model.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Count(&count).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.NotFoundError("room not found")
		}
		return utils.AsAppError(err)
	}
	if count == 0 {
		return utils.NotFoundError("you are not a participant of this room")
	}
	return nil
}
