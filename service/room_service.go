package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pawmate_message/model"
	"pawmate_message/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// RoomService 私聊房间目录
// 对同一无序用户对只允许存在一个 private 房间,唯一性的最终裁决在
// pair_index 的唯一键上:Redis 锁只是降低冲突概率的前置手段
type RoomService struct {
	db       *gorm.DB
	rdb      *redis.Client // 可选,为 nil 时跳过锁,直接依赖唯一键兜底
	relSvc   *RelationshipService
	sysSvc   *SystemSettingsService
	notifSvc *NotificationService
}

func NewRoomService(db *gorm.DB, rdb *redis.Client, relSvc *RelationshipService, sysSvc *SystemSettingsService) *RoomService {
	return &RoomService{
		db:     db,
		rdb:    rdb,
		relSvc: relSvc,
		sysSvc: sysSvc,
	}
}

// SetNotificationService 设置通知服务（用于依赖注入）
func (s *RoomService) SetNotificationService(notifSvc *NotificationService) {
	s.notifSvc = notifSvc
}

// FindOrCreatePrivateRoom 查找或创建两人私聊房间
// 返回值: (room, justCreated, error)
func (s *RoomService) FindOrCreatePrivateRoom(callerID, calleeID int64) (*model.Room, bool, error) {
	if callerID <= 0 || calleeID <= 0 {
		return nil, false, utils.ValidationError("invalid user id")
	}
	if callerID == calleeID {
		return nil, false, utils.ValidationError("cannot create room with yourself")
	}

	// 1. 先查 pair_index,已存在直接返回
	room, err := s.lookupPairRoom(callerID, calleeID)
	if err != nil {
		return nil, false, err
	}
	if room != nil {
		if err := s.maybeReseedAfterReject(room.ID, callerID, calleeID); err != nil {
			return nil, false, err
		}
		return room, false, nil
	}

	// 2. 有 Redis 时先抢锁,减少唯一键冲突的概率(拿不到锁也继续,唯一键兜底)
	if s.rdb != nil {
		ctx := context.Background()
		low, high := model.NormalizePair(callerID, calleeID)
		lockKey := fmt.Sprintf("lock:create_room:%d:%d", low, high)

		for i := 0; i < 30; i++ {
			ok, err := s.rdb.SetNX(ctx, lockKey, "1", 5*time.Second).Result()
			if err == nil && ok {
				defer s.rdb.Del(ctx, lockKey)
				break
			}
			time.Sleep(100 * time.Millisecond)
		}

		// 拿锁期间可能已被其他请求创建
		room, err = s.lookupPairRoom(callerID, calleeID)
		if err != nil {
			return nil, false, err
		}
		if room != nil {
			return room, false, nil
		}
	}

	// 3. 创建房间 + 两条参与者 + pair_index,单事务,部分失败整体回滚
	room, err = s.createPrivateRoom(callerID, calleeID)
	if err == nil {
		// 敲门落在对方头上,给接收方留一条通知
		if s.notifSvc != nil {
			if seeded, _ := s.participantOf(room.ID, calleeID); seeded != nil && !seeded.IsFriend() {
				s.notifSvc.NotifyKnock(calleeID, callerID, room.ID)
			}
		}
		return room, true, nil
	}

	// 4. 唯一键冲突说明并发输了:重读 pair_index 返回赢家的房间
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var winner *model.Room
		retryErr := utils.WithStoreRetry(func() error {
			var lookupErr error
			winner, lookupErr = s.lookupPairRoom(callerID, calleeID)
			if lookupErr != nil {
				return lookupErr
			}
			if winner == nil {
				return fmt.Errorf("pair index row missing after duplicate key")
			}
			return nil
		})
		if retryErr != nil {
			return nil, false, utils.ConflictError("concurrent room creation, re-read failed", retryErr)
		}
		return winner, false, nil
	}

	return nil, false, utils.AsAppError(err)
}

// lookupPairRoom 通过 pair_index 定位房间;不存在返回 (nil, nil)
func (s *RoomService) lookupPairRoom(userA, userB int64) (*model.Room, error) {
	low, high := model.NormalizePair(userA, userB)

	var index model.PairIndex
	err := s.db.Where("user_low = ? AND user_high = ?", low, high).First(&index).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query pair index: %w", err)
	}

	var room model.Room
	if err := s.db.Where("id = ?", index.RoomID).First(&room).Error; err != nil {
		return nil, fmt.Errorf("failed to load room for pair index: %w", err)
	}
	return &room, nil
}

// createPrivateRoom 房间/参与者/pair_index 三件套,一次事务落库
func (s *RoomService) createPrivateRoom(callerID, calleeID int64) (*model.Room, error) {
	isMutual, err := s.relSvc.IsMutual(callerID, calleeID)
	if err != nil {
		return nil, err
	}

	var room *model.Room
	err = s.db.Transaction(func(tx *gorm.DB) error {
		room = &model.Room{Kind: model.RoomKindPrivate}
		if err := tx.Create(room).Error; err != nil {
			return err
		}

		now := time.Now()
		for _, p := range seedParticipants(room.ID, callerID, calleeID, isMutual, now) {
			participant := p
			if err := tx.Create(&participant).Error; err != nil {
				return err
			}
		}

		low, high := model.NormalizePair(callerID, calleeID)
		index := &model.PairIndex{UserLow: low, UserHigh: high, RoomID: room.ID}
		return tx.Create(index).Error
	})

	if err != nil {
		return nil, err
	}
	return room, nil
}

// seedParticipants 生成初始参与者行
// 已互相关注 → 双方直接是好友(状态为空);否则发起方进入试聊,接收方被锁定
func seedParticipants(roomID uuid.UUID, callerID, calleeID int64, isMutual bool, now time.Time) []model.Participant {
	caller := model.Participant{RoomID: roomID, UserID: callerID, Role: model.RoleMember}
	callee := model.Participant{RoomID: roomID, UserID: calleeID, Role: model.RoleMember}

	if !isMutual {
		initiator := model.KnockStatusInitiatorTrial
		pending := model.KnockStatusReceiverPending
		caller.KnockStatus = &initiator
		caller.KnockInitiatedAt = &now
		callee.KnockStatus = &pending
		callee.KnockInitiatedAt = &now
	}

	return []model.Participant{caller, callee}
}

// maybeReseedAfterReject 被拒后的重复 find-or-create
// 配置允许时把双方状态重置为全新试聊,否则保持 rejected 原样返回
func (s *RoomService) maybeReseedAfterReject(roomID uuid.UUID, callerID, calleeID int64) error {
	if !s.sysSvc.IsFeatureEnabled(model.SettingAllowReknockAfterReject) {
		return nil
	}

	var rejected int64
	err := s.db.Model(&model.Participant{}).
		Where("room_id = ? AND knock_status = ?", roomID, model.KnockStatusRejected).
		Count(&rejected).Error
	if err != nil {
		return fmt.Errorf("failed to check rejected state: %w", err)
	}
	if rejected == 0 {
		return nil
	}

	now := time.Now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Participant{}).
			Where("room_id = ? AND user_id = ?", roomID, callerID).
			Updates(map[string]interface{}{
				"knock_status":        model.KnockStatusInitiatorTrial,
				"knock_message_count": 0,
				"knock_initiated_at":  now,
				"is_blocked":          false,
			}).Error; err != nil {
			return err
		}
		return tx.Model(&model.Participant{}).
			Where("room_id = ? AND user_id = ?", roomID, calleeID).
			Updates(map[string]interface{}{
				"knock_status":        model.KnockStatusReceiverPending,
				"knock_message_count": 0,
				"knock_initiated_at":  now,
				"is_blocked":          false,
			}).Error
	})
}

// GetRoom 加载房间
func (s *RoomService) GetRoom(roomID uuid.UUID) (*model.Room, error) {
	var room model.Room
	err := s.db.Where("id = ?", roomID).First(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NotFoundError("room not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	return &room, nil
}

// GetParticipants 加载房间参与者
func (s *RoomService) GetParticipants(roomID uuid.UUID) ([]model.Participant, error) {
	var participants []model.Participant
	if err := s.db.Where("room_id = ?", roomID).Find(&participants).Error; err != nil {
		return nil, fmt.Errorf("failed to load participants: %w", err)
	}
	return participants, nil
}

func (s *RoomService) participantOf(roomID uuid.UUID, userID int64) (*model.Participant, error) {
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

// GetRoomsForUser 获取用户的房间列表(带敲门状态/未读数/在线状态)
func (s *RoomService) GetRoomsForUser(userID int64, limit, offset int) ([]model.RoomListItem, error) {
	type roomQuery struct {
		model.Room
		KnockStatus *string `gorm:"column:knock_status"`
	}

	var roomQueries []roomQuery
	err := s.db.Table("rooms r").
		Select("r.*, p.knock_status").
		Joins("INNER JOIN participants p ON r.id = p.room_id AND p.user_id = ?", userID).
		Order("r.last_message_at DESC NULLS LAST, r.created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&roomQueries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}

	if len(roomQueries) == 0 {
		return []model.RoomListItem{}, nil
	}

	roomIDs := lo.Map(roomQueries, func(q roomQuery, _ int) uuid.UUID { return q.ID })

	// 一次性查询所有参与者（解决 N+1 问题）
	var allParticipants []model.Participant
	if err := s.db.Where("room_id IN ?", roomIDs).Find(&allParticipants).Error; err != nil {
		return nil, fmt.Errorf("failed to query participants: %w", err)
	}
	participantsByRoom := lo.GroupBy(allParticipants, func(p model.Participant) uuid.UUID { return p.RoomID })

	// 逐房间统计未读(对方发的且未读)
	items := make([]model.RoomListItem, 0, len(roomQueries))
	for _, q := range roomQueries {
		var unread int64
		s.db.Model(&model.Message{}).
			Where("room_id = ? AND sender_id != ? AND read = ?", q.ID, userID, false).
			Count(&unread)

		item := model.RoomListItem{
			Room:         q.Room,
			UnreadCount:  unread,
			KnockStatus:  q.KnockStatus,
			Participants: participantsByRoom[q.ID],
			OnlineStatus: s.onlineStatusFor(userID, participantsByRoom[q.ID]),
		}
		if item.Participants == nil {
			item.Participants = []model.Participant{}
		}
		if q.LastMessageID != nil {
			item.LastMessageText = s.previewOf(*q.LastMessageID)
		}
		items = append(items, item)
	}

	return items, nil
}

// onlineStatusFor 查询对方的在线状态(仅启用该功能且有 Redis 时)
func (s *RoomService) onlineStatusFor(currentUserID int64, participants []model.Participant) map[string]bool {
	onlineStatus := make(map[string]bool)
	if s.rdb == nil || !s.sysSvc.IsFeatureEnabled(model.SettingOnlineStatus) {
		return onlineStatus
	}

	ctx := context.Background()
	for _, p := range participants {
		if p.UserID == currentUserID {
			continue
		}
		key := fmt.Sprintf("online:%d", p.UserID)
		val, err := s.rdb.Get(ctx, key).Result()
		onlineStatus[fmt.Sprintf("%d", p.UserID)] = (err == nil && val == "1")
	}
	return onlineStatus
}

// previewOf 最新消息预览文本
func (s *RoomService) previewOf(messageID uuid.UUID) *string {
	var message model.Message
	if err := s.db.Select("id, content, message_type").
		Where("id = ?", messageID).First(&message).Error; err != nil {
		return nil
	}

	var text string
	switch message.MessageType {
	case model.MessageTypeText:
		if message.Content != nil {
			text = *message.Content
			runes := []rune(text)
			if len(runes) > 50 {
				text = string(runes[:50]) + "..."
			}
		}
	case model.MessageTypeImage:
		text = "[图片]"
	case model.MessageTypeSystem:
		return nil // 系统消息不进预览
	}
	return &text
}
