package service

import (
	"errors"
	"fmt"

	"pawmate_message/model"
	"pawmate_message/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type RelationshipService struct {
	db *gorm.DB
}

func NewRelationshipService(db *gorm.DB) *RelationshipService {
	return &RelationshipService{db: db}
}

// FollowUser 关注用户(幂等,重复关注不报错)
func (s *RelationshipService) FollowUser(userID, targetUserID int64) error {
	if userID == targetUserID {
		return utils.ValidationError("cannot follow yourself")
	}

	relationship := &model.UserRelationship{
		UserID:           userID,
		TargetUserID:     targetUserID,
		RelationshipType: model.RelationFollow,
	}

	err := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(relationship).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("failed to follow user: %w", err)
	}
	return nil
}

// UnfollowUser 取消关注
func (s *RelationshipService) UnfollowUser(userID, targetUserID int64) error {
	result := s.db.Where("user_id = ? AND target_user_id = ? AND relationship_type = ?",
		userID, targetUserID, model.RelationFollow).
		Delete(&model.UserRelationship{})

	if result.Error != nil {
		return fmt.Errorf("failed to unfollow user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.NotFoundError("not following this user")
	}
	return nil
}

// IsMutual 双方是否互相关注
// 敲门协议用它决定新房间是否直接以好友状态落地
func (s *RelationshipService) IsMutual(userA, userB int64) (bool, error) {
	var count int64
	err := s.db.Model(&model.UserRelationship{}).
		Where("relationship_type = ?", model.RelationFollow).
		Where("(user_id = ? AND target_user_id = ?) OR (user_id = ? AND target_user_id = ?)",
			userA, userB, userB, userA).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to check mutual relationship: %w", err)
	}
	return count == 2, nil
}

// EstablishMutualFollow 建立双向关注(好友关系的终态副作用,幂等)
func (s *RelationshipService) EstablishMutualFollow(tx *gorm.DB, userA, userB int64) error {
	for _, pair := range [][2]int64{{userA, userB}, {userB, userA}} {
		relationship := &model.UserRelationship{
			UserID:           pair[0],
			TargetUserID:     pair[1],
			RelationshipType: model.RelationFollow,
		}
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(relationship).Error
		if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("failed to establish mutual follow: %w", err)
		}
	}
	return nil
}

// BlockUser 拉黑用户
func (s *RelationshipService) BlockUser(userID, targetUserID int64) error {
	// 检查是否已经拉黑
	var count int64
	err := s.db.Model(&model.UserRelationship{}).
		Where("user_id = ? AND target_user_id = ? AND relationship_type = ?",
			userID, targetUserID, model.RelationBlocked).
		Count(&count).Error

	if err != nil {
		return fmt.Errorf("failed to check relationship: %w", err)
	}

	if count > 0 {
		return utils.ConflictError("user already blocked", nil)
	}

	relationship := &model.UserRelationship{
		UserID:           userID,
		TargetUserID:     targetUserID,
		RelationshipType: model.RelationBlocked,
	}

	if err := s.db.Create(relationship).Error; err != nil {
		return fmt.Errorf("failed to block user: %w", err)
	}

	return nil
}

// UnblockUser 取消拉黑
func (s *RelationshipService) UnblockUser(userID, targetUserID int64) error {
	result := s.db.Where("user_id = ? AND target_user_id = ? AND relationship_type = ?",
		userID, targetUserID, model.RelationBlocked).
		Delete(&model.UserRelationship{})

	if result.Error != nil {
		return fmt.Errorf("failed to unblock user: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return utils.NotFoundError("user not blocked")
	}

	return nil
}

// GetBlockedUsers 获取拉黑列表
func (s *RelationshipService) GetBlockedUsers(userID int64) ([]model.UserRelationship, error) {
	var relationships []model.UserRelationship
	err := s.db.Where("user_id = ? AND relationship_type = ?", userID, model.RelationBlocked).
		Order("created_at DESC").
		Find(&relationships).Error

	if err != nil {
		return nil, fmt.Errorf("failed to query blocked users: %w", err)
	}

	return relationships, nil
}

// IsBlocked 检查 senderID 是否被 targetUserID 拉黑
func (s *RelationshipService) IsBlocked(senderID, targetUserID int64) (bool, error) {
	var count int64
	err := s.db.Model(&model.UserRelationship{}).
		Where("user_id = ? AND target_user_id = ? AND relationship_type = ?",
			targetUserID, senderID, model.RelationBlocked).
		Count(&count).Error

	return count > 0, err
}
