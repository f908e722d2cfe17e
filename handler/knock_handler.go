package handler

import (
	"pawmate_message/middleware"
	"pawmate_message/service"
	"pawmate_message/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type KnockHandler struct {
	knockSvc *service.KnockService
}

func NewKnockHandler(knockSvc *service.KnockService) *KnockHandler {
	return &KnockHandler{knockSvc: knockSvc}
}

// GetKnockState 查询自己在房间内的敲门状态
// GET /api/v1/rooms/:id/knock
func (h *KnockHandler) GetKnockState(c *gin.Context) {
	userID, roomID, ok := h.roomAndUser(c)
	if !ok {
		return
	}

	participant, err := h.knockSvc.GetKnockState(roomID, userID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"knock_status":        participant.KnockStatus,
		"knock_message_count": participant.KnockMessageCount,
		"knock_initiated_at":  participant.KnockInitiatedAt,
		"is_blocked":          participant.IsBlocked,
	})
}

// AcceptKnock 接受敲门
// POST /api/v1/rooms/:id/knock/accept
func (h *KnockHandler) AcceptKnock(c *gin.Context) {
	userID, roomID, ok := h.roomAndUser(c)
	if !ok {
		return
	}

	if err := h.knockSvc.AcceptKnock(roomID, userID); err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessWithMessage(c, "knock accepted", nil)
}

// RejectKnock 拒绝敲门
// POST /api/v1/rooms/:id/knock/reject
func (h *KnockHandler) RejectKnock(c *gin.Context) {
	userID, roomID, ok := h.roomAndUser(c)
	if !ok {
		return
	}

	if err := h.knockSvc.RejectKnock(roomID, userID); err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessWithMessage(c, "knock rejected", nil)
}

// ConfirmFriend 确认好友
// POST /api/v1/rooms/:id/knock/confirm
func (h *KnockHandler) ConfirmFriend(c *gin.Context) {
	userID, roomID, ok := h.roomAndUser(c)
	if !ok {
		return
	}

	if err := h.knockSvc.ConfirmFriend(roomID, userID); err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessWithMessage(c, "friend confirmed", nil)
}

func (h *KnockHandler) roomAndUser(c *gin.Context) (int64, uuid.UUID, bool) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return 0, uuid.Nil, false
	}

	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "invalid room id")
		return 0, uuid.Nil, false
	}

	return userID, roomID, true
}
