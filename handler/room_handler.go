package handler

import (
	"strconv"

	"pawmate_message/middleware"
	"pawmate_message/service"
	"pawmate_message/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RoomHandler struct {
	roomSvc *service.RoomService
	msgSvc  *service.MessageService
}

func NewRoomHandler(roomSvc *service.RoomService, msgSvc *service.MessageService) *RoomHandler {
	return &RoomHandler{roomSvc: roomSvc, msgSvc: msgSvc}
}

// CreatePrivateRoom 查找或创建私聊房间
// POST /api/v1/rooms/private
func (h *RoomHandler) CreatePrivateRoom(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	var req struct {
		PeerID int64 `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	room, created, err := h.roomSvc.FindOrCreatePrivateRoom(userID, req.PeerID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	participants, err := h.roomSvc.GetParticipants(room.ID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"room":         room,
		"created":      created,
		"participants": participants,
	})
}

// GetRooms 获取房间列表
// GET /api/v1/rooms
func (h *RoomHandler) GetRooms(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	// 分页参数
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	rooms, err := h.roomSvc.GetRoomsForUser(userID, limit, offset)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{"rooms": rooms})
}

// GetHistory 获取房间消息历史(升序,最旧在前)
// GET /api/v1/rooms/:id/messages
func (h *RoomHandler) GetHistory(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "invalid room id")
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	messages, err := h.msgSvc.GetHistory(roomID, userID, limit)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	unread, err := h.msgSvc.GetUnreadCount(roomID, userID)
	if err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessResponse(c, gin.H{
		"messages":     messages,
		"unread_count": unread,
	})
}

// MarkRead 标记房间内对方消息为已读
// POST /api/v1/rooms/:id/read
func (h *RoomHandler) MarkRead(c *gin.Context) {
	userID, exists := middleware.GetUserID(c)
	if !exists {
		utils.Unauthorized(c, "unauthorized")
		return
	}

	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "invalid room id")
		return
	}

	if err := h.msgSvc.MarkRead(roomID, userID); err != nil {
		utils.AppErrorResponse(c, err)
		return
	}

	utils.SuccessWithMessage(c, "marked as read", nil)
}
