package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"pawmate_message/middleware"
	"pawmate_message/model"
	"pawmate_message/service"
	"pawmate_message/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// TODO: 生产环境需要检查 Origin
		return true
	},
}

// Client WebSocket 客户端连接
// 房间订阅表挂在连接上,随连接注销一并清理,不留进程级残留
type Client struct {
	ID     uuid.UUID
	UserID int64
	Conn   *websocket.Conn
	Send   chan []byte
	Hub    *Hub

	mu     sync.RWMutex
	rooms  map[uuid.UUID]bool // 当前订阅的房间
	closed bool               // Send channel 是否已关闭
}

// Hub WebSocket 连接管理中心
// 每个房间一条独立的逻辑通道:向房间 R 的推送不会阻塞、也不排序于房间 S
type Hub struct {
	mu      sync.RWMutex
	clients map[uuid.UUID]*Client              // clientID -> client
	rooms   map[uuid.UUID]map[uuid.UUID]*Client // roomID -> clientID -> client

	// Redis 客户端(跨 Pod 广播与在线状态)
	rdb *redis.Client

	msgSvc *service.MessageService
	sysSvc *service.SystemSettingsService

	// Pod ID（用于跨 Pod 广播去重）
	podID string

	// 停止 Pub/Sub 订阅
	stopPubSub chan struct{}
}

// Redis Pub/Sub channel 名称
const redisBroadcastChannel = "ws:room_broadcast"

// BroadcastFrame 跨 Pod 广播消息格式
type BroadcastFrame struct {
	RoomID  string `json:"room_id"`
	PodID   string `json:"pod_id"` // 发送方 Pod ID，用于去重
	Payload []byte `json:"payload"`
}

// NewHub 创建 Hub
func NewHub(rdb *redis.Client, msgSvc *service.MessageService, sysSvc *service.SystemSettingsService) *Hub {
	return &Hub{
		clients:    make(map[uuid.UUID]*Client),
		rooms:      make(map[uuid.UUID]map[uuid.UUID]*Client),
		rdb:        rdb,
		msgSvc:     msgSvc,
		sysSvc:     sysSvc,
		podID:      uuid.New().String(), // 每个 Pod 实例唯一 ID
		stopPubSub: make(chan struct{}),
	}
}

// Register 注册客户端连接
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID] = client
	total := len(h.clients)
	h.mu.Unlock()

	// 在线状态处理（不持有锁的情况下进行 Redis 操作）
	if h.rdb != nil && h.sysSvc.IsFeatureEnabled(model.SettingOnlineStatus) {
		ctx := context.Background()
		h.rdb.Set(ctx, fmt.Sprintf("online:%d", client.UserID), "1", 30*time.Second)
	}

	log.Printf("User %d connected (client: %s), total clients: %d", client.UserID, client.ID, total)
}

// Unregister 注销客户端,解除其全部房间订阅
func (h *Hub) Unregister(client *Client) {
	client.mu.Lock()
	subscribed := make([]uuid.UUID, 0, len(client.rooms))
	for roomID := range client.rooms {
		subscribed = append(subscribed, roomID)
	}
	client.rooms = make(map[uuid.UUID]bool)
	client.mu.Unlock()

	h.mu.Lock()
	for _, roomID := range subscribed {
		if subscribers, ok := h.rooms[roomID]; ok {
			delete(subscribers, client.ID)
			if len(subscribers) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	_, found := h.clients[client.ID]
	delete(h.clients, client.ID)
	total := len(h.clients)
	h.mu.Unlock()

	if found {
		if h.rdb != nil && h.sysSvc.IsFeatureEnabled(model.SettingOnlineStatus) {
			ctx := context.Background()
			h.rdb.Del(ctx, fmt.Sprintf("online:%d", client.UserID))
		}
		log.Printf("User %d disconnected (client: %s), total clients: %d", client.UserID, client.ID, total)
	}

	// 安全关闭 Send channel
	client.mu.Lock()
	if !client.closed {
		close(client.Send)
		client.closed = true
	}
	client.mu.Unlock()
}

// Subscribe 订阅房间;重复订阅是 no-op,不是错误
func (h *Hub) Subscribe(client *Client, roomID uuid.UUID) error {
	if !h.msgSvc.IsParticipant(roomID, client.UserID) {
		return utils.NotFoundError("you are not a participant of this room")
	}

	client.mu.Lock()
	if client.rooms[roomID] {
		client.mu.Unlock()
		return nil // 已订阅
	}
	client.rooms[roomID] = true
	client.mu.Unlock()

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[uuid.UUID]*Client)
	}
	h.rooms[roomID][client.ID] = client
	h.mu.Unlock()

	return nil
}

// Unsubscribe 退订房间
func (h *Hub) Unsubscribe(client *Client, roomID uuid.UUID) {
	client.mu.Lock()
	delete(client.rooms, roomID)
	client.mu.Unlock()

	h.mu.Lock()
	if subscribers, ok := h.rooms[roomID]; ok {
		delete(subscribers, client.ID)
		if len(subscribers) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// PublishToRoom 把已落库的消息按提交顺序推给房间的在线订阅者
// 对掉线的会话不做排队补投,重连后由历史接口补齐
func (h *Hub) PublishToRoom(roomID uuid.UUID, message *model.Message) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": "message.inserted",
		"data": message,
	})
	if err != nil {
		log.Printf("[ERROR] Failed to marshal room event: %v", err)
		return
	}

	// 1. 本地订阅者
	h.publishLocal(roomID, payload)

	// 2. 发布到 Redis，让其他 Pod 的订阅者也能收到
	if h.rdb == nil {
		return
	}
	frame := BroadcastFrame{
		RoomID:  roomID.String(),
		PodID:   h.podID,
		Payload: payload,
	}
	frameBytes, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[ERROR] Failed to marshal broadcast frame: %v", err)
		return
	}
	ctx := context.Background()
	if err := h.rdb.Publish(ctx, redisBroadcastChannel, frameBytes).Err(); err != nil {
		log.Printf("[ERROR] Failed to publish to Redis: %v", err)
	}
}

// publishLocal 投递给本进程内订阅了该房间的连接
func (h *Hub) publishLocal(roomID uuid.UUID, payload []byte) {
	h.mu.RLock()
	subscribers := h.rooms[roomID]
	if len(subscribers) == 0 {
		h.mu.RUnlock()
		return
	}
	// 复制一份 client 列表，避免在遍历时发生并发修改 panic
	clientsCopy := make([]*Client, 0, len(subscribers))
	for _, client := range subscribers {
		clientsCopy = append(clientsCopy, client)
	}
	h.mu.RUnlock()

	for _, client := range clientsCopy {
		select {
		case client.Send <- payload:
		default:
			// 发送通道满了，关闭该连接
			log.Printf("[ERROR] Send channel FULL: user=%d, client=%s, closing connection", client.UserID, client.ID)
			go h.Unregister(client)
		}
	}
}

// StartPubSub 启动 Redis Pub/Sub 订阅（跨 Pod 消息广播）
func (h *Hub) StartPubSub() {
	if h.rdb == nil {
		return
	}
	go func() {
		ctx := context.Background()
		pubsub := h.rdb.Subscribe(ctx, redisBroadcastChannel)
		defer pubsub.Close()

		log.Printf("[INFO] Pod %s started Redis Pub/Sub subscription", h.podID[:8])

		ch := pubsub.Channel()
		for {
			select {
			case <-h.stopPubSub:
				log.Printf("[INFO] Pod %s stopping Redis Pub/Sub subscription", h.podID[:8])
				return
			case msg := <-ch:
				if msg == nil {
					continue
				}
				h.handleBroadcastFrame([]byte(msg.Payload))
			}
		}
	}()
}

// StopPubSub 停止 Redis Pub/Sub 订阅
func (h *Hub) StopPubSub() {
	close(h.stopPubSub)
}

// handleBroadcastFrame 处理来自 Redis 的广播消息
func (h *Hub) handleBroadcastFrame(data []byte) {
	var frame BroadcastFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		log.Printf("[ERROR] Failed to unmarshal broadcast frame: %v", err)
		return
	}

	// 忽略自己发的消息（避免重复推送）
	if frame.PodID == h.podID {
		return
	}

	roomID, err := uuid.Parse(frame.RoomID)
	if err != nil {
		log.Printf("[ERROR] Invalid room ID in broadcast frame: %v", err)
		return
	}

	h.publishLocal(roomID, frame.Payload)
}

// SubscriberCount 房间当前的本地订阅者数(测试用)
func (h *Hub) SubscriberCount(roomID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// WSFrame WebSocket 消息格式
type WSFrame struct {
	Type string          `json:"type"` // 'subscribe' | 'unsubscribe' | 'message' | 'read' | 'heartbeat'
	Data json.RawMessage `json:"data"`
}

// HandleWebSocket 处理 WebSocket 连接
func HandleWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 从 query 参数获取 token
		tokenString := c.Query("token")
		if tokenString == "" {
			utils.Unauthorized(c, "missing token")
			return
		}

		userID, err := middleware.ValidateToken(tokenString)
		if err != nil {
			utils.Unauthorized(c, "invalid token")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("[ERROR] WebSocket upgrade failed for user %d: %v", userID, err)
			return
		}

		client := &Client{
			ID:     uuid.New(),
			UserID: userID,
			Conn:   conn,
			Send:   make(chan []byte, 1024),
			Hub:    hub,
			rooms:  make(map[uuid.UUID]bool),
		}

		hub.Register(client)

		go client.readPump()
		go client.writePump()
	}
}

// readPump 从 WebSocket 读取消息
func (c *Client) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure) {
				log.Printf("[ERROR] User %d WebSocket unexpected close error: %v", c.UserID, err)
			}
			break
		}

		var frame WSFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Printf("[ERROR] Invalid frame format: %v", err)
			c.sendError("validation_error", "invalid JSON format")
			continue
		}

		switch frame.Type {
		case "heartbeat":
			// 心跳消息，如果启用了在线状态功能，刷新 Redis
			if c.Hub.rdb != nil && c.Hub.sysSvc.IsFeatureEnabled(model.SettingOnlineStatus) {
				ctx := context.Background()
				c.Hub.rdb.Set(ctx, fmt.Sprintf("online:%d", c.UserID), "1", 30*time.Second)
			}

		case "subscribe":
			c.handleSubscribe(frame.Data)

		case "unsubscribe":
			c.handleUnsubscribe(frame.Data)

		case "message":
			c.handleSendMessage(frame.Data)

		case "read":
			c.handleMarkRead(frame.Data)
		}
	}
}

// writePump 向 WebSocket 写入消息
func (c *Client) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				// Hub 关闭了通道
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(payload)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			// 发送 ping 保持连接
			c.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type roomFrame struct {
	RoomID uuid.UUID `json:"room_id"`
}

// handleSubscribe 处理订阅房间
func (c *Client) handleSubscribe(data json.RawMessage) {
	var req roomFrame
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == uuid.Nil {
		c.sendError("validation_error", "invalid subscribe frame")
		return
	}

	if err := c.Hub.Subscribe(c, req.RoomID); err != nil {
		appErr := utils.AsAppError(err)
		c.sendError(appErr.Code, appErr.Message)
		return
	}

	c.sendFrame("subscribed", map[string]interface{}{"room_id": req.RoomID})
}

// handleUnsubscribe 处理退订房间
func (c *Client) handleUnsubscribe(data json.RawMessage) {
	var req roomFrame
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == uuid.Nil {
		c.sendError("validation_error", "invalid unsubscribe frame")
		return
	}
	c.Hub.Unsubscribe(c, req.RoomID)
}

// handleSendMessage 处理发送消息
// 闸门拒绝会带具体 reason 返给客户端,消息不落库
func (c *Client) handleSendMessage(data json.RawMessage) {
	var req service.SendMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		log.Printf("[ERROR] Invalid message format: %v", err)
		c.sendError("validation_error", "invalid message format")
		return
	}

	if _, err := c.Hub.msgSvc.SendMessage(c.UserID, &req); err != nil {
		log.Printf("[ERROR] Failed to send message: %v", err)
		appErr := utils.AsAppError(err)
		c.sendError(appErr.Code, appErr.Error())
		return
	}
	// 推送已经在 MessageService 落库后按序完成,发送方作为订阅者同样收到回声
}

// handleMarkRead 处理已读回执
func (c *Client) handleMarkRead(data json.RawMessage) {
	var req roomFrame
	if err := json.Unmarshal(data, &req); err != nil || req.RoomID == uuid.Nil {
		c.sendError("validation_error", "invalid read frame")
		return
	}

	if err := c.Hub.msgSvc.MarkRead(req.RoomID, c.UserID); err != nil {
		log.Printf("[ERROR] Failed to mark read: %v", err)
		appErr := utils.AsAppError(err)
		c.sendError(appErr.Code, appErr.Message)
	}
}

// sendFrame 发送任意帧给客户端(非阻塞)
func (c *Client) sendFrame(frameType string, data interface{}) {
	payload, err := json.Marshal(map[string]interface{}{
		"type": frameType,
		"data": data,
	})
	if err != nil {
		return
	}

	select {
	case c.Send <- payload:
	default:
		log.Printf("[ERROR] Failed to send %s frame to user %d: channel full", frameType, c.UserID)
	}
}

// sendError 发送错误帧给客户端
func (c *Client) sendError(code, message string) {
	c.sendFrame("error", map[string]string{
		"code":    code,
		"message": message,
	})
}
