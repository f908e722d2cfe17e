package client

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"pawmate_message/model"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	heartbeatInterval = 25 * time.Second
	writeTimeout      = 10 * time.Second
)

// frame 与服务端约定的帧格式
type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// sendMessagePayload 发送消息帧的载荷
type sendMessagePayload struct {
	RoomID      uuid.UUID `json:"room_id"`
	MessageType string    `json:"message_type"`
	Content     *string   `json:"content,omitempty"`
	ImageURL    *string   `json:"image_url,omitempty"`
	ClientKey   string    `json:"client_key"`
}

type roomPayload struct {
	RoomID uuid.UUID `json:"room_id"`
}

// Session 面向单个用户的 WebSocket 会话
// 维护每个已加入房间的本地状态,读循环把服务端事件合并进对应房间
type Session struct {
	userID int64
	conn   *websocket.Conn

	mu    sync.Mutex
	rooms map[uuid.UUID]*RoomState

	writeMu sync.Mutex // gorilla 的写端不允许并发

	// 收到关系状态迁移信号时触发,UI 层重新拉取敲门状态
	OnKnockRefresh func(roomID uuid.UUID)
	// 服务端下发的错误帧
	OnError func(code, message string)

	done chan struct{}
	once sync.Once
}

// Dial 建立 WebSocket 会话
// serverURL 形如 ws://host:port,token 走 query 参数认证
func Dial(serverURL, token string, userID int64) (*Session, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	u.Path = "/ws"
	u.RawQuery = "token=" + url.QueryEscape(token)

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	s := &Session{
		userID: userID,
		conn:   conn,
		rooms:  make(map[uuid.UUID]*RoomState),
		done:   make(chan struct{}),
	}

	go s.readLoop()
	go s.heartbeatLoop()

	return s, nil
}

// JoinRoom 加入房间(订阅 + 创建本地状态)
// 重复加入是幂等的,返回已有的房间状态
func (s *Session) JoinRoom(roomID uuid.UUID) (*RoomState, error) {
	s.mu.Lock()
	if state, ok := s.rooms[roomID]; ok {
		s.mu.Unlock()
		return state, nil
	}

	state := NewRoomState(roomID, s.userID)
	state.SetKnockRefreshFunc(func(roomID uuid.UUID) {
		if s.OnKnockRefresh != nil {
			s.OnKnockRefresh(roomID)
		}
	})
	s.rooms[roomID] = state
	s.mu.Unlock()

	if err := s.writeFrame("subscribe", roomPayload{RoomID: roomID}); err != nil {
		s.mu.Lock()
		delete(s.rooms, roomID)
		s.mu.Unlock()
		return nil, err
	}
	return state, nil
}

// LeaveRoom 离开房间(退订 + 丢弃本地状态)
// 未加入的房间直接返回,不报错
func (s *Session) LeaveRoom(roomID uuid.UUID) error {
	s.mu.Lock()
	_, ok := s.rooms[roomID]
	delete(s.rooms, roomID)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.writeFrame("unsubscribe", roomPayload{RoomID: roomID})
}

// SendText 发送文本消息
// 先做本地乐观回显再写网络,服务端回声按幂等键对账
func (s *Session) SendText(roomID uuid.UUID, content string) error {
	return s.send(roomID, model.MessageTypeText, &content, nil)
}

// SendImage 发送图片消息
func (s *Session) SendImage(roomID uuid.UUID, imageURL string) error {
	return s.send(roomID, model.MessageTypeImage, nil, &imageURL)
}

func (s *Session) send(roomID uuid.UUID, messageType string, content, imageURL *string) error {
	s.mu.Lock()
	state, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("room %s not joined", roomID)
	}

	clientKey := state.AppendLocal(messageType, content, imageURL)

	return s.writeFrame("message", sendMessagePayload{
		RoomID:      roomID,
		MessageType: messageType,
		Content:     content,
		ImageURL:    imageURL,
		ClientKey:   clientKey,
	})
}

// MarkRead 标记房间已读(本地清零 + 通知服务端)
func (s *Session) MarkRead(roomID uuid.UUID) error {
	s.mu.Lock()
	state, ok := s.rooms[roomID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("room %s not joined", roomID)
	}

	state.ClearUnread()
	return s.writeFrame("read", roomPayload{RoomID: roomID})
}

// Room 获取已加入房间的本地状态
func (s *Session) Room(roomID uuid.UUID) (*RoomState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.rooms[roomID]
	return state, ok
}

// Close 关闭会话
func (s *Session) Close() error {
	s.once.Do(func() {
		close(s.done)
	})
	return s.conn.Close()
}

// readLoop 读取服务端帧并分发
func (s *Session) readLoop() {
	defer s.Close()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				log.Printf("[ERROR] Session read failed for user %d: %v", s.userID, err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Printf("[ERROR] Invalid frame from server: %v", err)
			continue
		}

		switch f.Type {
		case "message.inserted":
			var msg model.Message
			if err := json.Unmarshal(f.Data, &msg); err != nil {
				log.Printf("[ERROR] Invalid message payload: %v", err)
				continue
			}
			s.mu.Lock()
			state, ok := s.rooms[msg.RoomID]
			s.mu.Unlock()
			if ok {
				state.ApplyServer(&msg)
			}

		case "error":
			var e struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			}
			if err := json.Unmarshal(f.Data, &e); err == nil && s.OnError != nil {
				s.OnError(e.Code, e.Message)
			}

		case "subscribed":
			// 订阅确认,无需处理
		}
	}
}

// heartbeatLoop 周期性发送心跳,维持服务端在线状态
func (s *Session) heartbeatLoop() {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.writeFrame("heartbeat", struct{}{}); err != nil {
				return
			}
		}
	}
}

// writeFrame 序列化并写出一帧
func (s *Session) writeFrame(frameType string, data interface{}) error {
	payload, err := json.Marshal(map[string]interface{}{
		"type": frameType,
		"data": data,
	})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}
