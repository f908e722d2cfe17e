package client

import (
	"fmt"
	"sync"
	"time"

	"pawmate_message/model"

	"github.com/google/uuid"
)

// DisplayMessage 客户端渲染的一条消息
// Pending=true 表示本地乐观回显,尚未收到服务端确认
type DisplayMessage struct {
	ID          uuid.UUID
	SenderID    int64
	MessageType string
	Content     *string
	ImageURL    *string
	ClientKey   string
	CreatedAt   time.Time
	Pending     bool
}

// RoomState 单个房间的客户端本地状态
// 纯内存对账:乐观回显、服务端事件合并、本地未读计数
// 不依赖网络,Session 的读循环和 UI 层都可以并发访问
type RoomState struct {
	mu sync.Mutex

	roomID uuid.UUID
	selfID int64

	messages []*DisplayMessage
	knownIDs map[uuid.UUID]bool // 服务端已确认的消息 ID,用于去重
	unread   int

	// 收到关系状态迁移信号时触发(系统消息不渲染)
	onKnockRefresh func(roomID uuid.UUID)
}

// NewRoomState 创建房间本地状态
func NewRoomState(roomID uuid.UUID, selfID int64) *RoomState {
	return &RoomState{
		roomID:   roomID,
		selfID:   selfID,
		knownIDs: make(map[uuid.UUID]bool),
	}
}

// SetKnockRefreshFunc 设置敲门状态刷新回调
func (s *RoomState) SetKnockRefreshFunc(fn func(roomID uuid.UUID)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onKnockRefresh = fn
}

// AppendLocal 本地乐观回显
// 在网络写出之前调用,返回客户端幂等键,同一个键随帧发给服务端
func (s *RoomState) AppendLocal(messageType string, content, imageURL *string) string {
	clientKey := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = append(s.messages, &DisplayMessage{
		SenderID:    s.selfID,
		MessageType: messageType,
		Content:     content,
		ImageURL:    imageURL,
		ClientKey:   clientKey,
		CreatedAt:   time.Now(),
		Pending:     true,
	})
	return clientKey
}

// ApplyServer 合并一条服务端下发的消息
// 合并规则:
// 1. 已知 ID → 丢弃(重连 / 跨 Pod 重复)
// 2. 系统消息携带的关系信号 → 不渲染,触发敲门状态刷新
// 3. 自己发的消息 → 优先按 client_key 匹配待确认回显,退化为最老的签名匹配;
//    命中则用服务端的 ID 和时间戳替换本地回显,不产生重复条目
// 4. 其余 → 新的入站消息,未读数加一
func (s *RoomState) ApplyServer(msg *model.Message) {
	if msg == nil || msg.RoomID != s.roomID {
		return
	}

	s.mu.Lock()

	if s.knownIDs[msg.ID] {
		s.mu.Unlock()
		return
	}
	s.knownIDs[msg.ID] = true

	if msg.IsKnockSignal() {
		fn := s.onKnockRefresh
		s.mu.Unlock()
		if fn != nil {
			fn(s.roomID)
		}
		return
	}

	if msg.SenderID == s.selfID {
		if pending := s.matchPending(msg); pending != nil {
			pending.ID = msg.ID
			pending.CreatedAt = msg.CreatedAt
			pending.Pending = false
			s.mu.Unlock()
			return
		}
		// 多端场景:同一用户的另一个设备发出的消息,这台设备没有回显
		s.appendConfirmed(msg)
		s.mu.Unlock()
		return
	}

	s.appendConfirmed(msg)
	s.unread++
	s.mu.Unlock()
}

// matchPending 查找与服务端消息对应的本地回显
// client_key 精确匹配优先;老客户端没带键时用内容签名的最老一条兜底
func (s *RoomState) matchPending(msg *model.Message) *DisplayMessage {
	if msg.ClientKey != nil && *msg.ClientKey != "" {
		for _, m := range s.messages {
			if m.Pending && m.ClientKey == *msg.ClientKey {
				return m
			}
		}
	}

	sig := signatureOf(msg.MessageType, msg.Content, msg.ImageURL)
	for _, m := range s.messages {
		if m.Pending && signatureOf(m.MessageType, m.Content, m.ImageURL) == sig {
			return m
		}
	}
	return nil
}

func (s *RoomState) appendConfirmed(msg *model.Message) {
	s.messages = append(s.messages, &DisplayMessage{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		MessageType: msg.MessageType,
		Content:     msg.Content,
		ImageURL:    msg.ImageURL,
		CreatedAt:   msg.CreatedAt,
	})
}

// signatureOf 内容签名,用于没有幂等键时的回显匹配
func signatureOf(messageType string, content, imageURL *string) string {
	c, i := "", ""
	if content != nil {
		c = *content
	}
	if imageURL != nil {
		i = *imageURL
	}
	return fmt.Sprintf("%s|%s|%s", messageType, c, i)
}

// SeedHistory 用历史消息初始化本地状态(不计未读)
func (s *RoomState) SeedHistory(messages []model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range messages {
		msg := &messages[i]
		if s.knownIDs[msg.ID] || msg.IsKnockSignal() {
			continue
		}
		s.knownIDs[msg.ID] = true
		s.appendConfirmed(msg)
	}
}

// Messages 当前渲染列表的快照
func (s *RoomState) Messages() []DisplayMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DisplayMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = *m
	}
	return out
}

// UnreadCount 本地未读数
func (s *RoomState) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// ClearUnread 清零本地未读(配合服务端 mark read 使用)
func (s *RoomState) ClearUnread() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = 0
}

// PendingCount 尚未被服务端确认的回显条数
func (s *RoomState) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, m := range s.messages {
		if m.Pending {
			n++
		}
	}
	return n
}
