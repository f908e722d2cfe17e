package handler

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"

	"pawmate_message/model"
	"pawmate_message/service"
	"pawmate_message/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var hubTestDBSeq int64

// newHubTestEnv 内存 SQLite 上装配 Hub 及其依赖(无 Redis)
func newHubTestEnv(t *testing.T) (*Hub, *service.RoomService) {
	t.Helper()

	dsn := fmt.Sprintf("file:hub_test_%d?mode=memory&cache=shared", atomic.AddInt64(&hubTestDBSeq, 1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&model.Room{},
		&model.Participant{},
		&model.PairIndex{},
		&model.Message{},
		&model.UserRelationship{},
		&model.Notification{},
		&model.SystemSettings{},
	))

	sysSvc := service.NewSystemSettingsService(db)
	require.NoError(t, sysSvc.InitDefaultSettings(3, false))
	relSvc := service.NewRelationshipService(db)
	roomSvc := service.NewRoomService(db, nil, relSvc, sysSvc)
	knockSvc := service.NewKnockService(db, sysSvc, relSvc)
	msgSvc := service.NewMessageService(db, roomSvc, knockSvc, relSvc)

	hub := NewHub(nil, msgSvc, sysSvc)
	msgSvc.SetRoomPublisher(hub)
	knockSvc.SetRoomPublisher(hub)

	return hub, roomSvc
}

// newHubClient 不带真实连接的测试客户端(只用 Send channel)
func newHubClient(hub *Hub, userID int64) *Client {
	return &Client{
		ID:     uuid.New(),
		UserID: userID,
		Send:   make(chan []byte, 16),
		Hub:    hub,
		rooms:  make(map[uuid.UUID]bool),
	}
}

// receiveFrame 非阻塞读取一帧
func receiveFrame(t *testing.T, c *Client) (string, json.RawMessage) {
	t.Helper()
	select {
	case payload := <-c.Send:
		var f WSFrame
		require.NoError(t, json.Unmarshal(payload, &f))
		return f.Type, f.Data
	default:
		t.Fatal("expected a frame but channel is empty")
		return "", nil
	}
}

// TestHub_SubscribeRequiresParticipant 测试非参与者不能订阅房间
func TestHub_SubscribeRequiresParticipant(t *testing.T) {
	hub, roomSvc := newHubTestEnv(t)
	room, _, err := roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)

	outsider := newHubClient(hub, 999)
	hub.Register(outsider)
	defer hub.Unregister(outsider)

	err = hub.Subscribe(outsider, room.ID)
	require.Error(t, err)
	assert.True(t, utils.IsAppCode(err, utils.CodeNotFound))
	assert.Equal(t, 0, hub.SubscriberCount(room.ID))
}

// TestHub_SubscribeIdempotent 测试重复订阅是 no-op
func TestHub_SubscribeIdempotent(t *testing.T) {
	hub, roomSvc := newHubTestEnv(t)
	room, _, err := roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)

	client := newHubClient(hub, 1)
	hub.Register(client)
	defer hub.Unregister(client)

	require.NoError(t, hub.Subscribe(client, room.ID))
	require.NoError(t, hub.Subscribe(client, room.ID))
	assert.Equal(t, 1, hub.SubscriberCount(room.ID))
}

// TestHub_PublishToRoom 测试消息只送达该房间的订阅者
//
// 测试目标：
// - 订阅者收到 message.inserted 帧,载荷是完整消息
// - 订阅了其他房间的连接收不到
// - 退订后不再收到
func TestHub_PublishToRoom(t *testing.T) {
	hub, roomSvc := newHubTestEnv(t)
	roomAB, _, err := roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)
	roomCD, _, err := roomSvc.FindOrCreatePrivateRoom(3, 4)
	require.NoError(t, err)

	subscriber := newHubClient(hub, 2)
	bystander := newHubClient(hub, 3)
	hub.Register(subscriber)
	hub.Register(bystander)
	defer hub.Unregister(subscriber)
	defer hub.Unregister(bystander)

	require.NoError(t, hub.Subscribe(subscriber, roomAB.ID))
	require.NoError(t, hub.Subscribe(bystander, roomCD.ID))

	content := "knock knock"
	msg := &model.Message{
		ID:          uuid.New(),
		RoomID:      roomAB.ID,
		SenderID:    1,
		MessageType: model.MessageTypeText,
		Content:     &content,
	}
	hub.PublishToRoom(roomAB.ID, msg)

	frameType, data := receiveFrame(t, subscriber)
	assert.Equal(t, "message.inserted", frameType)
	var received model.Message
	require.NoError(t, json.Unmarshal(data, &received))
	assert.Equal(t, msg.ID, received.ID)
	require.NotNil(t, received.Content)
	assert.Equal(t, content, *received.Content)

	assert.Empty(t, bystander.Send, "其他房间的订阅者不应收到")

	// 退订后不再送达
	hub.Unsubscribe(subscriber, roomAB.ID)
	hub.PublishToRoom(roomAB.ID, msg)
	assert.Empty(t, subscriber.Send)
}

// TestHub_UnregisterTearsDownSubscriptions 测试注销连接清理全部订阅
func TestHub_UnregisterTearsDownSubscriptions(t *testing.T) {
	hub, roomSvc := newHubTestEnv(t)
	room, _, err := roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)

	client := newHubClient(hub, 1)
	hub.Register(client)
	require.NoError(t, hub.Subscribe(client, room.ID))
	require.Equal(t, 1, hub.SubscriberCount(room.ID))

	hub.Unregister(client)
	assert.Equal(t, 0, hub.SubscriberCount(room.ID))

	// Send channel 已关闭
	_, open := <-client.Send
	assert.False(t, open)

	// 重复注销不 panic
	hub.Unregister(client)
}
