package service

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"pawmate_message/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testDBSeq int64

// newTestDB 创建内存 SQLite 测试库
// 单连接串行化写入,避免内存库的并发锁问题;TranslateError 打开后
// 唯一键冲突与生产环境一样表现为 gorm.ErrDuplicatedKey
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:svc_test_%d?mode=memory&cache=shared", atomic.AddInt64(&testDBSeq, 1))
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

	return db
}

// testEnv 一套完整装配好的服务(无 Redis,无 WebSocket)
type testEnv struct {
	db       *gorm.DB
	sysSvc   *SystemSettingsService
	relSvc   *RelationshipService
	notifSvc *NotificationService
	roomSvc  *RoomService
	knockSvc *KnockService
	msgSvc   *MessageService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := newTestDB(t)

	sysSvc := NewSystemSettingsService(db)
	require.NoError(t, sysSvc.InitDefaultSettings(3, false))

	relSvc := NewRelationshipService(db)
	notifSvc := NewNotificationService(db)
	roomSvc := NewRoomService(db, nil, relSvc, sysSvc)
	roomSvc.SetNotificationService(notifSvc)
	knockSvc := NewKnockService(db, sysSvc, relSvc)
	knockSvc.SetNotificationService(notifSvc)
	msgSvc := NewMessageService(db, roomSvc, knockSvc, relSvc)

	return &testEnv{
		db:       db,
		sysSvc:   sysSvc,
		relSvc:   relSvc,
		notifSvc: notifSvc,
		roomSvc:  roomSvc,
		knockSvc: knockSvc,
		msgSvc:   msgSvc,
	}
}

// sendText 以指定用户向房间发一条文本消息
func (e *testEnv) sendText(t *testing.T, roomID uuid.UUID, senderID int64, content string) (*model.Message, error) {
	t.Helper()
	return e.msgSvc.SendMessage(senderID, &SendMessageRequest{
		RoomID:      roomID,
		MessageType: model.MessageTypeText,
		Content:     &content,
	})
}

// knockStatusOf 读取参与者当前的敲门状态,nil 表示好友
func (e *testEnv) knockStatusOf(t *testing.T, roomID uuid.UUID, userID int64) *model.Participant {
	t.Helper()
	p, err := e.knockSvc.GetKnockState(roomID, userID)
	require.NoError(t, err)
	return p
}

// messageCount 房间内落库的消息条数
func (e *testEnv) messageCount(t *testing.T, roomID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&model.Message{}).Where("room_id = ?", roomID).Count(&n).Error)
	return n
}

// systemMessages 房间内指定内容的系统消息
func (e *testEnv) systemMessages(t *testing.T, roomID uuid.UUID, content string) []model.Message {
	t.Helper()
	var msgs []model.Message
	require.NoError(t, e.db.
		Where("room_id = ? AND message_type = ? AND content = ?", roomID, model.MessageTypeSystem, content).
		Find(&msgs).Error)
	return msgs
}

// capturingPublisher 记录推送的消息,替代真实的 WebSocket Hub
type capturingPublisher struct {
	messages []*model.Message
}

func (p *capturingPublisher) PublishToRoom(roomID uuid.UUID, message *model.Message) {
	p.messages = append(p.messages, message)
}

func strPtr(s string) *string { return &s }

func timePtr(tm time.Time) *time.Time { return &tm }
