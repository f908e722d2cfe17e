package service

import (
	"testing"

	"pawmate_message/model"
	"pawmate_message/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newKnockRoom 创建一个处于敲门初始状态的房间(1 敲 2)
func newKnockRoom(t *testing.T, env *testEnv) uuid.UUID {
	t.Helper()
	room, _, err := env.roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)
	return room.ID
}

// TestGateSend_ReceiverLocked 测试接收方未应答前被锁定
//
// 测试目标：
// - receiver_pending 状态的发送被拒绝,reason=locked
// - 被拒绝的消息不落库,无任何副作用
// - 发起方不受影响,可以正常发送
func TestGateSend_ReceiverLocked(t *testing.T) {
	env := newTestEnv(t)
	roomID := newKnockRoom(t, env)

	_, err := env.sendText(t, roomID, 2, "let me in")
	require.Error(t, err)
	appErr := utils.AsAppError(err)
	assert.Equal(t, utils.CodeGateViolation, appErr.Code)
	assert.Equal(t, utils.GateReasonLocked, appErr.Reason)

	assert.Equal(t, int64(0), env.messageCount(t, roomID), "被闸门拒绝的消息不应落库")

	// 发起方不受锁定影响
	_, err = env.sendText(t, roomID, 1, "hello")
	require.NoError(t, err)
	assert.Equal(t, int64(1), env.messageCount(t, roomID))
}

// TestCountSend_PromotionAtThreshold 测试第 3 条消息触发晋升
//
// 测试目标：
// - 前 2 条消息只累计计数,状态不变
// - 第 3 条消息把发起方晋升为 friend_pending
// - 晋升之后的发送不再累计,也不会重复触发晋升
func TestCountSend_PromotionAtThreshold(t *testing.T) {
	env := newTestEnv(t)
	roomID := newKnockRoom(t, env)

	for i := 0; i < 2; i++ {
		_, err := env.sendText(t, roomID, 1, "trial message")
		require.NoError(t, err)
	}
	p := env.knockStatusOf(t, roomID, 1)
	require.NotNil(t, p.KnockStatus)
	assert.Equal(t, model.KnockStatusInitiatorTrial, *p.KnockStatus)
	assert.Equal(t, 2, p.KnockMessageCount)

	// 第 3 条触发晋升
	_, err := env.sendText(t, roomID, 1, "third message")
	require.NoError(t, err)
	p = env.knockStatusOf(t, roomID, 1)
	require.NotNil(t, p.KnockStatus)
	assert.Equal(t, model.KnockStatusFriendPending, *p.KnockStatus)
	assert.Equal(t, 3, p.KnockMessageCount)

	// 第 4 条不再累计,状态保持 friend_pending
	_, err = env.sendText(t, roomID, 1, "fourth message")
	require.NoError(t, err)
	p = env.knockStatusOf(t, roomID, 1)
	require.NotNil(t, p.KnockStatus)
	assert.Equal(t, model.KnockStatusFriendPending, *p.KnockStatus)
	assert.Equal(t, 3, p.KnockMessageCount, "晋升后计数不再变化")
}

// TestAcceptKnock 测试接收方接受敲门后进入试聊
func TestAcceptKnock(t *testing.T) {
	env := newTestEnv(t)
	roomID := newKnockRoom(t, env)

	require.NoError(t, env.knockSvc.AcceptKnock(roomID, 2))

	p := env.knockStatusOf(t, roomID, 2)
	require.NotNil(t, p.KnockStatus)
	assert.Equal(t, model.KnockStatusReceiverTrial, *p.KnockStatus)

	// 解锁后可以发送,且发言计入自己的晋升计数
	_, err := env.sendText(t, roomID, 2, "hi there")
	require.NoError(t, err)
	p = env.knockStatusOf(t, roomID, 2)
	assert.Equal(t, 1, p.KnockMessageCount)

	// 重复 accept 落空
	err = env.knockSvc.AcceptKnock(roomID, 2)
	require.Error(t, err)
	assert.Equal(t, utils.GateReasonNotPending, utils.AsAppError(err).Reason)
}

// TestAcceptKnock_WrongSide 测试发起方不能 accept 自己的敲门
func TestAcceptKnock_WrongSide(t *testing.T) {
	env := newTestEnv(t)
	roomID := newKnockRoom(t, env)

	err := env.knockSvc.AcceptKnock(roomID, 1)
	require.Error(t, err)
	assert.Equal(t, utils.GateReasonNotPending, utils.AsAppError(err).Reason)
}

// TestRejectKnock 测试拒绝敲门后的封禁语义
//
// 测试目标：
// - 接收方进入 rejected 终态
// - 发起方被标记 is_blocked,后续发送被拒,reason=blocked
// - 房间保留,历史消息可见
func TestRejectKnock(t *testing.T) {
	env := newTestEnv(t)
	roomID := newKnockRoom(t, env)

	_, err := env.sendText(t, roomID, 1, "hello?")
	require.NoError(t, err)

	require.NoError(t, env.knockSvc.RejectKnock(roomID, 2))

	receiver := env.knockStatusOf(t, roomID, 2)
	require.NotNil(t, receiver.KnockStatus)
	assert.Equal(t, model.KnockStatusRejected, *receiver.KnockStatus)

	initiator := env.knockStatusOf(t, roomID, 1)
	assert.True(t, initiator.IsBlocked)

	_, err = env.sendText(t, roomID, 1, "please answer")
	require.Error(t, err)
	assert.Equal(t, utils.GateReasonBlocked, utils.AsAppError(err).Reason)

	// 历史仍可读
	history, err := env.msgSvc.GetHistory(roomID, 1, 50)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

// TestConfirmFriend_FullHandshake 测试双方确认后的终态迁移
//
// 测试目标：
// - 第一方 confirm 后插入 FRIEND_CONFIRMED_BY_OTHER 系统消息,另一方状态不变
// - 双方都 confirm 后:两行状态清空、计数归零
// - FRIENDSHIP_ESTABLISHED 系统消息恰好一条,sender_id=0
// - 双向关注关系写入
// - 双方各有一条 friendship 通知
func TestConfirmFriend_FullHandshake(t *testing.T) {
	env := newTestEnv(t)
	publisher := &capturingPublisher{}
	env.knockSvc.SetRoomPublisher(publisher)
	roomID := newKnockRoom(t, env)

	// 双方都走到 friend_pending
	require.NoError(t, env.knockSvc.AcceptKnock(roomID, 2))
	for i := 0; i < 3; i++ {
		_, err := env.sendText(t, roomID, 1, "from initiator")
		require.NoError(t, err)
		_, err = env.sendText(t, roomID, 2, "from receiver")
		require.NoError(t, err)
	}
	for _, uid := range []int64{1, 2} {
		p := env.knockStatusOf(t, roomID, uid)
		require.NotNil(t, p.KnockStatus)
		require.Equal(t, model.KnockStatusFriendPending, *p.KnockStatus, "user %d", uid)
	}

	// 第一方确认
	require.NoError(t, env.knockSvc.ConfirmFriend(roomID, 1))
	p1 := env.knockStatusOf(t, roomID, 1)
	require.NotNil(t, p1.KnockStatus)
	assert.Equal(t, model.KnockStatusFriendConfirmed, *p1.KnockStatus)
	p2 := env.knockStatusOf(t, roomID, 2)
	require.NotNil(t, p2.KnockStatus)
	assert.Equal(t, model.KnockStatusFriendPending, *p2.KnockStatus, "对方状态不受影响")

	confirmed := env.systemMessages(t, roomID, model.SystemFriendConfirmedByOther)
	require.Len(t, confirmed, 1)
	assert.Equal(t, int64(1), confirmed[0].SenderID, "确认消息由确认方署名")

	// 第二方确认,触发终态迁移
	require.NoError(t, env.knockSvc.ConfirmFriend(roomID, 2))
	p1 = env.knockStatusOf(t, roomID, 1)
	assert.Nil(t, p1.KnockStatus, "终态后双方都是好友")
	assert.Equal(t, 0, p1.KnockMessageCount)
	p2 = env.knockStatusOf(t, roomID, 2)
	assert.Nil(t, p2.KnockStatus)
	assert.Equal(t, 0, p2.KnockMessageCount)

	established := env.systemMessages(t, roomID, model.SystemFriendshipEstablished)
	require.Len(t, established, 1, "FRIENDSHIP_ESTABLISHED 恰好一条")
	assert.Equal(t, model.SystemSenderID, established[0].SenderID)

	// 双向关注已建立
	mutual, err := env.relSvc.IsMutual(1, 2)
	require.NoError(t, err)
	assert.True(t, mutual)

	// 双方各一条 friendship 通知
	for _, uid := range []int64{1, 2} {
		notifs, err := env.notifSvc.GetNotifications(uid, 10, 0)
		require.NoError(t, err)
		require.Len(t, notifs, 1, "user %d", uid)
		assert.Equal(t, model.NotificationTypeFriendship, notifs[0].NotificationType)
	}

	// Hub 上推送了三条系统消息(两次确认 + 一次建立)
	assert.Len(t, publisher.messages, 3)
}

// TestConfirmFriend_Reentry 测试重复 confirm 不会产生第二条 FRIENDSHIP_ESTABLISHED
func TestConfirmFriend_Reentry(t *testing.T) {
	env := newTestEnv(t)
	roomID := newKnockRoom(t, env)

	require.NoError(t, env.knockSvc.AcceptKnock(roomID, 2))
	for i := 0; i < 3; i++ {
		_, err := env.sendText(t, roomID, 1, "msg")
		require.NoError(t, err)
		_, err = env.sendText(t, roomID, 2, "msg")
		require.NoError(t, err)
	}
	require.NoError(t, env.knockSvc.ConfirmFriend(roomID, 1))
	require.NoError(t, env.knockSvc.ConfirmFriend(roomID, 2))

	// 终态后再 confirm 落空
	err := env.knockSvc.ConfirmFriend(roomID, 1)
	require.Error(t, err)
	assert.Equal(t, utils.GateReasonNotConfirmable, utils.AsAppError(err).Reason)

	established := env.systemMessages(t, roomID, model.SystemFriendshipEstablished)
	assert.Len(t, established, 1)
}

// TestConfirmFriend_NotPromoted 测试未到晋升的参与者不能 confirm
func TestConfirmFriend_NotPromoted(t *testing.T) {
	env := newTestEnv(t)
	roomID := newKnockRoom(t, env)

	err := env.knockSvc.ConfirmFriend(roomID, 1)
	require.Error(t, err)
	assert.Equal(t, utils.GateReasonNotConfirmable, utils.AsAppError(err).Reason)
}

// TestGetKnockState_NotParticipant 测试非参与者查询返回 not_found
func TestGetKnockState_NotParticipant(t *testing.T) {
	env := newTestEnv(t)
	roomID := newKnockRoom(t, env)

	_, err := env.knockSvc.GetKnockState(roomID, 999)
	require.Error(t, err)
	assert.True(t, utils.IsAppCode(err, utils.CodeNotFound))
}

// TestPromotionThreshold_Configurable 测试晋升阈值可配置
func TestPromotionThreshold_Configurable(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sysSvc.UpdateSetting(model.SettingKnockPromotionThreshold, "1"))
	roomID := newKnockRoom(t, env)

	_, err := env.sendText(t, roomID, 1, "single message promotes")
	require.NoError(t, err)

	p := env.knockStatusOf(t, roomID, 1)
	require.NotNil(t, p.KnockStatus)
	assert.Equal(t, model.KnockStatusFriendPending, *p.KnockStatus)
}
