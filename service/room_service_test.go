package service

import (
	"sync"
	"testing"

	"pawmate_message/model"
	"pawmate_message/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFindOrCreatePrivateRoom_PairDedup 测试同一用户对只有一个私聊房间
//
// 测试目标：
// - (A,B) 和 (B,A) 定位到同一个房间
// - 第二次调用返回已有房间,justCreated=false
func TestFindOrCreatePrivateRoom_PairDedup(t *testing.T) {
	env := newTestEnv(t)

	room1, created1, err := env.roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)
	assert.True(t, created1)
	assert.Equal(t, model.RoomKindPrivate, room1.Kind)

	// 反向调用定位到同一个房间
	room2, created2, err := env.roomSvc.FindOrCreatePrivateRoom(2, 1)
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, room1.ID, room2.ID)

	// pair_index 只有一行
	var indexCount int64
	require.NoError(t, env.db.Model(&model.PairIndex{}).Count(&indexCount).Error)
	assert.Equal(t, int64(1), indexCount)
}

// TestFindOrCreatePrivateRoom_Validation 测试非法参数
func TestFindOrCreatePrivateRoom_Validation(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.roomSvc.FindOrCreatePrivateRoom(1, 1)
	assert.True(t, utils.IsAppCode(err, utils.CodeValidation), "自聊应该被拒绝")

	_, _, err = env.roomSvc.FindOrCreatePrivateRoom(0, 2)
	assert.True(t, utils.IsAppCode(err, utils.CodeValidation))
}

// TestFindOrCreatePrivateRoom_KnockSeeding 测试非好友创建房间后的初始状态
//
// 测试目标：
// - 发起方 initiator_trial,接收方 receiver_pending
// - 接收方收到一条敲门通知
func TestFindOrCreatePrivateRoom_KnockSeeding(t *testing.T) {
	env := newTestEnv(t)

	room, _, err := env.roomSvc.FindOrCreatePrivateRoom(10, 20)
	require.NoError(t, err)

	caller := env.knockStatusOf(t, room.ID, 10)
	require.NotNil(t, caller.KnockStatus)
	assert.Equal(t, model.KnockStatusInitiatorTrial, *caller.KnockStatus)
	assert.NotNil(t, caller.KnockInitiatedAt)

	callee := env.knockStatusOf(t, room.ID, 20)
	require.NotNil(t, callee.KnockStatus)
	assert.Equal(t, model.KnockStatusReceiverPending, *callee.KnockStatus)

	// 接收方有敲门通知
	notifs, err := env.notifSvc.GetNotifications(20, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifs, 1)
	assert.Equal(t, model.NotificationTypeKnock, notifs[0].NotificationType)
}

// TestFindOrCreatePrivateRoom_MutualFollowSkipsKnock 测试互相关注的用户直接成为好友
func TestFindOrCreatePrivateRoom_MutualFollowSkipsKnock(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.relSvc.FollowUser(1, 2))
	require.NoError(t, env.relSvc.FollowUser(2, 1))

	room, _, err := env.roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)

	caller := env.knockStatusOf(t, room.ID, 1)
	assert.Nil(t, caller.KnockStatus, "互关用户无敲门状态")
	callee := env.knockStatusOf(t, room.ID, 2)
	assert.Nil(t, callee.KnockStatus)

	// 没有敲门流程,也就没有敲门通知
	notifs, err := env.notifSvc.GetNotifications(2, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, notifs)
}

// TestFindOrCreatePrivateRoom_Concurrent 测试并发创建只产生一个房间
//
// 测试目标：
// - 多个并发 find-or-create 全部成功返回
// - 所有返回的房间 ID 一致,pair_index 唯一键保证只落库一个房间
func TestFindOrCreatePrivateRoom_Concurrent(t *testing.T) {
	env := newTestEnv(t)

	const workers = 8
	var wg sync.WaitGroup
	roomIDs := make([]uuid.UUID, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			// 一半正序一半反序,覆盖两个方向的归一化
			a, b := int64(100), int64(200)
			if idx%2 == 1 {
				a, b = b, a
			}
			room, _, err := env.roomSvc.FindOrCreatePrivateRoom(a, b)
			if err != nil {
				errs[idx] = err
				return
			}
			roomIDs[idx] = room.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i], "worker %d", i)
		assert.Equal(t, roomIDs[0], roomIDs[i], "所有并发请求应返回同一个房间")
	}

	var roomCount int64
	require.NoError(t, env.db.Model(&model.Room{}).Count(&roomCount).Error)
	assert.Equal(t, int64(1), roomCount)
}

// TestFindOrCreatePrivateRoom_RejectedStaysRejected 测试被拒后默认不重开试聊
func TestFindOrCreatePrivateRoom_RejectedStaysRejected(t *testing.T) {
	env := newTestEnv(t)

	room, _, err := env.roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)
	require.NoError(t, env.knockSvc.RejectKnock(room.ID, 2))

	// 再次 find-or-create 返回原房间,状态原样保留
	again, created, err := env.roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, room.ID, again.ID)

	callee := env.knockStatusOf(t, room.ID, 2)
	require.NotNil(t, callee.KnockStatus)
	assert.Equal(t, model.KnockStatusRejected, *callee.KnockStatus)

	caller := env.knockStatusOf(t, room.ID, 1)
	assert.True(t, caller.IsBlocked, "发起方保持被封禁")
}

// TestFindOrCreatePrivateRoom_ReknockAfterReject 测试开启配置后被拒可重新敲门
func TestFindOrCreatePrivateRoom_ReknockAfterReject(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.sysSvc.UpdateSetting(model.SettingAllowReknockAfterReject, "true"))

	room, _, err := env.roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)
	require.NoError(t, env.knockSvc.RejectKnock(room.ID, 2))

	again, _, err := env.roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)
	assert.Equal(t, room.ID, again.ID, "重新敲门复用原房间")

	caller := env.knockStatusOf(t, room.ID, 1)
	require.NotNil(t, caller.KnockStatus)
	assert.Equal(t, model.KnockStatusInitiatorTrial, *caller.KnockStatus)
	assert.False(t, caller.IsBlocked)
	assert.Equal(t, 0, caller.KnockMessageCount, "计数从零重新开始")

	callee := env.knockStatusOf(t, room.ID, 2)
	require.NotNil(t, callee.KnockStatus)
	assert.Equal(t, model.KnockStatusReceiverPending, *callee.KnockStatus)
}

// TestGetRoomsForUser 测试房间列表带敲门状态和未读数
func TestGetRoomsForUser(t *testing.T) {
	env := newTestEnv(t)

	room, _, err := env.roomSvc.FindOrCreatePrivateRoom(1, 2)
	require.NoError(t, err)

	// 发起方发两条消息
	_, err = env.sendText(t, room.ID, 1, "hello")
	require.NoError(t, err)
	_, err = env.sendText(t, room.ID, 1, "anyone there?")
	require.NoError(t, err)

	// 接收方视角:自己的敲门状态 + 两条未读
	items, err := env.roomSvc.GetRoomsForUser(2, 20, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, room.ID, items[0].ID)
	require.NotNil(t, items[0].KnockStatus)
	assert.Equal(t, model.KnockStatusReceiverPending, *items[0].KnockStatus)
	assert.Equal(t, int64(2), items[0].UnreadCount)
	require.NotNil(t, items[0].LastMessageText)
	assert.Equal(t, "anyone there?", *items[0].LastMessageText)

	// 发起方视角:没有未读
	items, err = env.roomSvc.GetRoomsForUser(1, 20, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(0), items[0].UnreadCount)
}
