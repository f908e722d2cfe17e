package main

import (
	"log"
	"time"

	"pawmate_message/config"
	"pawmate_message/handler"
	"pawmate_message/middleware"
	"pawmate_message/service"
	"pawmate_message/utils"

	"github.com/gin-gonic/gin"
)

func init() {
	// 设置时区为 UTC（推荐服务端统一使用 UTC）
	time.Local = time.UTC
}

func main() {
	// 加载配置
	cfg := config.Load()

	// 初始化数据库
	if err := utils.InitDB(cfg.DatabaseURL); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer utils.CloseDB()

	// 初始化 Redis
	if err := utils.InitRedis(cfg.RedisURL, cfg.RedisPassword, cfg.RedisDB); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer utils.CloseRedis()

	// 初始化认证中间件
	middleware.InitAuth(cfg.JWTSecret)

	// 创建系统配置服务（全局单例）
	sysSvc := service.NewSystemSettingsService(utils.GetDB())
	if err := sysSvc.InitDefaultSettings(cfg.KnockPromotionThreshold, cfg.AllowReknockAfterReject); err != nil {
		log.Printf("Warning: Failed to init default system settings: %v", err)
	}

	// 创建服务
	relSvc := service.NewRelationshipService(utils.GetDB())
	notifSvc := service.NewNotificationService(utils.GetDB())
	roomSvc := service.NewRoomService(utils.GetDB(), utils.GetRedis(), relSvc, sysSvc)
	knockSvc := service.NewKnockService(utils.GetDB(), sysSvc, relSvc)
	msgSvc := service.NewMessageService(utils.GetDB(), roomSvc, knockSvc, relSvc)

	// 创建 WebSocket Hub（传入共享的 msgSvc 和 sysSvc）
	hub := handler.NewHub(utils.GetRedis(), msgSvc, sysSvc)

	// 注入依赖（通知 + 房间推送）
	roomSvc.SetNotificationService(notifSvc)
	knockSvc.SetNotificationService(notifSvc)
	knockSvc.SetRoomPublisher(hub)
	msgSvc.SetRoomPublisher(hub)

	// 启动跨 Pod 消息广播订阅
	hub.StartPubSub()
	defer hub.StopPubSub()

	// 创建处理器
	roomHandler := handler.NewRoomHandler(roomSvc, msgSvc)
	knockHandler := handler.NewKnockHandler(knockSvc)
	relHandler := handler.NewRelationshipHandler(relSvc)
	notifHandler := handler.NewNotificationHandler(notifSvc)
	sysHandler := handler.NewSystemSettingsHandler(sysSvc)

	// 创建 Gin 路由
	r := gin.Default()

	// 注册统一错误处理中间件
	r.Use(middleware.ErrorHandlerMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		utils.SuccessResponse(c, gin.H{"status": "ok"})
	})

	// WebSocket 连接（使用 token 认证，不需要 HTTP 中间件）
	r.GET("/ws", handler.HandleWebSocket(hub))

	// HTTP API 路由组（需要认证）
	api := r.Group("/api/v1")
	api.Use(middleware.AuthMiddleware())
	{
		// 房间管理
		api.GET("/rooms", roomHandler.GetRooms)
		api.POST("/rooms/private", roomHandler.CreatePrivateRoom) // 查找或创建私聊房间
		api.GET("/rooms/:id/messages", roomHandler.GetHistory)    // 获取消息历史
		api.POST("/rooms/:id/read", roomHandler.MarkRead)         // 标记已读

		// 敲门（试聊）状态管理
		api.GET("/rooms/:id/knock", knockHandler.GetKnockState)
		api.POST("/rooms/:id/knock/accept", knockHandler.AcceptKnock)
		api.POST("/rooms/:id/knock/reject", knockHandler.RejectKnock)
		api.POST("/rooms/:id/knock/confirm", knockHandler.ConfirmFriend)

		// 用户关系（关注 / 拉黑）
		api.POST("/relationships/follow", relHandler.FollowUser)
		api.POST("/relationships/unfollow", relHandler.UnfollowUser)
		api.POST("/relationships/block", relHandler.BlockUser)
		api.POST("/relationships/unblock", relHandler.UnblockUser)
		api.GET("/relationships/blocked", relHandler.GetBlockedUsers)

		// 通知
		api.GET("/notifications", notifHandler.GetNotifications)
		api.POST("/notifications/read-all", notifHandler.MarkAllAsRead)
	}

	// 管理员 API 路由组（需要认证 + 管理员权限）
	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthMiddleware())
	admin.Use(handler.AdminAuthMiddleware())
	{
		admin.GET("/settings", sysHandler.GetSystemSettings)
		admin.POST("/settings/:key", sysHandler.UpdateSystemSetting)
		admin.POST("/settings/reload", sysHandler.ReloadSystemSettings)
	}

	// 启动服务
	log.Printf("🚀 pawmate_message service starting on port %s", cfg.Port)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
