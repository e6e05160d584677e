// Package router 注册对话服务的中间件与路由。
package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/handler"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/middleware"
	jwtopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/jwt"
)

const tracerName = "chatbot/http"

// Config 路由配置。
type Config struct {
	// ServiceName 出现在 /version 中
	ServiceName  string
	JWT          *jwtopts.Options
	AllowOrigins []string
	Health       *middleware.HealthManager
	// HideVersionDetails 为 true 时 /version 只返回版本号
	HideVersionDetails bool
	// StreamPongWait WebSocket 等待客户端消息或 pong 的时长，0 使用默认值
	StreamPongWait time.Duration
}

// Register installs the middleware chain and every route on engine.
func Register(engine *gin.Engine, cfg Config, deps handler.Dependencies) {
	logger.Info("Registering chatbot routes...")

	engine.Use(
		middleware.Recovery(),
		middleware.RequestID(),
		middleware.Tracing(tracerName),
		middleware.Logger("/healthz", "/metrics"),
	)
	if len(cfg.AllowOrigins) > 0 {
		engine.Use(middleware.CORS(cfg.AllowOrigins))
	}

	chatHandler := handler.NewChatHandler(deps.Chats)
	messageHandler := handler.NewMessageHandler(deps.Pipeline, cfg.AllowOrigins, cfg.StreamPongWait)
	handoffHandler := handler.NewHandoffHandler(deps.Pipeline, deps.Summarizer)
	adminHandler := handler.NewAdminHandler(deps.Cache, deps.Metrics)

	// Ops Routes
	if cfg.Health != nil {
		engine.GET("/healthz", cfg.Health.Handler())
	}
	engine.GET("/metrics", adminHandler.Metrics)
	engine.GET("/version", middleware.Version(cfg.ServiceName, cfg.HideVersionDetails))

	v1 := engine.Group("/v1")
	v1.Use(middleware.Auth(cfg.JWT))
	{
		chats := v1.Group("/chats")
		{
			chats.POST("", chatHandler.Create)
			chats.GET("", chatHandler.List)
			chats.PUT("/:chatId", chatHandler.Update)
			chats.DELETE("/:chatId", chatHandler.Delete)
			chats.GET("/:chatId/cost", chatHandler.Cost)

			chats.GET("/:chatId/messages", chatHandler.Messages)
			chats.POST("/:chatId/messages", messageHandler.Ask)
			chats.DELETE("/:chatId/messages/:messageId", chatHandler.DeleteMessage)
			chats.GET("/:chatId/messages/:messageId/sources", chatHandler.Sources)
			chats.PUT("/:chatId/messages/:messageId/feedback", chatHandler.Feedback)

			chats.GET("/:chatId/stream", messageHandler.Stream)

			chats.PUT("/:chatId/handoff", handoffHandler.Trigger)
			chats.GET("/:chatId/handoff", handoffHandler.Info)
		}

		// Admin Routes
		admin := v1.Group("/admin")
		admin.Use(middleware.RequireAdmin())
		{
			admin.POST("/chats/:chatId/handoff/up", handoffHandler.ForceUp)
			admin.DELETE("/cache/retrieval", adminHandler.ClearCache)
			admin.GET("/stats", adminHandler.Stats)
		}
	}

	logger.Info("HTTP routes registered")
}
