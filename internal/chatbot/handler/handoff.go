package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/biz"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/middleware"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
)

// HandoffHandler exposes the human handoff operations.
type HandoffHandler struct {
	pipeline   *biz.Orchestrator
	summarizer *biz.Summarizer
}

// NewHandoffHandler creates a HandoffHandler.
func NewHandoffHandler(pipeline *biz.Orchestrator, summarizer *biz.Summarizer) *HandoffHandler {
	return &HandoffHandler{pipeline: pipeline, summarizer: summarizer}
}

// Trigger handles PUT /v1/chats/:chatId/handoff.
// 摘要在后台生成，立即返回 202。
func (h *HandoffHandler) Trigger(c *gin.Context) {
	chatID := c.Param("chatId")
	if err := h.summarizer.Trigger(c.Request.Context(), h.pipeline.Options(), middleware.UserID(c), chatID); err != nil {
		response.Fail(c, err)
		return
	}
	response.Accepted(c, gin.H{"chatId": chatID, "state": model.HandoffJustTriggered})
}

// Info handles GET /v1/chats/:chatId/handoff.
func (h *HandoffHandler) Info(c *gin.Context) {
	info, err := h.pipeline.Handoff().Info(c.Request.Context(), middleware.UserID(c), c.Param("chatId"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, info)
}

// ForceUp handles POST /v1/admin/chats/:chatId/handoff/up.
// 管理员操作，会话属主由 userId 查询参数指定。
func (h *HandoffHandler) ForceUp(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		userID = middleware.UserID(c)
	}
	chatID := c.Param("chatId")
	if err := h.pipeline.Handoff().ForceUp(c.Request.Context(), userID, chatID); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"chatId": chatID, "state": model.HandoffUp})
}
