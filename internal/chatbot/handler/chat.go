package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/biz"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/middleware"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
)

// ChatHandler handles chat and message management requests.
type ChatHandler struct {
	svc *biz.ChatService
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(svc *biz.ChatService) *ChatHandler {
	return &ChatHandler{svc: svc}
}

// ChatRequest is the request body for creating or renaming a chat.
type ChatRequest struct {
	Title string `json:"title" validate:"max=255"`
}

// FeedbackRequest is the request body for rating an ai message.
type FeedbackRequest struct {
	Thumb    string `json:"thumb" validate:"required,thumb"`
	Feedback string `json:"feedback" validate:"max=4096"`
}

// Create handles POST /v1/chats.
func (h *ChatHandler) Create(c *gin.Context) {
	var req ChatRequest
	if !bindJSON(c, &req) {
		return
	}
	chat, err := h.svc.Create(c.Request.Context(), middleware.UserID(c), req.Title)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, chat)
}

// List handles GET /v1/chats.
func (h *ChatHandler) List(c *gin.Context) {
	chats, err := h.svc.List(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"chats": chats})
}

// Update handles PUT /v1/chats/:chatId.
func (h *ChatHandler) Update(c *gin.Context) {
	var req ChatRequest
	if !bindJSON(c, &req) {
		return
	}
	chat, err := h.svc.Rename(c.Request.Context(), middleware.UserID(c), c.Param("chatId"), req.Title)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, chat)
}

// Delete handles DELETE /v1/chats/:chatId.
func (h *ChatHandler) Delete(c *gin.Context) {
	chatID := c.Param("chatId")
	if err := h.svc.Delete(c.Request.Context(), middleware.UserID(c), chatID); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"chatId": chatID})
}

// Messages handles GET /v1/chats/:chatId/messages.
func (h *ChatHandler) Messages(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			response.Fail(c, errors.ErrInvalidParam.WithMessagef("invalid limit %q", s))
			return
		}
		limit = n
	}
	page, err := h.svc.Messages(c.Request.Context(), middleware.UserID(c), c.Param("chatId"), c.Query("nextToken"), limit)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, page)
}

// Sources handles GET /v1/chats/:chatId/messages/:messageId/sources.
func (h *ChatHandler) Sources(c *gin.Context) {
	sources, err := h.svc.Sources(c.Request.Context(), middleware.UserID(c), c.Param("chatId"), c.Param("messageId"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"sources": sources})
}

// DeleteMessage handles DELETE /v1/chats/:chatId/messages/:messageId.
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	chatID, messageID := c.Param("chatId"), c.Param("messageId")
	if err := h.svc.DeleteMessage(c.Request.Context(), middleware.UserID(c), chatID, messageID); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"chatId": chatID, "messageId": messageID})
}

// Feedback handles PUT /v1/chats/:chatId/messages/:messageId/feedback.
func (h *ChatHandler) Feedback(c *gin.Context) {
	var req FeedbackRequest
	if !bindJSON(c, &req) {
		return
	}
	chatID, messageID := c.Param("chatId"), c.Param("messageId")
	if err := h.svc.Feedback(c.Request.Context(), middleware.UserID(c), chatID, messageID, req.Thumb, req.Feedback); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, gin.H{"chatId": chatID, "messageId": messageID})
}

// Cost handles GET /v1/chats/:chatId/cost.
func (h *ChatHandler) Cost(c *gin.Context) {
	cost, err := h.svc.Cost(c.Request.Context(), middleware.UserID(c), c.Param("chatId"))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, cost)
}
