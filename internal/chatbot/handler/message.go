package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/biz"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/model"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/middleware"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
)

// maxQuestionLength 单个问题的最大字符数。
const maxQuestionLength = 8192

// QuestionRequest is the request body for asking a question.
type QuestionRequest struct {
	Question string `json:"question" validate:"required,max=8192"`
}

// AnswerResponse 一轮对话的结果。
type AnswerResponse struct {
	Question *model.Message  `json:"question"`
	Answer   *model.Message  `json:"answer"`
	Sources  []*model.Source `json:"sources"`
	// Label 仅分类直接回复时设置
	Label     biz.Label  `json:"classification,omitempty"`
	TraceData *biz.Trace `json:"traceData,omitempty"`
}

func newAnswerResponse(r *biz.PipelineResult) *AnswerResponse {
	resp := &AnswerResponse{
		Question:  r.Question,
		Answer:    r.Answer,
		Sources:   r.Sources,
		TraceData: r.Trace,
	}
	if resp.Sources == nil {
		resp.Sources = []*model.Source{}
	}
	if sc, ok := r.Outcome.(biz.ShortCircuit); ok {
		resp.Label = sc.Label
	}
	return resp
}

// MessageHandler runs the conversation pipeline.
type MessageHandler struct {
	pipeline     *biz.Orchestrator
	allowOrigins []string
	pongWait     time.Duration
}

// NewMessageHandler creates a MessageHandler. pongWait 为 0 时使用默认的 60s。
func NewMessageHandler(pipeline *biz.Orchestrator, allowOrigins []string, pongWait time.Duration) *MessageHandler {
	if pongWait <= 0 {
		pongWait = defaultPongWait
	}
	return &MessageHandler{pipeline: pipeline, allowOrigins: allowOrigins, pongWait: pongWait}
}

// Ask handles POST /v1/chats/:chatId/messages without streaming.
func (h *MessageHandler) Ask(c *gin.Context) {
	var req QuestionRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.pipeline.RunPipeline(c.Request.Context(), c.Param("chatId"), middleware.UserID(c), req.Question, nil)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, newAnswerResponse(result))
}
