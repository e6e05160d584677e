// Package handler 对话服务的 HTTP 与 WebSocket 接口。
package handler

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"
	validation "github.com/go-playground/validator/v10"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/biz"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/validator"
)

// CacheClearer 可清空的检索缓存。
type CacheClearer interface {
	Clear(ctx context.Context) (int, error)
}

// Dependencies 处理器依赖。Cache 为 nil 表示未启用检索缓存。
type Dependencies struct {
	Chats      *biz.ChatService
	Pipeline   *biz.Orchestrator
	Summarizer *biz.Summarizer
	Cache      CacheClearer
	Metrics    *metrics.ChatMetrics
}

// bindJSON 解析并校验请求体，失败时写出错误响应。
func bindJSON(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var verrs validation.ValidationErrors
	if stderrors.As(err, &verrs) {
		msg := validator.Global().ValidateWithLang(req, c.GetHeader("Accept-Language")).Error()
		response.Fail(c, errors.ErrValidationFailed.WithMessage(msg))
		return false
	}
	response.Fail(c, errors.ErrInvalidParam.WithMessage(err.Error()))
	return false
}
