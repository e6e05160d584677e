package middleware

import (
	"github.com/gin-gonic/gin"

	ctxlog "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/logger"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/id"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
)

// maxRequestIDLen 超长的外部请求 ID 直接替换。
const maxRequestIDLen = 128

// RequestID 沿用客户端的 X-Request-ID，缺失时生成 UUID，并写回响应头。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" || len(rid) > maxRequestIDLen {
			rid = id.NewUUID()
		}
		c.Set(response.RequestIDKey, rid)
		c.Header(HeaderXRequestID, rid)
		c.Request = c.Request.WithContext(ctxlog.WithRequestID(c.Request.Context(), rid))
		c.Next()
	}
}
