package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
)

// Recovery 捕获 panic，记录堆栈并返回 ErrInternal，不向客户端泄露细节。
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("panic recovered",
					"path", c.Request.URL.Path,
					"request_id", c.GetString(response.RequestIDKey),
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				response.Fail(c, errors.ErrInternal)
			}
		}()
		c.Next()
	}
}
