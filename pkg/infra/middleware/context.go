// Package middleware gin 中间件：请求 ID、恢复、访问日志、CORS、追踪、JWT 认证、健康检查与版本。
package middleware

import "github.com/gin-gonic/gin"

// gin 上下文键。
const (
	KeyUserID  = "user_id"
	KeyIsAdmin = "is_admin"
)

// HeaderXRequestID 请求 ID 头。
const HeaderXRequestID = "X-Request-ID"

// HeaderXUserID 关闭认证时携带用户 ID 的请求头。
const HeaderXUserID = "X-User-Id"

// UserID returns the authenticated user id, or "" before Auth ran.
func UserID(c *gin.Context) string {
	return c.GetString(KeyUserID)
}

// IsAdmin reports whether the caller's token carries the admin claim.
func IsAdmin(c *gin.Context) bool {
	return c.GetBool(KeyIsAdmin)
}
