package middleware

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/kart-io/logger"

	ctxlog "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/logger"
	jwtopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/jwt"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
)

const bearerPrefix = "Bearer "

// Auth 校验 HS256 Bearer 令牌，sub 作为用户 ID，AdminClaim 为 true 时标记管理员。
// DisableAuth 时信任 X-User-Id 请求头。
func Auth(opts *jwtopts.Options) gin.HandlerFunc {
	if opts.DisableAuth {
		logger.Warn("authentication is disabled, trusting the X-User-Id header")
		return func(c *gin.Context) {
			uid := strings.TrimSpace(c.GetHeader(HeaderXUserID))
			if uid == "" {
				response.Fail(c, errors.ErrUnauthorized.WithMessage("missing X-User-Id header"))
				return
			}
			c.Set(KeyUserID, uid)
			c.Request = c.Request.WithContext(ctxlog.WithUserID(c.Request.Context(), uid))
			c.Next()
		}
	}

	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	key := []byte(opts.Key)

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			response.Fail(c, errors.ErrUnauthorized)
			return
		}

		claims, err := verify(parser, key, opts.Issuer, strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			logger.Debugw("token rejected", "request_id", c.GetString(response.RequestIDKey), "error", err.Error())
			response.Fail(c, err)
			return
		}

		sub, _ := claims["sub"].(string)
		if sub == "" {
			response.Fail(c, errors.ErrInvalidToken.WithMessage("token has no subject"))
			return
		}
		admin, _ := claims[opts.AdminClaim].(bool)

		c.Set(KeyUserID, sub)
		c.Set(KeyIsAdmin, admin)
		c.Request = c.Request.WithContext(ctxlog.WithUserID(c.Request.Context(), sub))
		c.Next()
	}
}

func verify(parser *jwt.Parser, key []byte, issuer, raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if stderrors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errors.ErrTokenExpired
		}
		return nil, errors.ErrInvalidToken.WithCause(err)
	}
	if issuer != "" && !claims.VerifyIssuer(issuer, true) {
		return nil, errors.ErrInvalidToken.WithCause(fmt.Errorf("unexpected issuer"))
	}
	return claims, nil
}

// RequireAdmin 在 Auth 之后使用，非管理员返回 403。
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			response.Fail(c, errors.ErrForbidden)
			return
		}
		c.Next()
	}
}
