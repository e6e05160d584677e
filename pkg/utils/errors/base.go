package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// OK 成功。
var OK = Register(New(0, http.StatusOK, codes.OK, "Success", "成功"))

// 请求错误 (类别 01)
var (
	ErrBadRequest       = Register(New(MakeCode(ServiceCommon, CategoryRequest, 0), http.StatusBadRequest, codes.InvalidArgument, "Bad request", "请求错误"))
	ErrInvalidParam     = Register(New(MakeCode(ServiceCommon, CategoryRequest, 1), http.StatusBadRequest, codes.InvalidArgument, "Invalid parameter", "参数无效"))
	ErrMissingParam     = Register(New(MakeCode(ServiceCommon, CategoryRequest, 2), http.StatusBadRequest, codes.InvalidArgument, "Missing required parameter", "缺少必需参数"))
	ErrValidationFailed = Register(New(MakeCode(ServiceCommon, CategoryRequest, 4), http.StatusBadRequest, codes.InvalidArgument, "Validation failed", "验证失败"))
)

// 认证与授权 (类别 02/03)
var (
	ErrUnauthorized = Register(New(MakeCode(ServiceCommon, CategoryAuth, 0), http.StatusUnauthorized, codes.Unauthenticated, "Unauthorized", "未授权"))
	ErrInvalidToken = Register(New(MakeCode(ServiceCommon, CategoryAuth, 1), http.StatusUnauthorized, codes.Unauthenticated, "Invalid token", "令牌无效"))
	ErrTokenExpired = Register(New(MakeCode(ServiceCommon, CategoryAuth, 2), http.StatusUnauthorized, codes.Unauthenticated, "Token expired", "令牌已过期"))
	ErrForbidden    = Register(New(MakeCode(ServiceCommon, CategoryPermission, 0), http.StatusForbidden, codes.PermissionDenied, "Forbidden", "禁止访问"))
)

// 资源与冲突 (类别 04/05/06)
var (
	ErrNotFound        = Register(New(MakeCode(ServiceCommon, CategoryResource, 0), http.StatusNotFound, codes.NotFound, "Resource not found", "资源不存在"))
	ErrConflict        = Register(New(MakeCode(ServiceCommon, CategoryConflict, 0), http.StatusConflict, codes.AlreadyExists, "Resource conflict", "资源冲突"))
	ErrTooManyRequests = Register(New(MakeCode(ServiceCommon, CategoryRateLimit, 0), http.StatusTooManyRequests, codes.ResourceExhausted, "Too many requests", "请求过于频繁"))
)

// 服务端错误 (类别 07-12)
var (
	ErrInternal           = Register(New(MakeCode(ServiceCommon, CategoryInternal, 0), http.StatusInternalServerError, codes.Internal, "Internal server error", "服务器内部错误"))
	ErrDatabase           = Register(New(MakeCode(ServiceCommon, CategoryDatabase, 0), http.StatusInternalServerError, codes.Internal, "Database error", "数据库错误"))
	ErrCache              = Register(New(MakeCode(ServiceCommon, CategoryCache, 0), http.StatusInternalServerError, codes.Internal, "Cache error", "缓存错误"))
	ErrServiceUnavailable = Register(New(MakeCode(ServiceCommon, CategoryNetwork, 0), http.StatusServiceUnavailable, codes.Unavailable, "Service unavailable", "服务不可用"))
	ErrTimeout            = Register(New(MakeCode(ServiceCommon, CategoryTimeout, 0), http.StatusGatewayTimeout, codes.DeadlineExceeded, "Request timeout", "请求超时"))
	ErrConfig             = Register(New(MakeCode(ServiceCommon, CategoryConfig, 0), http.StatusInternalServerError, codes.Internal, "Configuration error", "配置错误"))
)
