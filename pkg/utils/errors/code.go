package errors

// 服务代码 (AA)
const (
	// ServiceCommon 所有服务共享的基础错误。
	ServiceCommon = 0

	// ServiceInfraDB 数据库基础设施。
	ServiceInfraDB = 10

	// ServiceInfraCache 缓存基础设施。
	ServiceInfraCache = 11

	// ServiceChatbot 对话机器人业务服务。
	ServiceChatbot = 21

	// ServiceThirdPartyModel 第三方模型服务 (Bedrock / OpenAI)。
	ServiceThirdPartyModel = 94
)

// 类别代码 (BB)
const (
	CategorySuccess    = 0
	CategoryRequest    = 1  // 400
	CategoryAuth       = 2  // 401
	CategoryPermission = 3  // 403
	CategoryResource   = 4  // 404
	CategoryConflict   = 5  // 409
	CategoryRateLimit  = 6  // 429
	CategoryInternal   = 7  // 500
	CategoryDatabase   = 8  // 500
	CategoryCache      = 9  // 500
	CategoryNetwork    = 10 // 502/503
	CategoryTimeout    = 11 // 504
	CategoryConfig     = 12 // 500
)

// MakeCode builds an AABBCCC code.
func MakeCode(service, category, sequence int) int {
	return service*100000 + category*1000 + sequence
}

// ParseCode splits an AABBCCC code.
func ParseCode(code int) (service, category, sequence int) {
	return code / 100000, (code % 100000) / 1000, code % 1000
}

// IsClientError reports whether the code falls into a 4xx category.
func IsClientError(code int) bool {
	_, category, _ := ParseCode(code)
	return category >= CategoryRequest && category <= CategoryRateLimit
}

// IsServerError reports whether the code falls into a 5xx category.
func IsServerError(code int) bool {
	_, category, _ := ParseCode(code)
	return category >= CategoryInternal && category <= CategoryConfig
}
