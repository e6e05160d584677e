package errors

import "google.golang.org/grpc/codes"

// 对话服务错误码: 21xxxxx
var (
	// 资源 (类别 04)
	ErrChatNotFound    = Register(New(MakeCode(ServiceChatbot, CategoryResource, 1), 404, codes.NotFound, "Chat not found", "会话不存在"))
	ErrMessageNotFound = Register(New(MakeCode(ServiceChatbot, CategoryResource, 2), 404, codes.NotFound, "Message not found", "消息不存在"))

	// 冲突 (类别 05)
	ErrConcurrentUpdate = Register(New(MakeCode(ServiceChatbot, CategoryConflict, 1), 409, codes.Aborted, "Concurrent update, please retry", "并发更新冲突，请重试"))

	// 权限 (类别 03)
	ErrHandoffDisabled = Register(New(MakeCode(ServiceChatbot, CategoryPermission, 1), 403, codes.FailedPrecondition, "Human handoff is disabled", "人工转接未启用"))

	// 管道 (类别 07/08/10/12)
	ErrPipelineConfig  = Register(New(MakeCode(ServiceChatbot, CategoryConfig, 1), 500, codes.FailedPrecondition, "Invalid pipeline configuration", "对话管道配置无效"))
	ErrModelInvocation = Register(New(MakeCode(ServiceChatbot, CategoryNetwork, 1), 502, codes.Unavailable, "Model invocation failed", "模型调用失败"))
	ErrRetrievalFailed = Register(New(MakeCode(ServiceChatbot, CategoryNetwork, 2), 502, codes.Unavailable, "Corpus retrieval failed", "语料检索失败"))
	ErrPersistFailed   = Register(New(MakeCode(ServiceChatbot, CategoryDatabase, 1), 500, codes.Internal, "Failed to persist conversation", "会话持久化失败"))
)
