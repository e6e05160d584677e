// Package options 定义各组件配置项的通用接口与工具函数。
package options

import (
	"strings"

	"github.com/spf13/pflag"
)

// Join 用 "." 连接前缀并补上结尾的 "."，用于生成 "redis.host"、"store.redis.host" 形式的 flag 名。
func Join(prefixes ...string) string {
	joined := strings.Join(prefixes, ".")
	if joined != "" {
		joined += "."
	}
	return joined
}

// IOptions 所有组件配置项实现的接口。
type IOptions interface {
	// Validate 校验配置，返回全部错误。
	Validate() []error

	// AddFlags 将配置项注册到 flagset。
	AddFlags(fs *pflag.FlagSet, prefixes ...string)
}

// redacted 序列化敏感字段时使用的占位符。
const redacted = "[REDACTED]"

// Redact 返回用于日志输出的脱敏值。
func Redact(secret string) string {
	if secret == "" {
		return ""
	}
	return redacted
}
