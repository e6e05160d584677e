// Package jwt JWT 认证配置项。
package jwt

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// 最短 HMAC 密钥长度
const minKeyLength = 32

// Options contains JWT configuration.
type Options struct {
	// DisableAuth 开发模式: 不校验令牌，用户 ID 取自 X-User-Id 请求头。
	DisableAuth bool `json:"disable-auth" mapstructure:"disable-auth"`

	// Key HS256 签名密钥，至少 32 个字符。
	Key    string `json:"-" mapstructure:"key"`
	Issuer string `json:"issuer" mapstructure:"issuer"`

	// AdminClaim 管理员令牌中为 true 的布尔 claim 名称。
	AdminClaim string `json:"admin-claim" mapstructure:"admin-claim"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{AdminClaim: "admin"}
}

// AddFlags adds flags for JWT options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "jwt."
	fs.BoolVar(&o.DisableAuth, p+"disable-auth", o.DisableAuth, "Disable token verification and trust the X-User-Id header (development only).")
	fs.StringVar(&o.Issuer, p+"issuer", o.Issuer, "Expected iss claim; empty accepts any issuer.")
	fs.StringVar(&o.AdminClaim, p+"admin-claim", o.AdminClaim, "Boolean claim that marks administrator tokens.")
}

// Validate validates the JWT options.
func (o *Options) Validate() []error {
	if o == nil || o.DisableAuth {
		return nil
	}
	var errs []error
	if len(o.Key) < minKeyLength {
		errs = append(errs, fmt.Errorf("jwt.key must be at least %d characters", minKeyLength))
	}
	if o.AdminClaim == "" {
		errs = append(errs, fmt.Errorf("jwt.admin-claim cannot be empty"))
	}
	return errs
}
