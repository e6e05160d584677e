package biz

import (
	"fmt"
	"os"
	"strings"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
)

// RenderPrompt 用链路 kwargs 与本次变量渲染 $var / ${var} 模板。
// promptVariables 中列出的变量必须存在且为字符串；模板引用了未提供的变量同样视为配置错误。
// $$ 输出字面量 $。
func RenderPrompt(chain *chatbot.ChainConfig, vars map[string]string) (string, error) {
	values := make(map[string]any, len(chain.Kwargs)+len(vars))
	for k, v := range chain.Kwargs {
		values[k] = v
	}
	for k, v := range vars {
		values[k] = v
	}

	for _, name := range chain.PromptVariables {
		v, ok := values[name]
		if !ok {
			return "", errors.ErrPipelineConfig.WithCause(fmt.Errorf("missing prompt variable %q", name))
		}
		if _, ok := v.(string); !ok {
			return "", errors.ErrPipelineConfig.WithCause(fmt.Errorf("prompt variable %q must be a string", name))
		}
	}

	var missing []string
	out := os.Expand(chain.PromptTemplate, func(name string) string {
		if name == "$" {
			return "$"
		}
		if !isIdentifier(name) {
			return "$" + name
		}
		v, ok := values[name]
		if !ok {
			missing = append(missing, name)
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	})
	if len(missing) > 0 {
		return "", errors.ErrPipelineConfig.WithCause(fmt.Errorf("template references undefined variables: %s", strings.Join(missing, ", ")))
	}
	return out, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
