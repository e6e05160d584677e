package llm

import (
	"errors"
	"fmt"
	"strings"
)

// ContentFilterError 内容安全过滤拦截了请求或响应。
type ContentFilterError struct {
	// Input 为 true 表示输入侧被拦截，否则为输出侧。
	Input   bool
	Message string
}

func (e *ContentFilterError) Error() string {
	side := "output"
	if e.Input {
		side = "input"
	}
	return fmt.Sprintf("content filtered (%s): %s", side, e.Message)
}

// NewContentFilterError 根据供应商返回的消息判断拦截方向：消息提到 input 即视为输入侧。
func NewContentFilterError(message string) *ContentFilterError {
	return &ContentFilterError{
		Input:   strings.Contains(strings.ToLower(message), "input"),
		Message: message,
	}
}

// AsContentFilter unwraps a ContentFilterError from err.
func AsContentFilter(err error) (*ContentFilterError, bool) {
	var cf *ContentFilterError
	if errors.As(err, &cf) {
		return cf, true
	}
	return nil, false
}

// StreamStartedError 流已开始输出后发生的错误，不能重试。
type StreamStartedError struct {
	Err error
}

func (e *StreamStartedError) Error() string { return "stream interrupted: " + e.Err.Error() }

func (e *StreamStartedError) Unwrap() error { return e.Err }
