package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/aws/smithy-go"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/httpclient"
)

// Provider 为 llm.Provider 加上重试与熔断。
//
// 流式调用只在首个分片送出前重试，之后的错误包装为 llm.StreamStartedError 直接返回。
// 内容过滤错误既不重试也不计入熔断失败。
type Provider struct {
	inner llm.Provider
	retry *RetryConfig
	cb    *CircuitBreaker
}

var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Reranker = (*Provider)(nil)
)

// Wrap 创建带韧性的供应商。
func Wrap(inner llm.Provider, retry *RetryConfig, cbConfig *CircuitBreakerConfig) *Provider {
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	if retry.Retryable == nil {
		retry.Retryable = IsRetryableError
	}
	return &Provider{
		inner: inner,
		retry: retry,
		cb:    NewCircuitBreaker(inner.Name(), cbConfig),
	}
}

func (p *Provider) do(ctx context.Context, fn func() error) error {
	return RetryWithBackoff(ctx, p.retry, func() error {
		return p.cb.Execute(fn, isContentFilter)
	})
}

// Generate 同步生成（带重试和熔断）。
func (p *Provider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	var resp *llm.Response
	err := p.do(ctx, func() error {
		var err error
		resp, err = p.inner.Generate(ctx, req)
		return err
	})
	return resp, err
}

// GenerateStream 流式生成（首个分片前可重试）。
func (p *Provider) GenerateStream(ctx context.Context, req *llm.Request, onChunk llm.ChunkFunc) (*llm.Response, error) {
	var resp *llm.Response
	started := false
	err := p.do(ctx, func() error {
		var err error
		resp, err = p.inner.GenerateStream(ctx, req, func(chunk string) error {
			started = true
			return onChunk(chunk)
		})
		if err != nil && started {
			var se *llm.StreamStartedError
			if !errors.As(err, &se) {
				err = &llm.StreamStartedError{Err: err}
			}
		}
		return err
	})
	return resp, err
}

// Embed 批量向量化（带重试和熔断）。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := p.do(ctx, func() error {
		var err error
		out, err = p.inner.Embed(ctx, texts)
		return err
	})
	return out, err
}

// EmbedSingle 单条向量化（带重试和熔断）。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := p.do(ctx, func() error {
		var err error
		out, err = p.inner.EmbedSingle(ctx, text)
		return err
	})
	return out, err
}

// Rerank 供应商支持重排序时透传，重排序失败由调用方回退，不重试。
func (p *Provider) Rerank(ctx context.Context, req *llm.RerankRequest) ([]llm.RerankResult, error) {
	r, ok := p.inner.(llm.Reranker)
	if !ok {
		return nil, errors.New(p.inner.Name() + " does not support reranking")
	}
	var out []llm.RerankResult
	err := p.cb.Execute(func() error {
		var err error
		out, err = r.Rerank(ctx, req)
		return err
	}, nil)
	return out, err
}

// SupportsRerank reports whether the wrapped provider implements llm.Reranker.
func (p *Provider) SupportsRerank() bool {
	_, ok := p.inner.(llm.Reranker)
	return ok
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return p.inner.Name()
}

// CircuitBreaker 返回熔断器，用于监控。
func (p *Provider) CircuitBreaker() *CircuitBreaker {
	return p.cb
}

func isContentFilter(err error) bool {
	_, ok := llm.AsContentFilter(err)
	return ok
}

// retryableAWSCodes AWS 侧可重试的错误码。
var retryableAWSCodes = map[string]bool{
	"ThrottlingException":         true,
	"ServiceUnavailableException": true,
	"ModelNotReadyException":      true,
	"InternalServerException":     true,
	"ModelTimeoutException":       true,
	"TooManyRequestsException":    true,
	"RequestTimeout":              true,
}

// IsRetryableError 判断错误是否可重试。
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrCircuitBreakerOpen) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if isContentFilter(err) {
		return false
	}
	var started *llm.StreamStartedError
	if errors.As(err, &started) {
		return false
	}

	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode >= 500:
			return true
		}
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableAWSCodes[apiErr.ErrorCode()]
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
