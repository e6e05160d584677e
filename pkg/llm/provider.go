// Package llm 统一的模型网关抽象层。
//
// Gateway 负责文本生成（同步与流式），EmbeddingProvider 负责向量化，
// Reranker 为可选能力，由支持重排序的供应商实现。
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"

	llmopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/llm"
)

// InferenceConfig 推理参数。
type InferenceConfig struct {
	MaxTokens     int      `json:"maxTokens"`
	Temperature   float64  `json:"temperature"`
	TopP          *float64 `json:"topP,omitempty"`
	StopSequences []string `json:"stopSequences,omitempty"`
}

// Request 一次单轮生成请求。
type Request struct {
	ModelID      string
	Prompt       string
	SystemPrompt string
	Inference    InferenceConfig
}

// StopReason 模型停止生成的原因。
type StopReason string

const (
	StopEndTurn             StopReason = "end_turn"
	StopMaxTokens           StopReason = "max_tokens"
	StopSequence            StopReason = "stop_sequence"
	StopContentFiltered     StopReason = "content_filtered"
	StopGuardrailIntervened StopReason = "guardrail_intervened"
	StopToolUse             StopReason = "tool_use"
)

// Accepted reports whether the output ended normally and can be used as an answer.
func (s StopReason) Accepted() bool {
	switch s {
	case StopEndTurn, StopMaxTokens, StopSequence:
		return true
	}
	return false
}

// Response 生成结果。
type Response struct {
	ModelID      string
	Text         string
	StopReason   StopReason
	InputTokens  int
	OutputTokens int
}

// ChunkFunc 接收流式增量文本，返回错误时中止流。
type ChunkFunc func(chunk string) error

// Gateway 文本生成网关。
type Gateway interface {
	// Generate 同步生成。
	Generate(ctx context.Context, req *Request) (*Response, error)

	// GenerateStream 流式生成，按到达顺序回调 onChunk，返回累积的完整结果。
	GenerateStream(ctx context.Context, req *Request, onChunk ChunkFunc) (*Response, error)

	Name() string
}

// EmbeddingProvider 向量化接口。
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// RerankRequest 重排序请求。
type RerankRequest struct {
	ModelID         string
	Query           string
	Texts           []string
	NumberOfResults int
	// AdditionalFields 透传给模型的额外参数
	AdditionalFields map[string]any
}

// RerankResult 重排序后的一个位置，Index 指向 RerankRequest.Texts。
type RerankResult struct {
	Index int
	Score float64
}

// Reranker 重排序接口。
type Reranker interface {
	Rerank(ctx context.Context, req *RerankRequest) ([]RerankResult, error)
}

// Provider 同时提供生成与向量化的完整供应商。
type Provider interface {
	Gateway
	EmbeddingProvider
}

// Factory 供应商工厂。
type Factory func(ctx context.Context, opts *llmopts.Options) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// RegisterProvider 注册供应商工厂，通常在供应商包的 init 中调用。
func RegisterProvider(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// NewProvider 按 opts.Provider 创建供应商实例。
func NewProvider(ctx context.Context, opts *llmopts.Options) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[opts.Provider]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown llm provider: %s (registered: %v)", opts.Provider, ListProviders())
	}
	return factory(ctx, opts)
}

// ListProviders returns the registered provider names, sorted.
func ListProviders() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
