// Package llm 模型供应商配置项。
package llm

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

const (
	ProviderBedrock = "bedrock"
	ProviderOpenAI  = "openai"
	ProviderOllama  = "ollama"
)

// Options 模型网关配置。
type Options struct {
	// Provider 供应商: bedrock | openai | ollama
	Provider string `json:"provider" mapstructure:"provider"`

	// Timeout 非流式请求超时
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// MaxRetries 失败重试次数，流式请求仅在收到首个分片前重试
	MaxRetries int `json:"max-retries" mapstructure:"max-retries"`

	// CircuitBreakerThreshold 连续失败多少次后熔断
	CircuitBreakerThreshold int `json:"circuit-breaker-threshold" mapstructure:"circuit-breaker-threshold"`

	Bedrock *BedrockOptions `json:"bedrock" mapstructure:"bedrock"`
	OpenAI  *OpenAIOptions  `json:"openai" mapstructure:"openai"`
	Ollama  *OllamaOptions  `json:"ollama" mapstructure:"ollama"`
}

// BedrockOptions AWS Bedrock 配置，凭证走 AWS 默认凭证链。
type BedrockOptions struct {
	Region string `json:"region" mapstructure:"region"`
	// GuardrailID / GuardrailVersion 为空时不启用护栏
	GuardrailID      string `json:"guardrail-id" mapstructure:"guardrail-id"`
	GuardrailVersion string `json:"guardrail-version" mapstructure:"guardrail-version"`
	// RerankModelARN bedrock-agent-runtime Rerank 使用的模型 ARN
	RerankModelARN string `json:"rerank-model-arn" mapstructure:"rerank-model-arn"`
	EmbeddingModel string `json:"embedding-model" mapstructure:"embedding-model"`
}

// OpenAIOptions OpenAI 兼容接口配置。
type OpenAIOptions struct {
	BaseURL        string `json:"base-url" mapstructure:"base-url"`
	APIKey         string `json:"-" mapstructure:"api-key"`
	Organization   string `json:"organization" mapstructure:"organization"`
	EmbeddingModel string `json:"embedding-model" mapstructure:"embedding-model"`
}

// OllamaOptions 本地 Ollama 服务配置。
type OllamaOptions struct {
	BaseURL        string `json:"base-url" mapstructure:"base-url"`
	EmbeddingModel string `json:"embedding-model" mapstructure:"embedding-model"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		Provider:                ProviderBedrock,
		Timeout:                 120 * time.Second,
		MaxRetries:              2,
		CircuitBreakerThreshold: 5,
		Bedrock: &BedrockOptions{
			Region:         "us-west-2",
			EmbeddingModel: "amazon.titan-embed-text-v2:0",
		},
		OpenAI: &OpenAIOptions{
			BaseURL:        "https://api.openai.com/v1",
			EmbeddingModel: "text-embedding-3-small",
		},
		Ollama: &OllamaOptions{
			BaseURL:        "http://localhost:11434",
			EmbeddingModel: "nomic-embed-text",
		},
	}
}

// Complete API Key 为空时从 OPENAI_API_KEY 环境变量读取。
func (o *Options) Complete() error {
	if o.OpenAI != nil && o.OpenAI.APIKey == "" {
		o.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return nil
}

// AddFlags adds flags for model provider options.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "llm."
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "Model provider (bedrock|openai|ollama).")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Timeout of a non-streaming model call.")
	fs.IntVar(&o.MaxRetries, p+"max-retries", o.MaxRetries, "Retries of a failed model call.")
	fs.IntVar(&o.CircuitBreakerThreshold, p+"circuit-breaker-threshold", o.CircuitBreakerThreshold, "Consecutive failures before the breaker opens.")
	fs.StringVar(&o.Bedrock.Region, p+"bedrock.region", o.Bedrock.Region, "AWS region of Bedrock.")
	fs.StringVar(&o.Bedrock.GuardrailID, p+"bedrock.guardrail-id", o.Bedrock.GuardrailID, "Bedrock guardrail identifier.")
	fs.StringVar(&o.Bedrock.GuardrailVersion, p+"bedrock.guardrail-version", o.Bedrock.GuardrailVersion, "Bedrock guardrail version.")
	fs.StringVar(&o.Bedrock.RerankModelARN, p+"bedrock.rerank-model-arn", o.Bedrock.RerankModelARN, "Bedrock rerank model ARN.")
	fs.StringVar(&o.Bedrock.EmbeddingModel, p+"bedrock.embedding-model", o.Bedrock.EmbeddingModel, "Bedrock embedding model id.")
	fs.StringVar(&o.OpenAI.BaseURL, p+"openai.base-url", o.OpenAI.BaseURL, "OpenAI-compatible API base URL.")
	fs.StringVar(&o.OpenAI.Organization, p+"openai.organization", o.OpenAI.Organization, "OpenAI organization.")
	fs.StringVar(&o.OpenAI.EmbeddingModel, p+"openai.embedding-model", o.OpenAI.EmbeddingModel, "OpenAI embedding model.")
	fs.StringVar(&o.Ollama.BaseURL, p+"ollama.base-url", o.Ollama.BaseURL, "Ollama server URL.")
	fs.StringVar(&o.Ollama.EmbeddingModel, p+"ollama.embedding-model", o.Ollama.EmbeddingModel, "Ollama embedding model.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	switch o.Provider {
	case ProviderBedrock:
		if o.Bedrock == nil || o.Bedrock.Region == "" {
			errs = append(errs, fmt.Errorf("llm.bedrock.region is required"))
		} else if (o.Bedrock.GuardrailID == "") != (o.Bedrock.GuardrailVersion == "") {
			errs = append(errs, fmt.Errorf("llm.bedrock.guardrail-id and guardrail-version must be set together"))
		}
	case ProviderOpenAI:
		if o.OpenAI == nil || o.OpenAI.APIKey == "" {
			errs = append(errs, fmt.Errorf("llm.openai.api-key is required (OPENAI_API_KEY)"))
		}
	case ProviderOllama:
		if o.Ollama == nil || o.Ollama.BaseURL == "" {
			errs = append(errs, fmt.Errorf("llm.ollama.base-url is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported llm provider %q", o.Provider))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("llm.timeout must be positive"))
	}
	if o.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("llm.max-retries cannot be negative"))
	}
	return errs
}
