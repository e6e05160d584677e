// Package chatbot 对话管道配置：三条链路（分类 / 独立问题改写 / 问答）、
// 检索与重排序、护栏拦截文案、人工转接以及成本表。
package chatbot

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/validator"
)

var _ options.IOptions = (*Options)(nil)

const (
	DefaultBlockedInputMessage  = "Input was filtered by content safety guardrails"
	DefaultBlockedOutputMessage = "Output was filtered by content safety guardrails"
	DefaultLanguage             = "English"
)

// ModelKwargs 推理参数。
type ModelKwargs struct {
	MaxTokens     int      `json:"maxTokens" mapstructure:"max-tokens" validate:"gte=1"`
	Temperature   float64  `json:"temperature" mapstructure:"temperature" validate:"gte=0,lte=2"`
	TopP          *float64 `json:"topP,omitempty" mapstructure:"top-p" validate:"omitempty,gte=0,lte=1"`
	StopSequences []string `json:"stopSequences,omitempty" mapstructure:"stop-sequences"`
}

// ChainConfig 单条链路配置。
type ChainConfig struct {
	ModelID string `json:"modelId" mapstructure:"model-id" validate:"required,modelid"`
	// PromptTemplate 使用 $var / ${var} 占位符
	PromptTemplate string `json:"promptTemplate" mapstructure:"prompt-template" validate:"required"`
	// PromptVariables 渲染前必须提供且为字符串的变量
	PromptVariables []string    `json:"promptVariables" mapstructure:"prompt-variables" validate:"dive,templatevar"`
	SystemPrompt    string      `json:"systemPrompt,omitempty" mapstructure:"system-prompt"`
	ModelKwargs     ModelKwargs `json:"modelKwargs" mapstructure:"model-kwargs"`
	// Kwargs 额外的模板变量
	Kwargs map[string]any `json:"kwargs,omitempty" mapstructure:"kwargs"`
}

// LLMConfig 三条链路，分类与改写可选。
type LLMConfig struct {
	Classification *ChainConfig `json:"classificationChainConfig,omitempty" mapstructure:"classification"`
	Standalone     *ChainConfig `json:"standaloneChainConfig,omitempty" mapstructure:"standalone"`
	QA             *ChainConfig `json:"qaChainConfig" mapstructure:"qa" validate:"required"`
}

// RerankingConfig 重排序配置，为 nil 时不重排。
type RerankingConfig struct {
	ModelID          string         `json:"modelId" mapstructure:"model-id" validate:"required,modelid"`
	NumberOfResults  int            `json:"numberOfResults" mapstructure:"number-of-results" validate:"gte=1"`
	AdditionalFields map[string]any `json:"additionalModelRequestFields,omitempty" mapstructure:"additional-model-request-fields"`
}

// GuardrailConfig 护栏拦截后返回给用户的文案。
type GuardrailConfig struct {
	BlockedInputMessage  string `json:"blockedInputMessage" mapstructure:"blocked-input-message"`
	BlockedOutputMessage string `json:"blockedOutputMessage" mapstructure:"blocked-output-message"`
}

// HandoffPrompts 各转接状态下生成回复使用的提示。
type HandoffPrompts struct {
	HandoffRequested     string `json:"handoffRequested" mapstructure:"handoff-requested" validate:"required"`
	HandoffJustTriggered string `json:"handoffJustTriggered" mapstructure:"handoff-just-triggered" validate:"required"`
	HandoffCompleting    string `json:"handoffCompleting" mapstructure:"handoff-completing" validate:"required"`
}

// HandoffConfig 人工转接配置。
type HandoffConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
	// Threshold 请求人工达到多少次后升级
	Threshold int            `json:"handoffThreshold" mapstructure:"threshold" validate:"gte=1"`
	Prompts   HandoffPrompts `json:"handoffPrompts" mapstructure:"prompts"`
	// Details 摘要需要重点关注的信息
	Details []string `json:"details" mapstructure:"details"`
	// ModelID 摘要模型
	ModelID     string      `json:"modelId" mapstructure:"model-id" validate:"required,modelid"`
	ModelKwargs ModelKwargs `json:"modelKwargs" mapstructure:"model-kwargs"`
}

// ModelCost 每 token 单价。
type ModelCost struct {
	InputCost  float64 `json:"inputCost" mapstructure:"input-cost" validate:"gte=0"`
	OutputCost float64 `json:"outputCost" mapstructure:"output-cost" validate:"gte=0"`
}

// Options 对话管道配置。
type Options struct {
	LLM *LLMConfig `json:"llmConfig" mapstructure:"llm" validate:"required"`

	MaxConversationHistory    int     `json:"maxConversationHistory" mapstructure:"max-conversation-history" validate:"gte=0"`
	MaxCorpusDocuments        int     `json:"maxCorpusDocuments" mapstructure:"max-corpus-documents" validate:"gte=0"`
	CorpusSimilarityThreshold float64 `json:"corpusSimilarityThreshold" mapstructure:"corpus-similarity-threshold" validate:"gte=0,lte=1"`
	EmbeddingModelRefKey      string  `json:"embeddingModelRefKey" mapstructure:"embedding-model-ref-key"`

	Reranking *RerankingConfig `json:"rerankingConfig,omitempty" mapstructure:"reranking" validate:"omitempty"`
	Guardrail GuardrailConfig  `json:"guardrailConfig" mapstructure:"guardrail"`
	Handoff   *HandoffConfig   `json:"handoffConfig,omitempty" mapstructure:"handoff" validate:"omitempty"`

	// Costs 按模型 ID 的单价表
	Costs map[string]ModelCost `json:"costs" mapstructure:"costs" validate:"dive"`

	DefaultLanguage string `json:"defaultLanguage" mapstructure:"default-language"`
	Streaming       bool   `json:"streaming" mapstructure:"streaming"`
}

// NewOptions creates Options with defaults.
func NewOptions() *Options {
	return &Options{
		LLM: &LLMConfig{
			Classification: &ChainConfig{
				ModelID:         "anthropic.claude-3-haiku-20240307-v1:0",
				PromptTemplate:  DefaultClassificationPrompt,
				PromptVariables: []string{"question"},
				ModelKwargs:     defaultModelKwargs(),
			},
			Standalone: &ChainConfig{
				ModelID:         "anthropic.claude-3-haiku-20240307-v1:0",
				PromptTemplate:  DefaultStandalonePrompt,
				PromptVariables: []string{"chat_history", "question"},
				ModelKwargs:     defaultModelKwargs(),
			},
			QA: &ChainConfig{
				ModelID:         "anthropic.claude-3-haiku-20240307-v1:0",
				PromptTemplate:  DefaultQAPrompt,
				PromptVariables: []string{"context", "question"},
				ModelKwargs:     defaultModelKwargs(),
			},
		},
		MaxConversationHistory:    5,
		MaxCorpusDocuments:        5,
		CorpusSimilarityThreshold: 0.25,
		EmbeddingModelRefKey:      "default",
		Guardrail: GuardrailConfig{
			BlockedInputMessage:  DefaultBlockedInputMessage,
			BlockedOutputMessage: DefaultBlockedOutputMessage,
		},
		Handoff:         NewHandoffConfig(),
		Costs:           defaultCosts(),
		DefaultLanguage: DefaultLanguage,
		Streaming:       true,
	}
}

// NewHandoffConfig returns the handoff defaults. Handoff is disabled until configured.
func NewHandoffConfig() *HandoffConfig {
	topP := 0.95
	return &HandoffConfig{
		Threshold: 1,
		Prompts: HandoffPrompts{
			HandoffRequested:     DefaultHandoffRequestedPrompt,
			HandoffJustTriggered: DefaultHandoffJustTriggeredPrompt,
			HandoffCompleting:    DefaultHandoffCompletingPrompt,
		},
		Details: append([]string(nil), DefaultHandoffDetails...),
		ModelID: "anthropic.claude-3-haiku-20240307-v1:0",
		ModelKwargs: ModelKwargs{
			MaxTokens:   1024,
			Temperature: 0.1,
			TopP:        &topP,
		},
	}
}

func defaultModelKwargs() ModelKwargs {
	return ModelKwargs{MaxTokens: 1024}
}

func defaultCosts() map[string]ModelCost {
	return map[string]ModelCost{
		"anthropic.claude-3-haiku-20240307-v1:0":    {InputCost: 0.00000025, OutputCost: 0.00000125},
		"anthropic.claude-3-5-sonnet-20240620-v1:0": {InputCost: 0.000003, OutputCost: 0.000015},
		"gpt-4o-mini": {InputCost: 0.00000015, OutputCost: 0.0000006},
	}
}

// AddFlags adds flags for the scalar pipeline settings. Chains and prompts come from the config file.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "chatbot."
	fs.IntVar(&o.MaxConversationHistory, p+"max-conversation-history", o.MaxConversationHistory, "Number of recent messages used to rewrite follow-up questions.")
	fs.IntVar(&o.MaxCorpusDocuments, p+"max-corpus-documents", o.MaxCorpusDocuments, "Maximum number of corpus documents retrieved per question. 0 switches to threshold-only retrieval.")
	fs.Float64Var(&o.CorpusSimilarityThreshold, p+"corpus-similarity-threshold", o.CorpusSimilarityThreshold, "Minimum similarity score when retrieving by threshold.")
	fs.StringVar(&o.EmbeddingModelRefKey, p+"embedding-model-ref-key", o.EmbeddingModelRefKey, "Reference key of the embedding model the corpus was indexed with.")
	fs.StringVar(&o.DefaultLanguage, p+"default-language", o.DefaultLanguage, "Language responses are written in unless the user writes in another one.")
	fs.BoolVar(&o.Streaming, p+"streaming", o.Streaming, "Enable the websocket streaming endpoint.")

	if o.Handoff == nil {
		o.Handoff = NewHandoffConfig()
	}
	fs.BoolVar(&o.Handoff.Enabled, p+"handoff.enabled", o.Handoff.Enabled, "Enable human handoff.")
	fs.IntVar(&o.Handoff.Threshold, p+"handoff.threshold", o.Handoff.Threshold, "Number of handoff requests before the conversation is escalated.")
}

// Complete fills defaults left empty by the config file.
func (o *Options) Complete() error {
	if o.Guardrail.BlockedInputMessage == "" {
		o.Guardrail.BlockedInputMessage = DefaultBlockedInputMessage
	}
	if o.Guardrail.BlockedOutputMessage == "" {
		o.Guardrail.BlockedOutputMessage = DefaultBlockedOutputMessage
	}
	if o.DefaultLanguage == "" {
		o.DefaultLanguage = DefaultLanguage
	}
	if o.Reranking != nil && o.Reranking.NumberOfResults == 0 {
		o.Reranking.NumberOfResults = 10
	}
	if o.LLM != nil {
		for _, c := range []*ChainConfig{o.LLM.Classification, o.LLM.Standalone, o.LLM.QA} {
			completeChain(c)
		}
	}
	return nil
}

// completeChain 兼容把 system_prompt 写在 kwargs 里的配置。
func completeChain(c *ChainConfig) {
	if c == nil {
		return
	}
	if c.ModelKwargs.MaxTokens == 0 {
		c.ModelKwargs.MaxTokens = 1024
	}
	if c.SystemPrompt == "" {
		if s, ok := c.Kwargs["system_prompt"].(string); ok {
			c.SystemPrompt = s
		}
	}
}

// Validate validates the pipeline options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if verrs := validator.StructWithLang(o, validator.LangEN); verrs.HasErrors() {
		for _, fe := range verrs.Errors {
			errs = append(errs, fmt.Errorf("chatbot: %s", fe.Message))
		}
	}
	if o.Handoff != nil && o.Handoff.Enabled && o.LLM != nil && o.LLM.Classification == nil {
		errs = append(errs, fmt.Errorf("chatbot: handoff requires the classification chain"))
	}
	return errs
}

// Cost returns the per-token prices for modelID.
func (o *Options) Cost(modelID string) (ModelCost, bool) {
	c, ok := o.Costs[modelID]
	return c, ok
}

// HandoffEnabled reports whether handoff handling is configured and on.
func (o *Options) HandoffEnabled() bool {
	return o.Handoff != nil && o.Handoff.Enabled
}
