// Package bedrock AWS Bedrock 模型网关：Converse / ConverseStream 生成，
// bedrock-agent-runtime Rerank 重排序，Titan 向量化。
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	llmopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/llm"
)

// ProviderName 供应商名称。
const ProviderName = "bedrock"

func init() {
	llm.RegisterProvider(ProviderName, func(ctx context.Context, opts *llmopts.Options) (llm.Provider, error) {
		return New(ctx, opts.Bedrock)
	})
}

// runtimeClient bedrock-runtime 中用到的方法，便于测试替换。
type runtimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// agentClient bedrock-agent-runtime 中用到的方法。
type agentClient interface {
	Rerank(ctx context.Context, params *bedrockagentruntime.RerankInput, optFns ...func(*bedrockagentruntime.Options)) (*bedrockagentruntime.RerankOutput, error)
}

// Provider Bedrock 供应商。
type Provider struct {
	cfg    *llmopts.BedrockOptions
	client runtimeClient
	agent  agentClient
}

var (
	_ llm.Provider = (*Provider)(nil)
	_ llm.Reranker = (*Provider)(nil)
)

// New 使用 AWS 默认凭证链创建供应商。
func New(ctx context.Context, cfg *llmopts.BedrockOptions) (*Provider, error) {
	if cfg == nil || cfg.Region == "" {
		return nil, errors.New("bedrock region is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewWithClients(cfg, bedrockruntime.NewFromConfig(awsCfg), bedrockagentruntime.NewFromConfig(awsCfg)), nil
}

// NewWithClients 使用给定客户端创建供应商。
func NewWithClients(cfg *llmopts.BedrockOptions, client runtimeClient, agent agentClient) *Provider {
	return &Provider{cfg: cfg, client: client, agent: agent}
}

// Name 返回供应商名称。
func (p *Provider) Name() string { return ProviderName }

func (p *Provider) guardrailEnabled() bool {
	return p.cfg.GuardrailID != "" && p.cfg.GuardrailVersion != ""
}

// content 启用护栏时附加 guardContent，使护栏只评估提示本身。
func (p *Provider) content(prompt string) []types.ContentBlock {
	blocks := []types.ContentBlock{&types.ContentBlockMemberText{Value: prompt}}
	if p.guardrailEnabled() {
		blocks = append(blocks, &types.ContentBlockMemberGuardContent{
			Value: &types.GuardrailConverseContentBlockMemberText{
				Value: types.GuardrailConverseTextBlock{Text: aws.String(prompt)},
			},
		})
	}
	return blocks
}

func inferenceConfig(c llm.InferenceConfig) *types.InferenceConfiguration {
	ic := &types.InferenceConfiguration{
		MaxTokens:   aws.Int32(int32(c.MaxTokens)),
		Temperature: aws.Float32(float32(c.Temperature)),
	}
	if c.TopP != nil {
		ic.TopP = aws.Float32(float32(*c.TopP))
	}
	if len(c.StopSequences) > 0 {
		ic.StopSequences = c.StopSequences
	}
	return ic
}

func systemBlocks(system string) []types.SystemContentBlock {
	if system == "" {
		return nil
	}
	return []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: system}}
}

func messages(content []types.ContentBlock) []types.Message {
	return []types.Message{{Role: types.ConversationRoleUser, Content: content}}
}

// Generate 调用 Converse。
func (p *Provider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(req.ModelID),
		Messages:        messages(p.content(req.Prompt)),
		System:          systemBlocks(req.SystemPrompt),
		InferenceConfig: inferenceConfig(req.Inference),
	}
	if p.guardrailEnabled() {
		input.GuardrailConfig = &types.GuardrailConfiguration{
			GuardrailIdentifier: aws.String(p.cfg.GuardrailID),
			GuardrailVersion:    aws.String(p.cfg.GuardrailVersion),
			Trace:               types.GuardrailTraceEnabled,
		}
	}

	logger.Debugw("bedrock converse", "model", req.ModelID, "prompt_len", len(req.Prompt))
	out, err := p.client.Converse(ctx, input)
	if err != nil {
		return nil, mapError(err)
	}

	resp := &llm.Response{ModelID: req.ModelID, StopReason: llm.StopReason(out.StopReason)}
	if out.Usage != nil {
		resp.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		resp.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		resp.Text = textOf(msg.Value.Content)
	}

	if filtered(resp.StopReason) {
		var trace *types.GuardrailTraceAssessment
		if out.Trace != nil {
			trace = out.Trace.Guardrail
		}
		return resp, guardrailError(resp.Text, trace)
	}
	return resp, nil
}

// GenerateStream 调用 ConverseStream，护栏使用同步处理模式。
func (p *Provider) GenerateStream(ctx context.Context, req *llm.Request, onChunk llm.ChunkFunc) (*llm.Response, error) {
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(req.ModelID),
		Messages:        messages(p.content(req.Prompt)),
		System:          systemBlocks(req.SystemPrompt),
		InferenceConfig: inferenceConfig(req.Inference),
	}
	if p.guardrailEnabled() {
		input.GuardrailConfig = &types.GuardrailStreamConfiguration{
			GuardrailIdentifier:  aws.String(p.cfg.GuardrailID),
			GuardrailVersion:     aws.String(p.cfg.GuardrailVersion),
			StreamProcessingMode: types.GuardrailStreamProcessingModeSync,
			Trace:                types.GuardrailTraceEnabled,
		}
	}

	out, err := p.client.ConverseStream(ctx, input)
	if err != nil {
		return nil, mapError(err)
	}
	stream := out.GetStream()
	defer func() { _ = stream.Close() }()

	resp, err := consumeStream(stream.Events(), onChunk)
	if err != nil {
		return nil, err
	}
	if err := stream.Err(); err != nil {
		return nil, mapError(err)
	}
	resp.ModelID = req.ModelID
	return resp, nil
}

// consumeStream 按到达顺序转发文本增量，累积完整文本、停止原因与用量。
func consumeStream(events <-chan types.ConverseStreamOutput, onChunk llm.ChunkFunc) (*llm.Response, error) {
	resp := &llm.Response{}
	var text strings.Builder
	var trace *types.GuardrailTraceAssessment

	for event := range events {
		switch v := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			delta, ok := v.Value.Delta.(*types.ContentBlockDeltaMemberText)
			if !ok || delta.Value == "" {
				continue
			}
			text.WriteString(delta.Value)
			if err := onChunk(delta.Value); err != nil {
				return nil, err
			}
		case *types.ConverseStreamOutputMemberMessageStop:
			resp.StopReason = llm.StopReason(v.Value.StopReason)
		case *types.ConverseStreamOutputMemberMetadata:
			if v.Value.Usage != nil {
				resp.InputTokens = int(aws.ToInt32(v.Value.Usage.InputTokens))
				resp.OutputTokens = int(aws.ToInt32(v.Value.Usage.OutputTokens))
			}
			if v.Value.Trace != nil {
				trace = v.Value.Trace.Guardrail
			}
		}
	}

	resp.Text = text.String()
	if filtered(resp.StopReason) {
		return resp, guardrailError(resp.Text, trace)
	}
	return resp, nil
}

func textOf(blocks []types.ContentBlock) string {
	var sb strings.Builder
	for _, b := range blocks {
		if t, ok := b.(*types.ContentBlockMemberText); ok {
			sb.WriteString(t.Value)
		}
	}
	return sb.String()
}

func filtered(s llm.StopReason) bool {
	return s == llm.StopGuardrailIntervened || s == llm.StopContentFiltered
}

// guardrailError 根据护栏追踪区分输入侧与输出侧拦截。
// 输入评估中有 BLOCKED 动作，或只有输入评估没有输出评估时，判定为输入侧。
func guardrailError(text string, trace *types.GuardrailTraceAssessment) error {
	cf := &llm.ContentFilterError{Message: text}
	if trace == nil {
		return cf
	}
	for _, a := range trace.InputAssessment {
		if blocked(a) {
			cf.Input = true
			return cf
		}
	}
	cf.Input = len(trace.InputAssessment) > 0 && len(trace.OutputAssessments) == 0
	return cf
}

const actionBlocked = "BLOCKED"

// blocked 报告一次评估中是否有策略执行了拦截。只有调用指标的评估不算拦截。
func blocked(a types.GuardrailAssessment) bool {
	if p := a.TopicPolicy; p != nil {
		for _, t := range p.Topics {
			if string(t.Action) == actionBlocked {
				return true
			}
		}
	}
	if p := a.ContentPolicy; p != nil {
		for _, f := range p.Filters {
			if string(f.Action) == actionBlocked {
				return true
			}
		}
	}
	if p := a.WordPolicy; p != nil {
		for _, w := range p.CustomWords {
			if string(w.Action) == actionBlocked {
				return true
			}
		}
		for _, w := range p.ManagedWordLists {
			if string(w.Action) == actionBlocked {
				return true
			}
		}
	}
	if p := a.SensitiveInformationPolicy; p != nil {
		for _, e := range p.PiiEntities {
			if string(e.Action) == actionBlocked {
				return true
			}
		}
		for _, r := range p.Regexes {
			if string(r.Action) == actionBlocked {
				return true
			}
		}
	}
	if p := a.ContextualGroundingPolicy; p != nil {
		for _, f := range p.Filters {
			if string(f.Action) == actionBlocked {
				return true
			}
		}
	}
	return false
}

// mapError 将 API 错误码中含 ContentFilter 的错误转为 ContentFilterError。
func mapError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && strings.Contains(apiErr.ErrorCode()+apiErr.ErrorMessage(), "ContentFilter") {
		return llm.NewContentFilterError(apiErr.ErrorMessage())
	}
	if strings.Contains(err.Error(), "ContentFilterException") {
		return llm.NewContentFilterError(err.Error())
	}
	return err
}
