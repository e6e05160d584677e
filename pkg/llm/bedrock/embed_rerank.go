package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime"
	agentdoc "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/document"
	agenttypes "github.com/aws/aws-sdk-go-v2/service/bedrockagentruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/json"
)

type titanEmbedRequest struct {
	InputText string `json:"inputText"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// EmbedSingle 调用 Titan 文本向量模型。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(titanEmbedRequest{InputText: text})
	if err != nil {
		return nil, err
	}
	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.cfg.EmbeddingModel),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, mapError(err)
	}
	var resp titanEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}
	return resp.Embedding, nil
}

// Embed Titan 不支持批量，逐条调用。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for i, t := range texts {
		v, err := p.EmbedSingle(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// modelARN 非 ARN 形式的模型 ID 按区域拼成基础模型 ARN。
func (p *Provider) modelARN(modelID string) string {
	switch {
	case strings.HasPrefix(modelID, "arn:"):
		return modelID
	case modelID == "":
		return p.cfg.RerankModelARN
	}
	return fmt.Sprintf("arn:aws:bedrock:%s::foundation-model/%s", p.cfg.Region, modelID)
}

// Rerank 调用 bedrock-agent-runtime Rerank，返回按相关性排序的原始下标。
func (p *Provider) Rerank(ctx context.Context, req *llm.RerankRequest) ([]llm.RerankResult, error) {
	if len(req.Texts) == 0 {
		return nil, nil
	}
	if p.agent == nil {
		return nil, errors.New("bedrock agent runtime client not configured")
	}
	arn := p.modelARN(req.ModelID)
	if arn == "" {
		return nil, errors.New("rerank model is not configured")
	}

	n := req.NumberOfResults
	if n <= 0 || n > len(req.Texts) {
		n = len(req.Texts)
	}

	sources := make([]agenttypes.RerankSource, 0, len(req.Texts))
	for _, t := range req.Texts {
		sources = append(sources, agenttypes.RerankSource{
			Type: agenttypes.RerankSourceTypeInline,
			InlineDocumentSource: &agenttypes.RerankDocument{
				Type:         agenttypes.RerankDocumentTypeText,
				TextDocument: &agenttypes.RerankTextDocument{Text: aws.String(t)},
			},
		})
	}

	modelCfg := &agenttypes.BedrockRerankingModelConfiguration{ModelArn: aws.String(arn)}
	if len(req.AdditionalFields) > 0 {
		fields := make(map[string]agentdoc.Interface, len(req.AdditionalFields))
		for k, v := range req.AdditionalFields {
			fields[k] = agentdoc.NewLazyDocument(v)
		}
		modelCfg.AdditionalModelRequestFields = fields
	}

	out, err := p.agent.Rerank(ctx, &bedrockagentruntime.RerankInput{
		Queries: []agenttypes.RerankQuery{{
			Type:      agenttypes.RerankQueryContentTypeText,
			TextQuery: &agenttypes.RerankTextDocument{Text: aws.String(req.Query)},
		}},
		Sources: sources,
		RerankingConfiguration: &agenttypes.RerankingConfiguration{
			Type: agenttypes.RerankingConfigurationTypeBedrockRerankingModel,
			BedrockRerankingConfiguration: &agenttypes.BedrockRerankingConfiguration{
				ModelConfiguration: modelCfg,
				NumberOfResults:    aws.Int32(int32(n)),
			},
		},
	})
	if err != nil {
		return nil, mapError(err)
	}

	results := make([]llm.RerankResult, 0, len(out.Results))
	for _, r := range out.Results {
		idx := int(aws.ToInt32(r.Index))
		if idx < 0 || idx >= len(req.Texts) {
			return nil, fmt.Errorf("rerank returned out-of-range index %d", idx)
		}
		results = append(results, llm.RerankResult{Index: idx, Score: float64(aws.ToFloat32(r.RelevanceScore))})
	}
	return results, nil
}
