// Package openai OpenAI 兼容接口的模型供应商。
//
// 支持 chat/completions（同步与 SSE 流式）以及 embeddings，
// BaseURL 可指向任何兼容 OpenAI API 的服务。
package openai

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	llmopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/httpclient"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/json"
)

// ProviderName 供应商名称。
const ProviderName = "openai"

func init() {
	llm.RegisterProvider(ProviderName, func(_ context.Context, opts *llmopts.Options) (llm.Provider, error) {
		if opts.OpenAI == nil || opts.OpenAI.APIKey == "" {
			return nil, errors.New("openai: api key is required")
		}
		return New(opts.OpenAI, opts.Timeout, opts.MaxRetries), nil
	})
}

// Provider OpenAI 供应商。
type Provider struct {
	cfg *llmopts.OpenAIOptions
	// client 用于同步请求，streamClient 不设整体超时，由 ctx 控制
	client       *httpclient.Client
	streamClient *httpclient.Client
}

var _ llm.Provider = (*Provider)(nil)

// New 创建供应商。
func New(cfg *llmopts.OpenAIOptions, timeout time.Duration, maxRetries int) *Provider {
	return &Provider{
		cfg:          cfg,
		client:       httpclient.NewClient(timeout, maxRetries),
		streamClient: httpclient.NewClient(0, maxRetries),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string { return ProviderName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string         `json:"model"`
	Messages      []chatMessage  `json:"messages"`
	Stream        bool           `json:"stream"`
	StreamOptions *streamOptions `json:"stream_options,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	Temperature   float64        `json:"temperature"`
	TopP          *float64       `json:"top_p,omitempty"`
	Stop          []string       `json:"stop,omitempty"`
}

type usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage usage `json:"usage"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *usage `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (p *Provider) buildChat(req *llm.Request, stream bool) chatRequest {
	msgs := make([]chatMessage, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Prompt})

	body := chatRequest{
		Model:       req.ModelID,
		Messages:    msgs,
		Stream:      stream,
		MaxTokens:   req.Inference.MaxTokens,
		Temperature: req.Inference.Temperature,
		TopP:        req.Inference.TopP,
		Stop:        req.Inference.StopSequences,
	}
	if stream {
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	return body
}

// mapFinishReason 将 OpenAI finish_reason 映射为统一的停止原因。
func mapFinishReason(reason string) llm.StopReason {
	switch reason {
	case "stop":
		return llm.StopEndTurn
	case "length":
		return llm.StopMaxTokens
	case "content_filter":
		return llm.StopContentFiltered
	case "tool_calls", "function_call":
		return llm.StopToolUse
	}
	return llm.StopReason(reason)
}

// mapError 400 且错误码为 content_filter 表示提示被拦截。
func mapError(err error) error {
	var se *httpclient.StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadRequest {
		return err
	}
	var body apiError
	if json.Unmarshal(se.Body, &body) != nil {
		return err
	}
	if body.Error.Code == "content_filter" || body.Error.Code == "content_policy_violation" {
		return &llm.ContentFilterError{Input: true, Message: body.Error.Message}
	}
	return err
}

func (p *Provider) newRequest(ctx context.Context, path string, v any) (*http.Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.Organization != "" {
		req.Header.Set("OpenAI-Organization", p.cfg.Organization)
	}
	return req, nil
}

// Generate 同步生成。
func (p *Provider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	httpReq, err := p.newRequest(ctx, "/chat/completions", p.buildChat(req, false))
	if err != nil {
		return nil, err
	}

	var out chatResponse
	if err := p.client.DoJSON(httpReq, &out); err != nil {
		return nil, mapError(err)
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("未返回响应内容")
	}

	resp := &llm.Response{
		ModelID:      req.ModelID,
		Text:         out.Choices[0].Message.Content,
		StopReason:   mapFinishReason(out.Choices[0].FinishReason),
		InputTokens:  out.Usage.PromptTokens,
		OutputTokens: out.Usage.CompletionTokens,
	}
	if resp.StopReason == llm.StopContentFiltered {
		return resp, &llm.ContentFilterError{Message: resp.Text}
	}
	return resp, nil
}

// GenerateStream 读取 SSE 流，逐个 data 事件转发增量文本。
func (p *Provider) GenerateStream(ctx context.Context, req *llm.Request, onChunk llm.ChunkFunc) (*llm.Response, error) {
	httpReq, err := p.newRequest(ctx, "/chat/completions", p.buildChat(req, true))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := p.streamClient.DoStream(httpReq)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp := &llm.Response{ModelID: req.ModelID}
	var text strings.Builder

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Usage != nil {
			resp.InputTokens = chunk.Usage.PromptTokens
			resp.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				text.WriteString(c.Delta.Content)
				if err := onChunk(c.Delta.Content); err != nil {
					return nil, err
				}
			}
			if c.FinishReason != nil {
				resp.StopReason = mapFinishReason(*c.FinishReason)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	resp.Text = text.String()
	if resp.StopReason == llm.StopContentFiltered {
		return resp, &llm.ContentFilterError{Message: resp.Text}
	}
	return resp, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed 批量向量化，结果按 index 还原为输入顺序。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req, err := p.newRequest(ctx, "/embeddings", embeddingRequest{Model: p.cfg.EmbeddingModel, Input: texts})
	if err != nil {
		return nil, err
	}

	var out embeddingResponse
	if err := p.client.DoJSON(req, &out); err != nil {
		return nil, err
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range out.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, e := range embeddings {
		if e == nil {
			return nil, fmt.Errorf("missing embedding for input %d", i)
		}
	}
	return embeddings, nil
}

// EmbedSingle 向量化单条文本。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
