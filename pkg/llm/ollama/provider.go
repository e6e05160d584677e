// Package ollama 本地 Ollama 服务的模型供应商，使用 /api/chat 与 /api/embed。
package ollama

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
const ProviderName = "ollama"

func init() {
	llm.RegisterProvider(ProviderName, func(_ context.Context, opts *llmopts.Options) (llm.Provider, error) {
		if opts.Ollama == nil || opts.Ollama.BaseURL == "" {
			return nil, errors.New("ollama: base url is required")
		}
		return New(opts.Ollama, opts.Timeout, opts.MaxRetries), nil
	})
}

// Provider Ollama 供应商。
type Provider struct {
	cfg          *llmopts.OllamaOptions
	client       *httpclient.Client
	streamClient *httpclient.Client
}

var _ llm.Provider = (*Provider)(nil)

// New creates a Provider.
func New(cfg *llmopts.OllamaOptions, timeout time.Duration, maxRetries int) *Provider {
	return &Provider{
		cfg:          cfg,
		client:       httpclient.NewClient(timeout, maxRetries),
		streamClient: httpclient.NewClient(0, maxRetries),
	}
}

func (p *Provider) Name() string { return ProviderName }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type modelOptions struct {
	NumPredict  int      `json:"num_predict,omitempty"`
	Temperature float64  `json:"temperature"`
	TopP        *float64 `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatRequest struct {
	Model    string       `json:"model"`
	Messages []message    `json:"messages"`
	Stream   bool         `json:"stream"`
	Options  modelOptions `json:"options"`
}

// chatResponse 同步响应与流式的每一行结构相同，最后一行 done=true 并带用量。
type chatResponse struct {
	Message         message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason"`
	PromptEvalCount int     `json:"prompt_eval_count"`
	EvalCount       int     `json:"eval_count"`
	Error           string  `json:"error"`
}

func buildChat(req *llm.Request, stream bool) chatRequest {
	msgs := make([]message, 0, 2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, message{Role: "system", Content: req.SystemPrompt})
	}
	msgs = append(msgs, message{Role: "user", Content: req.Prompt})
	return chatRequest{
		Model:    req.ModelID,
		Messages: msgs,
		Stream:   stream,
		Options: modelOptions{
			NumPredict:  req.Inference.MaxTokens,
			Temperature: req.Inference.Temperature,
			TopP:        req.Inference.TopP,
			Stop:        req.Inference.StopSequences,
		},
	}
}

func mapDoneReason(reason string) llm.StopReason {
	switch reason {
	case "stop", "":
		return llm.StopEndTurn
	case "length":
		return llm.StopMaxTokens
	}
	return llm.StopReason(reason)
}

func (p *Provider) newRequest(ctx context.Context, path string, v any) (*http.Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.BaseURL, "/")+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Generate 同步生成。
func (p *Provider) Generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	httpReq, err := p.newRequest(ctx, "/api/chat", buildChat(req, false))
	if err != nil {
		return nil, err
	}
	var out chatResponse
	if err := p.client.DoJSON(httpReq, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, errors.New(out.Error)
	}
	return &llm.Response{
		ModelID:      req.ModelID,
		Text:         out.Message.Content,
		StopReason:   mapDoneReason(out.DoneReason),
		InputTokens:  out.PromptEvalCount,
		OutputTokens: out.EvalCount,
	}, nil
}

// GenerateStream 逐行读取 NDJSON 流。
func (p *Provider) GenerateStream(ctx context.Context, req *llm.Request, onChunk llm.ChunkFunc) (*llm.Response, error) {
	httpReq, err := p.newRequest(ctx, "/api/chat", buildChat(req, true))
	if err != nil {
		return nil, err
	}
	httpResp, err := p.streamClient.DoStream(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	resp := &llm.Response{ModelID: req.ModelID}
	var text strings.Builder

	scanner := bufio.NewScanner(httpResp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk chatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return nil, errors.New(chunk.Error)
		}
		if c := chunk.Message.Content; c != "" {
			text.WriteString(c)
			if err := onChunk(c); err != nil {
				return nil, err
			}
		}
		if chunk.Done {
			resp.StopReason = mapDoneReason(chunk.DoneReason)
			resp.InputTokens = chunk.PromptEvalCount
			resp.OutputTokens = chunk.EvalCount
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}
	resp.Text = text.String()
	return resp, nil
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed 批量向量化。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req, err := p.newRequest(ctx, "/api/embed", embedRequest{Model: p.cfg.EmbeddingModel, Input: texts})
	if err != nil {
		return nil, err
	}
	var out embedResponse
	if err := p.client.DoJSON(req, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Embeddings))
	}
	return out.Embeddings, nil
}

func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	out, err := p.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}
