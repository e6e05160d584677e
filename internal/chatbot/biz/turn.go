package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
)

// Usage 一次模型调用的用量。
type Usage struct {
	ModelID      string `json:"modelId"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// turn 单轮请求的上下文：配置快照、追踪、用量与可选的流式输出。
type turn struct {
	opts   *chatbot.Options
	userID string
	chatID string
	trace  *Trace
	usage  []Usage
	sink   *streamSink
}

func newTurn(opts *chatbot.Options, userID, chatID string, sink Sink) *turn {
	t := &turn{opts: opts, userID: userID, chatID: chatID, trace: NewTrace()}
	if sink != nil {
		t.sink = &streamSink{inner: sink, chatID: chatID}
	}
	return t
}

func (t *turn) record(modelID string, resp *llm.Response) {
	if resp == nil {
		return
	}
	if resp.ModelID != "" {
		modelID = resp.ModelID
	}
	t.usage = append(t.usage, Usage{ModelID: modelID, InputTokens: resp.InputTokens, OutputTokens: resp.OutputTokens})
}

func (t *turn) tokens() (in, out int) {
	for _, u := range t.usage {
		in += u.InputTokens
		out += u.OutputTokens
	}
	return in, out
}

// streamSink 第一次投递失败后停止投递，且从不让生成失败。
type streamSink struct {
	inner  Sink
	chatID string
	failed bool
}

func (s *streamSink) send(chunk string) error {
	if s == nil || s.failed || chunk == "" {
		return nil
	}
	if err := s.inner.Send(chunk); err != nil {
		s.failed = true
		logger.Warnw("stream sink failed, dropping remaining chunks", "chat_id", s.chatID, "error", err.Error())
	}
	return nil
}

func (s *streamSink) chunkFunc() llm.ChunkFunc {
	if s == nil {
		return nil
	}
	return s.send
}

// invoker 统一的模型调用：渲染模板、写入追踪、计量。
type invoker struct {
	gateway llm.Gateway
	metrics *metrics.ChatMetrics
}

func inferenceConfig(k chatbot.ModelKwargs) llm.InferenceConfig {
	return llm.InferenceConfig{
		MaxTokens:     k.MaxTokens,
		Temperature:   k.Temperature,
		TopP:          k.TopP,
		StopSequences: k.StopSequences,
	}
}

// callChain 渲染链路模板后调用。
func (iv *invoker) callChain(ctx context.Context, t *turn, chain *chatbot.ChainConfig, vars map[string]string, onChunk llm.ChunkFunc) (*llm.Response, error) {
	prompt, err := RenderPrompt(chain, vars)
	if err != nil {
		return nil, err
	}
	return iv.generate(ctx, t, &llm.Request{
		ModelID:      chain.ModelID,
		Prompt:       prompt,
		SystemPrompt: chain.SystemPrompt,
		Inference:    inferenceConfig(chain.ModelKwargs),
	}, onChunk)
}

// generate 调用网关。内容过滤错误原样返回，其它错误包装为 ErrModelInvocation。
func (iv *invoker) generate(ctx context.Context, t *turn, req *llm.Request, onChunk llm.ChunkFunc) (*llm.Response, error) {
	t.trace.Add("inference_config", req.Inference)
	t.trace.Add("prompt", req.Prompt)

	start := time.Now()
	var (
		resp *llm.Response
		err  error
	)
	if onChunk != nil {
		resp, err = iv.gateway.GenerateStream(ctx, req, onChunk)
	} else {
		resp, err = iv.gateway.Generate(ctx, req)
	}

	if err != nil {
		iv.metrics.RecordLLMCall(time.Since(start), 0, 0, err)
		if cf, ok := llm.AsContentFilter(err); ok {
			side := "output"
			if cf.Input {
				side = "input"
			}
			t.trace.Add("content_filter_exception", map[string]string{"error": cf.Message, "type": side})
			return nil, err
		}
		return nil, errors.ErrModelInvocation.WithCause(err)
	}

	iv.metrics.RecordLLMCall(time.Since(start), resp.InputTokens, resp.OutputTokens, nil)
	t.trace.Add("inference_response", map[string]any{
		"text":         resp.Text,
		"stopReason":   resp.StopReason,
		"inputTokens":  resp.InputTokens,
		"outputTokens": resp.OutputTokens,
	})
	t.record(req.ModelID, resp)
	return resp, nil
}
