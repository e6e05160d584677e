package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	llmopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/llm"
)

const testAPIKey = "test-key"

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(&llmopts.OpenAIOptions{BaseURL: srv.URL, APIKey: testAPIKey, EmbeddingModel: "text-embedding-3-small"}, 5*time.Second, 0)
}

func TestRegisteredFactory(t *testing.T) {
	_, err := llm.NewProvider(context.Background(), &llmopts.Options{Provider: ProviderName, OpenAI: &llmopts.OpenAIOptions{}})
	assert.Error(t, err, "missing api key")

	p, err := llm.NewProvider(context.Background(), &llmopts.Options{Provider: ProviderName, OpenAI: &llmopts.OpenAIOptions{APIKey: "k"}})
	require.NoError(t, err)
	assert.Equal(t, ProviderName, p.Name())
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":9,"completion_tokens":3}}`)
	})

	resp, err := p.Generate(context.Background(), &llm.Request{
		ModelID:      "gpt-4o-mini",
		Prompt:       "hello",
		SystemPrompt: "sys",
		Inference:    llm.InferenceConfig{MaxTokens: 64},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi there", resp.Text)
	assert.Equal(t, llm.StopEndTurn, resp.StopReason)
	assert.Equal(t, 9, resp.InputTokens)
	assert.Equal(t, 3, resp.OutputTokens)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, 64, got.MaxTokens)
	assert.False(t, got.Stream)
}

func TestGenerateOutputFiltered(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":""},"finish_reason":"content_filter"}]}`)
	})

	_, err := p.Generate(context.Background(), &llm.Request{ModelID: "m", Prompt: "x"})
	cf, ok := llm.AsContentFilter(err)
	require.True(t, ok)
	assert.False(t, cf.Input)
}

func TestGenerateInputFiltered(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"prompt flagged","code":"content_filter"}}`)
	})

	_, err := p.Generate(context.Background(), &llm.Request{ModelID: "m", Prompt: "x"})
	cf, ok := llm.AsContentFilter(err)
	require.True(t, ok)
	assert.True(t, cf.Input)
	assert.Equal(t, "prompt flagged", cf.Message)
}

func TestGenerateStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		require.NotNil(t, req.StreamOptions)

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo"} {
			_, _ = fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		_, _ = io.WriteString(w, "data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"length\"}]}\n\n")
		_, _ = io.WriteString(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2}}\n\n")
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	var chunks []string
	resp, err := p.GenerateStream(context.Background(), &llm.Request{ModelID: "m", Prompt: "x"}, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, llm.StopMaxTokens, resp.StopReason)
	assert.Equal(t, 5, resp.InputTokens)
	assert.Equal(t, 2, resp.OutputTokens)
}

func TestEmbedRestoresOrder(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[{"embedding":[2],"index":1},{"embedding":[1],"index":0}]}`)
	})

	out, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, out)
}

func TestEmbedMissingIndex(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"embedding":[1],"index":0}]}`)
	})

	_, err := p.Embed(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}
