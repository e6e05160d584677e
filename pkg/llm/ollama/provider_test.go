package ollama

import (
	"context"
	"encoding/json"
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

func newTestProvider(t *testing.T, h http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(&llmopts.OllamaOptions{BaseURL: srv.URL, EmbeddingModel: "nomic-embed-text"}, 5*time.Second, 0)
}

func TestRegisteredFactory(t *testing.T) {
	_, err := llm.NewProvider(context.Background(), &llmopts.Options{Provider: ProviderName, Ollama: &llmopts.OllamaOptions{}})
	assert.Error(t, err)

	p, err := llm.NewProvider(context.Background(), &llmopts.Options{Provider: ProviderName, Ollama: &llmopts.OllamaOptions{BaseURL: "http://localhost:11434"}})
	require.NoError(t, err)
	assert.Equal(t, ProviderName, p.Name())
}

func TestGenerate(t *testing.T) {
	var got chatRequest
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, `{"message":{"role":"assistant","content":"hi"},"done":true,"done_reason":"length","prompt_eval_count":7,"eval_count":2}`)
	})

	resp, err := p.Generate(context.Background(), &llm.Request{
		ModelID:      "llama3",
		Prompt:       "hello",
		SystemPrompt: "sys",
		Inference:    llm.InferenceConfig{MaxTokens: 32, StopSequences: []string{"\n\nHuman:"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Text)
	assert.Equal(t, llm.StopMaxTokens, resp.StopReason)
	assert.Equal(t, 7, resp.InputTokens)
	assert.Equal(t, 2, resp.OutputTokens)

	assert.False(t, got.Stream)
	assert.Equal(t, 32, got.Options.NumPredict)
	assert.Equal(t, []string{"\n\nHuman:"}, got.Options.Stop)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestGenerateStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"message":{"content":"Hel"},"done":false}`+"\n")
		_, _ = io.WriteString(w, `{"message":{"content":"lo"},"done":false}`+"\n\n")
		_, _ = io.WriteString(w, `{"message":{"content":""},"done":true,"done_reason":"stop","prompt_eval_count":4,"eval_count":2}`+"\n")
	})

	var chunks []string
	resp, err := p.GenerateStream(context.Background(), &llm.Request{ModelID: "llama3", Prompt: "hi"}, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, llm.StopEndTurn, resp.StopReason)
	assert.Equal(t, 4, resp.InputTokens)
}

func TestGenerateStreamError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{"error":"model not found"}`+"\n")
	})
	_, err := p.GenerateStream(context.Background(), &llm.Request{ModelID: "x"}, func(string) error { return nil })
	assert.ErrorContains(t, err, "model not found")
}

func TestEmbed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		_, _ = io.WriteString(w, `{"embeddings":[[0.1,0.2],[0.3,0.4]]}`)
	})
	out, err := p.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2}, {0.3, 0.4}}, out)

	_, err = p.EmbedSingle(context.Background(), "a")
	assert.ErrorContains(t, err, "expected 1 embeddings")
}
