package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordAndExport(t *testing.T) {
	m := New()

	m.RecordTurn(true, nil)
	m.RecordTurn(false, nil)
	m.RecordTurn(false, errors.New("boom"))
	m.RecordRetrieval(100*time.Millisecond, nil)
	m.RecordRetrievalCacheHit()
	m.RecordLLMCall(500*time.Millisecond, 10, 20, nil)
	m.RecordCost(0.0025)
	m.RecordRerankFallback()

	out := m.Export("chatbot", "")
	assert.Contains(t, out, "chatbot_turns_total 3\n")
	assert.Contains(t, out, "chatbot_turns_errors_total 1\n")
	assert.Contains(t, out, "chatbot_turns_short_circuit_total 1\n")
	assert.Contains(t, out, "chatbot_retrieval_cache_hits_total 1\n")
	assert.Contains(t, out, "chatbot_retrieval_duration_seconds_total 0.100000\n")
	assert.Contains(t, out, "chatbot_llm_tokens_completion_total 20\n")
	assert.Contains(t, out, "chatbot_cost_dollars_total 0.002500\n")
	assert.Contains(t, out, "# TYPE chatbot_uptime_seconds gauge")

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats["retrieval"].(map[string]any)["rerank_fallbacks"])
}

func TestGlobalIsSingleton(t *testing.T) {
	assert.Same(t, GetChatMetrics(), GetChatMetrics())
}
