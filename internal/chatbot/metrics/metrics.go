// Package metrics 提供对话服务的业务指标收集。
package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ChatMetrics 对话服务业务指标。
type ChatMetrics struct {
	// 轮次指标
	turnsTotal         uint64 // 总轮次
	turnsErrors        uint64 // 失败轮次
	turnsShortCircuit  uint64 // 分类直接回复的轮次
	contentFilterHits  uint64 // 护栏拦截次数
	emptyAnswers       uint64 // 停止原因异常导致的空回答
	unparsedClassified uint64 // 分类输出无法解析

	// 检索指标
	retrievalTotal    uint64  // 总检索次数
	retrievalDuration float64 // 检索总耗时（秒）
	retrievalErrors   uint64  // 检索错误次数
	retrievalCacheHit uint64  // 检索缓存命中
	rerankFallbacks   uint64  // 重排序失败回退

	// 模型调用指标
	llmCallsTotal       uint64  // 模型总调用次数
	llmCallsDuration    float64 // 模型调用总耗时（秒）
	llmCallsErrors      uint64  // 模型调用错误次数
	llmTokensPrompt     uint64  // 输入 tokens
	llmTokensCompletion uint64  // 输出 tokens
	costMicros          uint64  // 累计费用（百万分之一美元）

	// 转接指标
	handoffTransitions uint64
	handoffSummaries   uint64

	startTime  time.Time
	durationMu sync.Mutex
}

var (
	globalChatMetrics *ChatMetrics
	chatMetricsOnce   sync.Once
)

// GetChatMetrics 获取全局指标实例。
func GetChatMetrics() *ChatMetrics {
	chatMetricsOnce.Do(func() {
		globalChatMetrics = New()
	})
	return globalChatMetrics
}

// New creates an isolated metrics instance, mainly for tests.
func New() *ChatMetrics {
	return &ChatMetrics{startTime: time.Now()}
}

// RecordTurn 记录一次管道运行。
func (m *ChatMetrics) RecordTurn(shortCircuit bool, err error) {
	atomic.AddUint64(&m.turnsTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.turnsErrors, 1)
		return
	}
	if shortCircuit {
		atomic.AddUint64(&m.turnsShortCircuit, 1)
	}
}

// RecordContentFilter 记录护栏拦截。
func (m *ChatMetrics) RecordContentFilter() {
	atomic.AddUint64(&m.contentFilterHits, 1)
}

// RecordEmptyAnswer 记录被丢弃的回答。
func (m *ChatMetrics) RecordEmptyAnswer() {
	atomic.AddUint64(&m.emptyAnswers, 1)
}

// RecordUnparsedClassification 记录无法解析的分类输出。
func (m *ChatMetrics) RecordUnparsedClassification() {
	atomic.AddUint64(&m.unparsedClassified, 1)
}

// RecordRetrieval 记录检索操作。
func (m *ChatMetrics) RecordRetrieval(duration time.Duration, err error) {
	atomic.AddUint64(&m.retrievalTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.retrievalErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.retrievalDuration += duration.Seconds()
	m.durationMu.Unlock()
}

// RecordRetrievalCacheHit 记录检索缓存命中。
func (m *ChatMetrics) RecordRetrievalCacheHit() {
	atomic.AddUint64(&m.retrievalCacheHit, 1)
}

// RecordRerankFallback 记录重排序失败。
func (m *ChatMetrics) RecordRerankFallback() {
	atomic.AddUint64(&m.rerankFallbacks, 1)
}

// RecordLLMCall 记录模型调用。
func (m *ChatMetrics) RecordLLMCall(duration time.Duration, promptTokens, completionTokens int, err error) {
	atomic.AddUint64(&m.llmCallsTotal, 1)
	if err != nil {
		atomic.AddUint64(&m.llmCallsErrors, 1)
		return
	}

	m.durationMu.Lock()
	m.llmCallsDuration += duration.Seconds()
	m.durationMu.Unlock()

	if promptTokens > 0 {
		atomic.AddUint64(&m.llmTokensPrompt, uint64(promptTokens))
	}
	if completionTokens > 0 {
		atomic.AddUint64(&m.llmTokensCompletion, uint64(completionTokens))
	}
}

// RecordCost 记录一轮的费用。
func (m *ChatMetrics) RecordCost(cost float64) {
	if cost > 0 {
		atomic.AddUint64(&m.costMicros, uint64(cost*1e6+0.5))
	}
}

// RecordHandoffTransition 记录转接状态变化。
func (m *ChatMetrics) RecordHandoffTransition() {
	atomic.AddUint64(&m.handoffTransitions, 1)
}

// RecordHandoffSummary 记录转接摘要生成。
func (m *ChatMetrics) RecordHandoffSummary() {
	atomic.AddUint64(&m.handoffSummaries, 1)
}

type sample struct {
	name, help, kind string
	value            string
}

// Export 导出 Prometheus 文本格式。
func (m *ChatMetrics) Export(namespace, subsystem string) string {
	prefix := namespace
	if subsystem != "" {
		prefix = prefix + "_" + subsystem
	}

	m.durationMu.Lock()
	retrievalDuration := m.retrievalDuration
	llmDuration := m.llmCallsDuration
	m.durationMu.Unlock()

	counter := func(name, help string, v *uint64) sample {
		return sample{name, help, "counter", fmt.Sprintf("%d", atomic.LoadUint64(v))}
	}
	samples := []sample{
		counter("turns_total", "Total number of pipeline runs.", &m.turnsTotal),
		counter("turns_errors_total", "Number of failed pipeline runs.", &m.turnsErrors),
		counter("turns_short_circuit_total", "Turns answered directly from classification.", &m.turnsShortCircuit),
		counter("content_filter_total", "Turns answered with a guardrail message.", &m.contentFilterHits),
		counter("empty_answers_total", "Answers discarded because of the stop reason.", &m.emptyAnswers),
		counter("classification_unparsed_total", "Classification outputs that could not be parsed.", &m.unparsedClassified),
		counter("retrieval_total", "Total number of corpus retrievals.", &m.retrievalTotal),
		counter("retrieval_errors_total", "Number of retrieval errors.", &m.retrievalErrors),
		counter("retrieval_cache_hits_total", "Retrievals served from cache.", &m.retrievalCacheHit),
		{"retrieval_duration_seconds_total", "Total retrieval duration.", "counter", fmt.Sprintf("%.6f", retrievalDuration)},
		counter("rerank_fallbacks_total", "Rerank failures that kept the retrieval order.", &m.rerankFallbacks),
		counter("llm_calls_total", "Total number of model calls.", &m.llmCallsTotal),
		counter("llm_calls_errors_total", "Number of model call errors.", &m.llmCallsErrors),
		{"llm_calls_duration_seconds_total", "Total model call duration.", "counter", fmt.Sprintf("%.6f", llmDuration)},
		counter("llm_tokens_prompt_total", "Total input tokens.", &m.llmTokensPrompt),
		counter("llm_tokens_completion_total", "Total output tokens.", &m.llmTokensCompletion),
		{"cost_dollars_total", "Accumulated model cost.", "counter", fmt.Sprintf("%.6f", float64(atomic.LoadUint64(&m.costMicros))/1e6)},
		counter("handoff_transitions_total", "Handoff state changes.", &m.handoffTransitions),
		counter("handoff_summaries_total", "Handoff summaries generated.", &m.handoffSummaries),
		{"uptime_seconds", "Service uptime in seconds.", "gauge", fmt.Sprintf("%.2f", time.Since(m.startTime).Seconds())},
	}

	var sb strings.Builder
	for _, s := range samples {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", prefix, s.name, s.help)
		fmt.Fprintf(&sb, "# TYPE %s_%s %s\n", prefix, s.name, s.kind)
		fmt.Fprintf(&sb, "%s_%s %s\n\n", prefix, s.name, s.value)
	}
	return sb.String()
}

// Stats 返回当前统计信息（用于 API）。
func (m *ChatMetrics) Stats() map[string]any {
	return map[string]any{
		"turns": map[string]any{
			"total":          atomic.LoadUint64(&m.turnsTotal),
			"errors":         atomic.LoadUint64(&m.turnsErrors),
			"short_circuit":  atomic.LoadUint64(&m.turnsShortCircuit),
			"content_filter": atomic.LoadUint64(&m.contentFilterHits),
		},
		"retrieval": map[string]any{
			"total":            atomic.LoadUint64(&m.retrievalTotal),
			"errors":           atomic.LoadUint64(&m.retrievalErrors),
			"cache_hits":       atomic.LoadUint64(&m.retrievalCacheHit),
			"rerank_fallbacks": atomic.LoadUint64(&m.rerankFallbacks),
		},
		"llm": map[string]any{
			"calls_total":       atomic.LoadUint64(&m.llmCallsTotal),
			"errors":            atomic.LoadUint64(&m.llmCallsErrors),
			"tokens_prompt":     atomic.LoadUint64(&m.llmTokensPrompt),
			"tokens_completion": atomic.LoadUint64(&m.llmTokensCompletion),
		},
		"handoff": map[string]any{
			"transitions": atomic.LoadUint64(&m.handoffTransitions),
			"summaries":   atomic.LoadUint64(&m.handoffSummaries),
		},
		"uptime_seconds": time.Since(m.startTime).Seconds(),
	}
}
