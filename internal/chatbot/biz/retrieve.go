package biz

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/tracing"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
)

const (
	// PromotionContext 推广类问题不检索，使用固定上下文。
	PromotionContext = "Refer to the associated image"
	// NoContextFound 没有检索到文档时的上下文。
	NoContextFound = "No context document found"
)

// ContextBuilder 检索与重排序阶段。
type ContextBuilder struct {
	retriever Retriever
	// reranker 为 nil 时忽略重排序配置
	reranker llm.Reranker
	metrics  *metrics.ChatMetrics
}

// NewContextBuilder creates a ContextBuilder.
func NewContextBuilder(retriever Retriever, reranker llm.Reranker, m *metrics.ChatMetrics) *ContextBuilder {
	return &ContextBuilder{retriever: retriever, reranker: reranker, metrics: m}
}

// Build 返回上下文文本与参与生成的文档。检索失败使本轮失败，重排序失败保持原顺序。
func (b *ContextBuilder) Build(ctx context.Context, t *turn, question string, label Label) (string, []*Document, error) {
	if label == LabelPromotion {
		return PromotionContext, nil, nil
	}

	ctx, span := tracing.StartSpan(ctx, tracerName, "retrieve")
	defer span.End()

	q := &Query{Text: question, ModelRefKey: t.opts.EmbeddingModelRefKey}
	if t.opts.MaxCorpusDocuments > 0 {
		q.Limit = t.opts.MaxCorpusDocuments
	} else {
		q.Threshold = t.opts.CorpusSimilarityThreshold
	}

	start := time.Now()
	docs, err := b.retriever.Retrieve(ctx, q)
	if err != nil {
		b.metrics.RecordRetrieval(time.Since(start), err)
		tracing.RecordError(ctx, err)
		return "", nil, errors.ErrRetrievalFailed.WithCause(err)
	}
	b.metrics.RecordRetrieval(time.Since(start), nil)
	span.SetAttributes(tracing.Int("chatbot.documents", len(docs)))

	if len(docs) > 0 && t.opts.Reranking != nil {
		docs = b.rerank(ctx, t, question, docs)
	}
	return FormatDocuments(docs), docs, nil
}

// rerank 失败时返回原顺序。
func (b *ContextBuilder) rerank(ctx context.Context, t *turn, question string, docs []*Document) []*Document {
	if b.reranker == nil {
		logger.Warnw("reranking configured but the model provider cannot rerank", "chat_id", t.chatID)
		return docs
	}

	cfg := t.opts.Reranking
	n := min(cfg.NumberOfResults, len(docs))
	if n <= 0 {
		n = len(docs)
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	req := &llm.RerankRequest{
		ModelID:          cfg.ModelID,
		Query:            question,
		Texts:            texts,
		NumberOfResults:  n,
		AdditionalFields: cfg.AdditionalFields,
	}
	t.trace.Add("reranking_query", question)
	t.trace.Add("reranker_config", cfg)

	results, err := b.reranker.Rerank(ctx, req)
	if err == nil {
		err = checkRerankResults(results, len(docs))
	}
	if err != nil {
		b.metrics.RecordRerankFallback()
		logger.Warnw("rerank failed, keeping retrieval order", "chat_id", t.chatID, "error", err.Error())
		return docs
	}
	t.trace.Add("reranker_response", results)

	reranked := make([]*Document, 0, len(results))
	for _, r := range results {
		d := *docs[r.Index]
		d.Score = r.Score
		reranked = append(reranked, &d)
	}
	return reranked
}

func checkRerankResults(results []llm.RerankResult, n int) error {
	if len(results) == 0 {
		return fmt.Errorf("reranker returned no results for %d documents", n)
	}
	for _, r := range results {
		if r.Index < 0 || r.Index >= n {
			return fmt.Errorf("rerank index %d out of range [0,%d)", r.Index, n)
		}
	}
	return nil
}

// FormatDocuments 以换行拼接文档内容，没有内容时返回 NoContextFound。
func FormatDocuments(docs []*Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.PageContent != "" {
			parts = append(parts, d.PageContent)
		}
	}
	if len(parts) == 0 {
		return NoContextFound
	}
	return strings.Join(parts, "\n")
}
