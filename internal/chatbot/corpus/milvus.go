// Package corpus 语料检索：Milvus 向量检索与 Redis 结果缓存。
package corpus

import (
	"context"
	"fmt"

	"github.com/kart-io/logger"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/biz"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/component/milvus"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	milvusopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/milvus"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/json"
)

// 集合字段。
const (
	fieldContent  = "content"
	fieldMetadata = "metadata"
	fieldSource   = "source"
)

var outputFields = []string{fieldContent, fieldMetadata, fieldSource}

// Searcher 向量检索，*milvus.Client 实现。
type Searcher interface {
	Search(ctx context.Context, collection string, vector []float32, topK int, outputFields []string) ([]milvus.SearchResult, error)
}

// MilvusRetriever 先向量化问题，再到 ref key 对应的集合中检索。
type MilvusRetriever struct {
	searcher Searcher
	embedder llm.EmbeddingProvider
	opts     *milvusopts.Options
}

var _ biz.Retriever = (*MilvusRetriever)(nil)

// NewMilvusRetriever creates a MilvusRetriever.
func NewMilvusRetriever(searcher Searcher, embedder llm.EmbeddingProvider, opts *milvusopts.Options) *MilvusRetriever {
	return &MilvusRetriever{searcher: searcher, embedder: embedder, opts: opts}
}

// Retrieve 按 Limit 取前 N 条；Threshold > 0 时再过滤掉相似度低于阈值的结果。
func (r *MilvusRetriever) Retrieve(ctx context.Context, q *biz.Query) ([]*biz.Document, error) {
	collection, err := r.collection(q.ModelRefKey)
	if err != nil {
		return nil, err
	}

	vector, err := r.embedder.EmbedSingle(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	topK := q.Limit
	if topK <= 0 {
		topK = r.opts.MaxCandidates
	}
	hits, err := r.searcher.Search(ctx, collection, vector, topK, outputFields)
	if err != nil {
		return nil, err
	}

	docs := make([]*biz.Document, 0, len(hits))
	for _, h := range hits {
		score := relevance(r.opts.Metric, h.Score)
		if q.Threshold > 0 && score < q.Threshold {
			continue
		}
		docs = append(docs, toDocument(h, score))
	}

	logger.Debugw("corpus search done",
		"collection", collection,
		"top_k", topK,
		"hits", len(hits),
		"kept", len(docs),
	)
	return docs, nil
}

func (r *MilvusRetriever) collection(refKey string) (string, error) {
	if refKey == "" {
		return r.opts.Collection, nil
	}
	if c, ok := r.opts.Collections[refKey]; ok {
		return c, nil
	}
	return "", fmt.Errorf("no corpus collection for embedding model ref key %q", refKey)
}

// relevance 把原始距离换算成越大越相似的分数。
func relevance(metric string, raw float32) float64 {
	if metric == "L2" {
		return 1 / (1 + float64(raw))
	}
	return float64(raw)
}

func toDocument(h milvus.SearchResult, score float64) *biz.Document {
	doc := &biz.Document{Metadata: make(map[string]any), Score: score}
	for name, v := range h.Fields {
		switch name {
		case fieldContent:
			doc.PageContent, _ = v.(string)
		case fieldMetadata:
			raw, ok := v.([]byte)
			if !ok || len(raw) == 0 {
				continue
			}
			var md map[string]any
			if err := json.Unmarshal(raw, &md); err != nil {
				logger.Warnw("skip malformed document metadata", "id", h.ID, "error", err.Error())
				continue
			}
			for k, mv := range md {
				doc.Metadata[k] = mv
			}
		default:
			doc.Metadata[name] = v
		}
	}
	return doc
}
