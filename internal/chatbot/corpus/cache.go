package corpus

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/biz"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/json"
)

// CacheConfig 检索缓存配置。
type CacheConfig struct {
	TTL       time.Duration
	KeyPrefix string
}

// CachedRetriever 用 Redis 缓存检索结果，并合并并发的相同查询。
// Redis 不可用时直接走下游检索。
type CachedRetriever struct {
	next    biz.Retriever
	redis   *goredis.Client
	config  CacheConfig
	group   singleflight.Group
	metrics *metrics.ChatMetrics
}

var _ biz.Retriever = (*CachedRetriever)(nil)

// NewCachedRetriever creates a CachedRetriever.
func NewCachedRetriever(next biz.Retriever, rdb *goredis.Client, cfg CacheConfig, m *metrics.ChatMetrics) *CachedRetriever {
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	return &CachedRetriever{next: next, redis: rdb, config: cfg, metrics: m}
}

// CacheKey 基于 ref key、问题、数量与阈值生成缓存键（SHA256）。
func (c *CachedRetriever) CacheKey(q *biz.Query) string {
	raw := strings.Join([]string{
		q.ModelRefKey,
		q.Text,
		strconv.Itoa(q.Limit),
		strconv.FormatFloat(q.Threshold, 'g', -1, 64),
	}, "|")
	sum := sha256.Sum256([]byte(raw))
	return c.config.KeyPrefix + hex.EncodeToString(sum[:])
}

// Retrieve 命中缓存直接返回，否则检索后写入缓存。
func (c *CachedRetriever) Retrieve(ctx context.Context, q *biz.Query) ([]*biz.Document, error) {
	key := c.CacheKey(q)

	if docs, ok := c.get(ctx, key); ok {
		c.metrics.RecordRetrievalCacheHit()
		return docs, nil
	}

	v, err, shared := c.group.Do(key, func() (any, error) {
		docs, err := c.next.Retrieve(ctx, q)
		if err != nil {
			return nil, err
		}
		c.set(ctx, key, docs)
		return docs, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debugw("retrieval coalesced", "key", key)
	}
	// 共享结果时各自持有切片副本
	docs := v.([]*biz.Document)
	return append([]*biz.Document(nil), docs...), nil
}

func (c *CachedRetriever) get(ctx context.Context, key string) ([]*biz.Document, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != goredis.Nil {
			logger.Warnw("failed to get from retrieval cache", "key", key, "error", err.Error())
		}
		return nil, false
	}

	var docs []*biz.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		logger.Warnw("drop corrupt retrieval cache entry", "key", key, "error", err.Error())
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return docs, true
}

func (c *CachedRetriever) set(ctx context.Context, key string, docs []*biz.Document) {
	data, err := json.Marshal(docs)
	if err != nil {
		logger.Warnw("failed to marshal retrieval result", "error", err.Error())
		return
	}
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to set retrieval cache", "key", key, "error", err.Error())
	}
}

// Clear 删除全部检索缓存，返回删除的键数。
func (c *CachedRetriever) Clear(ctx context.Context) (int, error) {
	iter := c.redis.Scan(ctx, 0, c.config.KeyPrefix+"*", 0).Iterator()
	deleted := 0
	for iter.Next(ctx) {
		if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warnw("failed to delete cache key", "key", iter.Val(), "error", err.Error())
			continue
		}
		deleted++
	}
	if err := iter.Err(); err != nil {
		return deleted, err
	}
	logger.Infow("cleared retrieval cache", "deleted_count", deleted)
	return deleted, nil
}
