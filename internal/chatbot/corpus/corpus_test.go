package corpus

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/biz"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/component/milvus"
	milvusopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/milvus"
)

var ctx = context.Background()

type fakeEmbedder struct{ err error }

func (e fakeEmbedder) Embed(context.Context, []string) ([][]float32, error) { return nil, e.err }
func (e fakeEmbedder) EmbedSingle(context.Context, string) ([]float32, error) {
	return []float32{0.1, 0.2}, e.err
}
func (fakeEmbedder) Name() string { return "fake" }

type searchCall struct {
	collection string
	topK       int
}

type fakeSearcher struct {
	hits  []milvus.SearchResult
	err   error
	calls []searchCall
}

func (s *fakeSearcher) Search(_ context.Context, collection string, _ []float32, topK int, _ []string) ([]milvus.SearchResult, error) {
	s.calls = append(s.calls, searchCall{collection, topK})
	return s.hits, s.err
}

func hit(content string, score float32) milvus.SearchResult {
	return milvus.SearchResult{Score: score, Fields: map[string]any{
		fieldContent:  content,
		fieldSource:   content + ".pdf",
		fieldMetadata: []byte(`{"page": 3}`),
	}}
}

func TestMilvusRetrieverLimitAndThreshold(t *testing.T) {
	opts := milvusopts.NewOptions()
	s := &fakeSearcher{hits: []milvus.SearchResult{hit("a", 0.9), hit("b", 0.4)}}
	r := NewMilvusRetriever(s, fakeEmbedder{}, opts)

	docs, err := r.Retrieve(ctx, &biz.Query{Text: "q", Limit: 2})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, searchCall{opts.Collection, 2}, s.calls[0])
	assert.Equal(t, "a", docs[0].PageContent)
	assert.Equal(t, "a.pdf", docs[0].Metadata["source"])
	assert.EqualValues(t, 3, docs[0].Metadata["page"])

	docs, err = r.Retrieve(ctx, &biz.Query{Text: "q", Threshold: 0.5})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, opts.MaxCandidates, s.calls[1].topK)
	assert.InDelta(t, 0.9, docs[0].Score, 1e-6)
}

func TestMilvusRetrieverCollections(t *testing.T) {
	opts := milvusopts.NewOptions()
	opts.Collections = map[string]string{"titan-v2": "corpus_titan"}
	s := &fakeSearcher{}
	r := NewMilvusRetriever(s, fakeEmbedder{}, opts)

	_, err := r.Retrieve(ctx, &biz.Query{Text: "q", Limit: 1, ModelRefKey: "titan-v2"})
	require.NoError(t, err)
	assert.Equal(t, "corpus_titan", s.calls[0].collection)

	_, err = r.Retrieve(ctx, &biz.Query{Text: "q", Limit: 1, ModelRefKey: "unknown"})
	assert.Error(t, err)
	assert.Len(t, s.calls, 1)
}

func TestMilvusRetrieverErrors(t *testing.T) {
	opts := milvusopts.NewOptions()
	_, err := NewMilvusRetriever(&fakeSearcher{}, fakeEmbedder{err: stderrors.New("throttled")}, opts).
		Retrieve(ctx, &biz.Query{Text: "q", Limit: 1})
	assert.ErrorContains(t, err, "throttled")

	_, err = NewMilvusRetriever(&fakeSearcher{err: stderrors.New("unavailable")}, fakeEmbedder{}, opts).
		Retrieve(ctx, &biz.Query{Text: "q", Limit: 1})
	assert.ErrorContains(t, err, "unavailable")
}

func TestRelevance(t *testing.T) {
	assert.InDelta(t, 0.8, relevance("COSINE", 0.8), 1e-6)
	assert.InDelta(t, 0.5, relevance("L2", 1), 1e-9)
	assert.InDelta(t, 1.0, relevance("L2", 0), 1e-9)
}

type countingRetriever struct {
	calls   atomic.Int32
	docs    []*biz.Document
	err     error
	release chan struct{}
}

func (r *countingRetriever) Retrieve(context.Context, *biz.Query) ([]*biz.Document, error) {
	r.calls.Add(1)
	if r.release != nil {
		<-r.release
	}
	return r.docs, r.err
}

func newCache(t *testing.T, next biz.Retriever) (*CachedRetriever, *miniredis.Miniredis, *metrics.ChatMetrics) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	m := metrics.New()
	return NewCachedRetriever(next, rdb, CacheConfig{TTL: time.Minute, KeyPrefix: "test:"}, m), mr, m
}

func TestCacheMissThenHit(t *testing.T) {
	next := &countingRetriever{docs: []*biz.Document{{PageContent: "x", Score: 0.7}}}
	c, mr, m := newCache(t, next)
	q := &biz.Query{Text: "q", Limit: 3, ModelRefKey: "k"}

	first, err := c.Retrieve(ctx, q)
	require.NoError(t, err)
	second, err := c.Retrieve(ctx, q)
	require.NoError(t, err)

	assert.Equal(t, int32(1), next.calls.Load())
	assert.Equal(t, first, second)
	assert.True(t, mr.Exists(c.CacheKey(q)))
	assert.Equal(t, time.Minute, mr.TTL(c.CacheKey(q)))
	assert.EqualValues(t, 1, m.Stats()["retrieval"].(map[string]any)["cache_hits"])
}

func TestCacheKeyCoversQueryShape(t *testing.T) {
	c, _, _ := newCache(t, &countingRetriever{})
	base := biz.Query{Text: "q", Limit: 3, ModelRefKey: "k"}
	keys := map[string]bool{c.CacheKey(&base): true}
	for _, q := range []biz.Query{
		{Text: "q2", Limit: 3, ModelRefKey: "k"},
		{Text: "q", Limit: 4, ModelRefKey: "k"},
		{Text: "q", Threshold: 0.5, ModelRefKey: "k"},
		{Text: "q", Limit: 3, ModelRefKey: "other"},
	} {
		keys[c.CacheKey(&q)] = true
	}
	assert.Len(t, keys, 5)
}

func TestCacheFallsBackWhenRedisDown(t *testing.T) {
	next := &countingRetriever{docs: []*biz.Document{{PageContent: "x"}}}
	c, mr, _ := newCache(t, next)
	mr.Close()

	docs, err := c.Retrieve(ctx, &biz.Query{Text: "q", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCacheDropsCorruptEntry(t *testing.T) {
	next := &countingRetriever{docs: []*biz.Document{{PageContent: "fresh"}}}
	c, mr, _ := newCache(t, next)
	q := &biz.Query{Text: "q", Limit: 1}
	require.NoError(t, mr.Set(c.CacheKey(q), "{not json"))

	docs, err := c.Retrieve(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, "fresh", docs[0].PageContent)
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	next := &countingRetriever{err: stderrors.New("down")}
	c, mr, _ := newCache(t, next)
	q := &biz.Query{Text: "q", Limit: 1}

	_, err := c.Retrieve(ctx, q)
	assert.Error(t, err)
	assert.False(t, mr.Exists(c.CacheKey(q)))
}

func TestCacheCoalescesConcurrentLookups(t *testing.T) {
	next := &countingRetriever{docs: []*biz.Document{{PageContent: "x"}}, release: make(chan struct{})}
	c, _, _ := newCache(t, next)
	q := &biz.Query{Text: "q", Limit: 1}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			docs, err := c.Retrieve(ctx, q)
			assert.NoError(t, err)
			assert.Len(t, docs, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(next.release)
	wg.Wait()

	assert.Equal(t, int32(1), next.calls.Load())
}

func TestCacheClear(t *testing.T) {
	c, mr, _ := newCache(t, &countingRetriever{})
	require.NoError(t, mr.Set("test:a", "1"))
	require.NoError(t, mr.Set("test:b", "1"))
	require.NoError(t, mr.Set("other:c", "1"))

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, mr.Exists("other:c"))
}
