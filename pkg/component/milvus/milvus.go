// Package milvus 语料向量检索使用的 Milvus 客户端。
package milvus

import (
	"context"
	"fmt"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/milvusclient"

	milvusopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/milvus"
)

// Client wraps the Milvus SDK client.
type Client struct {
	client *milvusclient.Client
	opts   *milvusopts.Options
}

// New creates a new Milvus client.
func New(ctx context.Context, opts *milvusopts.Options) (*Client, error) {
	if opts == nil {
		return nil, fmt.Errorf("milvus options is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	c, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  opts.Address,
		Username: opts.Username,
		Password: opts.Password,
		DBName:   opts.Database,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus: %w", err)
	}

	return &Client{client: c, opts: opts}, nil
}

// Close closes the Milvus client connection.
func (c *Client) Close(ctx context.Context) error {
	return c.client.Close(ctx)
}

// Options returns the options the client was built from.
func (c *Client) Options() *milvusopts.Options {
	return c.opts
}

// Ping 检查默认语料集合是否存在，用于健康检查。
func (c *Client) Ping(ctx context.Context) error {
	ok, err := c.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(c.opts.Collection))
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !ok {
		return fmt.Errorf("collection %q not found", c.opts.Collection)
	}
	return nil
}

// SearchResult represents a single search hit.
type SearchResult struct {
	ID    int64
	Score float32
	// Fields 输出字段，JSON 字段保持原始字节
	Fields map[string]any
}

// Search performs a vector similarity search on the given collection.
func (c *Client) Search(ctx context.Context, collection string, vector []float32, topK int, outputFields []string) ([]SearchResult, error) {
	loadTask, err := c.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to load collection: %w", err)
	}
	if err := loadTask.Await(ctx); err != nil {
		return nil, fmt.Errorf("failed to wait for collection loading: %w", err)
	}

	results, err := c.client.Search(ctx, milvusclient.NewSearchOption(
		collection,
		topK,
		[]entity.Vector{entity.FloatVector(vector)},
	).WithANNSField("embedding").
		WithSearchParam("nprobe", "16").
		WithOutputFields(outputFields...))
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(results) == 0 {
		return []SearchResult{}, nil
	}

	set := results[0]
	out := make([]SearchResult, 0, set.ResultCount)
	for i := 0; i < set.ResultCount; i++ {
		hit := SearchResult{Score: set.Scores[i], Fields: make(map[string]any, len(set.Fields))}
		if ids, ok := set.IDs.(*column.ColumnInt64); ok {
			hit.ID = ids.Data()[i]
		}
		for _, field := range set.Fields {
			switch col := field.(type) {
			case *column.ColumnVarChar:
				hit.Fields[col.Name()] = col.Data()[i]
			case *column.ColumnInt64:
				hit.Fields[col.Name()] = col.Data()[i]
			case *column.ColumnDouble:
				hit.Fields[col.Name()] = col.Data()[i]
			case *column.ColumnFloat:
				hit.Fields[col.Name()] = col.Data()[i]
			case *column.ColumnBool:
				hit.Fields[col.Name()] = col.Data()[i]
			case *column.ColumnJSONBytes:
				hit.Fields[col.Name()] = col.Data()[i]
			}
		}
		out = append(out, hit)
	}
	return out, nil
}
