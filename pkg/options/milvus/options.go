// Package milvusopts Milvus 客户端配置项。
package milvusopts

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Options contains Milvus client configuration.
type Options struct {
	Address  string        `json:"address" mapstructure:"address"`
	Database string        `json:"database" mapstructure:"database"`
	Username string        `json:"username" mapstructure:"username"`
	Password string        `json:"-" mapstructure:"password"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`

	// Collection 语料向量集合，需包含 embedding / content / metadata 字段。
	Collection string `json:"collection" mapstructure:"collection"`
	// Metric 集合使用的距离度量 (COSINE|IP|L2)，决定相似度分数的换算方式。
	Metric string `json:"metric" mapstructure:"metric"`
	// Collections 嵌入模型 ref key 到集合名的映射，未命中的空 key 使用 Collection。
	Collections map[string]string `json:"collections" mapstructure:"collections"`
	// MaxCandidates 只按阈值检索时一次取回的候选上限。
	MaxCandidates int `json:"max-candidates" mapstructure:"max-candidates"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		Address:       "localhost:19530",
		Database:      "default",
		Timeout:       30 * time.Second,
		Collection:    "chatbot_corpus",
		Metric:        "COSINE",
		MaxCandidates: 50,
	}
}

// AddFlags adds flags to the flagset.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "milvus."
	fs.StringVar(&o.Address, p+"address", o.Address, "Milvus server address (host:port).")
	fs.StringVar(&o.Database, p+"database", o.Database, "Milvus database name.")
	fs.StringVar(&o.Username, p+"username", o.Username, "Milvus username for authentication.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "Connection and operation timeout.")
	fs.StringVar(&o.Collection, p+"collection", o.Collection, "Corpus collection name.")
	fs.StringVar(&o.Metric, p+"metric", o.Metric, "Collection metric type (COSINE|IP|L2).")
	fs.StringToStringVar(&o.Collections, p+"collections", o.Collections, "Embedding model ref key to collection name.")
	fs.IntVar(&o.MaxCandidates, p+"max-candidates", o.MaxCandidates, "Candidate cap of a threshold-only search.")
}

// Validate validates the options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}
	var errs []error
	if o.Address == "" {
		errs = append(errs, fmt.Errorf("milvus address is required"))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("milvus timeout must be positive"))
	}
	if o.Collection == "" {
		errs = append(errs, fmt.Errorf("milvus collection is required"))
	}
	if o.MaxCandidates <= 0 {
		errs = append(errs, fmt.Errorf("milvus max-candidates must be positive"))
	}
	switch o.Metric {
	case "COSINE", "IP", "L2":
	default:
		errs = append(errs, fmt.Errorf("milvus metric %q is not one of COSINE|IP|L2", o.Metric))
	}
	return errs
}
