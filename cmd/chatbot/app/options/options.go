// Package options contains flags and options for initializing the chatbot server.
package options

import (
	"fmt"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/app"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/pool"
	chatbotopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/chatbot"
	jwtopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/jwt"
	llmopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/llm"
	logopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/logger"
	milvusopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/milvus"
	mongodbopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/mongodb"
	mysqlopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/mysql"
	pgopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/postgres"
	redisopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/redis"
	httpopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/server/http"
	storageopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/storage"
	tracingopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/tracing"
)

var _ app.CliOptions = (*ServerOptions)(nil)

// ServerOptions contains the configuration options for the server.
type ServerOptions struct {
	HTTPOptions *httpopts.Options `json:"http" mapstructure:"http"`
	LogOptions  *logopts.Options  `json:"log" mapstructure:"log"`
	JWTOptions  *jwtopts.Options  `json:"jwt" mapstructure:"jwt"`

	// StorageOptions 选择会话存储驱动，只校验被选中驱动的连接配置。
	StorageOptions  *storageopts.Options `json:"storage" mapstructure:"storage"`
	PostgresOptions *pgopts.Options      `json:"postgres" mapstructure:"postgres"`
	MySQLOptions    *mysqlopts.Options   `json:"mysql" mapstructure:"mysql"`
	MongoDBOptions  *mongodbopts.Options `json:"mongodb" mapstructure:"mongodb"`

	RedisOptions   *redisopts.Options   `json:"redis" mapstructure:"redis"`
	MilvusOptions  *milvusopts.Options  `json:"milvus" mapstructure:"milvus"`
	LLMOptions     *llmopts.Options     `json:"llm" mapstructure:"llm"`
	TracingOptions *tracingopts.Options `json:"tracing" mapstructure:"tracing"`

	// ChatbotOptions 对话管道配置，运行中修改配置文件的 chatbot 段会热更新。
	ChatbotOptions *chatbotopts.Options `json:"chatbot" mapstructure:"chatbot"`
	WorkerOptions  *pool.Config         `json:"workers" mapstructure:"workers"`

	HealthTimeout      time.Duration `json:"health-timeout" mapstructure:"health-timeout"`
	HideVersionDetails bool          `json:"hide-version-details" mapstructure:"hide-version-details"`
}

// NewServerOptions creates a ServerOptions instance with default values.
func NewServerOptions() *ServerOptions {
	return &ServerOptions{
		HTTPOptions:     httpopts.NewOptions(),
		LogOptions:      logopts.NewOptions(),
		JWTOptions:      jwtopts.NewOptions(),
		StorageOptions:  storageopts.NewOptions(),
		PostgresOptions: pgopts.NewOptions(),
		MySQLOptions:    mysqlopts.NewOptions(),
		MongoDBOptions:  mongodbopts.NewOptions(),
		RedisOptions:    redisopts.NewOptions(),
		MilvusOptions:   milvusopts.NewOptions(),
		LLMOptions:      llmopts.NewOptions(),
		TracingOptions:  tracingopts.NewOptions(),
		ChatbotOptions:  chatbotopts.NewOptions(),
		WorkerOptions:   pool.DefaultConfig(),
		HealthTimeout:   3 * time.Second,
	}
}

// Flags returns flags grouped by section.
func (o *ServerOptions) Flags() (fss app.NamedFlagSets) {
	o.HTTPOptions.AddFlags(fss.FlagSet("http"))
	o.LogOptions.AddFlags(fss.FlagSet("log"))
	o.JWTOptions.AddFlags(fss.FlagSet("jwt"))
	o.StorageOptions.AddFlags(fss.FlagSet("storage"))
	o.PostgresOptions.AddFlags(fss.FlagSet("postgres"))
	o.MySQLOptions.AddFlags(fss.FlagSet("mysql"))
	o.MongoDBOptions.AddFlags(fss.FlagSet("mongodb"))
	o.RedisOptions.AddFlags(fss.FlagSet("redis"))
	o.MilvusOptions.AddFlags(fss.FlagSet("milvus"))
	o.LLMOptions.AddFlags(fss.FlagSet("llm"))
	o.TracingOptions.AddFlags(fss.FlagSet("tracing"))
	o.ChatbotOptions.AddFlags(fss.FlagSet("chatbot"))

	fs := fss.FlagSet("misc")
	fs.IntVar(&o.WorkerOptions.Capacity, "workers.capacity", o.WorkerOptions.Capacity, "Concurrent handoff summary jobs.")
	fs.DurationVar(&o.HealthTimeout, "health-timeout", o.HealthTimeout, "Timeout of each dependency health check.")
	fs.BoolVar(&o.HideVersionDetails, "hide-version-details", o.HideVersionDetails, "Only expose the version number on /version.")
	return fss
}

// Complete completes all the required options.
func (o *ServerOptions) Complete() error {
	completers := []struct {
		name string
		c    interface{ Complete() error }
	}{
		{"postgres", o.PostgresOptions},
		{"mysql", o.MySQLOptions},
		{"mongodb", o.MongoDBOptions},
		{"redis", o.RedisOptions},
		{"llm", o.LLMOptions},
		{"chatbot", o.ChatbotOptions},
	}
	for _, item := range completers {
		if err := item.c.Complete(); err != nil {
			return fmt.Errorf("%s: %w", item.name, err)
		}
	}
	return nil
}

// Validate checks whether the options in ServerOptions are valid.
func (o *ServerOptions) Validate() error {
	var errs []error
	errs = append(errs, o.HTTPOptions.Validate()...)
	errs = append(errs, o.LogOptions.Validate()...)
	errs = append(errs, o.JWTOptions.Validate()...)
	errs = append(errs, o.StorageOptions.Validate()...)
	switch o.StorageOptions.Driver {
	case storageopts.DriverPostgres:
		errs = append(errs, o.PostgresOptions.Validate()...)
	case storageopts.DriverMySQL:
		errs = append(errs, o.MySQLOptions.Validate()...)
	case storageopts.DriverMongoDB:
		errs = append(errs, o.MongoDBOptions.Validate()...)
	}
	errs = append(errs, o.RedisOptions.Validate()...)
	errs = append(errs, o.MilvusOptions.Validate()...)
	errs = append(errs, o.LLMOptions.Validate()...)
	errs = append(errs, o.TracingOptions.Validate()...)
	errs = append(errs, o.ChatbotOptions.Validate()...)
	if o.WorkerOptions == nil || o.WorkerOptions.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("workers.capacity must be positive"))
	}
	return utilerrors.NewAggregate(errs)
}

// Config builds a chatbot.Config based on ServerOptions.
func (o *ServerOptions) Config() (*chatbot.Config, error) {
	return &chatbot.Config{
		HTTPOptions:        o.HTTPOptions,
		LogOptions:         o.LogOptions,
		JWTOptions:         o.JWTOptions,
		StorageOptions:     o.StorageOptions,
		PostgresOptions:    o.PostgresOptions,
		MySQLOptions:       o.MySQLOptions,
		MongoDBOptions:     o.MongoDBOptions,
		RedisOptions:       o.RedisOptions,
		MilvusOptions:      o.MilvusOptions,
		LLMOptions:         o.LLMOptions,
		TracingOptions:     o.TracingOptions,
		ChatbotOptions:     o.ChatbotOptions,
		WorkerOptions:      o.WorkerOptions,
		HealthTimeout:      o.HealthTimeout,
		HideVersionDetails: o.HideVersionDetails,
	}, nil
}
