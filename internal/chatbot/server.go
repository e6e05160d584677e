// Package chatbot 对话服务的组装与运行。
package chatbot

import (
	"context"
	"fmt"
	"time"

	"github.com/kart-io/logger"
	"github.com/spf13/viper"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/biz"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/corpus"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/handler"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/metrics"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/internal/chatbot/router"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/component/milvus"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/component/redis"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/app"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/config"
	ctxlog "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/logger"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/middleware"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/pool"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/server"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/infra/tracing"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm/resilience"
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

	// 注册模型供应商
	_ "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm/bedrock"
	_ "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm/ollama"
	_ "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/llm/openai"
)

// Name is the name of the application.
const Name = "chatbot"

// Config 组装服务所需的全部配置。
type Config struct {
	HTTPOptions     *httpopts.Options
	LogOptions      *logopts.Options
	JWTOptions      *jwtopts.Options
	StorageOptions  *storageopts.Options
	PostgresOptions *pgopts.Options
	MySQLOptions    *mysqlopts.Options
	MongoDBOptions  *mongodbopts.Options
	RedisOptions    *redisopts.Options
	MilvusOptions   *milvusopts.Options
	LLMOptions      *llmopts.Options
	TracingOptions  *tracingopts.Options
	ChatbotOptions  *chatbotopts.Options
	WorkerOptions   *pool.Config

	// HealthTimeout 单个依赖健康检查的超时
	HealthTimeout      time.Duration
	HideVersionDetails bool
}

// Server 组装完成、可运行的对话服务。
type Server struct {
	manager *server.Manager
	watcher *config.Watcher
	workers *pool.Pool
	closers []closer
}

type closer struct {
	name  string
	close func(ctx context.Context) error
}

func (s *Server) onClose(name string, fn func(ctx context.Context) error) {
	s.closers = append(s.closers, closer{name: name, close: fn})
}

func ignoreCtx(fn func() error) func(context.Context) error {
	return func(context.Context) error { return fn() }
}

// NewServer initializes every dependency and wires the HTTP API.
// v 为已加载配置文件的 viper，为 nil 时不启用热更新。
func (cfg *Config) NewServer(ctx context.Context, v *viper.Viper) (_ *Server, err error) {
	s := &Server{manager: server.NewManager(cfg.HTTPOptions.ShutdownTimeout)}
	defer func() {
		if err != nil {
			_ = s.close(context.Background())
		}
	}()

	// 1. 初始化日志
	version := app.GetVersion()
	if err := cfg.LogOptions.Init(Name, version); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Infow("Starting chatbot service...", "version", version)

	// 2. 初始化追踪
	cfg.TracingOptions.ServiceVersion = version
	tp, err := tracing.NewProvider(ctx, cfg.TracingOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	s.onClose("tracing", tp.Shutdown)

	health := middleware.NewHealthManager(cfg.HealthTimeout)
	chatMetrics := metrics.GetChatMetrics()

	// 3. 初始化会话存储
	factory, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.StorageOptions.Driver, err)
	}
	s.onClose("store", ignoreCtx(closeStore))
	if cfg.StorageOptions.AutoMigrate {
		if err := factory.AutoMigrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate store: %w", err)
		}
	}
	health.Register("store", factory.Ping)
	logger.Infow("Chat store initialized", "driver", cfg.StorageOptions.Driver)

	// 4. 初始化模型供应商
	provider, err := newProvider(ctx, cfg.LLMOptions)
	if err != nil {
		return nil, err
	}
	var reranker llm.Reranker
	if provider.SupportsRerank() {
		reranker = provider
	}
	logger.Infow("Model provider initialized", "provider", provider.Name(), "rerank", reranker != nil)

	// 5. 初始化 Milvus 检索
	milvusClient, err := milvus.New(ctx, cfg.MilvusOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize milvus: %w", err)
	}
	s.onClose("milvus", milvusClient.Close)
	health.Register("milvus", milvusClient.Ping)

	var retriever biz.Retriever = corpus.NewMilvusRetriever(milvusClient, provider, cfg.MilvusOptions)
	var cache handler.CacheClearer

	// 6. 初始化 Redis 检索缓存（可选）
	if cfg.RedisOptions.Enabled {
		redisClient, err := redis.New(ctx, cfg.RedisOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize redis: %w", err)
		}
		s.onClose("redis", ignoreCtx(redisClient.Close))
		health.Register("redis", redisClient.Ping)

		cached := corpus.NewCachedRetriever(retriever, redisClient.Client(), corpus.CacheConfig{
			TTL:       cfg.RedisOptions.CacheTTL,
			KeyPrefix: cfg.RedisOptions.KeyPrefix,
		}, chatMetrics)
		retriever, cache = cached, cached
		logger.Infow("Retrieval cache enabled", "ttl", cfg.RedisOptions.CacheTTL.String())
	}

	// 7. 初始化后台任务池
	s.workers, err = pool.New("handoff-summary", cfg.WorkerOptions)
	if err != nil {
		return nil, err
	}

	// 8. 初始化业务层
	chats, messages := factory.Chats(), factory.Messages()
	orchestrator := biz.NewOrchestrator(cfg.ChatbotOptions, biz.Dependencies{
		Gateway:   provider,
		Reranker:  reranker,
		Retriever: retriever,
		Chats:     chats,
		Messages:  messages,
		Metrics:   chatMetrics,
	})
	summarizer := biz.NewSummarizer(provider, chats, messages, s.workers, chatMetrics)

	// 9. 配置热更新
	if v != nil {
		s.watcher = config.NewWatcher(v)
		s.watcher.Subscribe(Name, config.NewReloadableSubscriber(orchestrator, Name, chatbotopts.NewOptions).Handler())
		ctxlog.NewReloadableLogger(cfg.LogOptions, Name, version).Register(s.watcher)
	}

	// 10. 注册路由
	engine := server.NewEngine(cfg.HTTPOptions)
	router.Register(engine, router.Config{
		ServiceName:        Name,
		JWT:                cfg.JWTOptions,
		AllowOrigins:       cfg.HTTPOptions.AllowOrigins,
		Health:             health,
		HideVersionDetails: cfg.HideVersionDetails,
	}, handler.Dependencies{
		Chats:      biz.NewChatService(chats, messages),
		Pipeline:   orchestrator,
		Summarizer: summarizer,
		Cache:      cache,
		Metrics:    chatMetrics,
	})
	s.manager.Add(server.NewHTTPServer(cfg.HTTPOptions, engine))

	return s, nil
}

// newProvider 创建供应商并加上重试与熔断。
func newProvider(ctx context.Context, opts *llmopts.Options) (*resilience.Provider, error) {
	inner, err := llm.NewProvider(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm provider: %w", err)
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = opts.MaxRetries + 1
	cb := resilience.DefaultCircuitBreakerConfig()
	if opts.CircuitBreakerThreshold > 0 {
		cb.MaxFailures = opts.CircuitBreakerThreshold
	}

	p := resilience.Wrap(inner, retry, cb)
	p.CircuitBreaker().OnStateChange(func(name string, from, to resilience.State) {
		logger.Warnw("llm circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
	})
	return p, nil
}

// Run 启动服务并阻塞到 ctx 取消或收到退出信号，之后释放全部资源。
func (s *Server) Run(ctx context.Context) error {
	if s.watcher != nil {
		s.watcher.Start()
	}
	logger.Info("Chatbot service is ready")

	runErr := s.manager.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return utilerrors.NewAggregate([]error{runErr, s.close(shutdownCtx)})
}

// close 先停止热更新与后台任务，再按创建的逆序关闭依赖。
func (s *Server) close(ctx context.Context) error {
	var errs []error
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.workers != nil {
		timeout := 10 * time.Second
		if deadline, ok := ctx.Deadline(); ok {
			timeout = time.Until(deadline)
		}
		if err := s.workers.ReleaseTimeout(timeout); err != nil {
			errs = append(errs, fmt.Errorf("workers: %w", err))
		}
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		c := s.closers[i]
		if err := c.close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		logger.Debugw("resource closed", "name", c.name)
	}
	s.closers = nil
	return utilerrors.NewAggregate(errs)
}
