package server

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/kart-io/logger"

	httpopts "github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/options/server/http"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/errors"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/response"
	"github.com/cal-poly-dxhub/generic-chatbot-framework/pkg/utils/validator"
)

// ginValidator 让 ShouldBind* 使用全局校验器（含自定义规则）。
type ginValidator struct {
	v *validator.Validator
}

func (g ginValidator) ValidateStruct(obj any) error {
	if obj == nil {
		return nil
	}
	return g.v.Validate(obj)
}

func (g ginValidator) Engine() any { return g.v.Engine() }

// NewEngine 创建不带默认中间件的 gin 引擎，并注册 JSON 格式的 404/405。
func NewEngine(opts *httpopts.Options) *gin.Engine {
	gin.SetMode(opts.Mode)
	binding.Validator = ginValidator{v: validator.Global()}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.NoRoute(func(c *gin.Context) {
		response.Fail(c, errors.ErrNotFound.WithMessage("route not found"))
	})
	engine.NoMethod(func(c *gin.Context) {
		response.Fail(c, errors.ErrBadRequest.WithMessage("method not allowed"))
	})
	return engine
}

// HTTPServer serves a gin engine.
type HTTPServer struct {
	opts   *httpopts.Options
	server *http.Server
}

var _ Runnable = (*HTTPServer)(nil)

// NewHTTPServer creates an HTTPServer for handler.
func NewHTTPServer(opts *httpopts.Options, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		opts: opts,
		server: &http.Server{
			Addr:              opts.Addr,
			Handler:           handler,
			ReadTimeout:       opts.ReadTimeout,
			ReadHeaderTimeout: opts.ReadTimeout,
			IdleTimeout:       opts.IdleTimeout,
		},
	}
}

func (s *HTTPServer) Name() string { return "http" }

// Start 同步监听端口，返回时已可接受连接。
func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	go func() {
		if err := s.server.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.Errorw("http server exited", "addr", s.opts.Addr, "error", err.Error())
		}
	}()
	logger.Infow("http server listening", "addr", ln.Addr().String())
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *HTTPServer) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
