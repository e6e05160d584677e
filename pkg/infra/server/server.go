// Package server 服务生命周期：统一启动、信号处理与优雅关闭。
package server

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kart-io/logger"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
)

// Lifecycle defines the lifecycle interface for servers.
type Lifecycle interface {
	// Start 启动后立即返回，监听失败时返回错误
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Runnable represents a named component that can be started and stopped.
type Runnable interface {
	Lifecycle
	Name() string
}

// Manager 按注册顺序启动，按逆序停止。
type Manager struct {
	mu              sync.Mutex
	servers         []Runnable
	started         []Runnable
	shutdownTimeout time.Duration
}

// NewManager creates a Manager.
func NewManager(shutdownTimeout time.Duration) *Manager {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &Manager{shutdownTimeout: shutdownTimeout}
}

// Add registers a server.
func (m *Manager) Add(s Runnable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.servers = append(m.servers, s)
}

// Start 启动全部服务，任一失败时停止已启动的服务。
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.started) > 0 {
		return fmt.Errorf("server manager already started")
	}

	for _, s := range m.servers {
		if err := s.Start(ctx); err != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
			defer cancel()
			_ = m.stopLocked(stopCtx)
			return fmt.Errorf("failed to start %s: %w", s.Name(), err)
		}
		m.started = append(m.started, s)
		logger.Infow("server started", "name", s.Name())
	}
	return nil
}

// Stop stops every started server and aggregates the errors.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(ctx)
}

func (m *Manager) stopLocked(ctx context.Context) error {
	var errs []error
	for i := len(m.started) - 1; i >= 0; i-- {
		s := m.started[i]
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", s.Name(), err))
			continue
		}
		logger.Infow("server stopped", "name", s.Name())
	}
	m.started = nil
	return utilerrors.NewAggregate(errs)
}

// Run 启动后阻塞到 ctx 取消或收到 SIGINT/SIGTERM，然后在超时内优雅关闭。
func (m *Manager) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	logger.Info("shutting down servers")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()
	return m.Stop(shutdownCtx)
}
