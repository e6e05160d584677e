package middleware

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// HealthStatus 健康状态。
type HealthStatus string

const (
	HealthStatusUp   HealthStatus = "UP"
	HealthStatusDown HealthStatus = "DOWN"
)

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status HealthStatus           `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// HealthChecker checks one dependency.
type HealthChecker func(ctx context.Context) error

// HealthManager 汇总各依赖（数据库、Redis、Milvus）的健康检查。
type HealthManager struct {
	mu       sync.RWMutex
	checkers map[string]HealthChecker
	timeout  time.Duration
}

// NewHealthManager creates a HealthManager; each check gets at most timeout.
func NewHealthManager(timeout time.Duration) *HealthManager {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthManager{checkers: make(map[string]HealthChecker), timeout: timeout}
}

// Register adds or replaces a named checker.
func (h *HealthManager) Register(name string, checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// Check 并发执行全部检查，任一失败则整体为 DOWN。
func (h *HealthManager) Check(ctx context.Context) HealthResponse {
	h.mu.RLock()
	names := make([]string, 0, len(h.checkers))
	for name := range h.checkers {
		names = append(names, name)
	}
	sort.Strings(names)
	checkers := make([]HealthChecker, len(names))
	for i, name := range names {
		checkers[i] = h.checkers[name]
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	results := make([]CheckResult, len(names))
	var g errgroup.Group
	for i := range checkers {
		g.Go(func() error {
			if err := checkers[i](ctx); err != nil {
				results[i] = CheckResult{Status: HealthStatusDown, Message: err.Error()}
			} else {
				results[i] = CheckResult{Status: HealthStatusUp}
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := HealthResponse{Status: HealthStatusUp}
	if len(names) > 0 {
		resp.Checks = make(map[string]CheckResult, len(names))
	}
	for i, name := range names {
		resp.Checks[name] = results[i]
		if results[i].Status == HealthStatusDown {
			resp.Status = HealthStatusDown
		}
	}
	return resp
}

// Handler serves the aggregated health; DOWN maps to 503.
func (h *HealthManager) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := h.Check(c.Request.Context())
		status := http.StatusOK
		if resp.Status == HealthStatusDown {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}
