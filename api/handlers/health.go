package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// =============================================================================
// 🏥 健康检查 Handler
// =============================================================================

// HealthHandler 健康检查处理器
type HealthHandler struct {
	logger  *zap.Logger
	version string
	timeout time.Duration

	mu     sync.RWMutex
	checks []registeredCheck
}

type registeredCheck struct {
	check    HealthCheck
	optional bool
}

// HealthCheck 健康检查接口
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status   string `json:"status"` // pass, fail
	Message  string `json:"message,omitempty"`
	Latency  string `json:"latency,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		logger:  logger.With(zap.String("component", "health")),
		timeout: 5 * time.Second,
	}
}

// WithVersion 在所有响应中带上版本号
func (h *HealthHandler) WithVersion(version string) *HealthHandler {
	h.version = version
	return h
}

// RegisterCheck 注册就绪检查，失败时 /readyz 返回 503
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.register(check, false)
}

// RegisterOptionalCheck 失败只把状态降为 degraded
func (h *HealthHandler) RegisterOptionalCheck(check HealthCheck) {
	h.register(check, true)
}

func (h *HealthHandler) register(check HealthCheck, optional bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, registeredCheck{check: check, optional: optional})
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleHealthz 存活探针，只说明进程在运行
// @Summary 存活探针
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务处于活动状态"
// @Router /healthz [get]
func (h *HealthHandler) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// HandleReady 并发执行所有检查
// @Summary 就绪检查
// @Description 检查会话存储等依赖是否可用
// @Tags 健康
// @Produce json
// @Success 200 {object} HealthStatus "服务已准备就绪或降级"
// @Failure 503 {object} HealthStatus "服务尚未准备好"
// @Router /readyz [get]
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	status := h.Evaluate(r.Context())
	code := http.StatusOK
	if status.Status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// Evaluate 执行检查并汇总，CLI 的 health 命令也使用它
func (h *HealthHandler) Evaluate(ctx context.Context) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]registeredCheck(nil), h.checks...)
	h.mu.RUnlock()

	results := make([]CheckResult, len(checks))
	var g errgroup.Group
	for i, rc := range checks {
		g.Go(func() error {
			start := time.Now()
			err := rc.check.Check(ctx)
			latency := time.Since(start)

			res := CheckResult{Status: "pass", Latency: latency.String(), Optional: rc.optional}
			if err != nil {
				res.Status = "fail"
				res.Message = err.Error()
				h.logger.Warn("health check failed",
					zap.String("check", rc.check.Name()),
					zap.Bool("optional", rc.optional),
					zap.Duration("latency", latency),
					zap.Error(err))
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for i, rc := range checks {
		res := results[i]
		status.Checks[rc.check.Name()] = res
		if res.Status == "fail" {
			if !rc.optional {
				status.Status = "unhealthy"
			} else if status.Status == "healthy" {
				status.Status = "degraded"
			}
		}
	}
	return status
}

// HandleVersion 返回构建信息
// @Summary 版本信息
// @Tags 健康
// @Produce json
// @Success 200 {object} map[string]string "版本信息"
// @Router /version [get]
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteSuccess(w, r, map[string]string{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// =============================================================================
// 🔧 内置健康检查实现
// =============================================================================

// CheckFunc 把一个 ping 函数适配为 HealthCheck
type CheckFunc struct {
	name string
	fn   func(ctx context.Context) error
}

// NewCheck 创建命名检查，例如 NewCheck("session_store", store.Ping)
func NewCheck(name string, fn func(ctx context.Context) error) *CheckFunc {
	return &CheckFunc{name: name, fn: fn}
}

func (c *CheckFunc) Name() string { return c.name }

func (c *CheckFunc) Check(ctx context.Context) error { return c.fn(ctx) }
