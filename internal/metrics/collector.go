// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/events"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// 事件总线
	eventsTotal *prometheus.CounterVec

	// 浏览器 / 页面
	browsersActive prometheus.Gauge
	pagesActive    prometheus.Gauge

	// 导航
	navigationsTotal   *prometheus.CounterVec
	navigationAttempts prometheus.Counter
	navigationDuration *prometheus.HistogramVec

	// 插件与钩子
	pluginsRegistered prometheus.Gauge
	hookDuration      *prometheus.HistogramVec

	// 会话
	sessionOpsTotal *prometheus.CounterVec

	// 验证码
	captchaTotal *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registry
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
	c.httpRequestSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)
	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.eventsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of events emitted on the bus",
		},
		[]string{"event"},
	)

	c.browsersActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "browsers_active",
		Help:      "Number of running browser instances",
	})
	c.pagesActive = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pages_active",
		Help:      "Number of open pages",
	})

	c.navigationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "navigations_total",
			Help:      "Total number of navigations by outcome",
		},
		[]string{"result"}, // succeeded, failed, error
	)
	c.navigationAttempts = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "navigation_attempts_total",
		Help:      "Total number of navigation attempts including retries",
	})
	c.navigationDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "navigation_duration_seconds",
			Help:      "End-to-end navigation duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"result"},
	)

	c.pluginsRegistered = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "plugins_registered",
		Help:      "Number of registered plugins",
	})
	c.hookDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hook_duration_seconds",
			Help:      "Plugin hook dispatch duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"hook"},
	)

	c.sessionOpsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_operations_total",
			Help:      "Total number of session operations",
		},
		[]string{"operation"}, // applied, extracted, cleared
	)

	c.captchaTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captcha_total",
			Help:      "Total number of captcha detections and solutions",
		},
		[]string{"stage", "type"},
	)

	c.errorsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by source",
		},
		[]string{"source"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(max(requestSize, 0)))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// Middleware 记录每个请求。path 取路由模式而不是原始 URL，避免标签爆炸；
// 因此它必须直接包裹 ServeMux
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		c.RecordHTTPRequest(r.Method, path, rw.status, time.Since(start), r.ContentLength, rw.written)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// =============================================================================
// 🌐 浏览器指标记录
// =============================================================================

// RecordNavigation 记录一次完整导航（含重试）的耗时
func (c *Collector) RecordNavigation(success bool, duration time.Duration) {
	result := "succeeded"
	if !success {
		result = "failed"
	}
	c.navigationDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// RecordHook 记录一次钩子分发耗时
func (c *Collector) RecordHook(hook string, duration time.Duration) {
	c.hookDuration.WithLabelValues(hook).Observe(duration.Seconds())
}

// AttachBus 订阅总线上的全部事件并转换为指标，返回取消订阅函数
func (c *Collector) AttachBus(bus *events.Bus) (detach func()) {
	ids := make(map[events.Name]events.ListenerID, len(events.All))
	for _, name := range events.All {
		ids[name] = bus.On(name, func(_ context.Context, payload any) error {
			c.observe(name, payload)
			return nil
		})
	}
	return func() {
		for name, id := range ids {
			bus.Off(name, id)
		}
	}
}

func (c *Collector) observe(name events.Name, payload any) {
	c.eventsTotal.WithLabelValues(string(name)).Inc()

	switch name {
	case events.BrowserCreated:
		c.browsersActive.Inc()
	case events.BrowserClosed:
		c.browsersActive.Dec()
	case events.PageCreated:
		c.pagesActive.Inc()
	case events.PageClosed:
		c.pagesActive.Dec()
	case events.NavigationStarted:
		c.navigationAttempts.Inc()
	case events.NavigationSucceeded:
		c.navigationsTotal.WithLabelValues("succeeded").Inc()
	case events.NavigationFailed:
		c.navigationsTotal.WithLabelValues("failed").Inc()
	case events.NavigationError:
		c.navigationsTotal.WithLabelValues("error").Inc()
	case events.PluginRegistered:
		c.pluginsRegistered.Inc()
	case events.PluginUnregistered:
		c.pluginsRegistered.Dec()
	case events.SessionApplied:
		c.sessionOpsTotal.WithLabelValues("applied").Inc()
	case events.SessionExtracted:
		c.sessionOpsTotal.WithLabelValues("extracted").Inc()
	case events.SessionCleared:
		c.sessionOpsTotal.WithLabelValues("cleared").Inc()
	case events.CaptchaDetected, events.CaptchaSolved:
		typ := "unknown"
		if p, ok := payload.(*events.CaptchaEvent); ok && p.Type != "" {
			typ = p.Type
		}
		stage := "detected"
		if name == events.CaptchaSolved {
			stage = "solved"
		}
		c.captchaTotal.WithLabelValues(stage, typ).Inc()
	case events.Error:
		source := "unknown"
		if p, ok := payload.(*events.ErrorEvent); ok && p.Source != "" {
			source = p.Source
		}
		c.errorsTotal.WithLabelValues(source).Inc()
	case events.BrowserError:
		c.errorsTotal.WithLabelValues("browser").Inc()
	case events.PageError:
		c.errorsTotal.WithLabelValues("page").Inc()
	}
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
