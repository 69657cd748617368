package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/browserflow"
	"github.com/BaSui01/browserflow/api/handlers"
	"github.com/BaSui01/browserflow/config"
	"github.com/BaSui01/browserflow/internal/channel"
	"github.com/BaSui01/browserflow/internal/metrics"
	"github.com/BaSui01/browserflow/internal/server"
	"github.com/BaSui01/browserflow/internal/telemetry"
	"github.com/BaSui01/browserflow/plugins"
)

// =============================================================================
// 🖥️ serve 命令
// =============================================================================

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, loader, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, level := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting BrowserFlow",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	ctx, cancel := signalContext()
	defer cancel()

	s, err := NewServer(ctx, cfg, logger, level, withLoader(loader, *configPath != ""))
	if err != nil {
		return err
	}
	if err := s.Run(ctx); err != nil {
		return err
	}
	logger.Info("BrowserFlow stopped")
	return nil
}

// =============================================================================
// 🏗️ Server
// =============================================================================

// Server 组装 App、配置热重载、HTTP 与 Metrics 两个端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	level  zap.AtomicLevel

	app       *browserflow.App
	reload    *config.HotReloadManager
	registry  *prometheus.Registry
	collector *metrics.Collector
	stream    *handlers.EventStream
	otel      *telemetry.Providers

	detachMetrics func()
	stopLimiter   context.CancelFunc
	handler       http.Handler
}

type serverOptions struct {
	loader  *config.Loader
	appOpts []browserflow.Option
}

// ServerOption 配置 NewServer
type ServerOption func(*serverOptions)

// withLoader 启用基于配置文件的热重载
func withLoader(l *config.Loader, enabled bool) ServerOption {
	return func(o *serverOptions) {
		if enabled {
			o.loader = l
		}
	}
}

// withAppOptions 透传给 browserflow.New，测试中用于替换启动器
func withAppOptions(opts ...browserflow.Option) ServerOption {
	return func(o *serverOptions) { o.appOpts = append(o.appOpts, opts...) }
}

// NewServer 构建全部组件但不监听端口
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger, level zap.AtomicLevel, opts ...ServerOption) (*Server, error) {
	var o serverOptions
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{cfg: cfg, logger: logger, level: level}

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.otel = otelProviders

	// 1. 指标
	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.collector = metrics.NewCollector("browserflow", s.registry, logger)

	// 2. App
	appOpts := append([]browserflow.Option{
		browserflow.WithNavigationObserver(s.collector.RecordNavigation),
	}, o.appOpts...)
	s.app, err = browserflow.New(ctx, cfg, logger, appOpts...)
	if err != nil {
		_ = s.otel.Shutdown(context.Background())
		return nil, fmt.Errorf("init browserflow: %w", err)
	}
	s.detachMetrics = s.collector.AttachBus(s.app.Bus())
	s.app.Plugins().ObserveHooks(func(hook plugins.Hook, elapsed time.Duration) {
		s.collector.RecordHook(string(hook), elapsed)
	})

	// 3. 热重载
	if err := s.initHotReload(ctx, o.loader); err != nil {
		_ = s.shutdown(context.Background())
		return nil, err
	}

	// 4. 事件流与路由
	s.stream = handlers.NewEventStream(s.app.Bus(), channel.DefaultBroadcasterConfig(), cfg.Server.CORSAllowedOrigins, logger)
	s.handler = s.buildHandler()
	return s, nil
}

func (s *Server) initHotReload(ctx context.Context, loader *config.Loader) error {
	opts := []config.HotReloadOption{config.WithHotReloadLogger(s.logger)}
	if loader != nil {
		opts = append(opts, config.WithReloadLoader(loader))
	}
	s.reload = config.NewHotReloadManager(s.cfg, opts...)

	s.reload.OnChange(func(change config.ConfigChange) {
		s.logger.Info("Configuration changed",
			zap.String("path", change.Path),
			zap.String("source", change.Source),
			zap.Bool("requires_restart", change.RequiresRestart))
	})
	// 返回错误会触发回滚
	s.reload.OnReload(func(_, newConfig *config.Config) error {
		s.level.SetLevel(parseLevel(newConfig.Log.Level))
		return s.app.ApplyConfig(ctx, newConfig)
	})

	if err := s.reload.Start(ctx); err != nil {
		return fmt.Errorf("start hot reload manager: %w", err)
	}
	return nil
}

// =============================================================================
// 🌐 路由与中间件
// =============================================================================

func (s *Server) routes() *http.ServeMux {
	health := handlers.NewHealthHandler(s.logger).WithVersion(Version)
	if store := s.app.SessionStore(); store != nil {
		health.RegisterCheck(handlers.NewCheck("session_store", store.Ping))
	}
	// 慢客户端丢弃多于送达时只报告 degraded
	health.RegisterOptionalCheck(handlers.NewCheck("event_stream", func(context.Context) error {
		if st := s.stream.Stats(); st.Dropped > st.Delivered {
			return fmt.Errorf("event stream dropping: %d dropped, %d delivered", st.Dropped, st.Delivered)
		}
		return nil
	}))

	navigate := handlers.NewNavigateHandler(s.app, s.logger)
	sessions := handlers.NewSessionHandler(s.app.SessionStore(), s.logger)
	rt := handlers.NewRuntimeHandler(s.app.Plugins(), s.app.Browsers(), s.logger)
	cfgAPI := handlers.NewConfigHandler(s.reload, s.logger)

	mux := http.NewServeMux()

	// 探针
	mux.HandleFunc("GET /health", health.HandleReady)
	mux.HandleFunc("GET /healthz", health.HandleHealthz)
	mux.HandleFunc("GET /ready", health.HandleReady)
	mux.HandleFunc("GET /readyz", health.HandleReady)
	mux.HandleFunc("GET /version", health.HandleVersion(Version, BuildTime, GitCommit))

	// 导航
	mux.HandleFunc("POST /api/v1/navigate", navigate.HandleNavigate)

	// 会话
	mux.HandleFunc("GET /api/v1/sessions", sessions.HandleList)
	mux.HandleFunc("GET /api/v1/sessions/{name}", sessions.HandleGet)
	mux.HandleFunc("DELETE /api/v1/sessions/{name}", sessions.HandleDelete)

	// 插件与浏览器
	mux.HandleFunc("GET /api/v1/plugins", rt.HandleListPlugins)
	mux.HandleFunc("DELETE /api/v1/plugins/{name}", rt.HandleUnregisterPlugin)
	mux.HandleFunc("GET /api/v1/browsers", rt.HandleListBrowsers)
	mux.HandleFunc("DELETE /api/v1/browsers/{id}", rt.HandleCloseBrowser)

	// 事件流
	mux.HandleFunc("GET /api/v1/events/stream", s.stream.HandleStream)

	// 配置管理
	mux.HandleFunc("GET /api/v1/config", cfgAPI.HandleGetConfig)
	mux.HandleFunc("PUT /api/v1/config", cfgAPI.HandleUpdateConfig)
	mux.HandleFunc("POST /api/v1/config/reload", cfgAPI.HandleReload)
	mux.HandleFunc("GET /api/v1/config/fields", cfgAPI.HandleFields)
	mux.HandleFunc("GET /api/v1/config/changes", cfgAPI.HandleChanges)

	return mux
}

// buildHandler 组装中间件链。metrics 直接包裹 mux 以读取路由模式，
// tracing 紧随其外，二者之间不能再替换 *http.Request
func (s *Server) buildHandler() http.Handler {
	limiterCtx, cancel := context.WithCancel(context.Background())
	s.stopLimiter = cancel

	srv := s.cfg.Server
	return Chain(s.collector.Middleware(s.routes()),
		Recovery(s.logger),
		RequestID(),
		RequestLogger(s.logger),
		SecurityHeaders(),
		CORS(srv.CORSAllowedOrigins),
		RateLimiter(limiterCtx, srv.RateLimitRPS, srv.RateLimitBurst, s.logger),
		Auth(s.cfg.Auth, s.logger),
		telemetry.Middleware,
	)
}

// Handler 返回完整的 HTTP 处理链
func (s *Server) Handler() http.Handler { return s.handler }

// App 返回底层 App
func (s *Server) App() *browserflow.App { return s.app }

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 监听 HTTP 与 Metrics 端口，阻塞到 ctx 结束或任一服务异常退出，
// 然后关闭全部组件
func (s *Server) Run(ctx context.Context) error {
	srv := s.cfg.Server
	httpManager := server.NewManager(s.handler, server.Config{
		Addr:            fmt.Sprintf(":%d", srv.HTTPPort),
		ReadTimeout:     srv.ReadTimeout,
		WriteTimeout:    srv.WriteTimeout,
		IdleTimeout:     2 * srv.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: srv.ShutdownTimeout,
	}, s.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpManager.Run(gctx) })

	if srv.MetricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
		metricsManager := server.NewManager(mux, server.Config{
			Addr:            fmt.Sprintf(":%d", srv.MetricsPort),
			ReadTimeout:     srv.ReadTimeout,
			WriteTimeout:    srv.WriteTimeout,
			ShutdownTimeout: srv.ShutdownTimeout,
		}, s.logger)
		g.Go(func() error { return metricsManager.Run(gctx) })
	}

	// 被劫持的 WebSocket 连接不受 Server.Shutdown 管理，需要主动断开
	g.Go(func() error {
		<-gctx.Done()
		s.stream.Close()
		return nil
	})

	s.logger.Info("All servers started",
		zap.Int("http_port", srv.HTTPPort),
		zap.Int("metrics_port", srv.MetricsPort),
		zap.Bool("auth_enabled", s.cfg.Auth.Enabled()))

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.ShutdownTimeout)
	defer cancel()
	return errors.Join(runErr, s.shutdown(shutdownCtx))
}

// shutdown 按依赖逆序关闭：热重载 → 事件流 → App → 遥测
func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("Starting graceful shutdown...")
	var errs []error

	if s.stopLimiter != nil {
		s.stopLimiter()
	}
	if s.reload != nil {
		if err := s.reload.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop hot reload: %w", err))
		}
	}
	if s.stream != nil {
		s.stream.Close()
	}
	if s.detachMetrics != nil {
		s.detachMetrics()
	}
	if err := s.app.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close app: %w", err))
	}
	if err := s.otel.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
	}

	s.logger.Info("Graceful shutdown completed")
	return errors.Join(errs...)
}
