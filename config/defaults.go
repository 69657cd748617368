// =============================================================================
// 📦 BrowserFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import (
	"time"

	"github.com/BaSui01/browserflow/captcha"
	"github.com/BaSui01/browserflow/internal/cache"
	"github.com/BaSui01/browserflow/internal/database"
	"github.com/BaSui01/browserflow/plugins/builtin"
	"github.com/BaSui01/browserflow/session"
	"github.com/BaSui01/browserflow/types"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Browser:    DefaultBrowserConfig(),
		Navigation: DefaultNavigationConfig(),
		Events:     DefaultEventsConfig(),
		Session:    DefaultSessionConfig(),
		Captcha:    DefaultCaptchaConfig(),
		Proxy:      DefaultProxyConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Auth:       AuthConfig{JWTIssuer: "browserflow"},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    2 * time.Minute, // 导航请求可能耗时较长
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultBrowserConfig 返回默认浏览器配置
func DefaultBrowserConfig() BrowserConfig {
	opts := types.DefaultLaunchOptions()
	return BrowserConfig{
		InstanceID: opts.InstanceID,
		Headless:   opts.Headless,
		Timeout:    opts.Timeout,
	}
}

// DefaultNavigationConfig 返回默认导航配置
func DefaultNavigationConfig() NavigationConfig {
	opts := types.NavigationOptions{}.WithDefaults()
	cfg := NavigationConfig{
		Timeout:    opts.Timeout,
		MaxRetries: opts.MaxRetries,
		RetryDelay: opts.RetryDelay,
	}
	for _, w := range opts.WaitUntil {
		cfg.WaitUntil = append(cfg.WaitUntil, string(w))
	}
	return cfg
}

// DefaultEventsConfig 返回默认事件总线配置
func DefaultEventsConfig() EventsConfig {
	return EventsConfig{MaxListeners: 100}
}

// DefaultSessionConfig 返回默认会话配置（文件存储）
func DefaultSessionConfig() SessionConfig {
	opts := session.DefaultOptions()
	return SessionConfig{
		Enabled:                true,
		Name:                   opts.Name,
		Dir:                    opts.SessionDir,
		PersistCookies:         opts.PersistCookies,
		PersistLocalStorage:    opts.PersistLocalStorage,
		PersistSessionStorage:  opts.PersistSessionStorage,
		PersistUserAgent:       opts.PersistUserAgent,
		ExtractAfterNavigation: true,
		ApplyBeforeNavigation:  true,
		Store: session.StoreConfig{
			Backend:        session.BackendFile,
			Redis:          cache.DefaultConfig(),
			RedisKeyPrefix: "browserflow:session:",
			Database: database.Config{
				Driver:        database.DriverSQLite,
				DSN:           "tmp/browserflow.db",
				AutoMigrate:   true,
				SlowThreshold: 200 * time.Millisecond,
				Pool:          database.DefaultPoolConfig(),
			},
			Mongo: session.MongoConfig{
				URI:            "mongodb://localhost:27017",
				Database:       "browserflow",
				Collection:     "sessions",
				ConnectTimeout: 10 * time.Second,
			},
		},
	}
}

// DefaultCaptchaConfig 返回默认验证码配置（默认关闭）
func DefaultCaptchaConfig() CaptchaConfig {
	solver := captcha.DefaultSolverConfig()
	return CaptchaConfig{
		Service:         string(captcha.ServiceTwoCaptcha),
		Timeout:         solver.DefaultTimeout,
		PollingInterval: solver.PollingInterval,
		AutoDetect:      true,
		AutoSolve:       true,
	}
}

// DefaultProxyConfig 返回默认代理配置（默认关闭）
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{
		RotationStrategy:   string(builtin.RotationSequential),
		RotateOnNavigation: false,
		RotateOnError:      true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "browserflow",
		SampleRate:   0.1,
	}
}
