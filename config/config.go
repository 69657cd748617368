package config

import (
	"time"

	"github.com/BaSui01/browserflow/captcha"
	"github.com/BaSui01/browserflow/plugins/builtin"
	"github.com/BaSui01/browserflow/session"
	"github.com/BaSui01/browserflow/types"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 BrowserFlow 的完整配置结构
type Config struct {
	Server     ServerConfig     `yaml:"server" json:"server" env:"SERVER"`
	Browser    BrowserConfig    `yaml:"browser" json:"browser" env:"BROWSER"`
	Navigation NavigationConfig `yaml:"navigation" json:"navigation" env:"NAVIGATION"`
	Events     EventsConfig     `yaml:"events" json:"events" env:"EVENTS"`
	Session    SessionConfig    `yaml:"session" json:"session" env:"SESSION"`
	Captcha    CaptchaConfig    `yaml:"captcha" json:"captcha" env:"CAPTCHA"`
	Proxy      ProxyConfig      `yaml:"proxy" json:"proxy" env:"PROXY"`
	Log        LogConfig        `yaml:"log" json:"log" env:"LOG"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`
	Auth       AuthConfig       `yaml:"auth" json:"auth" env:"AUTH"`
}

// ServerConfig HTTP 控制面配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" json:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的令牌桶速率，0 关闭限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许的 CORS 来源，空表示不输出 CORS 头
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" json:"cors_allowed_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// BrowserConfig 浏览器启动配置
type BrowserConfig struct {
	InstanceID     string        `yaml:"instance_id" json:"instance_id" env:"INSTANCE_ID"`
	Headless       bool          `yaml:"headless" json:"headless" env:"HEADLESS"`
	UserDataDir    string        `yaml:"user_data_dir" json:"user_data_dir" env:"USER_DATA_DIR"`
	ExecutablePath string        `yaml:"executable_path" json:"executable_path" env:"EXECUTABLE_PATH"`
	// Args 为空时使用 types.DefaultBrowserArgs
	Args    []string      `yaml:"args" json:"args" env:"ARGS"`
	Timeout time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	Debug   bool          `yaml:"debug" json:"debug" env:"DEBUG"`
}

// LaunchOptions 转换为启动参数
func (c BrowserConfig) LaunchOptions() types.LaunchOptions {
	opts := types.DefaultLaunchOptions()
	if c.InstanceID != "" {
		opts.InstanceID = c.InstanceID
	}
	opts.Headless = c.Headless
	if c.UserDataDir != "" {
		opts.UserDataDir = c.UserDataDir
	}
	opts.ExecutablePath = c.ExecutablePath
	if len(c.Args) > 0 {
		opts.Args = append([]string(nil), c.Args...)
	}
	if c.Timeout > 0 {
		opts.Timeout = c.Timeout
	}
	opts.Debug = c.Debug
	return opts
}

// NavigationConfig 默认导航参数
type NavigationConfig struct {
	// load / domcontentloaded / networkidle0 / networkidle2
	WaitUntil  []string      `yaml:"wait_until" json:"wait_until" env:"WAIT_UNTIL"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	MaxRetries int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay" env:"RETRY_DELAY"`
}

// Options 转换为导航参数。默认值在加载前已填入，因此显式的 0 有含义：
// MaxRetries 为 0 只尝试一次，Timeout 为 0 不设超时，RetryDelay 为 0 立即重试
func (c NavigationConfig) Options() types.NavigationOptions {
	opts := types.NavigationOptions{
		Timeout:      c.Timeout,
		NoTimeout:    c.Timeout == 0,
		MaxRetries:   c.MaxRetries,
		NoRetry:      c.MaxRetries == 0,
		RetryDelay:   c.RetryDelay,
		NoRetryDelay: c.RetryDelay == 0,
	}
	for _, w := range c.WaitUntil {
		opts.WaitUntil = append(opts.WaitUntil, types.WaitUntil(w))
	}
	return opts.WithDefaults()
}

// EventsConfig 事件总线配置
type EventsConfig struct {
	// 单个事件监听器数量告警阈值，0 关闭告警
	MaxListeners int `yaml:"max_listeners" json:"max_listeners" env:"MAX_LISTENERS"`
}

// SessionConfig 会话持久化配置
type SessionConfig struct {
	Enabled               bool     `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Name                  string   `yaml:"name" json:"name" env:"NAME"`
	Dir                   string   `yaml:"dir" json:"dir" env:"DIR"`
	PersistCookies        bool     `yaml:"persist_cookies" json:"persist_cookies" env:"PERSIST_COOKIES"`
	PersistLocalStorage   bool     `yaml:"persist_local_storage" json:"persist_local_storage" env:"PERSIST_LOCAL_STORAGE"`
	PersistSessionStorage bool     `yaml:"persist_session_storage" json:"persist_session_storage" env:"PERSIST_SESSION_STORAGE"`
	PersistUserAgent      bool     `yaml:"persist_user_agent" json:"persist_user_agent" env:"PERSIST_USER_AGENT"`
	Domains               []string `yaml:"domains" json:"domains" env:"DOMAINS"`

	ExtractAfterNavigation bool `yaml:"extract_after_navigation" json:"extract_after_navigation" env:"EXTRACT_AFTER_NAVIGATION"`
	ApplyBeforeNavigation  bool `yaml:"apply_before_navigation" json:"apply_before_navigation" env:"APPLY_BEFORE_NAVIGATION"`

	// Store 选择存储后端：file / memory / redis / sql / mongo
	Store session.StoreConfig `yaml:"store" json:"store" env:"STORE"`
}

// Options 转换为 session.Options
func (c SessionConfig) Options() session.Options {
	return session.Options{
		SessionDir:            c.Dir,
		Name:                  c.Name,
		PersistCookies:        c.PersistCookies,
		PersistLocalStorage:   c.PersistLocalStorage,
		PersistSessionStorage: c.PersistSessionStorage,
		PersistUserAgent:      c.PersistUserAgent,
		Domains:               append([]string(nil), c.Domains...),
	}
}

// PluginOptions 转换为会话插件参数
func (c SessionConfig) PluginOptions() builtin.SessionPluginOptions {
	return builtin.SessionPluginOptions{
		Options:                c.Options(),
		ExtractAfterNavigation: c.ExtractAfterNavigation,
		ApplyBeforeNavigation:  c.ApplyBeforeNavigation,
	}
}

// StoreConfig 返回存储后端配置，file 后端默认使用 Dir
func (c SessionConfig) StoreConfig() session.StoreConfig {
	sc := c.Store
	if sc.Dir == "" {
		sc.Dir = c.Dir
	}
	return sc
}

// CaptchaConfig 验证码服务配置
type CaptchaConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Service         string        `yaml:"service" json:"service" env:"SERVICE"`
	APIKey          string        `yaml:"api_key" json:"-" env:"API_KEY"`
	APIURL          string        `yaml:"api_url" json:"api_url" env:"API_URL"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	PollingInterval time.Duration `yaml:"polling_interval" json:"polling_interval" env:"POLLING_INTERVAL"`
	// 每秒请求数，0 不限流
	RateLimit  float64  `yaml:"rate_limit" json:"rate_limit" env:"RATE_LIMIT"`
	AutoDetect bool     `yaml:"auto_detect" json:"auto_detect" env:"AUTO_DETECT"`
	AutoSolve  bool     `yaml:"auto_solve" json:"auto_solve" env:"AUTO_SOLVE"`
	IgnoreURLs []string `yaml:"ignore_urls" json:"ignore_urls" env:"IGNORE_URLS"`
}

// HelperConfig 转换为 captcha.HelperConfig
func (c CaptchaConfig) HelperConfig() captcha.HelperConfig {
	return captcha.HelperConfig{
		Service:         captcha.Service(c.Service),
		APIKey:          c.APIKey,
		APIURL:          c.APIURL,
		AutoDetect:      c.AutoDetect,
		AutoSolve:       c.AutoSolve,
		Timeout:         c.Timeout,
		PollingInterval: c.PollingInterval,
		RateLimit:       c.RateLimit,
		IgnoreURLs:      append([]string(nil), c.IgnoreURLs...),
	}
}

// ProxyConfig 代理轮换配置。Servers 为 proto://[user:pass@]host:port 形式
type ProxyConfig struct {
	Enabled            bool     `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Servers            []string `yaml:"servers" json:"-" env:"SERVERS"`
	RotationStrategy   string   `yaml:"rotation_strategy" json:"rotation_strategy" env:"ROTATION_STRATEGY"`
	RotateOnNavigation bool     `yaml:"rotate_on_navigation" json:"rotate_on_navigation" env:"ROTATE_ON_NAVIGATION"`
	RotateOnError      bool     `yaml:"rotate_on_error" json:"rotate_on_error" env:"ROTATE_ON_ERROR"`
}

// LogConfig 日志配置
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// json, console
	Format           string   `yaml:"format" json:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// AuthConfig 控制面认证。APIKeys 与 JWTSecret 都为空时不做认证
type AuthConfig struct {
	APIKeys   []string `yaml:"api_keys" json:"-" env:"API_KEYS"`
	JWTSecret string   `yaml:"jwt_secret" json:"-" env:"JWT_SECRET"`
	JWTIssuer string   `yaml:"jwt_issuer" json:"jwt_issuer" env:"JWT_ISSUER"`
	// 为 true 时 /health 等探针也需要认证
	ProtectHealth bool `yaml:"protect_health" json:"protect_health" env:"PROTECT_HEALTH"`
}

// Enabled 是否配置了任何认证方式
func (c AuthConfig) Enabled() bool {
	return len(c.APIKeys) > 0 || c.JWTSecret != ""
}
