// =============================================================================
// 📦 BrowserFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("browserflow.yaml").
//	    WithEnvPrefix("BROWSERFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/browserflow/captcha"
	"github.com/BaSui01/browserflow/plugins/builtin"
	"github.com/BaSui01/browserflow/session"
	"github.com/BaSui01/browserflow/types"
)

// DefaultEnvPrefix 环境变量前缀，例如 BROWSERFLOW_SERVER_HTTP_PORT
const DefaultEnvPrefix = "BROWSERFLOW"

// ErrInvalidConfig 由 Validate 返回
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  DefaultEnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// ConfigPath 返回配置文件路径，未设置时为空
func (l *Loader) ConfigPath() string {
	return l.configPath
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理（time.Duration 不是结构体）
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"json", "console"}
	validBackends   = []string{"", session.BackendFile, session.BackendMemory, session.BackendRedis, session.BackendSQL, session.BackendMongo}
)

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 验证服务器配置
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}

	// 浏览器与导航
	if c.Browser.Timeout < 0 {
		errs = append(errs, "browser timeout must not be negative")
	}
	if c.Navigation.Timeout < 0 || c.Navigation.RetryDelay < 0 {
		errs = append(errs, "navigation timeout and retry_delay must not be negative")
	}
	if c.Navigation.MaxRetries < 0 {
		errs = append(errs, "navigation max_retries must not be negative")
	}
	for _, w := range c.Navigation.WaitUntil {
		if !types.WaitUntil(w).Valid() {
			errs = append(errs, fmt.Sprintf("unknown wait_until %q", w))
		}
	}

	// 会话
	if c.Session.Enabled {
		if !slices.Contains(validBackends, c.Session.Store.Backend) {
			errs = append(errs, fmt.Sprintf("unknown session store backend %q", c.Session.Store.Backend))
		}
		if c.Session.Name == "" {
			errs = append(errs, "session name is required")
		}
	}

	// 验证码
	if c.Captcha.Enabled {
		if c.Captcha.APIKey == "" {
			errs = append(errs, "captcha api_key is required when captcha is enabled")
		}
		if !captcha.Service(c.Captcha.Service).Valid() {
			errs = append(errs, fmt.Sprintf("unsupported captcha service %q", c.Captcha.Service))
		}
	}

	// 代理
	if c.Proxy.Enabled {
		if len(c.Proxy.Servers) == 0 {
			errs = append(errs, "proxy servers are required when proxy is enabled")
		}
		if _, err := c.Proxy.PluginOptions(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if !slices.Contains(validLogLevels, strings.ToLower(c.Log.Level)) {
		errs = append(errs, fmt.Sprintf("invalid log level %q", c.Log.Level))
	}
	if !slices.Contains(validLogFormats, c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log format %q", c.Log.Format))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}

	return nil
}

// PluginOptions 解析代理地址，转换为代理插件参数
func (c ProxyConfig) PluginOptions() (builtin.ProxyPluginOptions, error) {
	opts := builtin.DefaultProxyPluginOptions()
	if c.RotationStrategy != "" {
		opts.RotationStrategy = builtin.RotationStrategy(c.RotationStrategy)
	}
	opts.RotateOnNavigation = c.RotateOnNavigation
	opts.RotateOnError = c.RotateOnError
	opts.Proxies = nil
	for _, s := range c.Servers {
		p, err := builtin.ParseProxy(s)
		if err != nil {
			return opts, err
		}
		opts.Proxies = append(opts.Proxies, p)
	}
	return opts, nil
}
