// 配置热重载管理器实现。
//
// 文件变更后经 Loader 重新加载，校验通过再应用；回调失败时自动回滚。
package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"reflect"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const redacted = "[REDACTED]"

var (
	ErrReloadRunning  = errors.New("hot reload manager already running")
	ErrNoConfigPath   = errors.New("no config path set")
	ErrNoPrevious     = errors.New("no previous config available for rollback")
	ErrUnknownField   = errors.New("unknown configuration field")
	ErrRestartOnly    = errors.New("field requires restart and cannot be updated at runtime")
	ErrVersionMissing = errors.New("config version not found in history")
)

// --- 热重载类型定义 ---

// HotReloadManager 管理配置热重载
type HotReloadManager struct {
	mu sync.RWMutex

	config   *Config
	previous *Config
	loader   *Loader

	history    []ConfigSnapshot
	maxHistory int
	validators []ValidateFunc

	debounce time.Duration
	watcher  *FileWatcher

	changeCallbacks []ChangeCallback
	reloadCallbacks []ReloadCallback

	changeLog []ConfigChange
	logger    *zap.Logger
}

// ChangeCallback 每个字段变更时调用
type ChangeCallback func(change ConfigChange)

// ReloadCallback 新配置生效后调用。返回错误会回滚到旧配置
type ReloadCallback func(oldConfig, newConfig *Config) error

// ValidateFunc 应用前的额外校验
type ValidateFunc func(newConfig *Config) error

// ConfigChange 代表一个字段的变更
type ConfigChange struct {
	Timestamp       time.Time `json:"timestamp"`
	Source          string    `json:"source"` // file, api, rollback
	Path            string    `json:"path"`   // 例如 "Navigation.Timeout"
	OldValue        any       `json:"old_value,omitempty"`
	NewValue        any       `json:"new_value,omitempty"`
	RequiresRestart bool      `json:"requires_restart"`
	Applied         bool      `json:"applied"`
	Error           string    `json:"error,omitempty"`
}

// ConfigSnapshot 配置快照
type ConfigSnapshot struct {
	Config    *Config   `json:"-"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Version   int       `json:"version"`
	Checksum  string    `json:"checksum"`
}

// HotReloadableField 描述一个已知字段
type HotReloadableField struct {
	Path            string `json:"path"`
	Description     string `json:"description"`
	RequiresRestart bool   `json:"requires_restart"`
	Sensitive       bool   `json:"sensitive"`
}

// --- 可热重载字段注册表 ---

// 未登记的字段一律视为需要重启
var hotReloadableFields = func() map[string]HotReloadableField {
	fields := []HotReloadableField{
		{Path: "Log.Level", Description: "Log level (debug, info, warn, error)"},
		{Path: "Navigation.WaitUntil", Description: "Default lifecycle events to wait for"},
		{Path: "Navigation.Timeout", Description: "Default navigation timeout"},
		{Path: "Navigation.MaxRetries", Description: "Default retry count per navigation"},
		{Path: "Navigation.RetryDelay", Description: "Pause between navigation attempts"},
		{Path: "Captcha.AutoDetect", Description: "Detect captchas after navigation"},
		{Path: "Captcha.AutoSolve", Description: "Solve detected captchas"},
		{Path: "Captcha.IgnoreURLs", Description: "URL substrings skipped by captcha handling"},
		{Path: "Proxy.RotateOnNavigation", Description: "Rotate proxy before each navigation"},
		{Path: "Proxy.RotateOnError", Description: "Rotate proxy on network errors"},

		{Path: "Log.Format", Description: "Log format (json, console)", RequiresRestart: true},
		{Path: "Server.HTTPPort", Description: "HTTP server port", RequiresRestart: true},
		{Path: "Server.MetricsPort", Description: "Metrics server port", RequiresRestart: true},
		{Path: "Browser.Headless", Description: "Launch browsers headless", RequiresRestart: true},
		{Path: "Browser.Args", Description: "Chromium command line switches", RequiresRestart: true},
		{Path: "Session.Store.Backend", Description: "Session store backend", RequiresRestart: true},
		{Path: "Session.Store.Database.DSN", Description: "Session database DSN", RequiresRestart: true, Sensitive: true},
		{Path: "Session.Store.Redis.Password", Description: "Session Redis password", RequiresRestart: true, Sensitive: true},
		{Path: "Session.Store.Mongo.URI", Description: "Session MongoDB URI", RequiresRestart: true, Sensitive: true},
		{Path: "Captcha.APIKey", Description: "Captcha service API key", RequiresRestart: true, Sensitive: true},
		{Path: "Proxy.Servers", Description: "Proxy server list", RequiresRestart: true, Sensitive: true},
		{Path: "Auth.APIKeys", Description: "Control API keys", RequiresRestart: true, Sensitive: true},
		{Path: "Auth.JWTSecret", Description: "JWT signing secret", RequiresRestart: true, Sensitive: true},
	}
	m := make(map[string]HotReloadableField, len(fields))
	for _, f := range fields {
		m[f.Path] = f
	}
	return m
}()

// GetHotReloadableFields 返回已知字段的副本
func GetHotReloadableFields() map[string]HotReloadableField {
	out := make(map[string]HotReloadableField, len(hotReloadableFields))
	for k, v := range hotReloadableFields {
		out[k] = v
	}
	return out
}

// IsHotReloadable 字段能否在运行时生效
func IsHotReloadable(path string) bool {
	f, ok := hotReloadableFields[path]
	return ok && !f.RequiresRestart
}

// --- 热重载管理器选项 ---

// HotReloadOption 配置 HotReloadManager
type HotReloadOption func(*HotReloadManager)

func WithHotReloadLogger(logger *zap.Logger) HotReloadOption {
	return func(m *HotReloadManager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithReloadLoader 设置重载使用的 Loader，配置文件路径取自 Loader
func WithReloadLoader(l *Loader) HotReloadOption {
	return func(m *HotReloadManager) { m.loader = l }
}

// WithMaxHistorySize 设置配置历史最大记录数
func WithMaxHistorySize(size int) HotReloadOption {
	return func(m *HotReloadManager) {
		if size > 0 {
			m.maxHistory = size
		}
	}
}

// WithValidateFunc 追加一个校验钩子
func WithValidateFunc(fn ValidateFunc) HotReloadOption {
	return func(m *HotReloadManager) {
		if fn != nil {
			m.validators = append(m.validators, fn)
		}
	}
}

// WithReloadDebounce 设置文件事件防抖时间
func WithReloadDebounce(d time.Duration) HotReloadOption {
	return func(m *HotReloadManager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// --- 热重载管理器实现 ---

// NewHotReloadManager 以 cfg 作为版本 1 创建管理器
func NewHotReloadManager(cfg *Config, opts ...HotReloadOption) *HotReloadManager {
	m := &HotReloadManager{
		config:     cfg,
		maxHistory: 10,
		debounce:   500 * time.Millisecond,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.loader == nil {
		m.loader = NewLoader()
	}
	m.logger = m.logger.With(zap.String("component", "config_reload"))
	m.pushHistory(cfg, "init")
	return m
}

func (m *HotReloadManager) pushHistory(cfg *Config, source string) {
	version := 1
	if n := len(m.history); n > 0 {
		version = m.history[n-1].Version + 1
	}
	m.history = append(m.history, ConfigSnapshot{
		Config:    deepCopyConfig(cfg),
		Timestamp: time.Now(),
		Source:    source,
		Version:   version,
		Checksum:  configChecksum(cfg),
	})
	if len(m.history) > m.maxHistory {
		m.history = m.history[len(m.history)-m.maxHistory:]
	}
}

// deepCopyConfig 通过 YAML 往返复制；JSON 会丢掉 json:"-" 的密钥字段
func deepCopyConfig(cfg *Config) *Config {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return cfg
	}
	copied := &Config{}
	if err := yaml.Unmarshal(data, copied); err != nil {
		return cfg
	}
	return copied
}

func configChecksum(cfg *Config) string {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Start 在配置了文件路径时监听该文件
func (m *HotReloadManager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.watcher != nil {
		return ErrReloadRunning
	}
	path := m.loader.ConfigPath()
	if path == "" {
		m.logger.Info("no config file, hot reload disabled")
		return nil
	}

	w, err := NewFileWatcher([]string{path}, WithWatcherLogger(m.logger), WithDebounceDelay(m.debounce))
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	w.OnChange(m.handleFileChange)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start file watcher: %w", err)
	}
	m.watcher = w
	m.logger.Info("hot reload manager started", zap.String("config_path", path))
	return nil
}

// Stop 停止监听
func (m *HotReloadManager) Stop() error {
	m.mu.Lock()
	w := m.watcher
	m.watcher = nil
	m.mu.Unlock()

	if w == nil {
		return nil
	}
	return w.Stop()
}

func (m *HotReloadManager) handleFileChange(event FileEvent) {
	if event.Op != FileOpWrite && event.Op != FileOpCreate {
		return
	}
	m.logger.Info("configuration file changed",
		zap.String("path", event.Path),
		zap.String("op", event.Op.String()))
	if err := m.ReloadFromFile(); err != nil {
		m.logger.Error("failed to reload configuration, keeping current config", zap.Error(err))
	}
}

// ReloadFromFile 经 Loader 重新加载并应用
func (m *HotReloadManager) ReloadFromFile() error {
	if m.loader.ConfigPath() == "" {
		return ErrNoConfigPath
	}
	cfg, err := m.loader.Load()
	if err != nil {
		return err
	}
	return m.ApplyConfig(cfg, "file")
}

// ApplyConfig 校验并应用 cfg。回调返回错误或 panic 时回滚
func (m *HotReloadManager) ApplyConfig(cfg *Config, source string) error {
	if err := cfg.Validate(); err != nil {
		m.recordFailure(source, err)
		return err
	}

	m.mu.Lock()
	for _, v := range m.validators {
		if err := v(cfg); err != nil {
			m.mu.Unlock()
			m.recordFailure(source, err)
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	oldConfig := m.config
	now := time.Now()
	changes := diffConfig(oldConfig, cfg)
	requiresRestart := false
	for i := range changes {
		changes[i].Source = source
		changes[i].Timestamp = now
		changes[i].Applied = true
		requiresRestart = requiresRestart || changes[i].RequiresRestart
		m.logChange(changes[i])
	}

	m.previous = oldConfig
	m.config = cfg
	m.pushHistory(cfg, source)
	m.appendChanges(changes...)

	changeCallbacks := slices.Clone(m.changeCallbacks)
	reloadCallbacks := slices.Clone(m.reloadCallbacks)
	m.mu.Unlock()

	if err := notify(changeCallbacks, reloadCallbacks, oldConfig, cfg, changes); err != nil {
		m.mu.Lock()
		if m.config == cfg {
			m.rollbackLocked(oldConfig, fmt.Sprintf("callback error: %v", err))
		}
		m.mu.Unlock()
		return fmt.Errorf("config applied but callback failed, rolled back: %w", err)
	}

	if requiresRestart {
		m.logger.Warn("some configuration changes require restart to take effect")
	}
	m.logger.Info("configuration reloaded",
		zap.String("source", source),
		zap.Int("changes", len(changes)),
		zap.Bool("requires_restart", requiresRestart))
	return nil
}

func (m *HotReloadManager) recordFailure(source string, err error) {
	m.logger.Warn("configuration rejected", zap.String("source", source), zap.Error(err))
	m.mu.Lock()
	m.appendChanges(ConfigChange{
		Timestamp: time.Now(),
		Source:    source,
		Path:      "(validation)",
		Error:     err.Error(),
	})
	m.mu.Unlock()
}

func (m *HotReloadManager) appendChanges(changes ...ConfigChange) {
	m.changeLog = append(m.changeLog, changes...)
	if len(m.changeLog) > 1000 {
		m.changeLog = m.changeLog[len(m.changeLog)-1000:]
	}
}

func notify(changeCallbacks []ChangeCallback, reloadCallbacks []ReloadCallback, oldConfig, newConfig *Config, changes []ConfigChange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("callback panicked: %v", r)
		}
	}()
	for _, cb := range changeCallbacks {
		for _, c := range changes {
			cb(c)
		}
	}
	for _, cb := range reloadCallbacks {
		if err := cb(oldConfig, newConfig); err != nil {
			return err
		}
	}
	return nil
}

// diffConfig 递归比较，切片与标量字段作为叶子
func diffConfig(oldConfig, newConfig *Config) []ConfigChange {
	var changes []ConfigChange
	var walk func(prefix string, o, n reflect.Value)
	walk = func(prefix string, o, n reflect.Value) {
		t := o.Type()
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() {
				continue
			}
			path := f.Name
			if prefix != "" {
				path = prefix + "." + f.Name
			}
			of, nf := o.Field(i), n.Field(i)
			if of.Kind() == reflect.Struct {
				walk(path, of, nf)
				continue
			}
			if sameValue(of, nf) {
				continue
			}
			c := ConfigChange{Path: path, OldValue: of.Interface(), NewValue: nf.Interface(), RequiresRestart: true}
			if field, ok := hotReloadableFields[path]; ok {
				c.RequiresRestart = field.RequiresRestart
				if field.Sensitive {
					c.OldValue, c.NewValue = redacted, redacted
				}
			}
			changes = append(changes, c)
		}
	}
	walk("", reflect.ValueOf(oldConfig).Elem(), reflect.ValueOf(newConfig).Elem())
	return changes
}

// YAML 往返会把 nil 切片变成空切片，两者视为相同
func sameValue(a, b reflect.Value) bool {
	if a.Kind() == reflect.Slice && a.Len() == 0 && b.Len() == 0 {
		return true
	}
	return reflect.DeepEqual(a.Interface(), b.Interface())
}

func (m *HotReloadManager) logChange(c ConfigChange) {
	m.logger.Info("configuration changed",
		zap.String("path", c.Path),
		zap.String("source", c.Source),
		zap.Bool("requires_restart", c.RequiresRestart),
		zap.Any("old_value", c.OldValue),
		zap.Any("new_value", c.NewValue))
}

// OnChange 注册字段变更回调
func (m *HotReloadManager) OnChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changeCallbacks = append(m.changeCallbacks, cb)
}

// OnReload 注册重载回调
func (m *HotReloadManager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloadCallbacks = append(m.reloadCallbacks, cb)
}

// Rollback 回到上一次应用前的配置。不再触发回调
func (m *HotReloadManager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.previous == nil {
		return ErrNoPrevious
	}
	m.rollbackLocked(m.previous, "manual rollback")
	return nil
}

// RollbackToVersion 回到历史中的指定版本
func (m *HotReloadManager) RollbackToVersion(version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.history {
		if s.Version == version {
			m.rollbackLocked(s.Config, fmt.Sprintf("rollback to version %d", version))
			return nil
		}
	}
	return fmt.Errorf("%w: %d", ErrVersionMissing, version)
}

// 调用方持有 m.mu
func (m *HotReloadManager) rollbackLocked(target *Config, reason string) {
	m.config = deepCopyConfig(target)
	m.previous = nil
	m.appendChanges(ConfigChange{
		Timestamp: time.Now(),
		Source:    "rollback",
		Path:      "(rollback)",
		Applied:   true,
		Error:     reason,
	})
	m.logger.Warn("configuration rolled back", zap.String("reason", reason))
}

// GetConfig 返回当前配置的副本
func (m *HotReloadManager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return deepCopyConfig(m.config)
}

// GetConfigHistory 返回历史快照
func (m *HotReloadManager) GetConfigHistory() []ConfigSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history)
}

// GetCurrentVersion 最新快照的版本号
func (m *HotReloadManager) GetCurrentVersion() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.history) == 0 {
		return 0
	}
	return m.history[len(m.history)-1].Version
}

// GetChangeLog 返回最近 limit 条变更，limit<=0 返回全部
func (m *HotReloadManager) GetChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.changeLog) {
		limit = len(m.changeLog)
	}
	return slices.Clone(m.changeLog[len(m.changeLog)-limit:])
}

// UpdateField 修改一个可热重载字段。字符串值按环境变量的规则解析，
// 例如 "10s" 或 "load,networkidle0"
func (m *HotReloadManager) UpdateField(path string, value any) error {
	field, ok := hotReloadableFields[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	if field.RequiresRestart {
		return fmt.Errorf("%w: %s", ErrRestartOnly, path)
	}

	cfg := m.GetConfig()
	target := reflect.ValueOf(cfg).Elem()
	for _, part := range strings.Split(path, ".") {
		target = target.FieldByName(part)
		if !target.IsValid() {
			return fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
	}
	if err := assignValue(target, value); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	return m.ApplyConfig(cfg, "api")
}

// FieldValue 返回字段当前值，敏感字段只返回脱敏占位
func (m *HotReloadManager) FieldValue(path string) (any, error) {
	field, ok := hotReloadableFields[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, path)
	}
	if field.Sensitive {
		return redacted, nil
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	v := reflect.ValueOf(m.config).Elem()
	for _, part := range strings.Split(path, ".") {
		v = v.FieldByName(part)
		if !v.IsValid() {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, path)
		}
	}
	if d, ok := v.Interface().(time.Duration); ok {
		return d.String(), nil
	}
	if s, ok := v.Interface().([]string); ok {
		return slices.Clone(s), nil
	}
	return v.Interface(), nil
}

func assignValue(field reflect.Value, value any) error {
	switch v := value.(type) {
	case string:
		return setFieldValue(field, v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			s, ok := p.(string)
			if !ok {
				return fmt.Errorf("expected string element, got %T", p)
			}
			parts = append(parts, s)
		}
		value = parts
	}
	nv := reflect.ValueOf(value)
	if !nv.IsValid() || !nv.Type().ConvertibleTo(field.Type()) {
		return fmt.Errorf("type mismatch: expected %s, got %T", field.Type(), value)
	}
	field.Set(nv.Convert(field.Type()))
	return nil
}

// --- API 脱敏配置视图 ---

// SanitizedConfig 返回 JSON 形式的当前配置，密钥字段被隐藏
func (m *HotReloadManager) SanitizedConfig() map[string]any {
	m.mu.RLock()
	data, err := json.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	redactSensitive(out)
	return out
}

var sensitiveKeys = []string{"password", "api_key", "apikey", "secret", "token", "credential", "dsn", "uri"}

func redactSensitive(data map[string]any) {
	for key, value := range data {
		lower := strings.ToLower(key)
		if s, ok := value.(string); ok && s != "" {
			for _, k := range sensitiveKeys {
				if strings.Contains(lower, k) {
					data[key] = redacted
					break
				}
			}
		}
		if nested, ok := value.(map[string]any); ok {
			redactSensitive(nested)
		}
	}
}
