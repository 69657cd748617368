package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	sqlite3 "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("pool is closed")

// =============================================================================
// 🗄️ 数据库连接池管理器
// =============================================================================

// PoolManager 数据库连接池管理器
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// PoolConfig 连接池配置
type PoolConfig struct {
	// 最大空闲连接数
	MaxIdleConns int `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`

	// 最大打开连接数
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`

	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`

	// 连接最大空闲时间
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`

	// 健康检查间隔
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        10,
		MaxOpenConns:        100,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// NewPoolManager 创建连接池管理器
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// 配置连接池
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "db_pool")),
		done:   make(chan struct{}),
	}

	// 启动健康检查
	if config.HealthCheckInterval > 0 {
		go pm.healthCheckLoop()
	}

	pm.logger.Info("database pool initialized",
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Duration("conn_max_lifetime", config.ConnMaxLifetime),
	)

	return pm, nil
}

// Driver 名称
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	// DriverSQLite 使用纯 Go 的 glebarez/sqlite，无需 cgo
	DriverSQLite = "sqlite"
	// DriverSQLite3 使用 mattn/go-sqlite3，需要 cgo
	DriverSQLite3 = "sqlite3"
)

// Config 数据库连接配置
type Config struct {
	// 驱动：postgres / mysql / sqlite / sqlite3
	Driver string `yaml:"driver" json:"driver" env:"DRIVER"`
	// DSN 连接串，sqlite 时为文件路径或 ":memory:"
	DSN string `yaml:"dsn" json:"-" env:"DSN"`
	// 启动时执行 AutoMigrate
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`
	// 慢查询阈值，0 关闭 SQL 日志
	SlowThreshold time.Duration `yaml:"slow_threshold" json:"slow_threshold" env:"SLOW_THRESHOLD"`

	Pool PoolConfig `yaml:"pool" json:"pool" env:"POOL"`
}

// Dialector 按驱动名构造 gorm 方言
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "postgresql":
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	case DriverSQLite3:
		return sqlite3.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", driver)
	}
}

// Open 打开数据库并交给 PoolManager 管理
func Open(cfg Config, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	gcfg := &gorm.Config{Logger: gormlogger.Discard}
	if cfg.SlowThreshold > 0 {
		gcfg.Logger = gormlogger.New(zap.NewStdLog(logger), gormlogger.Config{
			SlowThreshold:             cfg.SlowThreshold,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(dialector, gcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}

	pool := cfg.Pool
	if pool == (PoolConfig{}) {
		pool = DefaultPoolConfig()
	}
	return NewPoolManager(db, pool, logger)
}

// =============================================================================
// 🎯 核心方法
// =============================================================================

// DB 返回 GORM 数据库实例
func (pm *PoolManager) DB() *gorm.DB {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.db
}

// Ping 检查数据库连接
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if pm.closed {
		return ErrPoolClosed
	}

	return pm.sqlDB.PingContext(ctx)
}

// Closed 报告连接池是否已关闭
func (pm *PoolManager) Closed() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.closed
}

// Stats 返回连接池统计信息
func (pm *PoolManager) Stats() sql.DBStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.sqlDB.Stats()
}

// Close 关闭连接池
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.closed {
		return nil
	}

	pm.closed = true
	close(pm.done)
	pm.logger.Info("closing database pool")

	return pm.sqlDB.Close()
}

// =============================================================================
// 🏥 健康检查
// =============================================================================

func (pm *PoolManager) healthCheckLoop() {
	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.done:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := pm.Ping(ctx); err != nil && !errors.Is(err, ErrPoolClosed) {
			pm.logger.Error("database health check failed", zap.Error(err))
		} else {
			stats := pm.Stats()
			pm.logger.Debug("database health check passed",
				zap.Int("open_connections", stats.OpenConnections),
				zap.Int("in_use", stats.InUse),
				zap.Int("idle", stats.Idle),
			)
		}
		cancel()
	}
}

// =============================================================================
// 🔄 事务
// =============================================================================

// TransactionFunc 事务函数类型
type TransactionFunc func(tx *gorm.DB) error

// WithTransaction 在事务中执行 fn，fn 返回错误时回滚
func (pm *PoolManager) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	pm.mu.RLock()
	closed, db := pm.closed, pm.db
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return db.WithContext(ctx).Transaction(fn)
}

// maxRetryBackoff 事务重试的单次等待上限
const maxRetryBackoff = 2 * time.Second

// WithTransactionRetry 执行事务，遇到死锁、序列化冲突或断连时
// 以指数退避重试，最多执行 maxAttempts 次
func (pm *PoolManager) WithTransactionRetry(ctx context.Context, maxAttempts int, fn TransactionFunc) error {
	maxAttempts = max(maxAttempts, 1)
	backoff := 100 * time.Millisecond

	var err error
	for attempt := 1; ; attempt++ {
		if err = pm.WithTransaction(ctx, fn); err == nil || !isRetryableError(err) {
			return err
		}
		if attempt >= maxAttempts {
			break
		}

		pm.logger.Warn("transaction failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Duration("backoff", backoff),
			zap.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(2*backoff, maxRetryBackoff)
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxAttempts, err)
}

// retryableMessages 各驱动中表示瞬时冲突或断连的错误片段
var retryableMessages = []string{
	"deadlock",
	"serialization failure",
	"40001", // postgres serialization_failure
	"lock timeout",
	"lock wait timeout",
	"database is locked", // sqlite busy
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad connection",
}

func isRetryableError(err error) bool {
	switch {
	case err == nil, errors.Is(err, ErrPoolClosed),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, driver.ErrBadConn):
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range retryableMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
