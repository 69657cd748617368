package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/browserflow/internal/cache"
	"github.com/BaSui01/browserflow/internal/database"
)

// Backend names accepted by NewStore.
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
	BackendMongo  = "mongo"
)

// StoreConfig selects and configures a session backend.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend" env:"BACKEND"`
	// Dir is used by the file backend.
	Dir string `yaml:"dir" json:"dir" env:"DIR"`

	Redis          cache.Config  `yaml:"redis" json:"redis" env:"REDIS"`
	RedisKeyPrefix string        `yaml:"redis_key_prefix" json:"redis_key_prefix" env:"REDIS_KEY_PREFIX"`
	RedisTTL       time.Duration `yaml:"redis_ttl" json:"redis_ttl" env:"REDIS_TTL"`

	Database database.Config `yaml:"database" json:"database" env:"DATABASE"`
	Mongo    MongoConfig     `yaml:"mongo" json:"mongo" env:"MONGO"`
}

// NewStore builds the configured backend. An empty backend means file.
func NewStore(ctx context.Context, cfg StoreConfig, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := strings.ToLower(cfg.Backend)
	logger.Debug("creating session store", zap.String("backend", backend))

	switch backend {
	case "", BackendFile:
		return NewFileStore(cfg.Dir, logger), nil

	case BackendMemory:
		return NewMemoryStore(), nil

	case BackendRedis:
		cm, err := cache.NewManager(cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		return NewRedisStore(cm, cfg.RedisKeyPrefix, cfg.RedisTTL), nil

	case BackendSQL:
		pool, err := database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		s, err := NewSQLStore(ctx, pool, cfg.Database.AutoMigrate)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	case BackendMongo:
		return NewMongoStore(ctx, cfg.Mongo)

	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}
