package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/BaSui01/browserflow/internal/cache"
)

// DefaultRedisKeyPrefix namespaces session keys.
const DefaultRedisKeyPrefix = "browserflow:session:"

// RedisStore keeps each session as a JSON string under prefix+name.
type RedisStore struct {
	cache  *cache.Manager
	prefix string
	ttl    time.Duration
}

// NewRedisStore wraps an existing cache manager. A zero ttl keeps sessions
// forever.
func NewRedisStore(cm *cache.Manager, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &RedisStore{cache: cm, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(name string) string { return s.prefix + name }

func (s *RedisStore) Load(ctx context.Context, name string) (*Data, error) {
	var data Data
	err := s.cache.GetJSON(ctx, s.key(name), &data)
	switch {
	case cache.IsCacheMiss(err):
		return nil, ErrNotFound
	case errors.Is(err, cache.ErrClosed):
		return nil, ErrStoreClosed
	case err != nil:
		return nil, fmt.Errorf("load session %s: %w", name, err)
	}
	data.normalize()
	return &data, nil
}

func (s *RedisStore) Save(ctx context.Context, name string, data *Data) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := s.cache.SetJSON(ctx, s.key(name), data, s.ttl); err != nil {
		return s.wrap("save", name, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, name string) error {
	if err := s.cache.Delete(ctx, s.key(name)); err != nil {
		return s.wrap("delete", name, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.cache.Keys(ctx, s.prefix+"*")
	if err != nil {
		return nil, s.wrap("list", "", err)
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, s.prefix))
	}
	slices.Sort(names)
	return names, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.cache.Ping(ctx); err != nil {
		return s.wrap("ping", "", err)
	}
	return nil
}

// Close closes the underlying cache manager.
func (s *RedisStore) Close() error { return s.cache.Close() }

func (s *RedisStore) wrap(op, name string, err error) error {
	if errors.Is(err, cache.ErrClosed) {
		return ErrStoreClosed
	}
	if name == "" {
		return fmt.Errorf("redis session %s: %w", op, err)
	}
	return fmt.Errorf("redis session %s %s: %w", op, name, err)
}
