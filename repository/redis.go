package repository

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-auth-client"
	"github.com/redis/go-redis/v9"
)

// RedisStorage implements authclient.Storage on top of redis string keys.
type RedisStorage struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ authclient.Storage = (*RedisStorage)(nil)

// RedisOption customizes a RedisStorage.
type RedisOption func(*RedisStorage)

// WithRedisPrefix prefixes every key.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStorage) {
		s.prefix = prefix
	}
}

// WithRedisTTL expires items after ttl. Zero keeps them forever.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStorage) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// NewRedisStorage creates a storage using rdb.
func NewRedisStorage(rdb redis.Cmdable, opts ...RedisOption) *RedisStorage {
	s := &RedisStorage{rdb: rdb, prefix: "auth-client:"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// GetItem implements authclient.Storage.
func (s *RedisStorage) GetItem(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, s.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetItem implements authclient.Storage.
func (s *RedisStorage) SetItem(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, s.prefix+key, value, s.ttl).Err()
}

// RemoveItem implements authclient.Storage.
func (s *RedisStorage) RemoveItem(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.prefix+key).Err()
}
