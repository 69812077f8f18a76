package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsepoll/voteguard/internal/models"
)

// RedisStore implements TTLStore on Redis. Any transport or server
// error is reported as models.ErrStoreUnavailable; the risk engine
// treats that as risk-elevating, never as "not a duplicate".
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisStore connects and verifies the connection.
func NewRedisStore(url string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("unable to ping redis: %w", err)
	}

	logger.Info("redis connection established", slog.String("addr", opts.Addr))
	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	// INCR then EXPIRE NX in one round trip: the expiry lands only when
	// the key was just created, so increments never slide the window.
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, s.unavailable("incr", key, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) GetCounter(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, s.unavailable("get", key, err)
	}
	return n, nil
}

func (s *RedisStore) SetIfAbsentWithTTL(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	created, err := s.client.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return false, s.unavailable("setnx", key, err)
	}
	return created, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, s.unavailable("exists", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return s.unavailable("del", key, err)
	}
	return nil
}

func (s *RedisStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value for %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return s.unavailable("set", key, err)
	}
	return nil
}

func (s *RedisStore) GetJSON(ctx context.Context, key string, dest any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.ErrNotFound
	}
	if err != nil {
		return s.unavailable("get", key, err)
	}
	return json.Unmarshal(data, dest)
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) unavailable(op, key string, err error) error {
	s.logger.Error("redis operation failed",
		slog.String("op", op),
		slog.String("key", key),
		slog.Any("error", err))
	return fmt.Errorf("%s %s: %w", op, key, models.ErrStoreUnavailable)
}
