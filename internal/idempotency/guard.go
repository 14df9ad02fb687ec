package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "cw:idempotency:"

// Store is the subset of Redis the guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, key string) error
}

// Guard remembers processed deliveries with Redis SETNX and a TTL.
// Keys follow the `cw:idempotency:<scope>:<id>` pattern.
type Guard struct {
	store Store
	ttl   time.Duration
}

func NewGuard(store Store, ttl time.Duration) (*Guard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, ttl: ttl}, nil
}

// CheckAndMark returns true if scope/id was already seen and otherwise marks it.
func (g *Guard) CheckAndMark(ctx context.Context, scope, id string) (bool, error) {
	key, err := processedKey(scope, id)
	if err != nil {
		return false, err
	}
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("mark %s: %w", key, err)
	}
	return !set, nil
}

// Release forgets scope/id so a failed delivery can be retried.
func (g *Guard) Release(ctx context.Context, scope, id string) error {
	key, err := processedKey(scope, id)
	if err != nil {
		return err
	}
	if err := g.store.Del(ctx, key); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

func processedKey(scope, id string) (string, error) {
	if scope == "" {
		return "", errors.New("scope is required")
	}
	if id == "" {
		return "", errors.New("id is required")
	}
	return keyPrefix + scope + ":" + id, nil
}

// RedisStore adapts a go-redis client to Store.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
