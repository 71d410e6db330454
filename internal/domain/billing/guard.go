package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultGuardTTL bounds how long a crashed instance blocks redeliveries.
const defaultGuardTTL = 2 * time.Minute

// Guard leases a delivery to one instance while it is processed. Whether a
// delivery is a duplicate is decided by the event store, never by the guard.
type Guard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type setnxStore interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisGuard leases deliveries with SETNX so concurrent redeliveries are not processed twice.
type RedisGuard struct {
	store setnxStore
	ttl   time.Duration
}

func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &RedisGuard{store: client, ttl: ttl}
}

// CheckAndMark returns true when another caller holds the lease.
func (g *RedisGuard) CheckAndMark(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, errors.New("guard key is required")
	}
	set, err := g.store.SetNX(ctx, "webhook:seen:"+key, "1", g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("set guard key: %w", err)
	}
	return !set, nil
}

func (g *RedisGuard) Delete(ctx context.Context, key string) error {
	return g.store.Del(ctx, "webhook:seen:"+key).Err()
}
