package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "subscription:state:"
	localCacheSize = 4096
)

// Cache stores projections per account. Get returns ErrCacheMiss when absent.
type Cache interface {
	Get(ctx context.Context, accountID string) (Projection, error)
	Set(ctx context.Context, accountID string, p Projection) error
	Delete(ctx context.Context, accountID string) error
}

// redisStore is the part of *redis.Client the cache needs
type redisStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache shares projections across API instances
type RedisCache struct {
	store redisStore
	ttl   time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{store: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, accountID string) (Projection, error) {
	raw, err := c.store.Get(ctx, cacheKeyPrefix+accountID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Projection{}, ErrCacheMiss
	}
	if err != nil {
		return Projection{}, fmt.Errorf("get cached subscription: %w", err)
	}

	var p Projection
	if err := json.Unmarshal(raw, &p); err != nil {
		return Projection{}, ErrCacheMiss
	}
	return p, nil
}

func (c *RedisCache) Set(ctx context.Context, accountID string, p Projection) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, cacheKeyPrefix+accountID, raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, accountID string) error {
	return c.store.Del(ctx, cacheKeyPrefix+accountID).Err()
}

// LocalCache keeps projections in process. Used when Redis is not configured.
type LocalCache struct {
	lru *expirable.LRU[string, Projection]
}

func NewLocalCache(ttl time.Duration) *LocalCache {
	return &LocalCache{lru: expirable.NewLRU[string, Projection](localCacheSize, nil, ttl)}
}

func (c *LocalCache) Get(_ context.Context, accountID string) (Projection, error) {
	p, ok := c.lru.Get(accountID)
	if !ok {
		return Projection{}, ErrCacheMiss
	}
	return p, nil
}

func (c *LocalCache) Set(_ context.Context, accountID string, p Projection) error {
	c.lru.Add(accountID, p)
	return nil
}

func (c *LocalCache) Delete(_ context.Context, accountID string) error {
	c.lru.Remove(accountID)
	return nil
}
