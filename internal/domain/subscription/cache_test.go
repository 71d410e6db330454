package subscription

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextday/nextday-api/internal/pkg/polar"
)

type memRedis struct {
	values map[string]string
	ttls   map[string]time.Duration
	getErr error
}

func newMemRedis() *memRedis {
	return &memRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (m *memRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	cmd := redis.NewStringCmd(ctx, "get", key)
	if m.getErr != nil {
		cmd.SetErr(m.getErr)
		return cmd
	}
	v, ok := m.values[key]
	if !ok {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	cmd.SetVal(v)
	return cmd
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	switch v := value.(type) {
	case []byte:
		m.values[key] = string(v)
	case string:
		m.values[key] = v
	}
	m.ttls[key] = expiration
	cmd := redis.NewStatusCmd(ctx, "set", key)
	cmd.SetVal("OK")
	return cmd
}

func (m *memRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := m.values[k]; ok {
			delete(m.values, k)
			n++
		}
	}
	cmd := redis.NewIntCmd(ctx, "del")
	cmd.SetVal(n)
	return cmd
}

func TestRedisCacheRoundTrip(t *testing.T) {
	store := newMemRedis()
	c := &RedisCache{store: store, ttl: 5 * time.Minute}
	ctx := context.Background()

	_, err := c.Get(ctx, "acc_1")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "acc_1", FromCustomerState(activeState(false))))
	assert.Equal(t, 5*time.Minute, store.ttls["subscription:state:acc_1"])

	p, err := c.Get(ctx, "acc_1")
	require.NoError(t, err)
	assert.True(t, p.HasActiveSubscription)
	assert.Equal(t, "sub_1", p.SubscriptionID)

	require.NoError(t, c.Delete(ctx, "acc_1"))
	_, err = c.Get(ctx, "acc_1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCacheCorruptValueIsMiss(t *testing.T) {
	store := newMemRedis()
	store.values["subscription:state:acc_1"] = "{not json"
	c := &RedisCache{store: store, ttl: time.Minute}

	_, err := c.Get(context.Background(), "acc_1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestReaderFallsThroughOnCacheError(t *testing.T) {
	store := newMemRedis()
	store.getErr = errors.New("redis down")
	src := &fakeSource{states: map[string]*polar.CustomerState{"acc_1": activeState(false)}}
	r := NewReader(src, &RedisCache{store: store, ttl: time.Minute})

	p, err := r.Get(context.Background(), "acc_1")
	require.NoError(t, err)
	assert.True(t, p.HasActiveSubscription)
	assert.Equal(t, 1, src.calls)
}

func TestLocalCacheExpires(t *testing.T) {
	c := NewLocalCache(20 * time.Millisecond)
	require.NoError(t, c.Set(context.Background(), "acc_1", None()))

	_, err := c.Get(context.Background(), "acc_1")
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	_, err = c.Get(context.Background(), "acc_1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
