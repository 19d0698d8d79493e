package chat

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultModelTTL bounds how long a "last known good model" entry is trusted.
const DefaultModelTTL = 10 * time.Minute

const redisModelKey = "mce:model:last"

// ModelCache remembers the last model identifier that completed successfully,
// so the relay can try it first instead of re-probing the candidate list.
// Advisory only: a nil cache or an empty cache changes nothing but latency.
type ModelCache interface {
	Get(ctx context.Context) (string, bool)
	Put(ctx context.Context, model string)
	Invalidate(ctx context.Context)
}

// MemoryModelCache is the single-process implementation.
type MemoryModelCache struct {
	mu        sync.Mutex
	model     string
	updatedAt time.Time
	ttl       time.Duration
}

func NewMemoryModelCache(ttl time.Duration) *MemoryModelCache {
	if ttl <= 0 {
		ttl = DefaultModelTTL
	}
	return &MemoryModelCache{ttl: ttl}
}

func (c *MemoryModelCache) Get(ctx context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model == "" || time.Since(c.updatedAt) > c.ttl {
		c.model = ""
		return "", false
	}
	return c.model, true
}

func (c *MemoryModelCache) Put(ctx context.Context, model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = model
	c.updatedAt = time.Now()
}

func (c *MemoryModelCache) Invalidate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.model = ""
}

// RedisModelCache shares the last-good model across replicas. The TTL rides
// on the Redis key itself.
type RedisModelCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisModelCache(rdb *redis.Client, ttl time.Duration) *RedisModelCache {
	if ttl <= 0 {
		ttl = DefaultModelTTL
	}
	return &RedisModelCache{rdb: rdb, ttl: ttl}
}

func (c *RedisModelCache) Get(ctx context.Context) (string, bool) {
	// Treat Redis trouble the same as a miss; the relay just recomputes.
	v, err := c.rdb.Get(ctx, redisModelKey).Result()
	if err != nil {
		return "", false
	}
	return v, v != ""
}

func (c *RedisModelCache) Put(ctx context.Context, model string) {
	_ = c.rdb.Set(ctx, redisModelKey, model, c.ttl).Err()
}

func (c *RedisModelCache) Invalidate(ctx context.Context) {
	_ = c.rdb.Del(ctx, redisModelKey).Err()
}
