// Package cache provides a small TTL cache for GET responses, backed by Redis
// when reachable and an in-process map otherwise. Writes clear the whole
// cache; entries are few and short-lived, so precision eviction is not worth
// its complexity.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// keyPrefix namespaces cache entries in a shared Redis.
const keyPrefix = "specmarket:cache:"

// Cache is the minimal contract the handler layer needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Clear(ctx context.Context)
}

// New probes Redis and returns a cache backed by it, falling back to the
// in-memory implementation when the probe fails.
func New(redisURL string, logger *zap.Logger) Cache {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("invalid redis URL, using in-memory cache", zap.Error(err))
		return NewMemory()
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unavailable, using in-memory cache", zap.Error(err))
		return NewMemory()
	}
	logger.Info("connected to redis cache")
	return &redisCache{client: client}
}

type redisCache struct {
	client *redis.Client
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	c.client.Set(ctx, keyPrefix+key, value, ttl)
}

func (c *redisCache) Clear(ctx context.Context) {
	keys, err := c.client.Keys(ctx, keyPrefix+"*").Result()
	if err != nil || len(keys) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	pipe.Exec(ctx)
}

// NewMemory returns the in-process cache implementation.
func NewMemory() Cache {
	return &memoryCache{entries: make(map[string]memoryEntry)}
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return entry.value, true
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = memoryEntry{value: value, expiresAt: time.Now().Add(ttl)}
}

func (c *memoryCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]memoryEntry)
}
