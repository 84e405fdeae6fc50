package utils

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const defaultCacheTTL = time.Hour

// Cache is a JSON read-through cache on top of Redis, or on top of process memory
// when built with NewMemoryCache. A Cache with neither turns every lookup into a miss.
type Cache struct {
	rc    *redis.Client
	ttl   time.Duration
	log   *zap.Logger
	group singleflight.Group

	mu  sync.Mutex
	mem map[string]memEntry
	now func() time.Time
}

type memEntry struct {
	b   []byte
	exp time.Time
}

func NewCache(rc *redis.Client, ttl time.Duration, log *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{rc: rc, ttl: ttl, log: log, now: time.Now}
}

// NewMemoryCache keeps entries in this process only. Used when Redis is unavailable.
func NewMemoryCache(ttl time.Duration, log *zap.Logger) *Cache {
	c := NewCache(nil, ttl, log)
	c.mem = make(map[string]memEntry)
	return c
}

// GetBytes returns cached bytes for a key from Redis.
func (c *Cache) GetBytes(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	if c.rc == nil {
		return c.memGet(key)
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, err := c.rc.Get(ctx, key).Bytes()
	if err != nil {
		c.log.Debug("cache miss", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return b, true
}

// SetJSON marshals v and stores it; ttl <= 0 uses the cache default.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	if c == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	if c.rc == nil {
		c.memSet(key, b, ttl)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.rc.Set(ctx, key, b, ttl).Err(); err != nil {
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

// Delete removes exact keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if c.rc == nil {
		c.memDelete(keys)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.rc.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn("cache delete failed", zap.Strings("keys", keys), zap.Error(err))
	}
}

// DeleteLater deletes keys again after delay. Paired with Delete after a write, it evicts
// a value that a concurrent reader loaded before the write and stored after the first delete.
func (c *Cache) DeleteLater(delay time.Duration, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	time.AfterFunc(delay, func() { c.Delete(context.Background(), keys...) })
}

func (c *Cache) memGet(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.mem[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.exp) {
		delete(c.mem, key)
		return nil, false
	}
	return e.b, true
}

func (c *Cache) memSet(key string, b []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mem == nil {
		// plain NewCache(nil, ...) caches nothing
		return
	}
	c.mem[key] = memEntry{b: b, exp: c.now().Add(ttl)}
}

func (c *Cache) memDelete(keys []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.mem, k)
	}
}

// GetOrLoad serves key from the cache, or runs load once for all concurrent callers and caches its result.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if b, ok := c.GetBytes(ctx, key); ok {
		var v T
		if err := json.Unmarshal(b, &v); err == nil {
			return v, nil
		}
	}
	if c == nil {
		return load(ctx)
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.SetJSON(ctx, key, loaded, 0)
		return loaded, nil
	})
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}
