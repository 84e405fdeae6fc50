package tokens

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrKeyNotFound is returned by KV.Get for absent or expired keys.
var ErrKeyNotFound = errors.New("key not found")

// KV is a string store with native per-key expiry.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	// GetDel reads and removes key in one atomic step.
	GetDel(ctx context.Context, key string) (string, error)
}

// RedisKV stores keys in Redis and relies on its TTL for expiry.
type RedisKV struct {
	rc      *redis.Client
	timeout time.Duration
}

func NewRedisKV(rc *redis.Client) *RedisKV {
	return &RedisKV{rc: rc, timeout: 2 * time.Second}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, err := r.rc.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return v, err
}

func (r *RedisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.rc.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.rc.Del(ctx, key).Err()
}

// getDelScript serves servers older than Redis 6.2, which lack GETDEL.
var getDelScript = redis.NewScript(`local v=redis.call('GET', KEYS[1]); if v then redis.call('DEL', KEYS[1]); end; return v`)

func (r *RedisKV) GetDel(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	v, err := r.rc.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err == nil {
		return v, nil
	}
	if !strings.Contains(strings.ToLower(err.Error()), "unknown command") {
		return "", err
	}
	res, err := getDelScript.Run(ctx, r.rc, []string{key}).Text()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	return res, err
}

type memEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryKV keeps keys in process memory. Expired keys are dropped lazily on access.
type MemoryKV struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

// NewMemoryKV returns an empty store. A nil clock means time.Now.
func NewMemoryKV(clock func() time.Time) *MemoryKV {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryKV{entries: map[string]memEntry{}, now: clock}
}

func (m *MemoryKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (m *MemoryKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = memEntry{value: value, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryKV) GetDel(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", ErrKeyNotFound
	}
	delete(m.entries, key)
	if !m.now().Before(e.expiresAt) {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}
