package utils

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const blacklistPrefix = "jwt:blacklist:"

// TokenBlacklist remembers logged out JWTs until they would have expired anyway.
// Without Redis it keeps entries in process memory.
type TokenBlacklist struct {
	rc  *redis.Client
	now func() time.Time

	mu  sync.RWMutex
	mem map[string]time.Time
}

func NewTokenBlacklist(rc *redis.Client) *TokenBlacklist {
	return &TokenBlacklist{rc: rc, now: time.Now, mem: map[string]time.Time{}}
}

// Revoke stores a token until expiresAt to support logout semantics.
func (b *TokenBlacklist) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(b.now())
	if ttl <= 0 {
		return nil
	}
	if b.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return b.rc.Set(ctx, blacklistPrefix+token, "1", ttl).Err()
	}
	b.mu.Lock()
	b.mem[token] = expiresAt
	b.mu.Unlock()
	return nil
}

// IsRevoked checks if a token was revoked before natural expiration.
func (b *TokenBlacklist) IsRevoked(ctx context.Context, token string) bool {
	if b.rc != nil {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		n, err := b.rc.Exists(ctx, blacklistPrefix+token).Result()
		if err != nil {
			// fail open so a Redis outage does not log everyone out
			return false
		}
		return n > 0
	}

	b.mu.RLock()
	expiresAt, ok := b.mem[token]
	b.mu.RUnlock()
	if !ok {
		return false
	}
	if b.now().After(expiresAt) {
		b.mu.Lock()
		delete(b.mem, token)
		b.mu.Unlock()
		return false
	}
	return true
}
