// Package tokens issues single use password reset tokens backed by a KV with expiry.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cppla/jellyfish/common"
)

const (
	// KeyPrefix namespaces reset tokens inside the shared key space.
	KeyPrefix  = "forget-password:"
	DefaultTTL = 72 * time.Hour
)

type Store struct {
	kv  KV
	ttl time.Duration
}

// NewStore returns a Store whose tokens live for ttl, or DefaultTTL when ttl is not positive.
func NewStore(kv KV, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl}
}

// Issue creates a random token bound to userID.
func (s *Store) Issue(ctx context.Context, userID uint) (string, error) {
	token := uuid.NewString()
	if err := s.kv.Set(ctx, KeyPrefix+token, strconv.FormatUint(uint64(userID), 10), s.ttl); err != nil {
		return "", fmt.Errorf("%w: save reset token: %w", common.ErrStoreFailure, err)
	}
	return token, nil
}

// Resolve returns the user bound to token without using it up. found is false for unknown, expired or used tokens.
func (s *Store) Resolve(ctx context.Context, token string) (userID uint, found bool, err error) {
	if token == "" {
		return 0, false, nil
	}
	v, err := s.kv.Get(ctx, KeyPrefix+token)
	return parseOwner(v, err, "read")
}

// Consume returns the user bound to token and removes the token atomically, so that of several
// concurrent callers only one sees found == true.
func (s *Store) Consume(ctx context.Context, token string) (userID uint, found bool, err error) {
	if token == "" {
		return 0, false, nil
	}
	v, err := s.kv.GetDel(ctx, KeyPrefix+token)
	return parseOwner(v, err, "consume")
}

func parseOwner(v string, err error, op string) (uint, bool, error) {
	if errors.Is(err, ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: %s reset token: %w", common.ErrStoreFailure, op, err)
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil || id == 0 {
		return 0, false, nil
	}
	return uint(id), true, nil
}

// Invalidate deletes token so it cannot be used again.
func (s *Store) Invalidate(ctx context.Context, token string) error {
	if err := s.kv.Del(ctx, KeyPrefix+token); err != nil {
		return fmt.Errorf("%w: delete reset token: %w", common.ErrStoreFailure, err)
	}
	return nil
}

func (s *Store) TTL() time.Duration { return s.ttl }
