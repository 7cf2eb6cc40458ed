// Package dedup suppresses repeated delivery of the same message using a
// Redis key per Message-ID with a TTL.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a Message-ID is remembered.
	DefaultTTL = 24 * time.Hour

	// DefaultPrefix namespaces dedup keys in Redis.
	DefaultPrefix = "mailcompose:seen:"
)

// Store is the subset of the Redis client used by Filter.
type Store interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Filter tracks which Message-IDs have already been accepted.
type Filter struct {
	store  Store
	ttl    time.Duration
	prefix string
}

// NewFilter creates a filter backed by store. A zero ttl selects DefaultTTL
// and an empty prefix selects DefaultPrefix.
func NewFilter(store Store, ttl time.Duration, prefix string) *Filter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Filter{store: store, ttl: ttl, prefix: prefix}
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// IsNew reports whether messageID has NOT been seen before. A new ID is
// marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, messageID string) (bool, error) {
	set, err := f.store.SetNX(ctx, f.prefix+messageID, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}
	return set, nil
}

// Forget removes messageID so a later attempt is treated as new.
func (f *Filter) Forget(ctx context.Context, messageID string) error {
	if err := f.store.Del(ctx, f.prefix+messageID).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
