package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key does not exist or has expired.
var ErrMiss = errors.New("cache: miss")

// Store is the TTL key/value store shared by the session shortcuts,
// health-check memoization and rate-limit counters.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// IncrWithExpire increments key and starts its TTL window on the first hit.
	IncrWithExpire(ctx context.Context, key string, window time.Duration) (int64, error)
}
