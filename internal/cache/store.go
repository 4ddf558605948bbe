package cache

import (
	"context"
	"time"
)

// Store is the shared counter and key-value surface backing rate limiting
// and other short-lived state. Implementations exist for Redis and for the
// primary database, selected at startup.
type Store interface {
	// IncrementWithTTL bumps the counter at key, starting the window on the
	// first increment. Returns the new count and the time left in the window.
	IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, keys ...string) error
}
