// Package kvstore holds short-lived records with expiry: pending OTP codes,
// rate-limit counters and Telegram identity mappings.
package kvstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kvstore: key not found")

// Store is a key-value store where every entry carries its own TTL.
type Store interface {
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (string, error)
	// Increment atomically adds one to the counter at key and returns the new
	// value. A missing counter is created with the given TTL; an existing one
	// keeps its expiry.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Delete removes key and reports whether it was present, so callers can
	// consume a record exactly once.
	Delete(ctx context.Context, key string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

func prefixed(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
