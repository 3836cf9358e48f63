package kvstore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is an in-process Store for development and tests. It is not shared
// between serverless instances.
type Memory struct {
	mu     sync.Mutex
	cache  *gocache.Cache
	prefix string
}

func NewMemory(prefix string) *Memory {
	return &Memory{
		cache:  gocache.New(gocache.NoExpiration, time.Minute),
		prefix: prefix,
	}
}

func (m *Memory) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.cache.Set(prefixed(m.prefix, key), value, expiration(ttl))
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	v, ok := m.cache.Get(prefixed(m.prefix, key))
	if !ok {
		return "", ErrNotFound
	}

	switch value := v.(type) {
	case string:
		return value, nil
	case int64:
		return strconv.FormatInt(value, 10), nil
	default:
		return "", fmt.Errorf("kvstore: unexpected value type %T", v)
	}
}

func (m *Memory) Increment(_ context.Context, key string, ttl time.Duration) (int64, error) {
	k := prefixed(m.prefix, key)

	m.mu.Lock()
	defer m.mu.Unlock()

	v, found := m.cache.Get(k)
	if !found {
		m.cache.Set(k, int64(1), expiration(ttl))
		return 1, nil
	}
	if _, ok := v.(int64); !ok {
		return 0, fmt.Errorf("kvstore: value at %q is not a counter", key)
	}

	n, err := m.cache.IncrementInt64(k, 1)
	if err != nil {
		// expired between the lookup and the increment
		m.cache.Set(k, int64(1), expiration(ttl))
		return 1, nil
	}

	return n, nil
}

func (m *Memory) Delete(_ context.Context, key string) (bool, error) {
	k := prefixed(m.prefix, key)

	m.mu.Lock()
	defer m.mu.Unlock()

	_, found := m.cache.Get(k)
	m.cache.Delete(k)
	return found, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error {
	m.cache.Flush()
	return nil
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}
