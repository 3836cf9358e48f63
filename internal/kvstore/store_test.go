package kvstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFromClient(client, "test"), mr
}

func storeContract(t *testing.T, store Store) {
	ctx := context.Background()

	_, err := store.Get(ctx, "otp:+77011234567")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "otp:+77011234567", "042317", time.Minute))
	value, err := store.Get(ctx, "otp:+77011234567")
	require.NoError(t, err)
	assert.Equal(t, "042317", value)

	require.NoError(t, store.Set(ctx, "otp:+77011234567", "111111", time.Minute))
	value, err = store.Get(ctx, "otp:+77011234567")
	require.NoError(t, err)
	assert.Equal(t, "111111", value)

	deleted, err := store.Delete(ctx, "otp:+77011234567")
	require.NoError(t, err)
	assert.True(t, deleted)
	_, err = store.Get(ctx, "otp:+77011234567")
	require.ErrorIs(t, err, ErrNotFound)

	for want := int64(1); want <= 3; want++ {
		n, err := store.Increment(ctx, "rate:+77011234567", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	deleted, err = store.Delete(ctx, "otp:+77011234567")
	require.NoError(t, err)
	assert.False(t, deleted)
	require.NoError(t, store.Ping(ctx))
}

func TestMemoryStoreContract(t *testing.T) {
	storeContract(t, NewMemory("test"))
}

func TestRedisStoreContract(t *testing.T) {
	store, _ := newRedisStore(t)
	storeContract(t, store)
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemory("")

	require.NoError(t, store.Set(ctx, "otp:a", "123456", 20*time.Millisecond))
	n, err := store.Increment(ctx, "rate:a", 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	time.Sleep(40 * time.Millisecond)

	_, err = store.Get(ctx, "otp:a")
	require.ErrorIs(t, err, ErrNotFound)

	n, err = store.Increment(ctx, "rate:a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStoreExpiryAndWindow(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, store.Set(ctx, "otp:a", "123456", 5*time.Minute))
	_, err := store.Increment(ctx, "rate:a", time.Minute)
	require.NoError(t, err)
	_, err = store.Increment(ctx, "rate:a", time.Minute)
	require.NoError(t, err)

	// the second increment must not push the window forward
	assert.Equal(t, time.Minute, mr.TTL("test:rate:a"))

	mr.FastForward(61 * time.Second)
	n, err := store.Increment(ctx, "rate:a", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	mr.FastForward(5 * time.Minute)
	_, err = store.Get(ctx, "otp:a")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisIncrementRestoresMissingExpiry(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	require.NoError(t, mr.Set("test:rate:b", "4"))
	n, err := store.Increment(ctx, "rate:b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, time.Minute, mr.TTL("test:rate:b"))
}

func TestMemoryIncrementIsAtomic(t *testing.T) {
	ctx := context.Background()
	store := NewMemory("")

	const workers = 64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Increment(ctx, "rate:c", time.Minute)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	n, err := store.Increment(ctx, "rate:c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(workers+1), n)
}

func TestMemoryIncrementRejectsNonCounter(t *testing.T) {
	ctx := context.Background()
	store := NewMemory("")

	require.NoError(t, store.Set(ctx, "otp:d", "123456", time.Minute))
	_, err := store.Increment(ctx, "otp:d", time.Minute)
	require.Error(t, err)
}
