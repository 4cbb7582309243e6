package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/clinicops/internal/reliability/circuitbreaker"
)

type fakeKV struct {
	mu   sync.Mutex
	data map[string]time.Duration
	err  error
}

func (f *fakeKV) Set(_ context.Context, key string, _ interface{}, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.data[key] = ttl
	return nil
}

func (f *fakeKV) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	_, ok := f.data[key]
	return ok, nil
}

func TestMemoryRevocationStoreExpires(t *testing.T) {
	clock := &testClock{t: time.Unix(0, 0)}
	store := NewMemoryRevocationStore().WithClock(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "jti-1", time.Minute))
	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, _ = store.IsRevoked(ctx, "jti-2")
	assert.False(t, revoked)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, store.Purge())
	revoked, _ = store.IsRevoked(ctx, "jti-1")
	assert.False(t, revoked)
}

func TestMemoryRevocationStoreConcurrent(t *testing.T) {
	store := NewMemoryRevocationStore()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Revoke(ctx, "shared", time.Minute)
		}()
		go func() {
			defer wg.Done()
			_, _ = store.IsRevoked(ctx, "shared")
		}()
	}
	wg.Wait()
	revoked, err := store.IsRevoked(ctx, "shared")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRedisRevocationStorePrefixesKeys(t *testing.T) {
	kv := &fakeKV{data: map[string]time.Duration{}}
	store := NewRedisRevocationStore(kv, nil)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "jti-1", 5*time.Minute))
	assert.Equal(t, 5*time.Minute, kv.data["revoked:jti-1"])

	revoked, err := store.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRedisRevocationStoreFailsClosedWhenBreakerOpens(t *testing.T) {
	kv := &fakeKV{data: map[string]time.Duration{}, err: errors.New("dial tcp: refused")}
	breaker := circuitbreaker.NewCircuitBreaker("redis", 2, 1, time.Hour)
	store := NewRedisRevocationStore(kv, breaker)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.IsRevoked(ctx, "jti-1")
		assert.Error(t, err)
	}
	assert.Equal(t, circuitbreaker.StateOpen, breaker.GetState())

	kv.err = nil
	_, err := store.IsRevoked(ctx, "jti-1")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}
