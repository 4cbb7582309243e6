package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/yourorg/clinicops/internal/reliability/circuitbreaker"
	"github.com/yourorg/clinicops/pkg/cache"
)

// RevocationStore remembers revoked token ids until the tokens would have
// expired anyway. Implementations must be safe for concurrent use.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryRevocationStore keeps revocations in process. Entries vanish on
// restart, so it suits single-instance and development deployments.
type MemoryRevocationStore struct {
	entries *cache.Cache[struct{}]
}

func NewMemoryRevocationStore() *MemoryRevocationStore {
	return &MemoryRevocationStore{entries: cache.New[struct{}]()}
}

func (s *MemoryRevocationStore) WithClock(now func() time.Time) *MemoryRevocationStore {
	s.entries.WithClock(now)
	return s
}

func (s *MemoryRevocationStore) Revoke(_ context.Context, jti string, ttl time.Duration) error {
	s.entries.Set(jti, struct{}{}, ttl)
	return nil
}

func (s *MemoryRevocationStore) IsRevoked(_ context.Context, jti string) (bool, error) {
	_, ok := s.entries.Get(jti)
	return ok, nil
}

// Purge drops entries whose tokens have expired and returns how many.
func (s *MemoryRevocationStore) Purge() int {
	return s.entries.PurgeExpired()
}

// KeyValueStore is the subset of the Redis client used for revocations
type KeyValueStore interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

const revokedKeyPrefix = "revoked:"

// RedisRevocationStore shares revocations between instances. Calls go
// through a circuit breaker so an unreachable Redis fails fast.
type RedisRevocationStore struct {
	kv      KeyValueStore
	breaker *circuitbreaker.CircuitBreaker
}

func NewRedisRevocationStore(kv KeyValueStore, breaker *circuitbreaker.CircuitBreaker) *RedisRevocationStore {
	if breaker == nil {
		breaker = circuitbreaker.NewCircuitBreaker("redis", 5, 1, 10*time.Second)
	}
	return &RedisRevocationStore{kv: kv, breaker: breaker}
}

func (s *RedisRevocationStore) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	err := s.breaker.Execute(func() error {
		return s.kv.Set(ctx, revokedKeyPrefix+jti, "1", ttl)
	})
	if err != nil {
		return fmt.Errorf("failed to store revocation: %w", err)
	}
	return nil
}

func (s *RedisRevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.breaker.Execute(func() error {
		var err error
		revoked, err = s.kv.Exists(ctx, revokedKeyPrefix+jti)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to look up revocation: %w", err)
	}
	return revoked, nil
}
