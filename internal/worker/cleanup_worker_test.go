package worker

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/clinicops/internal/security/auth"
)

type countingPurger struct {
	calls atomic.Int32
}

func (p *countingPurger) Purge() int {
	p.calls.Add(1)
	return 0
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOncePurgesExpiredRevocations(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := auth.NewMemoryRevocationStore().WithClock(clock)
	ctx := context.Background()

	require.NoError(t, store.Revoke(ctx, "short", time.Minute))
	require.NoError(t, store.Revoke(ctx, "long", time.Hour))

	w := NewCleanupWorker(store, quietLogger(), time.Minute)
	assert.Zero(t, w.RunOnce())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, w.RunOnce())

	revoked, err := store.IsRevoked(ctx, "long")
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestStartStopsOnCancel(t *testing.T) {
	p := &countingPurger{}
	w := NewCleanupWorker(p, quietLogger(), 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
