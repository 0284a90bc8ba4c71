package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// setupTestStore connects to a local Redis instance for wiring tests. It
// skips (rather than fails) when Redis isn't reachable, matching
// internal/messaging's setupTestClient pattern for tests that need a real
// backing store.
func setupTestStore(t *testing.T) *RedisStore {
	t.Helper()
	store, err := NewRedisStore(RedisConfig{
		Addr:   "localhost:6379",
		DB:     15,
		Prefix: "apim_broker_test",
	}, testLimits())
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return store
}

func TestRedisStoreAdmitAndReset(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Reset(ctx))
	defer store.Reset(ctx)

	now := time.Now()
	d, err := store.TryAdmit(ctx, now, 10)
	require.NoError(t, err)
	require.Equal(t, Admit, d.Status)

	snap, err := store.Snapshot(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, snap.RPMUsed)
}

func TestRedisStoreDeniesBeyondCapacity(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()
	ctx := context.Background()
	store.Reset(ctx)
	defer store.Reset(ctx)

	now := time.Now()
	for i := 0; i < int(store.limits.RPMCapacity()); i++ {
		store.TryAdmit(ctx, now, 1)
	}
	d, err := store.TryAdmit(ctx, now, 1)
	require.NoError(t, err)
	require.Equal(t, WaitRPM, d.Status)
	require.Greater(t, d.Wait, time.Duration(0))
}
