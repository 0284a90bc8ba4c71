package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func testLimits() Limits {
	return Limits{RPMLimit: 60, TPMLimit: 600, RPDLimit: 1000, TPDLimit: 100000, BurstFactor: 1.0}
}

// TestMemStoreAdmitsUpToBurstCapacity checks that the bucket starts full and
// admits exactly RPMCapacity requests before denying (I1/I4 non-negativity
// and never exceeding capacity).
func TestMemStoreAdmitsUpToBurstCapacity(t *testing.T) {
	store := NewMemStore(testLimits())
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	admitted := 0
	for i := 0; i < 61; i++ {
		d, err := store.TryAdmit(ctx, now, 1)
		if err != nil {
			t.Fatalf("TryAdmit: %v", err)
		}
		if d.Status == Admit {
			admitted++
		}
	}
	if admitted != 60 {
		t.Errorf("expected exactly 60 admits at RPM capacity 60, got %d", admitted)
	}
}

// TestMemStoreDeniesOnDailyExhaustion (P3-style): once RPD is exhausted no
// further admission succeeds regardless of remaining minute-window capacity.
func TestMemStoreDeniesOnDailyExhaustion(t *testing.T) {
	limits := testLimits()
	limits.RPDLimit = 3
	store := NewMemStore(limits)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	for i := 0; i < 3; i++ {
		store.TryAdmit(ctx, now, 1)
		store.RecordSuccess(ctx, now, 1, 1)
	}

	d, err := store.TryAdmit(ctx, now, 1)
	if err != nil {
		t.Fatalf("TryAdmit: %v", err)
	}
	if d.Status != WaitDaily {
		t.Errorf("expected WaitDaily once RPD exhausted, got %v", d.Status)
	}
}

// TestMemStoreTokenDenialReportsPositiveWait (P2-style): a token-bucket
// denial must always surface a strictly positive backoff.
func TestMemStoreTokenDenialReportsPositiveWait(t *testing.T) {
	limits := testLimits()
	limits.TPMLimit = 60 // 1 token/sec
	store := NewMemStore(limits)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	d, err := store.TryAdmit(ctx, now, 1000) // far more than capacity
	if err != nil {
		t.Fatalf("TryAdmit: %v", err)
	}
	if d.Status != WaitTokens {
		t.Errorf("expected WaitTokens, got %v", d.Status)
	}
	if d.Wait <= 0 {
		t.Errorf("expected strictly positive wait, got %v", d.Wait)
	}
}

// TestMemStoreRefillMonotonic (P4-style): letting time pass always
// increases or holds available capacity, never decreases it.
func TestMemStoreRefillMonotonic(t *testing.T) {
	store := NewMemStore(testLimits())
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	store.TryAdmit(ctx, now, 1)
	snapBefore, _ := store.Snapshot(ctx, now)

	later := now.Add(5 * time.Second)
	snapAfter, _ := store.Snapshot(ctx, later)

	if snapAfter.RPMAvailable < snapBefore.RPMAvailable {
		t.Errorf("expected available capacity to be monotonic non-decreasing over time, before=%v after=%v",
			snapBefore.RPMAvailable, snapAfter.RPMAvailable)
	}
}

// TestMemStoreConcurrentAdmitNeverExceedsCapacity (P1/P5-style): hammering
// TryAdmit from many goroutines must never admit more than RPMCapacity
// requests within one window, proving the mutex gives the same atomicity
// the Lua EVAL gives in production.
func TestMemStoreConcurrentAdmitNeverExceedsCapacity(t *testing.T) {
	limits := testLimits()
	limits.RPMLimit = 10
	store := NewMemStore(limits)
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.TryAdmit(ctx, now, 1)
			if err != nil {
				t.Errorf("TryAdmit: %v", err)
				return
			}
			if d.Status == Admit {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted > 10 {
		t.Errorf("expected at most 10 admits (RPM capacity), got %d", admitted)
	}
}

func TestMemStoreResetClearsState(t *testing.T) {
	store := NewMemStore(testLimits())
	ctx := context.Background()
	now := time.Unix(1700000000, 0)

	store.TryAdmit(ctx, now, 1)
	store.RecordSuccess(ctx, now, 10, 10)

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	snap, _ := store.Snapshot(ctx, now)
	if snap.RPDUsed != 0 || snap.TPDUsed != 0 || snap.RPMUsed != 0 {
		t.Errorf("expected zeroed state after Reset, got %+v", snap)
	}
}
