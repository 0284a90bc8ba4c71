package ratelimit

import (
	"testing"
	"time"
)

func TestBucketRefillUnseenStartsFull(t *testing.T) {
	var b Bucket
	got := b.Refill(1000, 1, 60)
	if got.Available != 60 {
		t.Errorf("expected unseen bucket to start full at maxCap 60, got %v", got.Available)
	}
	if got.LastTS != 1000 {
		t.Errorf("expected LastTS 1000, got %v", got.LastTS)
	}
}

func TestBucketRefillAccumulatesOverElapsedTime(t *testing.T) {
	b := Bucket{Available: 10, LastTS: 1000}
	got := b.Refill(1010, 1, 60) // 10s elapsed at rate 1/s => +10
	if got.Available != 20 {
		t.Errorf("expected available 20, got %v", got.Available)
	}
}

func TestBucketRefillClampsToMaxCap(t *testing.T) {
	b := Bucket{Available: 55, LastTS: 1000}
	got := b.Refill(2000, 1, 60) // huge elapsed time, would overflow without clamp
	if got.Available != 60 {
		t.Errorf("expected available clamped to maxCap 60, got %v", got.Available)
	}
}

func TestBucketRefillNonPositiveElapsedIsNoop(t *testing.T) {
	b := Bucket{Available: 10, LastTS: 1000}
	got := b.Refill(999, 1, 60) // clock went backwards
	if got != b {
		t.Errorf("expected no-op on non-positive elapsed, got %+v", got)
	}
}

func TestBucketConsume(t *testing.T) {
	b := Bucket{Available: 10, LastTS: 1000}
	got := b.Consume(4)
	if got.Available != 6 {
		t.Errorf("expected available 6, got %v", got.Available)
	}
	if got.LastTS != 1000 {
		t.Errorf("expected LastTS unchanged, got %v", got.LastTS)
	}
}

func TestLimitsCapacityAndRate(t *testing.T) {
	l := Limits{RPMLimit: 60, TPMLimit: 4000, BurstFactor: 0.5}
	if l.RPMCapacity() != 30 {
		t.Errorf("expected RPMCapacity 30, got %v", l.RPMCapacity())
	}
	if l.RPMRate() != 1 {
		t.Errorf("expected RPMRate 1 req/s, got %v", l.RPMRate())
	}
	if l.TPMCapacity() != 2000 {
		t.Errorf("expected TPMCapacity 2000, got %v", l.TPMCapacity())
	}
	wantTPMRate := 4000.0 / 60.0
	if l.TPMRate() != wantTPMRate {
		t.Errorf("expected TPMRate %v, got %v", wantTPMRate, l.TPMRate())
	}
}

func TestRpmWaitZeroWhenAvailable(t *testing.T) {
	if got := rpmWait(5, 1); got != 0 {
		t.Errorf("expected zero wait when capacity available, got %v", got)
	}
}

func TestRpmWaitFloorsAtMinBackoff(t *testing.T) {
	got := rpmWait(0.999999, 1000) // tiny deficit, huge rate => sub-millisecond wait
	if got != minBackoff {
		t.Errorf("expected wait floored at %v, got %v", minBackoff, got)
	}
}

func TestRpmWaitScalesWithDeficit(t *testing.T) {
	got := rpmWait(0, 1) // need 1 unit at rate 1/s => 1s
	if got < 900*time.Millisecond || got > 1100*time.Millisecond {
		t.Errorf("expected wait near 1s, got %v", got)
	}
}

func TestTpmWaitZeroWhenAvailable(t *testing.T) {
	if got := tpmWait(100, 50, 10); got != 0 {
		t.Errorf("expected zero wait when tokens available, got %v", got)
	}
}

func TestTpmWaitScalesWithDeficit(t *testing.T) {
	got := tpmWait(0, 100, 10) // need 100 tokens at rate 10/s => 10s
	if got < 9*time.Second || got > 11*time.Second {
		t.Errorf("expected wait near 10s, got %v", got)
	}
}
