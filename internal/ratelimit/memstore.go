package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemStore is a pure in-memory Store, guarded by a single mutex so the same
// prune-refill-consume sequence the Lua script performs atomically in Redis
// stays atomic here too. It backs the scheduler's unit tests (no live Redis
// required) and can run a broker standalone for local development.
type MemStore struct {
	mu sync.Mutex

	limits Limits

	rpmBucket Bucket
	tpmBucket Bucket

	window []windowEntry // sliding 60s RPM window, for the strict RPM check and the status snapshot

	day        string
	rpdUsed    int
	tpdUsed    int
}

type windowEntry struct {
	ts float64
}

// NewMemStore constructs an empty in-memory store for the given limits.
func NewMemStore(limits Limits) *MemStore {
	return &MemStore{limits: limits}
}

func (m *MemStore) rollDayLocked(day string) {
	if m.day != day {
		m.day = day
		m.rpdUsed = 0
		m.tpdUsed = 0
	}
}

// TryAdmit mirrors admissionScript's logic in plain Go under a mutex.
func (m *MemStore) TryAdmit(ctx context.Context, now time.Time, inputTokens int) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked(dayKey(now))
	nowSecs := float64(now.UnixNano()) / 1e9

	if m.rpdUsed >= m.limits.RPDLimit || m.tpdUsed+inputTokens > m.limits.TPDLimit {
		return Decision{Status: WaitDaily, Wait: 60 * time.Second}, nil
	}

	// Strict RPM sliding window (spec.md §4.2 steps 1-2): the true
	// per-minute admitted-request ceiling, independent of the token bucket.
	m.pruneWindowLocked(nowSecs)
	if len(m.window) >= m.limits.RPMLimit {
		return Decision{Status: WaitRPM, Wait: minBackoff}, nil
	}

	m.rpmBucket = m.rpmBucket.Refill(nowSecs, m.limits.RPMRate(), m.limits.RPMCapacity())
	if m.rpmBucket.Available < 1 {
		return Decision{Status: WaitTokens, Wait: rpmWait(m.rpmBucket.Available, m.limits.RPMRate())}, nil
	}

	m.tpmBucket = m.tpmBucket.Refill(nowSecs, m.limits.TPMRate(), m.limits.TPMCapacity())
	if m.tpmBucket.Available < float64(inputTokens) {
		return Decision{Status: WaitTokens, Wait: tpmWait(m.tpmBucket.Available, inputTokens, m.limits.TPMRate())}, nil
	}

	m.rpmBucket = m.rpmBucket.Consume(1)
	m.tpmBucket = m.tpmBucket.Consume(float64(inputTokens))
	m.window = append(m.window, windowEntry{ts: nowSecs})

	return Decision{Status: Admit}, nil
}

func (m *MemStore) pruneWindowLocked(nowSecs float64) {
	cutoff := nowSecs - 60
	kept := m.window[:0]
	for _, e := range m.window {
		if e.ts > cutoff {
			kept = append(kept, e)
		}
	}
	m.window = kept
}

// Snapshot returns the current in-memory usage view.
func (m *MemStore) Snapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.rollDayLocked(dayKey(now))
	nowSecs := float64(now.UnixNano()) / 1e9
	m.pruneWindowLocked(nowSecs)

	return Snapshot{
		RPMUsed:      len(m.window),
		RPMAvailable: m.rpmBucket.Available,
		TPMAvailable: m.tpmBucket.Available,
		RPDUsed:      m.rpdUsed,
		TPDUsed:      m.tpdUsed,
		Limits:       m.limits,
	}, nil
}

// Reset clears all bucket/window/daily state.
func (m *MemStore) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rpmBucket = Bucket{}
	m.tpmBucket = Bucket{}
	m.window = nil
	m.day = ""
	m.rpdUsed = 0
	m.tpdUsed = 0
	return nil
}

// RecordSuccess applies a completed dispatch's usage to the daily counters.
// The Redis-backed accounting package performs the equivalent write via a
// pipeline against rpd/tpd keys directly; MemStore tracks them in process
// for tests that exercise the RPD/TPD ceilings. The scheduler does not call
// this method; it records usage through its Recorder.
func (m *MemStore) RecordSuccess(ctx context.Context, now time.Time, inputTokens, outputTokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollDayLocked(dayKey(now))
	m.rpdUsed++
	m.tpdUsed += inputTokens + outputTokens
	return nil
}
