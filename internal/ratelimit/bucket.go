package ratelimit

import "time"

// Limits holds the four quota ceilings and the scheduling knobs that scale
// them, per spec.md §4.2.
type Limits struct {
	RPMLimit    int
	TPMLimit    int
	RPDLimit    int
	TPDLimit    int
	BurstFactor float64 // fraction of RPM/TPM limit used as initial/max bucket capacity
}

// RPMCapacity is the token bucket's max capacity for requests-per-minute.
func (l Limits) RPMCapacity() float64 { return float64(l.RPMLimit) * l.BurstFactor }

// RPMRate is the bucket's refill rate in requests/second.
func (l Limits) RPMRate() float64 { return float64(l.RPMLimit) / 60.0 }

// TPMCapacity is the token bucket's max capacity for tokens-per-minute.
func (l Limits) TPMCapacity() float64 { return float64(l.TPMLimit) * l.BurstFactor }

// TPMRate is the bucket's refill rate in tokens/second.
func (l Limits) TPMRate() float64 { return float64(l.TPMLimit) / 60.0 }

// Bucket is a token bucket's persisted state: how much capacity is currently
// available, and the timestamp it was last refilled at.
type Bucket struct {
	Available float64
	LastTS    float64 // unix seconds; zero means unseen
}

// Refill advances the bucket to now, adding elapsed*rate capacity capped at
// maxCap. An unseen bucket starts full, per spec.md §4.2 step 3.
func (b Bucket) Refill(now, rate, maxCap float64) Bucket {
	if b.LastTS == 0 {
		return Bucket{Available: maxCap, LastTS: now}
	}
	elapsed := now - b.LastTS
	if elapsed <= 0 {
		return Bucket{Available: b.Available, LastTS: b.LastTS}
	}
	available := b.Available + elapsed*rate
	if available > maxCap {
		available = maxCap
	}
	return Bucket{Available: available, LastTS: now}
}

// Consume subtracts n from the bucket's available capacity. Callers must
// check Available >= n first (I4); Consume itself does not clamp, so a
// negative result surfaces a caller bug rather than silently hiding it.
func (b Bucket) Consume(n float64) Bucket {
	return Bucket{Available: b.Available - n, LastTS: b.LastTS}
}

const minBackoff = 20 * time.Millisecond

// durationFromSeconds converts a fractional-second wait into a
// time.Duration, floored at the 20ms minimum backoff spec.md §4.2 requires
// for WAIT_RPM/WAIT_TOKENS denials.
func durationFromSeconds(secs float64) time.Duration {
	if secs <= 0 {
		return minBackoff
	}
	d := time.Duration(secs * float64(time.Second))
	if d < minBackoff {
		return minBackoff
	}
	return d
}

// rpmWait computes the WAIT_TOKENS delay for the RPM bucket (spec.md §4.2
// step 4): time until one more unit of capacity refills.
func rpmWait(rpmAvailable, rpmRate float64) time.Duration {
	needed := 1 - rpmAvailable
	if needed <= 0 {
		return 0
	}
	return durationFromSeconds(needed / rpmRate)
}

// tpmWait computes the WAIT_TOKENS delay for the TPM bucket (spec.md §4.2
// step 5): time until N tokens' worth of capacity refills.
func tpmWait(tpmAvailable float64, n int, tpmRate float64) time.Duration {
	needed := float64(n) - tpmAvailable
	if needed <= 0 {
		return 0
	}
	return durationFromSeconds(needed / tpmRate)
}
