package ratelimit

import (
	"fmt"
	"time"
)

// admissionScript is the atomic admission check: prune and count the RPM
// sliding window, refill both token buckets, verify the daily RPD/TPD
// ceilings, and either consume capacity or report why it can't per
// spec.md §4.2 (I5 - one round trip, no read-then-write race). It runs
// against both the broker's own keyspace and, on success, leaves the
// companion accounting package to mirror the write under the LLM prefix.
//
// KEYS[1] = rpm bucket hash   (fields: avail, ts)
// KEYS[2] = tpm bucket hash   (fields: avail, ts)
// KEYS[3] = rpm window zset   (member -> request timestamp, admitted count)
// KEYS[4] = rpd counter key   (INCR'd by accounting, read-only here)
// KEYS[5] = tpd counter key   (INCRBY'd by accounting, read-only here)
//
// ARGV[1] = now (unix seconds, float)
// ARGV[2] = rpm capacity   ARGV[3] = rpm rate (req/sec)
// ARGV[4] = tpm capacity   ARGV[5] = tpm rate (tokens/sec)
// ARGV[6] = input tokens requested
// ARGV[7] = rpd limit      ARGV[8] = tpd limit
// ARGV[9] = window member id (for audit trail)
// ARGV[10] = rpm limit (the raw per-minute ceiling, distinct from the
//            burst-scaled bucket capacity in ARGV[2])
//
// Returns {status, wait_seconds} where status is one of:
//
//	"ADMIT", "WAIT_RPM", "WAIT_TOKENS", "WAIT_DAILY"
const admissionScript = `
local rpm_key   = KEYS[1]
local tpm_key   = KEYS[2]
local window_key = KEYS[3]
local rpd_key   = KEYS[4]
local tpd_key   = KEYS[5]

local now       = tonumber(ARGV[1])
local rpm_cap   = tonumber(ARGV[2])
local rpm_rate  = tonumber(ARGV[3])
local tpm_cap   = tonumber(ARGV[4])
local tpm_rate  = tonumber(ARGV[5])
local need      = tonumber(ARGV[6])
local rpd_limit = tonumber(ARGV[7])
local tpd_limit = tonumber(ARGV[8])
local member    = ARGV[9]
local rpm_limit = tonumber(ARGV[10])

-- daily ceilings checked first: cheapest, and a day's exhaustion should
-- never be masked by a transient minute-window wait.
local rpd = tonumber(redis.call('GET', rpd_key)) or 0
local tpd = tonumber(redis.call('GET', tpd_key)) or 0
if rpd >= rpd_limit or tpd + need > tpd_limit then
  return {'WAIT_DAILY', 60}
end

-- prune and count the strict RPM sliding window (spec.md §4.2 steps 1-2):
-- this is the true per-minute admitted-request ceiling, independent of the
-- token bucket below.
redis.call('ZREMRANGEBYSCORE', window_key, '-inf', now - 60)
local rpm_now = redis.call('ZCARD', window_key)
if rpm_now >= rpm_limit then
  return {'WAIT_RPM', 0.02}
end

-- refill + consume the RPM bucket
local rpm_avail = tonumber(redis.call('HGET', rpm_key, 'avail'))
local rpm_ts    = tonumber(redis.call('HGET', rpm_key, 'ts'))
if rpm_avail == nil then
  rpm_avail = rpm_cap
  rpm_ts = now
else
  local elapsed = now - rpm_ts
  if elapsed > 0 then
    rpm_avail = math.min(rpm_cap, rpm_avail + elapsed * rpm_rate)
    rpm_ts = now
  end
end
if rpm_avail < 1 then
  local wait = (1 - rpm_avail) / rpm_rate
  redis.call('HSET', rpm_key, 'avail', rpm_avail, 'ts', rpm_ts)
  return {'WAIT_TOKENS', wait}
end

-- refill + consume the TPM bucket
local tpm_avail = tonumber(redis.call('HGET', tpm_key, 'avail'))
local tpm_ts    = tonumber(redis.call('HGET', tpm_key, 'ts'))
if tpm_avail == nil then
  tpm_avail = tpm_cap
  tpm_ts = now
else
  local elapsed = now - tpm_ts
  if elapsed > 0 then
    tpm_avail = math.min(tpm_cap, tpm_avail + elapsed * tpm_rate)
    tpm_ts = now
  end
end
if tpm_avail < need then
  local wait = (need - tpm_avail) / tpm_rate
  redis.call('HSET', rpm_key, 'avail', rpm_avail, 'ts', rpm_ts)
  redis.call('HSET', tpm_key, 'avail', tpm_avail, 'ts', tpm_ts)
  return {'WAIT_TOKENS', wait}
end

-- both the window and both buckets have room: consume and admit
rpm_avail = rpm_avail - 1
tpm_avail = tpm_avail - need
redis.call('HSET', rpm_key, 'avail', rpm_avail, 'ts', rpm_ts)
redis.call('HSET', tpm_key, 'avail', tpm_avail, 'ts', tpm_ts)
redis.call('ZADD', window_key, now, member)
redis.call('EXPIRE', window_key, 120)

return {'ADMIT', 0}
`

// statusScript reads the current bucket/window/daily-counter values without
// mutating them, for the read-only monitor snapshot (spec.md §4.5).
const statusScript = `
local rpm_key = KEYS[1]
local tpm_key = KEYS[2]
local window_key = KEYS[3]
local rpd_key = KEYS[4]
local tpd_key = KEYS[5]
local now = tonumber(ARGV[1])

local rpm_count = redis.call('ZCOUNT', window_key, now - 60, now)
local rpm_avail = tonumber(redis.call('HGET', rpm_key, 'avail'))
local tpm_avail = tonumber(redis.call('HGET', tpm_key, 'avail'))
local rpd = tonumber(redis.call('GET', rpd_key)) or 0
local tpd = tonumber(redis.call('GET', tpd_key)) or 0

return {rpm_count, rpm_avail or -1, tpm_avail or -1, rpd, tpd}
`

// Decision is the outcome of an admission attempt.
type DecisionStatus string

const (
	Admit      DecisionStatus = "ADMIT"
	WaitRPM    DecisionStatus = "WAIT_RPM"
	WaitTokens DecisionStatus = "WAIT_TOKENS"
	WaitDaily  DecisionStatus = "WAIT_DAILY"
)

// Decision reports whether a job was admitted, and if not, how long the
// scheduler should back off before retrying (spec.md §4.2 step 4-6).
type Decision struct {
	Status DecisionStatus
	Wait   time.Duration
}

func (d Decision) String() string {
	if d.Status == Admit {
		return "ADMIT"
	}
	return fmt.Sprintf("%s wait=%s", d.Status, d.Wait)
}

// keyNames derives the five Redis keys the admission script touches from a
// configured prefix, mirroring spec.md §6's "<prefix>:*" layout.
func keyNames(prefix string, day string) (rpmBucket, tpmBucket, rpmWindow, rpdCounter, tpdCounter string) {
	return prefix + ":bucket:rpm",
		prefix + ":bucket:tpm",
		prefix + ":window:rpm",
		prefix + ":daily:rpd:" + day,
		prefix + ":daily:tpd:" + day
}
