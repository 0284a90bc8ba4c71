// Package mockenforcer implements the companion mock upstream's own rate
// limiting: a single atomic Lua script folding all four checks (RPD, TPD,
// RPM, TPM) together, matching
// original_source/llm_mock_server/app/services/rate_limiter.py. Unlike the
// broker's admission script, this one counts real limit exceedance rather
// than token-bucket burst capacity, so the mock upstream can validate the
// broker's pacing independently.
package mockenforcer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// enforcerScript mirrors rate_limiter.py's lua_script line for line: check
// RPD, check TPD, prune+check RPM window, prune+check TPM window (by
// summing token counts encoded in each window member), then increment/ZADD
// on success.
//
// KEYS[1]=rpd_key KEYS[2]=tpd_key KEYS[3]=rpm_key KEYS[4]=tpm_key
// ARGV[1]=request_tokens ARGV[2]=rpd_limit ARGV[3]=tpd_limit
// ARGV[4]=rpm_limit ARGV[5]=tpm_limit ARGV[6]=now ARGV[7]=one_minute_ago
// ARGV[8]=member ARGV[9]=seconds_to_midnight
const enforcerScript = `
local current_rpd = tonumber(redis.call('GET', KEYS[1]) or 0)
if current_rpd >= tonumber(ARGV[2]) then
  return {'RPD_EXCEEDED', ARGV[2]}
end

local current_tpd = tonumber(redis.call('GET', KEYS[2]) or 0)
if current_tpd + tonumber(ARGV[1]) > tonumber(ARGV[3]) then
  return {'TPD_EXCEEDED', ARGV[3]}
end

redis.call('ZREMRANGEBYSCORE', KEYS[3], '-inf', ARGV[7])
redis.call('ZREMRANGEBYSCORE', KEYS[4], '-inf', ARGV[7])

local current_rpm = redis.call('ZCARD', KEYS[3])
if current_rpm >= tonumber(ARGV[4]) then
  return {'RPM_EXCEEDED', ARGV[4]}
end

local token_members = redis.call('ZRANGE', KEYS[4], 0, -1)
local current_tpm = 0
for _, token_member in ipairs(token_members) do
  current_tpm = current_tpm + tonumber(string.match(token_member, '^(%d+):'))
end
if current_tpm + tonumber(ARGV[1]) > tonumber(ARGV[5]) then
  return {'TPM_EXCEEDED', ARGV[5]}
end

local new_rpd = redis.call('INCR', KEYS[1])
if new_rpd == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[9])
end

local new_tpd = redis.call('INCRBY', KEYS[2], tonumber(ARGV[1]))
if new_tpd == tonumber(ARGV[1]) then
  redis.call('EXPIRE', KEYS[2], ARGV[9])
end

redis.call('ZADD', KEYS[3], ARGV[6], ARGV[8])
redis.call('EXPIRE', KEYS[3], 65)

redis.call('ZADD', KEYS[4], ARGV[6], ARGV[1] .. ':' .. ARGV[8])
redis.call('EXPIRE', KEYS[4], 65)

return {'OK'}
`

// Limits are the four ceilings the mock enforcer checks.
type Limits struct {
	RPMLimit int
	TPMLimit int
	RPDLimit int
	TPDLimit int
}

// Enforcer guards the mock upstream's own endpoint against the same four
// quotas the broker is trying to respect, independently.
type Enforcer struct {
	rdb    *redis.Client
	prefix string
	limits Limits
	script *redis.Script
}

// New builds an Enforcer against the given Redis client and keyspace prefix.
func New(rdb *redis.Client, prefix string, limits Limits) *Enforcer {
	return &Enforcer{
		rdb:    rdb,
		prefix: prefix,
		limits: limits,
		script: redis.NewScript(enforcerScript),
	}
}

// CheckAndConsume runs the atomic four-check script. A nil error with a
// non-empty message means the request was denied and the message is the
// human-readable reason to surface as a 429; an empty message means admitted.
func (e *Enforcer) CheckAndConsume(ctx context.Context, requestTokens int) (string, error) {
	now := time.Now()
	day := now.UTC().Format("2006-01-02")
	rpdKey := e.prefix + ":rpd:" + day
	tpdKey := e.prefix + ":tpd:" + day
	rpmKey := e.prefix + ":rpm_window"
	tpmKey := e.prefix + ":tpm_window"

	nowSecs := float64(now.UnixNano()) / 1e9
	oneMinuteAgo := nowSecs - 60
	member := fmt.Sprintf("%f:%d", nowSecs, now.UnixNano())
	secondsToMidnight := int(secondsUntilMidnight(now).Seconds())

	res, err := e.script.Run(ctx, e.rdb,
		[]string{rpdKey, tpdKey, rpmKey, tpmKey},
		requestTokens, e.limits.RPDLimit, e.limits.TPDLimit, e.limits.RPMLimit, e.limits.TPMLimit,
		nowSecs, oneMinuteAgo, member, secondsToMidnight,
	).Result()
	if err != nil {
		return "", fmt.Errorf("enforcer script: %w", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) == 0 {
		return "", fmt.Errorf("enforcer script: unexpected reply %v", res)
	}
	status, _ := fields[0].(string)
	if status == "OK" {
		return "", nil
	}

	var unit string
	switch status {
	case "RPD_EXCEEDED":
		unit = "requests per day"
	case "TPD_EXCEEDED":
		unit = "tokens per day"
	case "RPM_EXCEEDED":
		unit = "requests per minute"
	case "TPM_EXCEEDED":
		unit = "tokens per minute"
	default:
		return "Unknown rate limit error.", nil
	}

	limitValue := ""
	if len(fields) > 1 {
		limitValue = fmt.Sprintf("%v", fields[1])
	}
	return fmt.Sprintf("Rate limit exceeded: %s %s.", limitValue, unit), nil
}

func secondsUntilMidnight(now time.Time) time.Duration {
	now = now.UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return nextMidnight.Sub(now)
}
