// Package accounting applies a completed dispatch's token usage to the
// daily RPD/TPD counters and mirrors the write under the companion
// monitor's prefix, per spec.md §4.4.
package accounting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Recorder writes completed-request accounting to Redis, keeping a
// broker-side prefix and an externally-monitored mirror prefix in sync
// (spec.md §4.4 "mirror-prefix accounting").
type Recorder struct {
	rdb        *redis.Client
	apimPrefix string
	llmPrefix  string
}

// NewRecorder builds a Recorder sharing the given Redis client (typically
// the same pooled connection as the admission store) with the two prefixes
// configured in spec.md §6.
func NewRecorder(rdb *redis.Client, apimPrefix, llmPrefix string) *Recorder {
	return &Recorder{rdb: rdb, apimPrefix: apimPrefix, llmPrefix: llmPrefix}
}

// RecordAdmission mirrors a just-admitted request's RPM window entry under
// the companion prefix, immediately on admission rather than waiting for
// dispatch to finish. The broker's own `window:rpm` entry is already written
// atomically by the admission script itself (it's the same key the strict
// per-minute check counts against); this only covers the mirror prefix, so
// an external monitor's admitted-request count tracks the broker's own
// regardless of whether the dispatch later succeeds, fails, or never
// returns (original_source/apim_server/apim_server.py writes the llm mirror
// window the same way, right after admission, unconditional on outcome).
func (r *Recorder) RecordAdmission(ctx context.Context, now time.Time) error {
	if r.llmPrefix == "" || r.llmPrefix == r.apimPrefix {
		return nil
	}
	rpmWindowKey := r.llmPrefix + ":window:rpm"
	nowSecs := float64(now.UnixNano()) / 1e9
	member := fmt.Sprintf("%f:%s", nowSecs, uuid.NewString())

	pipe := r.rdb.TxPipeline()
	pipe.ZAdd(ctx, rpmWindowKey, redis.Z{Score: nowSecs, Member: member})
	pipe.Expire(ctx, rpmWindowKey, 120*time.Second)
	_, err := pipe.Exec(ctx)
	return err
}

// RecordSuccess increments the daily request/token counters and appends to
// the minute-window token sorted set for both prefixes, in one pipeline per
// prefix; the TTLs are set by separate follow-up calls. It does not touch
// `window:rpm` — that's written once, at admission time, by RecordAdmission
// and the admission script (see their docs for why a second write here
// would double-count). Daily keys get a TTL to the next UTC midnight the
// first time they're created in a given day; the token window key gets a
// flat 120s TTL, like the rpm window keys, so idle traffic doesn't leave
// stale entries behind.
func (r *Recorder) RecordSuccess(ctx context.Context, now time.Time, inputTokens, outputTokens int) error {
	if err := r.recordPrefix(ctx, r.apimPrefix, now, inputTokens, outputTokens); err != nil {
		return fmt.Errorf("record apim usage: %w", err)
	}
	if r.llmPrefix != "" && r.llmPrefix != r.apimPrefix {
		if err := r.recordPrefix(ctx, r.llmPrefix, now, inputTokens, outputTokens); err != nil {
			return fmt.Errorf("record llm mirror usage: %w", err)
		}
	}
	return nil
}

func (r *Recorder) recordPrefix(ctx context.Context, prefix string, now time.Time, inputTokens, outputTokens int) error {
	day := now.UTC().Format("20060102")
	rpdKey := prefix + ":daily:rpd:" + day
	tpdKey := prefix + ":daily:tpd:" + day
	tpmWindowKey := prefix + ":window:tpm"

	nowSecs := float64(now.UnixNano()) / 1e9
	memberTPM := fmt.Sprintf("%d:%d:%s", inputTokens, outputTokens, uuid.NewString())

	pipe := r.rdb.TxPipeline()
	pipe.Incr(ctx, rpdKey)
	pipe.IncrBy(ctx, tpdKey, int64(inputTokens+outputTokens))
	ttlRPD := pipe.TTL(ctx, rpdKey)
	pipe.ZAdd(ctx, tpmWindowKey, redis.Z{Score: nowSecs, Member: memberTPM})
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if ttlRPD.Val() == -1 {
		secondsToMidnight := secondsUntilMidnight(now)
		r.rdb.Expire(ctx, rpdKey, secondsToMidnight)
		r.rdb.Expire(ctx, tpdKey, secondsToMidnight)
	}

	r.rdb.Expire(ctx, tpmWindowKey, 120*time.Second)

	return nil
}

func secondsUntilMidnight(now time.Time) time.Duration {
	now = now.UTC()
	nextMidnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return nextMidnight.Sub(now)
}
