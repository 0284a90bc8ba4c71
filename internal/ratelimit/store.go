// Package ratelimit implements the broker's admission control: a token
// bucket layered over a Redis sliding window, plus UTC-calendar-day RPD/TPD
// ceilings, all checked and consumed in a single atomic round trip.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cortexhub/apim-broker/internal/logging"
)

// Snapshot is a point-in-time read of current usage against configured
// limits, for the monitor endpoint (spec.md §4.5).
type Snapshot struct {
	RPMUsed      int
	RPMAvailable float64
	TPMAvailable float64
	RPDUsed      int
	TPDUsed      int
	Limits       Limits
}

// Store is the admission control surface the scheduler depends on. The
// production implementation is Redis-backed (RedisStore); a pure in-memory
// implementation (MemStore) backs unit tests and standalone/dev runs.
type Store interface {
	// TryAdmit performs the atomic admission check for a job requesting
	// inputTokens of budget, returning whether it was admitted and, if not,
	// how long to back off before retrying.
	TryAdmit(ctx context.Context, now time.Time, inputTokens int) (Decision, error)

	// Snapshot returns the current usage-vs-limit view for the monitor.
	Snapshot(ctx context.Context, now time.Time) (Snapshot, error)

	// Reset deletes all bucket/window/daily state under this store's prefix.
	// Called once at broker startup to avoid resuming against stale state
	// from a previous run (spec.md §6).
	Reset(ctx context.Context) error
}

// RedisStore is the production Store, grounded on the single atomic EVAL
// design in original_source/apim_server/apim_server.py's lua_schedule.
type RedisStore struct {
	rdb      *redis.Client
	prefix   string
	limits   Limits
	admitSHA *redis.Script
	statSHA  *redis.Script
}

// RedisConfig names the connection parameters for a quota keyspace.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore dials Redis and validates connectivity before returning,
// mirroring internal/messaging's NewRedisClient connection-validation idiom.
func NewRedisStore(cfg RedisConfig, limits Limits) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisStore{
		rdb:      rdb,
		prefix:   cfg.Prefix,
		limits:   limits,
		admitSHA: redis.NewScript(admissionScript),
		statSHA:  redis.NewScript(statusScript),
	}, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func dayKey(now time.Time) string {
	return now.UTC().Format("20060102")
}

// TryAdmit runs the atomic admission script against this store's keyspace.
func (s *RedisStore) TryAdmit(ctx context.Context, now time.Time, inputTokens int) (Decision, error) {
	rpmBucket, tpmBucket, rpmWindow, rpdCounter, tpdCounter := keyNames(s.prefix, dayKey(now))

	nowSecs := float64(now.UnixNano()) / 1e9
	member := uuid.NewString()

	res, err := s.admitSHA.Run(ctx, s.rdb,
		[]string{rpmBucket, tpmBucket, rpmWindow, rpdCounter, tpdCounter},
		nowSecs,
		s.limits.RPMCapacity(), s.limits.RPMRate(),
		s.limits.TPMCapacity(), s.limits.TPMRate(),
		inputTokens,
		s.limits.RPDLimit, s.limits.TPDLimit,
		member,
		s.limits.RPMLimit,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("admission script: %w", err)
	}

	fields, ok := res.([]interface{})
	if !ok || len(fields) != 2 {
		return Decision{}, fmt.Errorf("admission script: unexpected reply %v", res)
	}
	status, _ := fields[0].(string)
	waitSecs := toFloat(fields[1])

	d := Decision{Status: DecisionStatus(status), Wait: durationFromSeconds(waitSecs)}
	if d.Status == Admit {
		d.Wait = 0
	}
	logging.WithComponent("ratelimit").Debug("admission decision", "status", d.Status, "wait", d.Wait)
	return d, nil
}

// Snapshot reads current usage without mutating any state.
func (s *RedisStore) Snapshot(ctx context.Context, now time.Time) (Snapshot, error) {
	rpmBucket, tpmBucket, rpmWindow, rpdCounter, tpdCounter := keyNames(s.prefix, dayKey(now))
	nowSecs := float64(now.UnixNano()) / 1e9

	res, err := s.statSHA.Run(ctx, s.rdb,
		[]string{rpmBucket, tpmBucket, rpmWindow, rpdCounter, tpdCounter},
		nowSecs,
	).Result()
	if err != nil {
		return Snapshot{}, fmt.Errorf("status script: %w", err)
	}
	fields, ok := res.([]interface{})
	if !ok || len(fields) != 5 {
		return Snapshot{}, fmt.Errorf("status script: unexpected reply %v", res)
	}

	return Snapshot{
		RPMUsed:      int(toFloat(fields[0])),
		RPMAvailable: toFloat(fields[1]),
		TPMAvailable: toFloat(fields[2]),
		RPDUsed:      int(toFloat(fields[3])),
		TPDUsed:      int(toFloat(fields[4])),
		Limits:       s.limits,
	}, nil
}

// Reset deletes all bucket/window/daily keys under this store's prefix.
func (s *RedisStore) Reset(ctx context.Context) error {
	rpmBucket, tpmBucket, rpmWindow, rpdCounter, tpdCounter := keyNames(s.prefix, dayKey(time.Now()))
	return s.rdb.Del(ctx, rpmBucket, tpmBucket, rpmWindow, rpdCounter, tpdCounter).Err()
}

// Client exposes the underlying *redis.Client for the accounting package,
// which shares this connection to keep the mirror writes and the admission
// check against a single pooled client.
func (s *RedisStore) Client() *redis.Client { return s.rdb }

// Prefix returns the keyspace prefix this store was configured with.
func (s *RedisStore) Prefix() string { return s.prefix }

// Limits returns the configured quota ceilings.
func (s *RedisStore) Limits() Limits { return s.limits }

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int64:
		return float64(n)
	case float64:
		return n
	default:
		return 0
	}
}
