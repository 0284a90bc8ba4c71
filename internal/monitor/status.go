// Package monitor exposes a read-only JSON snapshot of current rate-limit
// usage against configured limits, replacing the terminal dashboard
// original_source/monitor.py polled Redis for (spec.md §4.5).
package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cortexhub/apim-broker/internal/ratelimit"
)

// Status is the JSON shape served at /api/v1/ratelimit/status.
type Status struct {
	RPM Usage `json:"rpm"`
	TPM Usage `json:"tpm"`
	RPD Usage `json:"rpd"`
	TPD Usage `json:"tpd"`
}

// Usage reports a single quota dimension's current consumption against its
// configured ceiling.
type Usage struct {
	Used  float64 `json:"used"`
	Limit float64 `json:"limit"`
}

// snapshotter is the subset of ratelimit.Store the monitor needs; both
// RedisStore and MemStore satisfy it.
type snapshotter interface {
	Snapshot(ctx context.Context, now time.Time) (ratelimit.Snapshot, error)
}

// Monitor serves rate-limit status snapshots over HTTP.
type Monitor struct {
	store snapshotter
}

// New builds a Monitor backed by the given store.
func New(store snapshotter) *Monitor {
	return &Monitor{store: store}
}

// Status takes a fresh snapshot and reshapes it for JSON serving.
func (m *Monitor) Status(ctx context.Context) (Status, error) {
	snap, err := m.store.Snapshot(ctx, time.Now())
	if err != nil {
		return Status{}, err
	}
	return Status{
		RPM: Usage{Used: float64(snap.RPMUsed), Limit: float64(snap.Limits.RPMLimit)},
		TPM: Usage{Used: snap.Limits.TPMCapacity() - snap.TPMAvailable, Limit: float64(snap.Limits.TPMLimit)},
		RPD: Usage{Used: float64(snap.RPDUsed), Limit: float64(snap.Limits.RPDLimit)},
		TPD: Usage{Used: float64(snap.TPDUsed), Limit: float64(snap.Limits.TPDLimit)},
	}, nil
}

// Handler returns the /api/v1/ratelimit/status HTTP handler.
func (m *Monitor) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		status, err := m.Status(r.Context())
		if err != nil {
			http.Error(w, "failed to read rate limit status", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(status)
	}
}
