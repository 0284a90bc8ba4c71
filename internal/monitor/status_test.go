package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cortexhub/apim-broker/internal/ratelimit"
)

func TestMonitorStatusReflectsUsage(t *testing.T) {
	store := ratelimit.NewMemStore(ratelimit.Limits{RPMLimit: 60, TPMLimit: 4000, RPDLimit: 100, TPDLimit: 20000, BurstFactor: 1})
	store.TryAdmit(context.Background(), time.Now(), 50)

	m := New(store)
	status, err := m.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.RPM.Used != 1 {
		t.Errorf("expected RPM used 1, got %v", status.RPM.Used)
	}
	if status.RPM.Limit != 60 {
		t.Errorf("expected RPM limit 60, got %v", status.RPM.Limit)
	}
}

func TestMonitorHandlerRejectsNonGet(t *testing.T) {
	store := ratelimit.NewMemStore(ratelimit.Limits{RPMLimit: 1, TPMLimit: 1, RPDLimit: 1, TPDLimit: 1, BurstFactor: 1})
	m := New(store)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ratelimit/status", nil)
	w := httptest.NewRecorder()
	m.Handler()(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestMonitorHandlerServesJSON(t *testing.T) {
	store := ratelimit.NewMemStore(ratelimit.Limits{RPMLimit: 60, TPMLimit: 4000, RPDLimit: 100, TPDLimit: 20000, BurstFactor: 1})
	m := New(store)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ratelimit/status", nil)
	w := httptest.NewRecorder()
	m.Handler()(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json content type, got %q", ct)
	}
}
