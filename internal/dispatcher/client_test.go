package dispatcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatchSuccessOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("expected bearer auth header, got %q", got)
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}],"usage":{"completion_tokens":20}}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, APIKey: "test-key", MaxRetries: 3, RetryCooldown: 10 * time.Millisecond, AttemptTimeout: time.Second})
	status, body, outputTokens, err := c.Dispatch(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected 200, got %d", status)
	}
	if outputTokens != 2 {
		t.Errorf("expected 2 output tokens (len of \"hi\"), got %d", outputTokens)
	}
	if len(body) == 0 {
		t.Error("expected non-empty body")
	}
}

func TestDispatchTerminalClientError(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, APIKey: "k", MaxRetries: 5, RetryCooldown: time.Millisecond, AttemptTimeout: time.Second})
	status, _, _, err := c.Dispatch(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 surfaced as terminal, got %d", status)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("expected exactly 1 attempt for a terminal 4xx, got %d", attempts)
	}
}

func TestDispatchRetriesOnServerErrorThenSucceeds(t *testing.T) {
	var attempts int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, APIKey: "k", MaxRetries: 5, RetryCooldown: time.Millisecond, AttemptTimeout: time.Second})
	status, _, outputTokens, err := c.Dispatch(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if status != http.StatusOK {
		t.Errorf("expected eventual 200, got %d", status)
	}
	if outputTokens != 5 {
		t.Errorf("expected 5 output tokens, got %d", outputTokens)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestDispatchExhaustsRetriesWithSyntheticResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, APIKey: "k", MaxRetries: 3, RetryCooldown: time.Millisecond, AttemptTimeout: time.Second})
	status, body, outputTokens, err := c.Dispatch(context.Background(), []byte(`{}`))
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("expected synthetic 503 after exhausting retries, got %d", status)
	}
	if outputTokens != 0 {
		t.Errorf("expected 0 output tokens on synthetic failure, got %d", outputTokens)
	}
	if len(body) == 0 {
		t.Error("expected a synthetic error body")
	}
}
