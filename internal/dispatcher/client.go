// Package dispatcher sends admitted jobs to the upstream LLM API with
// bounded retries, classifying failures the way spec.md §4.3 requires:
// sub-500 responses are terminal, 500s and transport errors are retryable.
package dispatcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cortexhub/apim-broker/internal/logging"
	"github.com/cortexhub/apim-broker/internal/metrics"
	"github.com/cortexhub/apim-broker/internal/tokens"
)

// Client dispatches chat-completion payloads to a configured upstream URL.
type Client struct {
	url            string
	apiKey         string
	httpClient     *http.Client
	maxRetries     int
	retryCooldown  time.Duration
	attemptTimeout time.Duration
}

// Config holds the dispatcher's retry/backoff knobs, per spec.md §4.3.
type Config struct {
	URL            string
	APIKey         string
	MaxRetries     int
	RetryCooldown  time.Duration
	AttemptTimeout time.Duration
}

// New constructs a Client. MaxRetries below 1 is treated as 1 (always try
// at least once).
func New(cfg Config) *Client {
	maxRetries := cfg.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		url:           cfg.URL,
		apiKey:        cfg.APIKey,
		maxRetries:    maxRetries,
		retryCooldown: cfg.RetryCooldown,
		httpClient: &http.Client{
			Timeout: cfg.AttemptTimeout,
		},
		attemptTimeout: cfg.AttemptTimeout,
	}
}

// Dispatch sends payload upstream, retrying on 5xx responses and transport
// errors up to MaxRetries times with RetryCooldown between attempts. A
// sub-500 response (success or client error) is returned immediately as
// terminal. Exhausting all retries synthesizes a 503 rather than returning
// an error, so callers always get an HTTP-shaped result to relay.
func (c *Client) Dispatch(ctx context.Context, payload []byte) (statusCode int, body []byte, outputTokens int, err error) {
	log := logging.WithComponent("dispatcher")

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		status, respBody, attemptErr := c.attempt(ctx, payload)

		if attemptErr != nil {
			metrics.DispatchAttemptsTotal.WithLabelValues("transport_error").Inc()
			log.Warn("upstream attempt failed", "attempt", attempt, "error", attemptErr)
			if attempt == c.maxRetries {
				break
			}
			if !c.sleep(ctx) {
				return 0, nil, 0, ctx.Err()
			}
			continue
		}

		if status < 500 {
			outcome := "success"
			if status >= 400 {
				outcome = "client_error"
			}
			metrics.DispatchAttemptsTotal.WithLabelValues(outcome).Inc()
			return status, respBody, tokens.OutputTokens(respBody), nil
		}

		metrics.DispatchAttemptsTotal.WithLabelValues("server_error").Inc()
		log.Warn("upstream returned server error", "attempt", attempt, "status", status)
		if attempt == c.maxRetries {
			break
		}
		if !c.sleep(ctx) {
			return 0, nil, 0, ctx.Err()
		}
	}

	metrics.DispatchAttemptsTotal.WithLabelValues("exhausted").Inc()
	synthetic := []byte(fmt.Sprintf(`{"error":"Failed after %d attempts."}`, c.maxRetries))
	return http.StatusServiceUnavailable, synthetic, 0, nil
}

func (c *Client) attempt(ctx context.Context, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// sleep waits out the retry cooldown, returning false if ctx is cancelled
// first.
func (c *Client) sleep(ctx context.Context) bool {
	timer := time.NewTimer(c.retryCooldown)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
