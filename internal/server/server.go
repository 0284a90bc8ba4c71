// Package server implements the broker's Front Door: the public HTTP
// surface clients submit chat-completion requests to (spec.md §4.5).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexhub/apim-broker/internal/config"
	"github.com/cortexhub/apim-broker/internal/metrics"
	"github.com/cortexhub/apim-broker/internal/monitor"
	"github.com/cortexhub/apim-broker/internal/scheduler"
	"github.com/cortexhub/apim-broker/internal/tokens"
)

// Submitter is the subset of scheduler.Scheduler the Front Door depends on.
type Submitter interface {
	Submit(job *scheduler.Job) error
}

// Server is the broker's public HTTP surface.
type Server struct {
	cfg        *config.Config
	scheduler  Submitter
	monitor    *monitor.Monitor
	httpServer *http.Server
	startTime  time.Time
	logger     *slog.Logger
}

// HealthResponse is served at /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// New builds a Server wired to the scheduler and monitor.
func New(cfg *config.Config, sched Submitter, mon *monitor.Monitor, logger *slog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		scheduler: sched,
		monitor:   mon,
		logger:    logger,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.healthHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/chat/completions", s.chatCompletionsHandler)
	if mon != nil {
		mux.HandleFunc("/api/v1/ratelimit/status", mon.Handler())
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.RateLimit.GetJobTimeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start runs the HTTP server until it's shut down or fails.
func (s *Server) Start() error {
	s.logger.Info("front door starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	response := HealthResponse{
		Status: "healthy",
		Uptime: time.Since(s.startTime).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

// chatCompletionsHandler is the broker's one real job: admit, dispatch, and
// relay the upstream's response, or a timeout/queue-full error if the
// client can't be served in time (spec.md §4.5, §4.2).
func (s *Server) chatCompletionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	inputTokens := tokens.InputTokens(body)
	job := scheduler.NewJob(r.Context(), body, inputTokens)

	if err := s.scheduler.Submit(job); err != nil {
		s.logger.Warn("rejecting request, queue full", "error", err)
		s.writeError(w, http.StatusServiceUnavailable, "broker queue is full, try again shortly")
		return
	}

	result, err := job.Wait(s.cfg.RateLimit.GetJobTimeout())
	if err != nil {
		if err == context.DeadlineExceeded {
			metrics.JobTimeoutsTotal.Inc()
			s.writeError(w, http.StatusGatewayTimeout, "Request timed out in APIM queue.")
			return
		}
		// Client disconnected; nothing left to write to.
		return
	}
	if result.Err != nil {
		s.writeError(w, http.StatusInternalServerError, result.Err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
