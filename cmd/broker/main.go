// Command broker runs the rate-limit-aware request broker: it accepts
// chat-completion requests, admits them against the shared RPM/TPM/RPD/TPD
// quotas, and dispatches admitted requests to the configured upstream LLM
// API (spec.md §1).
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/cortexhub/apim-broker/internal/accounting"
	"github.com/cortexhub/apim-broker/internal/cliutil"
	"github.com/cortexhub/apim-broker/internal/config"
	"github.com/cortexhub/apim-broker/internal/dispatcher"
	"github.com/cortexhub/apim-broker/internal/logging"
	"github.com/cortexhub/apim-broker/internal/monitor"
	"github.com/cortexhub/apim-broker/internal/ratelimit"
	"github.com/cortexhub/apim-broker/internal/scheduler"
	"github.com/cortexhub/apim-broker/internal/server"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := logging.WithComponent("main")
	logger.Info("starting apim-broker", "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid config", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.Logging.Level)

	limits := ratelimit.Limits{
		RPMLimit:    cfg.RateLimit.RPMLimit,
		TPMLimit:    cfg.RateLimit.TPMLimit,
		RPDLimit:    cfg.RateLimit.RPDLimit,
		TPDLimit:    cfg.RateLimit.TPDLimit,
		BurstFactor: cfg.RateLimit.BurstFactor,
	}

	store, err := ratelimit.NewRedisStore(ratelimit.RedisConfig{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.ApimDB,
		Prefix:   cfg.Redis.ApimPrefix,
	}, limits)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	// Reseed on startup so the broker never resumes admission against
	// bucket/window state left over from a previous run (spec.md §6).
	resetCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Reset(resetCtx); err != nil {
		logger.Warn("failed to reset rate limit state on startup", "error", err)
	}
	cancel()

	dispatchClient := dispatcher.New(dispatcher.Config{
		URL:            cfg.Upstream.URL,
		APIKey:         cfg.Upstream.APIKey,
		MaxRetries:     cfg.RateLimit.MaxRetries,
		RetryCooldown:  cfg.RateLimit.GetRetryCooldown(),
		AttemptTimeout: cfg.RateLimit.GetUpstreamTimeout(),
	})

	recorder := accounting.NewRecorder(store.Client(), cfg.Redis.ApimPrefix, cfg.Redis.LLMPrefix)

	sched := scheduler.New(store, dispatchClient, recorder, 1000)

	schedCtx, schedCancel := context.WithCancel(context.Background())
	go sched.Run(schedCtx)
	logger.Info("scheduler started")

	mon := monitor.New(store)
	srv := server.New(cfg, sched, mon, logging.Logger)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	logger.Info("apim-broker ready", "host", cfg.Server.Host, "port", cfg.Server.Port)

	cliutil.WaitForShutdown()
	logger.Info("shutting down")

	schedCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	logger.Info("apim-broker stopped")
}
