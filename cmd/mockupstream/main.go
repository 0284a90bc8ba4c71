// Command mockupstream runs the companion mock LLM API: an
// OpenAI-chat-completion-shaped endpoint that enforces its own RPM/TPM/
// RPD/TPD quotas, used to validate the broker's pacing independently
// (spec.md §1).
package main

import (
	"flag"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/cortexhub/apim-broker/internal/cliutil"
	"github.com/cortexhub/apim-broker/internal/config"
	"github.com/cortexhub/apim-broker/internal/logging"
	"github.com/cortexhub/apim-broker/internal/mockenforcer"
)

const version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := logging.WithComponent("main")
	logger.Info("starting mock upstream", "version", version)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.SetLevel(cfg.Logging.Level)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.LLMDB,
	})
	defer rdb.Close()

	latency := cfg.RateLimit.Latency
	enforcer := mockenforcer.New(rdb, cfg.Redis.LLMPrefix, mockenforcer.Limits{
		RPMLimit: int(float64(cfg.RateLimit.RPMLimit) * latency),
		TPMLimit: int(float64(cfg.RateLimit.TPMLimit) * latency),
		RPDLimit: int(float64(cfg.RateLimit.RPDLimit) * latency),
		TPDLimit: int(float64(cfg.RateLimit.TPDLimit) * latency),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", mockenforcer.Handler(enforcer))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	})

	host := cfg.Server.Host
	if host == "" {
		host = "0.0.0.0"
	}
	addr := host + ":8000"

	httpServer := &http.Server{Addr: addr, Handler: mux}

	go func() {
		logger.Info("mock upstream listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
		}
	}()

	cliutil.WaitForShutdown()
	logger.Info("shutting down mock upstream")
	httpServer.Close()
}
