// Package config loads and validates apim-broker's YAML configuration,
// with environment-variable overrides for connection secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the broker.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Upstream  UpstreamConfig  `yaml:"upstream"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig defines the front door HTTP server settings.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// RedisConfig defines connection settings for the shared quota store.
type RedisConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	ApimDB     int    `yaml:"apim_db"`
	LLMDB      int    `yaml:"llm_db"`
	Password   string `yaml:"password"`
	ApimPrefix string `yaml:"apim_prefix"`
	LLMPrefix  string `yaml:"llm_prefix"`
}

// Addr returns the host:port Redis address.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// UpstreamConfig defines the outbound LLM API target.
type UpstreamConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// RateLimitConfig defines the four quota limits and scheduling knobs from
// spec.md §4.2.
type RateLimitConfig struct {
	RPMLimit        int     `yaml:"rpm_limit"`
	TPMLimit        int     `yaml:"tpm_limit"`
	RPDLimit        int     `yaml:"rpd_limit"`
	TPDLimit        int     `yaml:"tpd_limit"`
	BurstFactor     float64 `yaml:"burst_factor"`
	Latency         float64 `yaml:"latency"`
	MaxRetries      int     `yaml:"max_retries"`
	RetryCooldown   string  `yaml:"retry_cooldown"`
	UpstreamTimeout string  `yaml:"upstream_timeout"`
	JobTimeout      string  `yaml:"job_timeout"`
}

// GetRetryCooldown returns the retry cooldown as a time.Duration, defaulting
// to 10s per spec.md §4.2.
func (c RateLimitConfig) GetRetryCooldown() time.Duration {
	return parseDurationOr(c.RetryCooldown, 10*time.Second)
}

// GetUpstreamTimeout returns the per-attempt upstream timeout, defaulting to
// 60s per spec.md §4.2.
func (c RateLimitConfig) GetUpstreamTimeout() time.Duration {
	return parseDurationOr(c.UpstreamTimeout, 60*time.Second)
}

// GetJobTimeout returns the client-facing wait timeout, defaulting to 300s
// per spec.md §4.2.
func (c RateLimitConfig) GetJobTimeout() time.Duration {
	return parseDurationOr(c.JobTimeout, 300*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// LoggingConfig defines the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses a YAML config file, applying defaults and
// environment-variable overrides (spec.md §6).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8001},
		Redis:     RedisConfig{Host: "localhost", Port: 6379, ApimPrefix: "apim_usage", LLMPrefix: "llm_usage"},
		RateLimit: RateLimitConfig{BurstFactor: 1.0, Latency: 1.0, MaxRetries: 5},
		Logging:   LoggingConfig{Level: "info"},
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if p, err := parseInt(v); err == nil {
			cfg.Redis.Port = p
		}
	}
	if v := os.Getenv("APIM_REDIS_DB"); v != "" {
		if p, err := parseInt(v); err == nil {
			cfg.Redis.ApimDB = p
		}
	}
	if v := os.Getenv("LLM_REDIS_DB"); v != "" {
		if p, err := parseInt(v); err == nil {
			cfg.Redis.LLMDB = p
		}
	}
	if v := os.Getenv("APIM_URL"); v != "" {
		cfg.Upstream.URL = v
	}
	if v := os.Getenv("LLM_APIM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
}

func parseInt(s string) (int, error) {
	var n int
	_, err := fmt.Sscanf(s, "%d", &n)
	return n, err
}

// Validate checks that required fields are present and sane.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if c.RateLimit.RPMLimit <= 0 {
		return fmt.Errorf("rate_limit.rpm_limit must be positive")
	}
	if c.RateLimit.TPMLimit <= 0 {
		return fmt.Errorf("rate_limit.tpm_limit must be positive")
	}
	if c.RateLimit.RPDLimit <= 0 {
		return fmt.Errorf("rate_limit.rpd_limit must be positive")
	}
	if c.RateLimit.TPDLimit <= 0 {
		return fmt.Errorf("rate_limit.tpd_limit must be positive")
	}
	if c.RateLimit.BurstFactor < 0 || c.RateLimit.BurstFactor > 1 {
		return fmt.Errorf("rate_limit.burst_factor must be within [0,1]")
	}
	if c.RateLimit.Latency <= 0 || c.RateLimit.Latency > 1 {
		return fmt.Errorf("rate_limit.latency must be within (0,1]")
	}
	return nil
}
