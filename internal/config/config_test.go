package config

import (
	"os"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	yamlDoc := []byte(`
server:
  port: 8001
  host: 0.0.0.0
redis:
  host: localhost
  port: 6379
  apim_db: 1
  llm_db: 0
upstream:
  url: http://localhost:8000/v1/chat/completions
  api_key: DUMMY_API_KEY
rate_limit:
  rpm_limit: 60
  tpm_limit: 4000
  rpd_limit: 1000
  tpd_limit: 20000
  burst_factor: 0.5
  latency: 1.0
`)
	f, _ := os.CreateTemp("", "config-*.yaml")
	f.Write(yamlDoc)
	f.Close()
	defer os.Remove(f.Name())

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8001 {
		t.Errorf("Expected port 8001, got %d", cfg.Server.Port)
	}
	if cfg.RateLimit.RPMLimit != 60 {
		t.Errorf("Expected rpm_limit 60, got %d", cfg.RateLimit.RPMLimit)
	}
	if cfg.RateLimit.BurstFactor != 0.5 {
		t.Errorf("Expected burst_factor 0.5, got %v", cfg.RateLimit.BurstFactor)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	yamlDoc := []byte(`
server: {port: 8001, host: "0.0.0.0"}
redis: {host: localhost, port: 6379}
upstream: {url: "http://localhost:8000/v1/chat/completions"}
rate_limit: {rpm_limit: 10, tpm_limit: 100, rpd_limit: 100, tpd_limit: 1000}
`)
	f, _ := os.CreateTemp("", "config-*.yaml")
	f.Write(yamlDoc)
	f.Close()
	defer os.Remove(f.Name())

	os.Setenv("REDIS_HOST", "redis.internal")
	defer os.Unsetenv("REDIS_HOST")

	cfg, err := Load(f.Name())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Redis.Host != "redis.internal" {
		t.Errorf("Expected env override redis.internal, got %s", cfg.Redis.Host)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8001, Host: "localhost"},
		Upstream:  UpstreamConfig{URL: "http://localhost:8000"},
		RateLimit: RateLimitConfig{RPMLimit: 10, TPMLimit: 100, RPDLimit: 100, TPDLimit: 1000, BurstFactor: 1, Latency: 1},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Port: -1}}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for invalid port")
	}
}

func TestValidateMissingUpstream(t *testing.T) {
	cfg := &Config{
		Server:    ServerConfig{Port: 8001},
		RateLimit: RateLimitConfig{RPMLimit: 1, TPMLimit: 1, RPDLimit: 1, TPDLimit: 1, BurstFactor: 1, Latency: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error for missing upstream url")
	}
}
