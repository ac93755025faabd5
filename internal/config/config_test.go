package config

import (
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.RedisURL != "redis://localhost:6379" {
		t.Errorf("expected default redis url, got %s", cfg.RedisURL)
	}
	if cfg.DispatchInterval != 30*time.Second {
		t.Errorf("expected 30s dispatch interval, got %v", cfg.DispatchInterval)
	}
	if cfg.DispatchLockTTL != 60*time.Second {
		t.Errorf("expected 60s lock TTL, got %v", cfg.DispatchLockTTL)
	}
	if cfg.ExecutionBuffer != 64 {
		t.Errorf("expected buffer 64, got %d", cfg.ExecutionBuffer)
	}
	if cfg.ExecutorConcurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.ExecutorConcurrency)
	}
	if cfg.RunTimeout != 5*time.Minute {
		t.Errorf("expected 5m run timeout, got %v", cfg.RunTimeout)
	}
	if cfg.AgentRunnerURL != "http://localhost:8089/run" {
		t.Errorf("expected default runner url, got %s", cfg.AgentRunnerURL)
	}
	if !cfg.OutcomeBackendEnabled {
		t.Error("expected outcome backend enabled by default")
	}
	if cfg.OutcomeTTLSuccess != time.Hour || cfg.OutcomeTTLFailure != 24*time.Hour {
		t.Errorf("unexpected outcome TTLs: %v/%v", cfg.OutcomeTTLSuccess, cfg.OutcomeTTLFailure)
	}
	if cfg.Logging == nil {
		t.Fatal("expected logging config")
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://redis-prod:6379")
	t.Setenv("DISPATCH_INTERVAL", "10s")
	t.Setenv("DISPATCH_LOCK_TTL", "20s")
	t.Setenv("EXECUTOR_CONCURRENCY", "8")
	t.Setenv("AGENT_RUNNER_URL", "http://agents:9000/run")
	t.Setenv("OUTCOME_BACKEND_ENABLED", "false")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.RedisURL != "redis://redis-prod:6379" {
		t.Errorf("expected overridden redis url, got %s", cfg.RedisURL)
	}
	if cfg.DispatchInterval != 10*time.Second {
		t.Errorf("expected 10s interval, got %v", cfg.DispatchInterval)
	}
	if cfg.ExecutorConcurrency != 8 {
		t.Errorf("expected concurrency 8, got %d", cfg.ExecutorConcurrency)
	}
	if cfg.AgentRunnerURL != "http://agents:9000/run" {
		t.Errorf("expected overridden runner url, got %s", cfg.AgentRunnerURL)
	}
	if cfg.OutcomeBackendEnabled {
		t.Error("expected outcome backend disabled")
	}
}

func TestLoadConfig_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("DISPATCH_INTERVAL", "not-a-duration")
	t.Setenv("EXECUTOR_CONCURRENCY", "lots")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if cfg.DispatchInterval != 30*time.Second {
		t.Errorf("malformed duration should fall back to default, got %v", cfg.DispatchInterval)
	}
	if cfg.ExecutorConcurrency != 4 {
		t.Errorf("malformed int should fall back to default, got %d", cfg.ExecutorConcurrency)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"sub-second interval", "DISPATCH_INTERVAL", "500ms"},
		{"lock shorter than interval", "DISPATCH_LOCK_TTL", "5s"},
		{"zero buffer", "EXECUTION_BUFFER", "0"},
		{"zero concurrency", "EXECUTOR_CONCURRENCY", "0"},
		{"sub-second run timeout", "RUN_TIMEOUT", "100ms"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			if _, err := LoadConfig(); err == nil {
				t.Fatalf("expected validation error for %s=%s", tc.key, tc.value)
			}
		})
	}
}
