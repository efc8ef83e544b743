package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Run from a temp dir so no project config file is picked up.
	cwd, _ := os.Getwd()
	t.Cleanup(func() { _ = os.Chdir(cwd) })
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir failed: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Edgar.DataURL != "https://data.sec.gov" {
		t.Errorf("unexpected edgar data_url: %s", cfg.Edgar.DataURL)
	}
	if cfg.Edgar.UserAgent == "" {
		t.Error("expected a default EDGAR user agent")
	}
	if cfg.Fetcher.MaxInFlight != 4 {
		t.Errorf("expected max_in_flight 4, got %d", cfg.Fetcher.MaxInFlight)
	}
	if cfg.Hub.BufferWatermark != 256 {
		t.Errorf("expected buffer_watermark 256, got %d", cfg.Hub.BufferWatermark)
	}
	if cfg.Analytics.DefaultBackend != "local" {
		t.Errorf("expected default backend local, got %s", cfg.Analytics.DefaultBackend)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("expected api port 8080, got %d", cfg.API.Port)
	}
	if cfg.PollInterval() != 300*time.Second {
		t.Errorf("unexpected poll interval: %v", cfg.PollInterval())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
fetcher:
  tickers: ["AAPL", "MSFT"]
  interval_sec: 60
  max_in_flight: 2
analytics:
  default_backend: remote
  timeout_sec: 30
api:
  port: 9090
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if len(cfg.Fetcher.Tickers) != 2 || cfg.Fetcher.Tickers[0] != "AAPL" {
		t.Errorf("unexpected tickers: %v", cfg.Fetcher.Tickers)
	}
	if cfg.Fetcher.IntervalSec != 60 {
		t.Errorf("expected interval 60, got %d", cfg.Fetcher.IntervalSec)
	}
	if cfg.Analytics.DefaultBackend != "remote" {
		t.Errorf("expected backend remote, got %s", cfg.Analytics.DefaultBackend)
	}
	if cfg.AnalyticsTimeout() != 30*time.Second {
		t.Errorf("unexpected analytics timeout: %v", cfg.AnalyticsTimeout())
	}
	if cfg.API.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.API.Port)
	}
	// Defaults still apply for untouched sections.
	if cfg.Audit.FlushTimeoutSec != 10 {
		t.Errorf("expected flush timeout 10, got %d", cfg.Audit.FlushTimeoutSec)
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestOverrideFromEnv(t *testing.T) {
	t.Setenv("FINFILES_ANALYTICS_REMOTE_KEY", "sk-test")
	t.Setenv("FINFILES_EDGAR_USER_AGENT", "test-agent/1.0")

	cfg := &Config{}
	overrideFromEnv(cfg)

	if cfg.Analytics.RemoteKey != "sk-test" {
		t.Errorf("expected remote key override, got %q", cfg.Analytics.RemoteKey)
	}
	if cfg.Edgar.UserAgent != "test-agent/1.0" {
		t.Errorf("expected user agent override, got %q", cfg.Edgar.UserAgent)
	}
}
