package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppConfig(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	setting := "environment=dev\nmodel_family=deepseek\nlog_file=/tmp/base.log\nlog_level=debug\nsecret_key=file-secret\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "setting.ini"), []byte(setting), 0o644); err != nil {
		t.Fatalf("write setting: %v", err)
	}
	content := "listen_addr=:9090\nbase_url=http://chat.example.com\nbase_model_path=/models/base.gguf\nmax_turns=9\nstall_timeout=90s\nmetrics_enabled=false\nlog_file=/tmp/env.log\nusers_path=/tmp/custom-users.db\n"
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "chatd.ini"), []byte(content), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}
	os.Setenv("SECRET_KEY", "env-secret")
	t.Cleanup(func() { os.Unsetenv("SECRET_KEY") })

	cfg, err := LoadAppConfig(tmp)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("unexpected listen addr %s", cfg.ListenAddr)
	}
	if cfg.BaseURL != "http://chat.example.com" {
		t.Fatalf("unexpected base url %s", cfg.BaseURL)
	}
	if cfg.BaseModelPath != "/models/base.gguf" {
		t.Fatalf("unexpected model path %s", cfg.BaseModelPath)
	}
	if cfg.ModelFamily != "deepseek" {
		t.Fatalf("expected model family from base config, got %s", cfg.ModelFamily)
	}
	if cfg.MaxTurns != 9 {
		t.Fatalf("unexpected max turns %d", cfg.MaxTurns)
	}
	if cfg.StallTimeout != 90*time.Second {
		t.Fatalf("unexpected stall timeout %s", cfg.StallTimeout)
	}
	if cfg.MetricsEnabled {
		t.Fatalf("expected metrics disabled")
	}
	if cfg.LogFile != "/tmp/env.log" {
		t.Fatalf("unexpected log file %s", cfg.LogFile)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level from base config, got %s", cfg.LogLevel)
	}
	if cfg.UsersPath != "/tmp/custom-users.db" {
		t.Fatalf("unexpected users path %s", cfg.UsersPath)
	}
	if cfg.AuthSecret != "env-secret" {
		t.Fatalf("expected env secret to win, got %s", cfg.AuthSecret)
	}
}

func TestLoadAppConfigDefaults(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "chatd.ini"), []byte(""), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}

	cfg, err := LoadAppConfig(tmp)
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.Environment != "dev" {
		t.Fatalf("expected dev environment, got %s", cfg.Environment)
	}
	if cfg.ListenAddr != ":8000" {
		t.Fatalf("expected default listen addr :8000, got %s", cfg.ListenAddr)
	}
	if cfg.ModelFamily != "deepseek" {
		t.Fatalf("expected default model family deepseek, got %s", cfg.ModelFamily)
	}
	if cfg.MaxTurns != 5 {
		t.Fatalf("expected default max turns 5, got %d", cfg.MaxTurns)
	}
	if cfg.QueueDepth != 8 {
		t.Fatalf("expected default queue depth 8, got %d", cfg.QueueDepth)
	}
	if cfg.StallTimeout != 5*time.Minute {
		t.Fatalf("expected default stall timeout 5m, got %s", cfg.StallTimeout)
	}
	if cfg.StreamTTL != 5*time.Minute {
		t.Fatalf("expected default stream ttl 5m, got %s", cfg.StreamTTL)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %s", cfg.LogLevel)
	}
	if !cfg.MetricsEnabled {
		t.Fatalf("expected metrics enabled by default")
	}
	if cfg.UsersPath != filepath.Join(cfg.DataDir, "users.db") {
		t.Fatalf("expected users path under data dir, got %s", cfg.UsersPath)
	}
	if cfg.ChatPath != filepath.Join(cfg.DataDir, "chat.db") {
		t.Fatalf("expected chat path under data dir, got %s", cfg.ChatPath)
	}
}

func TestLoadAppConfigInvalidStallTimeout(t *testing.T) {
	tmp := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmp, "config", "dev"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmp, "config", "dev", "chatd.ini"), []byte("stall_timeout=not-a-duration\n"), 0o644); err != nil {
		t.Fatalf("write env config: %v", err)
	}

	if _, err := LoadAppConfig(tmp); err == nil {
		t.Fatalf("expected error for invalid stall timeout")
	}
}

func TestValidateDaemon(t *testing.T) {
	cfg := AppConfig{}
	if err := cfg.ValidateDaemon(); err == nil {
		t.Fatalf("expected missing secret error")
	}

	cfg.AuthSecret = "s3cret"
	if err := cfg.ValidateDaemon(); err == nil {
		t.Fatalf("expected missing model path error")
	}

	cfg.BaseModelPath = "/models/base.gguf"
	if err := cfg.ValidateDaemon(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg.AdapterPath = filepath.Join(t.TempDir(), "missing-adapter")
	if err := cfg.ValidateDaemon(); err == nil {
		t.Fatalf("expected adapter path error")
	}

	if err := os.WriteFile(cfg.AdapterPath, []byte("weights"), 0o644); err != nil {
		t.Fatalf("write adapter: %v", err)
	}
	if err := cfg.ValidateDaemon(); err != nil {
		t.Fatalf("unexpected error with adapter present: %v", err)
	}
}
