package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskcron/internal/core"
)

func TestParseDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Parse([]string{"-state-dir", dir})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Server.Addr != defaultAddr || cfg.Server.Mode != "http" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.StateDir != dir {
		t.Fatalf("StateDir = %q, want %q", cfg.StateDir, dir)
	}
	if cfg.Catalog.Driver != "sqlite" || cfg.Catalog.HistoryLimit != 50 {
		t.Fatalf("catalog = %+v", cfg.Catalog)
	}
	s := cfg.Scheduler
	if s.Timeout != core.DefaultTimeout || s.MaxConcurrent != core.DefaultMaxConcurrent || s.Overlap != core.OverlapSkip {
		t.Fatalf("scheduler = %+v", s)
	}
	if cfg.Notification.Bark.Enabled {
		t.Fatal("bark enabled without a URL")
	}
}

func TestParseEnvAndFlags(t *testing.T) {
	t.Setenv("TASKCRON_ADDR", "0.0.0.0:9000")
	t.Setenv("TASKCRON_OVERLAP", "allow")
	t.Setenv("TASKCRON_EXEC_TIMEOUT", "90s")
	t.Setenv("TASKCRON_MAX_CONCURRENT", "2")
	t.Setenv("TASKCRON_HISTORY_LIMIT", "0")
	t.Setenv("TASKCRON_BARK_URL", "https://bark.example/key")
	t.Setenv("TASKCRON_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TASKCRON_TELEGRAM_CHAT_ID", "-10042")

	cfg, err := Parse([]string{"-state-dir", t.TempDir(), "-addr", "127.0.0.1:8080", "-max-concurrent", "8"})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Fatalf("flag did not override env: Addr = %q", cfg.Server.Addr)
	}
	if cfg.Scheduler.MaxConcurrent != 8 {
		t.Fatalf("MaxConcurrent = %d, want 8", cfg.Scheduler.MaxConcurrent)
	}
	if cfg.Scheduler.Overlap != core.OverlapAllow || cfg.Scheduler.Timeout != 90*time.Second {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Catalog.HistoryLimit != defaultHistoryLimit {
		t.Fatalf("HistoryLimit = %d, want default", cfg.Catalog.HistoryLimit)
	}
	if !cfg.Notification.Bark.Enabled {
		t.Fatal("bark URL should enable bark")
	}
	if cfg.Notification.Telegram.ChatID != -10042 {
		t.Fatalf("Telegram = %+v", cfg.Notification.Telegram)
	}
}

func TestParseRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "mode", args: []string{"-mode", "grpc"}},
		{name: "driver", args: []string{"-catalog", "mysql"}},
		{name: "log format", args: []string{"-log-format", "xml"}},
		{name: "timeout", args: []string{"-exec-timeout", "0s"}},
		{name: "concurrency", args: []string{"-max-concurrent", "0"}},
		{name: "telegram chat", env: map[string]string{"TASKCRON_TELEGRAM_TOKEN": "123:abc"}},
		{name: "unknown flag", args: []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			args := append([]string{"-state-dir", t.TempDir()}, tt.args...)
			if _, err := Parse(args); err == nil {
				t.Fatalf("Parse(%v) expected error", tt.args)
			}
		})
	}

	_, err := Parse([]string{"-state-dir", t.TempDir(), "-overlap", "queue"})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("invalid overlap error = %v", err)
	}
}

func TestParseLoadsDotEnv(t *testing.T) {
	// Register cleanup for the variable the .env file sets, then clear it.
	t.Setenv("TASKCRON_LOG_LEVEL", "")
	os.Unsetenv("TASKCRON_LOG_LEVEL")
	t.Setenv("TASKCRON_LOG_FORMAT", "text")

	dir := t.TempDir()
	content := "TASKCRON_LOG_LEVEL=debug\nTASKCRON_LOG_FORMAT=json\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Parse([]string{"-state-dir", dir})
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Level = %q, want value from .env", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" {
		t.Fatalf("Format = %q, environment should win over .env", cfg.Log.Format)
	}
}
