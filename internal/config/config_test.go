package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesYamlThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := "log_level: debug\nstorage:\n  data_dir: /tmp/noctis\ncommands:\n  max_attempts: 7\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("ENV_FILE", "")
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("COMMANDS_MAX_ATTEMPTS", "9")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected yaml log level, got %q", cfg.LogLevel)
	}
	if cfg.Storage.DataDir != "/tmp/noctis" {
		t.Fatalf("expected yaml data dir, got %q", cfg.Storage.DataDir)
	}
	if cfg.Commands.MaxAttempts != 9 {
		t.Fatalf("expected env override 9, got %d", cfg.Commands.MaxAttempts)
	}
	if cfg.Webhook.Addr != ":9090" {
		t.Fatalf("expected PORT to win, got %q", cfg.Webhook.Addr)
	}
	if cfg.Commands.StartupDelay() != 5*time.Second {
		t.Fatalf("unexpected startup delay %v", cfg.Commands.StartupDelay())
	}
}

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected missing token error")
	}
}

func TestLoadPostgresNeedsURL(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("STORAGE_DRIVER", "pg")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected database url error")
	}
}
