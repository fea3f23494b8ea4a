package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.Heartbeat.Interval.Duration != 6*time.Second {
		t.Fatalf("interval = %v", cfg.Heartbeat.Interval.Duration)
	}
	if cfg.Heartbeat.IdleAfter.Duration != 5*time.Second {
		t.Fatalf("idle_after = %v", cfg.Heartbeat.IdleAfter.Duration)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relayhub.toml")
	data := `
listen = ":9090"
auth_provider = "https://auth.example.com"
refresh_token = "rt-0"
log_level = "debug"

[heartbeat]
interval = "2s"
idle_after = "1500ms"
refresh_every = "1m"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":9090" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.AuthProvider != "https://auth.example.com" {
		t.Fatalf("auth_provider = %q", cfg.AuthProvider)
	}
	if cfg.Heartbeat.Interval.Duration != 2*time.Second {
		t.Fatalf("interval = %v", cfg.Heartbeat.Interval.Duration)
	}
	if cfg.Heartbeat.IdleAfter.Duration != 1500*time.Millisecond {
		t.Fatalf("idle_after = %v", cfg.Heartbeat.IdleAfter.Duration)
	}
	if cfg.Heartbeat.RefreshEvery.Duration != time.Minute {
		t.Fatalf("refresh_every = %v", cfg.Heartbeat.RefreshEvery.Duration)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AUTH_PROVIDER", "https://env.example.com")
	t.Setenv("REFRESH_TOKEN", "rt-env")
	t.Setenv("PORT", "7070")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthProvider != "https://env.example.com" {
		t.Fatalf("auth_provider = %q", cfg.AuthProvider)
	}
	if cfg.RefreshToken != "rt-env" {
		t.Fatalf("refresh_token = %q", cfg.RefreshToken)
	}
	if cfg.Listen != ":7070" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
}

func TestProviderRequiresRefreshToken(t *testing.T) {
	t.Setenv("AUTH_PROVIDER", "https://auth.example.com")
	t.Setenv("REFRESH_TOKEN", "")

	if _, err := Load(""); err == nil {
		t.Fatal("expected validation error without refresh token")
	}
}
