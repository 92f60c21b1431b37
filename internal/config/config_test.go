package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.RateLimit != 10 {
		t.Errorf("RateLimit = %d, want 10", cfg.RateLimit)
	}
	if cfg.RateWindow != time.Minute {
		t.Errorf("RateWindow = %v, want 1m", cfg.RateWindow)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
	if cfg.AdminAuthEnabled {
		t.Error("AdminAuthEnabled should default to false")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("ADDR", ":9090")
	t.Setenv("RATE_LIMIT", "25")
	t.Setenv("RATE_WINDOW_MS", "30000")
	t.Setenv("REQUEST_TIMEOUT", "10")
	t.Setenv("ADMIN_AUTH_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.RateLimit != 25 {
		t.Errorf("RateLimit = %d, want 25", cfg.RateLimit)
	}
	if cfg.RateWindow != 30*time.Second {
		t.Errorf("RateWindow = %v, want 30s", cfg.RateWindow)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout = %v, want 10s", cfg.RequestTimeout)
	}
	if !cfg.AdminAuthEnabled {
		t.Error("AdminAuthEnabled should be true")
	}
}

func TestLoad_MalformedNumbersFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT", "plenty")
	t.Setenv("RATE_WINDOW_MS", "a minute")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RateLimit != 10 {
		t.Errorf("RateLimit = %d, want default 10", cfg.RateLimit)
	}
	if cfg.RateWindow != time.Minute {
		t.Errorf("RateWindow = %v, want default 1m", cfg.RateWindow)
	}
}
