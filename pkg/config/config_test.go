package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SERVINEO_API_BASE_URL", "https://api.servineo.test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.App.IsDev() {
		t.Fatalf("expected dev environment by default, got %q", cfg.App.Env)
	}
	if cfg.API.Timeout != 15*time.Second {
		t.Fatalf("expected 15s default timeout, got %v", cfg.API.Timeout)
	}
	if cfg.Session.RefreshEarlyFraction != 0.85 {
		t.Fatalf("expected 0.85 refresh fraction, got %v", cfg.Session.RefreshEarlyFraction)
	}
	if cfg.Session.BanRetention() != 30*24*time.Hour {
		t.Fatalf("expected 30 day retention, got %v", cfg.Session.BanRetention())
	}
	if cfg.Store.Path == "" {
		t.Fatalf("expected default store path")
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	t.Setenv("SERVINEO_API_BASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without base url")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("SERVINEO_API_BASE_URL", "ftp://api.servineo.test")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for non-http scheme")
	}

	t.Setenv("SERVINEO_API_BASE_URL", "https://api.servineo.test")
	t.Setenv("SERVINEO_REFRESH_EARLY_FRACTION", "1.5")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for out-of-range refresh fraction")
	}
}
