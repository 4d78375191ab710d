package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.AppTimezone != "Europe/Moscow" {
		t.Errorf("expected default timezone Europe/Moscow, got %s", cfg.AppTimezone)
	}
	if cfg.OneCTimeout != 20*time.Second {
		t.Errorf("expected default 1C timeout 20s, got %s", cfg.OneCTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9091")
	t.Setenv("ONEC_TIMEOUT", "5s")
	t.Setenv("REDIS_TLS", "true")

	cfg := Load()

	if cfg.Port != "9091" {
		t.Errorf("expected port 9091, got %s", cfg.Port)
	}
	if cfg.OneCTimeout != 5*time.Second {
		t.Errorf("expected 1C timeout 5s, got %s", cfg.OneCTimeout)
	}
	if !cfg.RedisTLS {
		t.Error("expected redis TLS enabled")
	}
}

func TestLoadBadDuration(t *testing.T) {
	t.Setenv("ONEC_TIMEOUT", "not-a-duration")

	cfg := Load()
	if cfg.OneCTimeout != 20*time.Second {
		t.Errorf("bad duration should fall back to default, got %s", cfg.OneCTimeout)
	}
}
