package main

import (
	"strings"
	"testing"
	"time"
)

func loadTestConfig(t *testing.T) (config, error) {
	t.Helper()
	v, err := newViper("")
	if err != nil {
		t.Fatalf("newViper: %v", err)
	}
	return loadConfig(v)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadTestConfig(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected default listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.ChatRateMax != 30 || cfg.ChatRateWindow != time.Minute {
		t.Fatalf("unexpected chat preset %d/%s", cfg.ChatRateMax, cfg.ChatRateWindow)
	}
	if cfg.PublicRateMax != 100 || cfg.PublicRateWindow != 15*time.Minute {
		t.Fatalf("unexpected public preset %d/%s", cfg.PublicRateMax, cfg.PublicRateWindow)
	}
	if cfg.RateStatsBucket != "minute" {
		t.Fatalf("expected minute bucket, got %q", cfg.RateStatsBucket)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("CHAT_RATE_MAX", "5")
	t.Setenv("CHAT_RATE_WINDOW", "10s")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("RATE_KEY_HEADER", "X-Api-Key")

	cfg, err := loadTestConfig(t)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Fatalf("expected env listen addr, got %q", cfg.ListenAddr)
	}
	if cfg.ChatRateMax != 5 || cfg.ChatRateWindow != 10*time.Second {
		t.Fatalf("unexpected chat override %d/%s", cfg.ChatRateMax, cfg.ChatRateWindow)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected normalized log level, got %q", cfg.LogLevel)
	}
	if cfg.RateKeyHeader != "X-Api-Key" {
		t.Fatalf("expected key header, got %q", cfg.RateKeyHeader)
	}
}

func TestLoadConfig_ZeroRateIsNotAnError(t *testing.T) {
	t.Setenv("PUBLIC_RATE_MAX", "0")

	if _, err := loadTestConfig(t); err != nil {
		t.Fatalf("expected zero rate to be accepted (limiter substitutes defaults), got %v", err)
	}
}

func TestLoadConfig_StatsRequireRedisAddr(t *testing.T) {
	t.Setenv("RATE_STATS_ENABLED", "true")

	_, err := loadTestConfig(t)
	if err == nil {
		t.Fatalf("expected error when stats enabled without redis addr")
	}
	if !strings.Contains(err.Error(), "RATE_STATS_REDIS_ADDR") {
		t.Fatalf("expected error to name RATE_STATS_REDIS_ADDR, got %v", err)
	}
}

func TestLoadConfig_RejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"CHAT_UPSTREAM_URL": "not a url",
		"LOG_FORMAT":        "xml",
		"RATE_STATS_BUCKET": "hour",
		"CONCURRENCY_MAX":   "-1",
		"GITHUB_REPO":       "norepo",
	}
	for env, value := range cases {
		t.Run(env, func(t *testing.T) {
			t.Setenv(env, value)
			_, err := loadTestConfig(t)
			if err == nil {
				t.Fatalf("expected %s=%q to be rejected", env, value)
			}
			if !strings.Contains(err.Error(), env) {
				t.Fatalf("expected error to mention %s, got %v", env, err)
			}
		})
	}
}
