package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ResponseTimeout != 30*time.Second {
		t.Fatalf("expected 30s response timeout, got %s", cfg.ResponseTimeout)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Fatalf("expected 100ms poll interval, got %s", cfg.PollInterval)
	}
	if cfg.ConsumerPrefetch != 5 {
		t.Fatalf("expected prefetch 5, got %d", cfg.ConsumerPrefetch)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if err := cfg.Require(Redis); err != nil {
		t.Fatalf("redis should be satisfied: %v", err)
	}
	if err := cfg.Require(Redis, RabbitMQ); err == nil {
		t.Fatalf("expected missing RABBITMQ_URL error")
	}
}

func TestLoadSecondsOverrideDuration(t *testing.T) {
	t.Setenv("RESPONSE_TIMEOUT_SECONDS", "5")
	t.Setenv("RESPONSE_TIMEOUT", "1m")
	t.Setenv("SESSION_TTL", "2h")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ResponseTimeout != 5*time.Second {
		t.Fatalf("expected seconds variable to win, got %s", cfg.ResponseTimeout)
	}
	if cfg.SessionTTL != 2*time.Hour {
		t.Fatalf("expected 2h session ttl, got %s", cfg.SessionTTL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("CONSUMER_PREFETCH", "zero")
	if _, err := Load(); err == nil {
		t.Fatalf("expected invalid prefetch error")
	}
}

func TestLoadRejectsPresenceRefreshLongerThanTTL(t *testing.T) {
	t.Setenv("PRESENCE_TTL", "10s")
	t.Setenv("PRESENCE_REFRESH", "30s")
	if _, err := Load(); err == nil {
		t.Fatalf("expected presence refresh validation error")
	}
}
