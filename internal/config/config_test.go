package config

import (
	"os"
	"testing"
	"time"
)

func restoreEnv(saved []string) {
	for _, kv := range saved {
		parts := []rune(kv)
		eq := -1
		for i, r := range parts {
			if r == '=' {
				eq = i
				break
			}
		}
		if eq >= 0 {
			os.Setenv(string(parts[:eq]), string(parts[eq+1:]))
		}
	}
}

func TestLoad_ConfigFromEnvAndValidation(t *testing.T) {
	saved := os.Environ()
	defer restoreEnv(saved)
	os.Clearenv()

	// Minimal required
	os.Setenv("JWT_SECRET", "secret")
	os.Setenv("NATS_EMBEDDED", "false")
	os.Setenv("CACHE_DURABLE_BACKEND", "redis")
	os.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Service.Name == "" || cfg.Service.Version == "" {
		t.Fatalf("defaults not applied for service fields")
	}
	if cfg.Auth.JWTSecret != "secret" {
		t.Fatalf("expected JWT secret from env")
	}
	if cfg.Cache.DurableBackend != "redis" {
		t.Fatalf("expected redis backend from env, got %s", cfg.Cache.DurableBackend)
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Fatalf("expected redis addr from env, got %s", cfg.Redis.Addr)
	}
	if cfg.Cache.KeyPrefix != "presence." {
		t.Fatalf("expected default key prefix, got %s", cfg.Cache.KeyPrefix)
	}

	// Duration getters
	cfg.Tracker.RosterTTL = "10s"
	cfg.Tracker.InactivityTimeout = "5m"
	cfg.Tracker.ThrottleInterval = "3s"

	d, err := cfg.Tracker.GetRosterTTL()
	if err != nil || d != 10*time.Second {
		t.Fatalf("roster ttl parse failed: %v %v", d, err)
	}
	it, err := cfg.Tracker.GetInactivityTimeout()
	if err != nil || it != 5*time.Minute {
		t.Fatalf("inactivity timeout parse failed: %v %v", it, err)
	}
	ti, err := cfg.Tracker.GetThrottleInterval()
	if err != nil || ti != 3*time.Second {
		t.Fatalf("throttle interval parse failed: %v %v", ti, err)
	}
}

func TestLoad_MissingJWTSecret(t *testing.T) {
	saved := os.Environ()
	defer restoreEnv(saved)
	os.Clearenv()

	if _, err := Load(); err == nil {
		t.Fatalf("expected error when JWT_SECRET missing")
	}
}

func TestLoad_RejectsUnknownDurableBackend(t *testing.T) {
	saved := os.Environ()
	defer restoreEnv(saved)
	os.Clearenv()

	os.Setenv("JWT_SECRET", "secret")
	os.Setenv("CACHE_DURABLE_BACKEND", "etcd")

	if _, err := Load(); err == nil {
		t.Fatalf("expected error for unsupported durable backend")
	}
}
