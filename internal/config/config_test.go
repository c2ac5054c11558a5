package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("TEST_REDIS_ADDR", "redis.internal:6380")

	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `
server:
  port: 9090
redis:
  addr: ${TEST_REDIS_ADDR}
sync:
  heartbeat_interval: 40s
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Fatalf("expected env-expanded redis addr, got %q", cfg.Redis.Addr)
	}
	if cfg.Sync.HeartbeatInterval != 40*time.Second {
		t.Fatalf("expected heartbeat interval 40s, got %v", cfg.Sync.HeartbeatInterval)
	}

	// Unset values fall back to defaults.
	if cfg.Sync.PollInterval != 5*time.Second {
		t.Fatalf("expected default poll interval, got %v", cfg.Sync.PollInterval)
	}
	if cfg.Sync.StabilizationWindow != 10*time.Second {
		t.Fatalf("expected default stabilization window, got %v", cfg.Sync.StabilizationWindow)
	}
	if cfg.Game.StalePlayerTimeout != 2*time.Minute {
		t.Fatalf("expected default stale player timeout, got %v", cfg.Game.StalePlayerTimeout)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Sync.HeartbeatInterval != 20*time.Second {
		t.Fatalf("expected default heartbeat interval 20s, got %v", cfg.Sync.HeartbeatInterval)
	}
	if !cfg.Scoreboard.Enabled {
		t.Fatalf("expected scoreboard worker enabled by default")
	}
	if cfg.Kafka.Enabled {
		t.Fatalf("expected kafka disabled by default")
	}
}
