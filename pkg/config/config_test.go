package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadParsesDurationsAndSizes(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9090
storage:
  db_path: /tmp/test.db
queue:
  capacity: 64
  submit_timeout: 250ms
fetch:
  poll_interval: 15
  timeout: 2s
  backoff:
    base: 100ms
    max: 30s
validation:
  max_payload_bytes: 64KB
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.Addr(); got != "127.0.0.1:9090" {
		t.Fatalf("addr = %q", got)
	}
	if d := cfg.Queue.SubmitTimeout.Duration(); d != 250*time.Millisecond {
		t.Fatalf("submit_timeout = %v", d)
	}
	// bare numbers are seconds
	if d := cfg.Fetch.PollInterval.Duration(); d != 15*time.Second {
		t.Fatalf("poll_interval = %v", d)
	}
	if b := cfg.Validation.MaxPayloadBytes.Int64(); b != 64000 {
		t.Fatalf("max_payload_bytes = %d", b)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	p := writeConfig(t, `
queue:
  submit_timeout: soon
`)
	if _, err := Load(p); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestAddrDefaults(t *testing.T) {
	var cfg Config
	if got := cfg.Addr(); got != "0.0.0.0:8080" {
		t.Fatalf("default addr = %q", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ACTIVITYD_ADDR", "10.0.0.1:9000")
	t.Setenv("ACTIVITYD_DB_PATH", "/tmp/env.db")
	t.Setenv("ACTIVITYD_QUEUE_CAPACITY", "7")
	t.Setenv("ACTIVITYD_POLL_INTERVAL", "90s")
	t.Setenv("ACTIVITYD_NOTIFY_ENABLED", "true")
	t.Setenv("ACTIVITYD_API_BACKEND_KEYS", "k1, k2")

	var cfg Config
	if !LoadEnvOverrides(&cfg) {
		t.Fatal("expected env to be used")
	}
	if got := cfg.Addr(); got != "10.0.0.1:9000" {
		t.Fatalf("addr = %q", got)
	}
	if cfg.Storage.DBPath != "/tmp/env.db" {
		t.Fatalf("db_path = %q", cfg.Storage.DBPath)
	}
	if cfg.Queue.Capacity != 7 {
		t.Fatalf("capacity = %d", cfg.Queue.Capacity)
	}
	if d := cfg.Fetch.PollInterval.Duration(); d != 90*time.Second {
		t.Fatalf("poll_interval = %v", d)
	}
	if !cfg.Notify.Enabled {
		t.Fatal("notify should be enabled")
	}
	if len(cfg.Security.APIKeys.Backend) != 2 || cfg.Security.APIKeys.Backend[1] != "k2" {
		t.Fatalf("backend keys = %v", cfg.Security.APIKeys.Backend)
	}
}

func TestLoadEffectiveMissingFile(t *testing.T) {
	cfg, _, err := LoadEffective(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not be fatal: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected config")
	}
}

func TestLoadEffectiveMalformedFile(t *testing.T) {
	p := writeConfig(t, "server: [not\n  a: mapping")
	if _, _, err := LoadEffective(p); err == nil {
		t.Fatal("unparsable config file must be fatal")
	}
}

func TestDurationOr(t *testing.T) {
	var d Duration
	if got := d.Or(5 * time.Second); got != 5*time.Second {
		t.Fatalf("fallback = %v", got)
	}
	d = Duration(time.Second)
	if got := d.Or(5 * time.Second); got != time.Second {
		t.Fatalf("value = %v", got)
	}
}
