package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LEAP_COLLECTOR_CONFIG", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Alerting.LatencyThresholdMs != 500 || cfg.Alerting.ErrorStatusMin != 500 {
		t.Fatalf("unexpected thresholds %+v", cfg.Alerting)
	}
	if !cfg.Alerting.SingleWriter || !cfg.Alerting.ResolveRetry {
		t.Fatalf("expected single writer and resolve retry by default")
	}
	if cfg.Storage.Driver != "memory" || cfg.Server.CORSAllowedOrigins[0] != "*" {
		t.Fatalf("unexpected defaults %+v %+v", cfg.Storage, cfg.Server)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector.yaml")
	body := `
server:
  httpAddress: ":9090"
alerting:
  latencyThresholdMs: 750
storage:
  driver: bolt
  path: /tmp/leap.db
lease:
  ttl: 3s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LEAP_COLLECTOR_ERROR_STATUS_MIN", "400")
	t.Setenv("LEAP_COLLECTOR_SINGLE_WRITER", "false")
	t.Setenv("LEAP_COLLECTOR_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LEAP_COLLECTOR_LOG_FORMAT", "json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9090" || cfg.Server.GRPCAddress != ":50051" {
		t.Fatalf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Alerting.LatencyThresholdMs != 750 || cfg.Alerting.ErrorStatusMin != 400 || cfg.Alerting.SingleWriter {
		t.Fatalf("unexpected alerting config %+v", cfg.Alerting)
	}
	if cfg.Storage.Driver != "bolt" || cfg.Lease.TTL != 3*time.Second || !cfg.Logging.JSON {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.Server.CORSAllowedOrigins) != 2 || cfg.Server.CORSAllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.Server.CORSAllowedOrigins)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"latency":   func(c *Config) { c.Alerting.LatencyThresholdMs = 0 },
		"status":    func(c *Config) { c.Alerting.ErrorStatusMin = 700 },
		"driver":    func(c *Config) { c.Storage.Driver = "mongo" },
		"boltPath":  func(c *Config) { c.Storage.Driver = "bolt"; c.Storage.Path = "" },
		"leaseAddr": func(c *Config) { c.Lease.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := defaultConfig()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}
