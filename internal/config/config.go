package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the collector.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Alerting AlertingConfig `yaml:"alerting"`
	Storage  StorageConfig  `yaml:"storage"`
	Logging  LoggingConfig  `yaml:"logging"`
	Lease    LeaseConfig    `yaml:"lease"`
	Tracking TrackingConfig `yaml:"tracking"`
}

// ServerConfig controls the HTTP, gRPC and metrics listeners.
type ServerConfig struct {
	HTTPAddress        string        `yaml:"httpAddress"`
	GRPCAddress        string        `yaml:"grpcAddress"`
	MetricsAddress     string        `yaml:"metricsAddress"`
	GracefulTimeout    time.Duration `yaml:"gracefulTimeout"`
	CORSAllowedOrigins []string      `yaml:"corsAllowedOrigins"`
}

// AlertingConfig holds the evaluator thresholds and deduplication mode.
type AlertingConfig struct {
	LatencyThresholdMs int64  `yaml:"latencyThresholdMs"`
	ErrorStatusMin     int    `yaml:"errorStatusMin"`
	RulesPath          string `yaml:"rulesPath"`
	// SingleWriter serialises incident creation per key inside the process.
	SingleWriter bool `yaml:"singleWriter"`
	ResolveRetry bool `yaml:"resolveRetry"`
}

// StorageConfig selects the log and incident store.
type StorageConfig struct {
	Driver       string        `yaml:"driver"`
	Path         string        `yaml:"path"`
	OpenTimeout  time.Duration `yaml:"openTimeout"`
	CompressLogs bool          `yaml:"compressLogs"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// LeaseConfig controls the Valkey-backed per-key creation lease.
type LeaseConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	TTL          time.Duration `yaml:"ttl"`
	WaitTimeout  time.Duration `yaml:"waitTimeout"`
}

// TrackingConfig configures services that report to a collector.
type TrackingConfig struct {
	CollectorURL      string         `yaml:"collectorURL"`
	ServiceName       string         `yaml:"serviceName"`
	DefaultRatePerSec int            `yaml:"defaultRatePerSec"`
	RateOverrides     map[string]int `yaml:"rateOverrides"`
	QueueSize         int            `yaml:"queueSize"`
	SendTimeout       time.Duration  `yaml:"sendTimeout"`
	MaxRetries        uint64         `yaml:"maxRetries"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("LEAP_COLLECTOR_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the collector cannot run with.
func (c *Config) Validate() error {
	if c.Alerting.LatencyThresholdMs <= 0 {
		return fmt.Errorf("alerting.latencyThresholdMs must be > 0, got %d", c.Alerting.LatencyThresholdMs)
	}
	if c.Alerting.ErrorStatusMin < 100 || c.Alerting.ErrorStatusMin > 599 {
		return fmt.Errorf("alerting.errorStatusMin must be within 100..599, got %d", c.Alerting.ErrorStatusMin)
	}
	switch c.Storage.Driver {
	case "memory":
	case "bolt":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the bolt driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Lease.Enabled && c.Lease.Addr == "" {
		return errors.New("lease.addr is required when the lease is enabled")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:        ":8080",
			GRPCAddress:        ":50051",
			MetricsAddress:     ":2112",
			GracefulTimeout:    10 * time.Second,
			CORSAllowedOrigins: []string{"*"},
		},
		Alerting: AlertingConfig{
			LatencyThresholdMs: 500,
			ErrorStatusMin:     500,
			RulesPath:          "configs/rules/default.yaml",
			SingleWriter:       true,
			ResolveRetry:       true,
		},
		Storage: StorageConfig{
			Driver:      "memory",
			Path:        "data/collector.db",
			OpenTimeout: time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Lease: LeaseConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			TTL:          5 * time.Second,
			WaitTimeout:  2 * time.Second,
		},
		Tracking: TrackingConfig{
			CollectorURL:      "http://localhost:8080",
			DefaultRatePerSec: 100,
			QueueSize:         1024,
			SendTimeout:       2 * time.Second,
			MaxRetries:        3,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEAP_COLLECTOR_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSAllowedOrigins = splitList(v)
	}
	if v := os.Getenv("LEAP_COLLECTOR_LATENCY_THRESHOLD_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Alerting.LatencyThresholdMs = ms
		}
	}
	if v := os.Getenv("LEAP_COLLECTOR_ERROR_STATUS_MIN"); v != "" {
		if code, err := strconv.Atoi(v); err == nil {
			cfg.Alerting.ErrorStatusMin = code
		}
	}
	if v := os.Getenv("LEAP_COLLECTOR_RULES_PATH"); v != "" {
		cfg.Alerting.RulesPath = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_SINGLE_WRITER"); v != "" {
		cfg.Alerting.SingleWriter = parseBool(v)
	}
	if v := os.Getenv("LEAP_COLLECTOR_RESOLVE_RETRY"); v != "" {
		cfg.Alerting.ResolveRetry = parseBool(v)
	}
	if v := os.Getenv("LEAP_COLLECTOR_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_STORAGE_COMPRESS"); v != "" {
		cfg.Storage.CompressLogs = parseBool(v)
	}
	if v := os.Getenv("LEAP_COLLECTOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("LEAP_COLLECTOR_LEASE_ENABLED"); v != "" {
		cfg.Lease.Enabled = parseBool(v)
	}
	if v := os.Getenv("LEAP_COLLECTOR_LEASE_ADDR"); v != "" {
		cfg.Lease.Addr = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_LEASE_USERNAME"); v != "" {
		cfg.Lease.Username = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_LEASE_PASSWORD"); v != "" {
		cfg.Lease.Password = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_LEASE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Lease.DB = db
		}
	}
	if v := os.Getenv("LEAP_COLLECTOR_LEASE_TLS"); parseBool(v) {
		cfg.Lease.TLS = true
	}
	if v := os.Getenv("LEAP_COLLECTOR_LEASE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lease.TTL = d
		}
	}
	if v := os.Getenv("LEAP_COLLECTOR_LEASE_WAIT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lease.WaitTimeout = d
		}
	}
	if v := os.Getenv("LEAP_COLLECTOR_LEASE_MAX_RETRIES"); v != "" {
		if retry, err := strconv.Atoi(v); err == nil {
			cfg.Lease.MaxRetries = retry
		}
	}
	if v := os.Getenv("LEAP_COLLECTOR_URL"); v != "" {
		cfg.Tracking.CollectorURL = v
	}
	if v := os.Getenv("LEAP_COLLECTOR_SERVICE_NAME"); v != "" {
		cfg.Tracking.ServiceName = v
	}
}

func parseBool(v string) bool {
	return strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
