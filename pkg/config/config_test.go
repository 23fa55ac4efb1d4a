package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"livecast/internal/core/domain"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
	if cfg.Broadcast.RetryDelay != 3*time.Second {
		t.Errorf("expected 3s retry delay, got %v", cfg.Broadcast.RetryDelay)
	}
	if cfg.Broadcast.StatisticsInterval != time.Second {
		t.Errorf("expected 1s statistics interval, got %v", cfg.Broadcast.StatisticsInterval)
	}
	if cfg.Quality.HistorySize != 100 || cfg.Quality.TrendWindow != 30 {
		t.Errorf("unexpected history/trend sizes: %d/%d", cfg.Quality.HistorySize, cfg.Quality.TrendWindow)
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 0
	cfg.RateLimiting.Burst = 0
	cfg.RateLimiting.MaxConcurrent = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"control address", func(c *Config) { c.Control.Address = "" }},
		{"retry delay", func(c *Config) { c.Broadcast.RetryDelay = 0 }},
		{"negative max retries", func(c *Config) { c.Broadcast.MaxRetries = -1 }},
		{"statistics interval", func(c *Config) { c.Broadcast.StatisticsInterval = 0 }},
		{"target fps", func(c *Config) { c.Quality.TargetFPS = 0 }},
		{"trend window beyond history", func(c *Config) { c.Quality.TrendWindow = c.Quality.HistorySize + 1 }},
		{"initial bitrate", func(c *Config) { c.Quality.Initial.Bitrate = 0 }},
		{"redis without address", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{"redis lease ttl", func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.LeaseTTL = 0
		}},
		{"snapshots without directory", func(c *Config) {
			c.Snapshots.Enabled = true
			c.Snapshots.Directory = ""
		}},
		{"snapshots retain", func(c *Config) {
			c.Snapshots.Enabled = true
			c.Snapshots.Retain = 0
		}},
		{"jwt secret", func(c *Config) { c.Auth.JWTSecret = "" }},
		{"rate limit rps", func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.RequestsPerSecond = 0
		}},
		{"tracing sample rate", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 1.5
		}},
		{"unnamed connection", func(c *Config) {
			c.Broadcast.Connections = []domain.Connection{{URL: "rtmp://a/live"}}
		}},
		{"duplicate connection", func(c *Config) {
			c.Broadcast.Connections = []domain.Connection{
				{Name: "main", URL: "rtmp://a/live"},
				{Name: "main", URL: "rtmp://b/live"},
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Control.Address != ":8080" {
		t.Errorf("expected default control address, got %q", cfg.Control.Address)
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
control:
  address: ":9000"
broadcast:
  retry_delay: 5s
  connections:
    - name: primary
      url: rtmp://ingest.example.com/live/key
      protocol: rtmp
    - name: backup
      url: srt://backup.example.com:9000
      protocol: srt
      srt:
        latency: 120ms
quality:
  target_fps: 60
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("LIVECAST_LOG_LEVEL", "debug")
	t.Setenv("LIVECAST_RETRY_DELAY", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Control.Address != ":9000" {
		t.Errorf("expected :9000, got %q", cfg.Control.Address)
	}
	if cfg.Quality.TargetFPS != 60 {
		t.Errorf("expected target fps 60, got %v", cfg.Quality.TargetFPS)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("env override for log level not applied, got %q", cfg.Logging.Level)
	}
	if cfg.Broadcast.RetryDelay != 2*time.Second {
		t.Errorf("env override for retry delay not applied, got %v", cfg.Broadcast.RetryDelay)
	}
	if len(cfg.Broadcast.Connections) != 2 {
		t.Fatalf("expected 2 connections, got %d", len(cfg.Broadcast.Connections))
	}
	backup := cfg.Broadcast.Connections[1]
	if backup.Protocol != domain.ProtocolSRT || backup.SRT == nil || backup.SRT.Latency != 120*time.Millisecond {
		t.Errorf("srt connection not decoded: %+v", backup)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("control: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}
