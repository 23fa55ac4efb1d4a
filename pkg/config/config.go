package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"livecast/internal/core/domain"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Control struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"control"`

	Status struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		WriteTimeout   time.Duration `yaml:"write_timeout"`
		ClientBuffer   int           `yaml:"client_buffer"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"status"`

	Broadcast struct {
		RetryDelay         time.Duration       `yaml:"retry_delay"`
		MaxRetries         int                 `yaml:"max_retries"` // 0 retries forever
		StatisticsInterval time.Duration       `yaml:"statistics_interval"`
		RequireNetwork     bool                `yaml:"require_network"`
		Connections        []domain.Connection `yaml:"connections"`
	} `yaml:"broadcast"`

	Quality struct {
		Enabled          bool          `yaml:"enabled"`
		TargetFPS        float64       `yaml:"target_fps"`
		AnalysisInterval time.Duration `yaml:"analysis_interval"`
		Hysteresis       time.Duration `yaml:"hysteresis"`
		HistorySize      int           `yaml:"history_size"`
		TrendWindow      int           `yaml:"trend_window"`
		Initial          struct {
			Bitrate int `yaml:"bitrate"`
			Width   int `yaml:"width"`
			Height  int `yaml:"height"`
			FPS     int `yaml:"fps"`
		} `yaml:"initial"`
	} `yaml:"quality"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled   bool   `yaml:"enabled"`
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
		Channel   string `yaml:"channel"`
		// LeaseTTL bounds how long a crashed publisher blocks other instances.
		LeaseTTL time.Duration `yaml:"lease_ttl"`
	} `yaml:"redis"`

	Snapshots struct {
		Enabled   bool          `yaml:"enabled"`
		Directory string        `yaml:"directory"`
		Interval  time.Duration `yaml:"interval"`
		Retain    int           `yaml:"retain"`
	} `yaml:"snapshots"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		OperatorKey    string        `yaml:"operator_key"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
		MaxConcurrent     int     `yaml:"max_concurrent"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Control
	if c.Control.Address == "" {
		return fmt.Errorf("control.address must not be empty")
	}
	if c.Control.ReadTimeout <= 0 {
		return fmt.Errorf("control.read_timeout must be > 0")
	}
	if c.Control.WriteTimeout <= 0 {
		return fmt.Errorf("control.write_timeout must be > 0")
	}
	if c.Control.ShutdownTimeout <= 0 {
		return fmt.Errorf("control.shutdown_timeout must be > 0")
	}

	// Status
	if c.Status.PingInterval <= 0 {
		return fmt.Errorf("status.ping_interval must be > 0")
	}
	if c.Status.WriteTimeout <= 0 {
		return fmt.Errorf("status.write_timeout must be > 0")
	}
	if c.Status.ClientBuffer <= 0 {
		return fmt.Errorf("status.client_buffer must be > 0")
	}

	// Broadcast
	if c.Broadcast.RetryDelay <= 0 {
		return fmt.Errorf("broadcast.retry_delay must be > 0")
	}
	if c.Broadcast.MaxRetries < 0 {
		return fmt.Errorf("broadcast.max_retries must be >= 0")
	}
	if c.Broadcast.StatisticsInterval <= 0 {
		return fmt.Errorf("broadcast.statistics_interval must be > 0")
	}
	seen := make(map[string]struct{}, len(c.Broadcast.Connections))
	for i, conn := range c.Broadcast.Connections {
		if conn.Name == "" {
			return fmt.Errorf("broadcast.connections[%d].name must not be empty", i)
		}
		if _, dup := seen[conn.Name]; dup {
			return fmt.Errorf("broadcast.connections[%d].name %q is duplicated", i, conn.Name)
		}
		seen[conn.Name] = struct{}{}
	}

	// Quality
	if c.Quality.TargetFPS <= 0 {
		return fmt.Errorf("quality.target_fps must be > 0")
	}
	if c.Quality.AnalysisInterval <= 0 {
		return fmt.Errorf("quality.analysis_interval must be > 0")
	}
	if c.Quality.Hysteresis < 0 {
		return fmt.Errorf("quality.hysteresis must be >= 0")
	}
	if c.Quality.HistorySize <= 0 {
		return fmt.Errorf("quality.history_size must be > 0")
	}
	if c.Quality.TrendWindow <= 0 || c.Quality.TrendWindow > c.Quality.HistorySize {
		return fmt.Errorf("quality.trend_window must be in (0, history_size]")
	}
	if c.Quality.Initial.Bitrate <= 0 || c.Quality.Initial.Width <= 0 ||
		c.Quality.Initial.Height <= 0 || c.Quality.Initial.FPS <= 0 {
		return fmt.Errorf("quality.initial encoder settings must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.MetricsPath == "" {
		return fmt.Errorf("monitoring.metrics_path must not be empty when prometheus_enabled=true")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.KeyPrefix == "" {
			return fmt.Errorf("redis.key_prefix must not be empty when redis.enabled=true")
		}
		if c.Redis.LeaseTTL < time.Second {
			return fmt.Errorf("redis.lease_ttl must be >= 1s when redis.enabled=true")
		}
	}

	if c.Snapshots.Enabled {
		if c.Snapshots.Directory == "" {
			return fmt.Errorf("snapshots.directory must not be empty when snapshots.enabled=true")
		}
		if c.Snapshots.Interval <= 0 {
			return fmt.Errorf("snapshots.interval must be > 0")
		}
		if c.Snapshots.Retain < 1 {
			return fmt.Errorf("snapshots.retain must be >= 1")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Control.Address = ":8080"
	cfg.Control.ReadTimeout = 15 * time.Second
	cfg.Control.WriteTimeout = 15 * time.Second
	cfg.Control.ShutdownTimeout = 10 * time.Second

	cfg.Status.PingInterval = 30 * time.Second
	cfg.Status.WriteTimeout = 10 * time.Second
	cfg.Status.ClientBuffer = 64
	cfg.Status.AllowedOrigins = []string{"*"}

	cfg.Broadcast.RetryDelay = 3 * time.Second
	cfg.Broadcast.MaxRetries = 0
	cfg.Broadcast.StatisticsInterval = time.Second
	cfg.Broadcast.RequireNetwork = true

	cfg.Quality.Enabled = true
	cfg.Quality.TargetFPS = 30
	cfg.Quality.AnalysisInterval = 5 * time.Second
	cfg.Quality.Hysteresis = 2 * time.Second
	cfg.Quality.HistorySize = 100
	cfg.Quality.TrendWindow = 30
	cfg.Quality.Initial.Bitrate = 2_500_000
	cfg.Quality.Initial.Width = 1280
	cfg.Quality.Initial.Height = 720
	cfg.Quality.Initial.FPS = 30

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "livecast:"
	cfg.Redis.Channel = "livecast:events"
	cfg.Redis.LeaseTTL = 10 * time.Second

	cfg.Snapshots.Enabled = false
	cfg.Snapshots.Directory = "data/snapshots"
	cfg.Snapshots.Interval = time.Minute
	cfg.Snapshots.Retain = 5

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.OperatorKey = ""
	cfg.Auth.AccessTokenTTL = 30 * time.Minute

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.RequestsPerSecond = 20
	cfg.RateLimiting.Burst = 40
	cfg.RateLimiting.MaxConcurrent = 0

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("LIVECAST_CONTROL_ADDRESS"); addr != "" {
		c.Control.Address = addr
	}
	if level := os.Getenv("LIVECAST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("LIVECAST_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if key := os.Getenv("LIVECAST_OPERATOR_KEY"); key != "" {
		c.Auth.OperatorKey = key
	}
	if addr := os.Getenv("LIVECAST_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if dir := os.Getenv("LIVECAST_SNAPSHOT_DIR"); dir != "" {
		c.Snapshots.Directory = dir
		c.Snapshots.Enabled = true
	}
	if d, err := time.ParseDuration(os.Getenv("LIVECAST_RETRY_DELAY")); err == nil && d > 0 {
		c.Broadcast.RetryDelay = d
	}
	if v, err := strconv.ParseBool(os.Getenv("LIVECAST_QUALITY_ENABLED")); err == nil {
		c.Quality.Enabled = v
	}
}
