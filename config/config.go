package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/vajjipartisatwikraj/scope-codestats/adapters/redis"
	"github.com/vajjipartisatwikraj/scope-codestats/adapters/sqlx"
	"github.com/vajjipartisatwikraj/scope-codestats/core"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds the complete application configuration
type Config struct {
	// Environment and profile settings
	Environment Environment `json:"environment" env:"CODESTATS_ENV"`
	Profile     string      `json:"profile" env:"CODESTATS_PROFILE"`

	// Server configuration
	Server ServerConfig `json:"server"`

	// Sync orchestration configuration
	Sync SyncConfig `json:"sync"`

	// Platform adapter configuration
	Platforms PlatformsConfig `json:"platforms"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// Security configuration
	Security SecurityConfig `json:"security"`

	// Outbound integrations
	Integrations IntegrationsConfig `json:"integrations"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Address           string        `json:"address" env:"CODESTATS_SERVER_ADDR"`
	PathPrefix        string        `json:"path_prefix" env:"CODESTATS_SERVER_PATH_PREFIX"`
	CORSOrigin        string        `json:"cors_origin" env:"CODESTATS_SERVER_CORS_ORIGIN"`
	ReadTimeout       time.Duration `json:"read_timeout" env:"CODESTATS_SERVER_READ_TIMEOUT"`
	WriteTimeout      time.Duration `json:"write_timeout" env:"CODESTATS_SERVER_WRITE_TIMEOUT"`
	IdleTimeout       time.Duration `json:"idle_timeout" env:"CODESTATS_SERVER_IDLE_TIMEOUT"`
	ReadHeaderTimeout time.Duration `json:"read_header_timeout" env:"CODESTATS_SERVER_READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `json:"shutdown_timeout" env:"CODESTATS_SERVER_SHUTDOWN_TIMEOUT"`
}

// SyncConfig holds fleet and cooldown tuning.
type SyncConfig struct {
	BatchSize       int           `json:"batch_size" env:"CODESTATS_SYNC_BATCH_SIZE"`
	BatchPause      time.Duration `json:"batch_pause" env:"CODESTATS_SYNC_BATCH_PAUSE"`
	MaxJitter       time.Duration `json:"max_jitter" env:"CODESTATS_SYNC_MAX_JITTER"`
	DefaultCooldown time.Duration `json:"default_cooldown" env:"CODESTATS_SYNC_DEFAULT_COOLDOWN"`
	// FleetCron schedules the nightly full-fleet refresh.
	FleetCron string `json:"fleet_cron" env:"CODESTATS_SYNC_FLEET_CRON"`
	// Limits overrides pacing per platform, keyed by platform name.
	Limits map[string]LimitConfig `json:"limits,omitempty"`
}

// LimitConfig tunes the governor for one platform.
type LimitConfig struct {
	MinInterval   time.Duration `json:"min_interval"`
	MaxConcurrent int64         `json:"max_concurrent"`
	Cooldown      time.Duration `json:"cooldown"`
}

// PlatformsConfig holds per-platform adapter settings.
type PlatformsConfig struct {
	RequestTimeout time.Duration `json:"request_timeout" env:"CODESTATS_PLATFORM_REQUEST_TIMEOUT"`
	GitHubToken    string        `json:"github_token,omitempty" env:"CODESTATS_GITHUB_TOKEN"`
	// Disabled lists platforms that should not be synced.
	Disabled []string `json:"disabled,omitempty" env:"CODESTATS_PLATFORMS_DISABLED"`
}

// StorageConfig holds storage adapter configuration
type StorageConfig struct {
	Adapter string       `json:"adapter" env:"CODESTATS_STORAGE_ADAPTER"`
	Redis   redis.Config `json:"redis,omitempty"`
	SQL     sqlx.Config  `json:"sql,omitempty"`
	File    FileConfig   `json:"file,omitempty"`
}

// FileConfig holds JSON file storage configuration
type FileConfig struct {
	Path string `json:"path" env:"CODESTATS_STORAGE_FILE_PATH"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string            `json:"level" env:"CODESTATS_LOG_LEVEL"`
	Format     string            `json:"format" env:"CODESTATS_LOG_FORMAT"`
	Output     string            `json:"output" env:"CODESTATS_LOG_OUTPUT"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SecurityConfig holds security-related configuration
type SecurityConfig struct {
	EnableRateLimit bool            `json:"enable_rate_limit" env:"CODESTATS_SECURITY_RATE_LIMIT_ENABLED"`
	RateLimit       RateLimitConfig `json:"rate_limit,omitempty"`
	APIKeys         []string        `json:"api_keys,omitempty" env:"CODESTATS_SECURITY_API_KEYS"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int           `json:"requests_per_minute" env:"CODESTATS_SECURITY_RATE_LIMIT_RPM"`
	BurstSize         int           `json:"burst_size" env:"CODESTATS_SECURITY_RATE_LIMIT_BURST"`
	CleanupInterval   time.Duration `json:"cleanup_interval" env:"CODESTATS_SECURITY_RATE_LIMIT_CLEANUP"`
}

// IntegrationsConfig holds outbound delivery settings.
type IntegrationsConfig struct {
	WebhookURLs   []string `json:"webhook_urls,omitempty" env:"CODESTATS_WEBHOOK_URLS"`
	WebhookSecret string   `json:"webhook_secret,omitempty" env:"CODESTATS_WEBHOOK_SECRET"`
}

// Load loads configuration from environment variables and validates it
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateConfigPath validates that the config file path is safe
func validateConfigPath(path string) error {
	if path == "" {
		return errors.New("config file path cannot be empty")
	}

	cleanPath := filepath.Clean(path)

	if !strings.HasSuffix(strings.ToLower(cleanPath), ".json") {
		return errors.New("config file must have .json extension")
	}

	if _, err := os.Stat(cleanPath); err != nil {
		return fmt.Errorf("config file not accessible: %w", err)
	}

	return nil
}

// LoadFromFile loads configuration from a JSON file.
// Environment variables override file values.
func LoadFromFile(path string) (*Config, error) {
	if err := validateConfigPath(path); err != nil {
		return nil, fmt.Errorf("invalid config file path: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults for development
func DefaultConfig() *Config {
	return &Config{
		Environment: EnvDevelopment,
		Profile:     "default",
		Server: ServerConfig{
			Address:           ":8080",
			PathPrefix:        "/api",
			CORSOrigin:        "*",
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			ShutdownTimeout:   30 * time.Second,
		},
		Sync: SyncConfig{
			BatchSize:       20,
			BatchPause:      2 * time.Second,
			MaxJitter:       750 * time.Millisecond,
			DefaultCooldown: 12 * time.Hour,
			FleetCron:       "0 2 * * *",
			Limits: map[string]LimitConfig{
				// Codeforces policy: one request every two seconds
				string(core.PlatformCodeforces): {MinInterval: 2 * time.Second, MaxConcurrent: 1},
				string(core.PlatformLeetCode):   {MinInterval: 300 * time.Millisecond, MaxConcurrent: 2},
			},
		},
		Platforms: PlatformsConfig{
			RequestTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Adapter: "memory",
			Redis:   redis.DefaultConfig(),
			SQL:     sqlx.DefaultConfig(sqlx.DriverPostgres),
			File: FileConfig{
				Path: "./data/codestats.json",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			EnableRateLimit: false,
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 60,
				BurstSize:         10,
				CleanupInterval:   5 * time.Minute,
			},
			APIKeys: []string{},
		},
	}
}

// Validate validates the configuration and returns detailed error messages
func (c *Config) Validate() error {
	var errs []string

	if c.Environment == "" {
		errs = append(errs, "environment cannot be empty")
	}

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Sync.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("sync config: %v", err))
	}

	if err := c.Platforms.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("platforms config: %v", err))
	}

	if err := c.Storage.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("storage config: %v", err))
	}

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("logging config: %v", err))
	}

	if err := c.Security.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("security config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

// String returns a JSON representation of the config (with secrets redacted)
func (c *Config) String() string {
	cfg := *c

	if cfg.Storage.SQL.DSN != "" {
		cfg.Storage.SQL.DSN = "[REDACTED]"
	}
	if cfg.Storage.Redis.Password != "" {
		cfg.Storage.Redis.Password = "[REDACTED]"
	}
	if cfg.Platforms.GitHubToken != "" {
		cfg.Platforms.GitHubToken = "[REDACTED]"
	}
	if cfg.Integrations.WebhookSecret != "" {
		cfg.Integrations.WebhookSecret = "[REDACTED]"
	}

	data, _ := json.MarshalIndent(cfg, "", "  ")
	return string(data)
}
