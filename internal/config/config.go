package config

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/davsync/davsync/internal/validator"
)

var (
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrEncryptionKeySize = errors.New("encryption key must be exactly 32 bytes (64 hex characters)")
	ErrAPITokenSize      = errors.New("API token must be at least 32 characters")
	ErrValidationFailed  = errors.New("configuration validation failed")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Security SecurityConfig
	Database DatabaseConfig
	Sync     SyncConfig
	DAV      DAVConfig
	Alerts   AlertConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int
	Environment Environment
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	EncryptionKey []byte
	APIToken      string
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// SyncConfig holds sync behaviour configuration.
type SyncConfig struct {
	MinInterval       int // seconds
	MaxInterval       int // seconds
	FullSyncAfterDays int // force full listing sync when last sync is older than this
	MultigetBatch     int // resources fetched per multiget REPORT
}

// DAVConfig holds outbound WebDAV client configuration.
type DAVConfig struct {
	RateLimitRPS   float64
	RateLimitBurst int
}

// AlertConfig holds alert notification configuration.
type AlertConfig struct {
	WebhookEnabled  bool
	WebhookURL      string
	CooldownMinutes int
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	// Attempt to load .env file (ignore error if not found)
	_ = godotenv.Load() //nolint:errcheck // Intentionally ignore - .env file is optional

	cfg := &Config{}

	// Server configuration
	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.Port = port
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))

	// Security configuration
	encKeyHex := getEnvRequired("ENCRYPTION_KEY")
	if encKeyHex != "" {
		encKey, err := hex.DecodeString(encKeyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: ENCRYPTION_KEY: invalid hex: %w", ErrInvalidConfig, err)
		}
		if len(encKey) != 32 {
			return nil, ErrEncryptionKeySize
		}
		cfg.Security.EncryptionKey = encKey
	}

	cfg.Security.APIToken = getEnvRequired("API_TOKEN")
	if cfg.Security.APIToken != "" && len(cfg.Security.APIToken) < 32 {
		return nil, ErrAPITokenSize
	}

	// Database configuration
	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/davsync.db")

	// Sync configuration
	minInterval, err := getEnvInt("MIN_SYNC_INTERVAL", 30)
	if err != nil {
		return nil, fmt.Errorf("%w: MIN_SYNC_INTERVAL: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MinInterval = minInterval

	maxInterval, err := getEnvInt("MAX_SYNC_INTERVAL", 3600)
	if err != nil {
		return nil, fmt.Errorf("%w: MAX_SYNC_INTERVAL: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.MaxInterval = maxInterval

	fullSyncDays, err := getEnvInt("FULL_SYNC_AFTER_DAYS", 7)
	if err != nil {
		return nil, fmt.Errorf("%w: FULL_SYNC_AFTER_DAYS: %w", ErrInvalidConfig, err)
	}
	if fullSyncDays < 1 {
		return nil, fmt.Errorf("%w: FULL_SYNC_AFTER_DAYS must be at least 1", ErrInvalidConfig)
	}
	cfg.Sync.FullSyncAfterDays = fullSyncDays

	batch, err := getEnvInt("MULTIGET_BATCH_SIZE", 10)
	if err != nil {
		return nil, fmt.Errorf("%w: MULTIGET_BATCH_SIZE: %w", ErrInvalidConfig, err)
	}
	if batch < 1 {
		return nil, fmt.Errorf("%w: MULTIGET_BATCH_SIZE must be at least 1", ErrInvalidConfig)
	}
	cfg.Sync.MultigetBatch = batch

	// Outbound DAV rate limiting
	rps, err := getEnvFloat("DAV_RATE_LIMIT_RPS", 10.0)
	if err != nil {
		return nil, fmt.Errorf("%w: DAV_RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.DAV.RateLimitRPS = rps

	burst, err := getEnvInt("DAV_RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("%w: DAV_RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.DAV.RateLimitBurst = burst

	// Alerts
	cfg.Alerts.WebhookEnabled = getEnv("ALERT_WEBHOOK_ENABLED", "false") == "true"
	cfg.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	cooldown, err := getEnvInt("ALERT_COOLDOWN_MINUTES", 60)
	if err != nil {
		return nil, fmt.Errorf("%w: ALERT_COOLDOWN_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Alerts.CooldownMinutes = cooldown

	// Check for missing required configuration
	missing := cfg.getMissingRequired()
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// getMissingRequired returns a list of missing required configuration values.
func (c *Config) getMissingRequired() []string {
	var missing []string

	if len(c.Security.EncryptionKey) == 0 {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	if c.Security.APIToken == "" {
		missing = append(missing, "API_TOKEN")
	}

	return missing
}

// Validate validates configured URLs.
func (c *Config) Validate(ctx context.Context) error {
	v := validator.New(validator.WithAllowPrivateIPs())

	if c.Alerts.WebhookEnabled {
		if err := v.ValidateURL(c.Alerts.WebhookURL, c.IsProduction()); err != nil {
			return fmt.Errorf("%w: ALERT_WEBHOOK_URL: %w", ErrValidationFailed, err)
		}
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired returns the value of an environment variable.
// Returns empty string if not set (caller should check for required values).
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}
