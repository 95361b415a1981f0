// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrAPIKeyRequired is returned when CLOUDMERSIVE_API_KEY is not set.
	ErrAPIKeyRequired = errors.New("config: CLOUDMERSIVE_API_KEY is required")
	// ErrInvalidUploadLimit is returned when MAX_UPLOAD_BYTES is not positive.
	ErrInvalidUploadLimit = errors.New("config: MAX_UPLOAD_BYTES must be positive")
	// ErrInvalidJobLimit is returned when MAX_CONCURRENT_JOBS is not positive.
	ErrInvalidJobLimit = errors.New("config: MAX_CONCURRENT_JOBS must be positive")
	// ErrInvalidJobTTL is returned when JOB_RESULT_TTL is not positive.
	ErrInvalidJobTTL = errors.New("config: JOB_RESULT_TTL must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=3000" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	MetricsEnabled bool     `env:"METRICS_ENABLED, default=true" json:"metrics_enabled"`

	// Cloudmersive settings
	CloudmersiveAPIKey  string `env:"CLOUDMERSIVE_API_KEY, required" json:"-"` // Masked in JSON
	CloudmersiveBaseURL string `env:"CLOUDMERSIVE_BASE_URL, default=https://api.cloudmersive.com" json:"cloudmersive_base_url"`

	// Vendor call settings
	VendorTimeout      time.Duration `env:"VENDOR_TIMEOUT, default=120s" json:"vendor_timeout"`
	VendorMaxRetries   int           `env:"VENDOR_MAX_RETRIES, default=3" json:"vendor_max_retries"`
	VendorRetryBackoff time.Duration `env:"VENDOR_RETRY_BACKOFF, default=1s" json:"vendor_retry_backoff"`
	VendorRateLimit    float64       `env:"VENDOR_RATE_LIMIT, default=0" json:"vendor_rate_limit"` // requests per second, 0 disables
	VendorRateBurst    int           `env:"VENDOR_RATE_BURST, default=1" json:"vendor_rate_burst"`

	// Upload settings
	UploadDir         string `env:"UPLOAD_DIR, default=uploads" json:"upload_dir"`
	MaxUploadBytes    int64  `env:"MAX_UPLOAD_BYTES, default=52428800" json:"max_upload_bytes"`
	StrictFormatCheck bool   `env:"STRICT_FORMAT_CHECK, default=false" json:"strict_format_check"`

	// Result cache settings
	CacheEnabled       bool          `env:"CACHE_ENABLED, default=true" json:"cache_enabled"`
	CacheTTL           time.Duration `env:"CACHE_TTL, default=1h" json:"cache_ttl"`
	CacheMaxEntryBytes int           `env:"CACHE_MAX_ENTRY_BYTES, default=10485760" json:"cache_max_entry_bytes"`
	RedisURL           string        `env:"REDIS_URL" json:"-"` // May embed a password

	// Async job settings
	MaxConcurrentJobs int           `env:"MAX_CONCURRENT_JOBS, default=2" json:"max_concurrent_jobs"`
	JobResultTTL      time.Duration `env:"JOB_RESULT_TTL, default=1h" json:"job_result_ttl"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL, default=5m" json:"sweep_interval"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX, default=converted/" json:"s3_prefix"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// RedisEnabled returns true if a Redis URL is configured.
func (c *Config) RedisEnabled() bool {
	return c.RedisURL != ""
}

// Load reads configuration from environment variables using go-envconfig.
// It returns an error if required variables are not set.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		if strings.Contains(err.Error(), "CLOUDMERSIVE_API_KEY") {
			return nil, ErrAPIKeyRequired
		}
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present and limits are sane.
func (c *Config) Validate() error {
	if c.CloudmersiveAPIKey == "" {
		return ErrAPIKeyRequired
	}
	if c.MaxUploadBytes <= 0 {
		return ErrInvalidUploadLimit
	}
	if c.MaxConcurrentJobs <= 0 {
		return ErrInvalidJobLimit
	}
	// The janitor sweeps temp files older than this, so zero would race live uploads.
	if c.JobResultTTL <= 0 {
		return ErrInvalidJobTTL
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, CloudmersiveBaseURL: %s, UploadDir: %s, MaxUploadBytes: %d, VendorTimeout: %s, VendorMaxRetries: %d, CacheEnabled: %t, Redis: %t, S3Bucket: %s, S3Region: %s, MaxConcurrentJobs: %d, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.CloudmersiveBaseURL,
		c.UploadDir,
		c.MaxUploadBytes,
		c.VendorTimeout,
		c.VendorMaxRetries,
		c.CacheEnabled,
		c.RedisEnabled(),
		c.S3Bucket,
		c.S3Region,
		c.MaxConcurrentJobs,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
