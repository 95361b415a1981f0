package config

import (
	"bytes"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var managedEnv = []string{
	"PORT", "ALLOWED_ORIGINS", "METRICS_ENABLED",
	"CLOUDMERSIVE_API_KEY", "CLOUDMERSIVE_BASE_URL",
	"VENDOR_TIMEOUT", "VENDOR_MAX_RETRIES", "VENDOR_RETRY_BACKOFF", "VENDOR_RATE_LIMIT", "VENDOR_RATE_BURST",
	"UPLOAD_DIR", "MAX_UPLOAD_BYTES", "STRICT_FORMAT_CHECK",
	"CACHE_ENABLED", "CACHE_TTL", "CACHE_MAX_ENTRY_BYTES", "REDIS_URL",
	"MAX_CONCURRENT_JOBS", "JOB_RESULT_TTL", "SWEEP_INTERVAL",
	"S3_BUCKET", "S3_REGION", "S3_ENDPOINT", "S3_PREFIX", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY",
	"LOG_FORMAT", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range managedEnv {
		if v, ok := os.LookupEnv(k); ok {
			t.Cleanup(func() { _ = os.Setenv(k, v) })
		}
		_ = os.Unsetenv(k)
	}
}

func TestLoad_RequiredVariables(t *testing.T) {
	t.Run("missing CLOUDMERSIVE_API_KEY returns error", func(t *testing.T) {
		clearEnv(t)

		_, err := Load()
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAPIKeyRequired)
	})

	t.Run("API key present succeeds", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CLOUDMERSIVE_API_KEY", "test-api-key")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, "test-api-key", cfg.CloudmersiveAPIKey)
	})
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLOUDMERSIVE_API_KEY", "test-api-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, "https://api.cloudmersive.com", cfg.CloudmersiveBaseURL)
	assert.Equal(t, 120*time.Second, cfg.VendorTimeout)
	assert.Equal(t, 3, cfg.VendorMaxRetries)
	assert.Equal(t, time.Second, cfg.VendorRetryBackoff)
	assert.Zero(t, cfg.VendorRateLimit)
	assert.Equal(t, 1, cfg.VendorRateBurst)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes)
	assert.False(t, cfg.StrictFormatCheck)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, time.Hour, cfg.CacheTTL)
	assert.Equal(t, 10<<20, cfg.CacheMaxEntryBytes)
	assert.Equal(t, 2, cfg.MaxConcurrentJobs)
	assert.Equal(t, time.Hour, cfg.JobResultTTL)
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval)
	assert.Equal(t, "converted/", cfg.S3Prefix)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.S3Enabled())
	assert.False(t, cfg.RedisEnabled())
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLOUDMERSIVE_API_KEY", "custom-api-key")
	t.Setenv("PORT", "8080")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("VENDOR_TIMEOUT", "30s")
	t.Setenv("VENDOR_RATE_LIMIT", "2.5")
	t.Setenv("UPLOAD_DIR", "/custom/uploads")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("STRICT_FORMAT_CHECK", "true")
	t.Setenv("CACHE_TTL", "10m")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_REGION", "us-east-1")
	t.Setenv("AWS_ACCESS_KEY_ID", "access-key")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "secret-key")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 30*time.Second, cfg.VendorTimeout)
	assert.InDelta(t, 2.5, cfg.VendorRateLimit, 0.0001)
	assert.Equal(t, "/custom/uploads", cfg.UploadDir)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.True(t, cfg.StrictFormatCheck)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.True(t, cfg.RedisEnabled())
	assert.True(t, cfg.S3Enabled())
	assert.Equal(t, "access-key", cfg.AWSAccessKeyID)
	assert.Equal(t, "secret-key", cfg.AWSSecretAccessKey)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Run("unparseable integer", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CLOUDMERSIVE_API_KEY", "test-api-key")
		t.Setenv("PORT", "not-a-number")

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("unparseable duration", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CLOUDMERSIVE_API_KEY", "test-api-key")
		t.Setenv("CACHE_TTL", "forever")

		_, err := Load()
		require.Error(t, err)
	})

	t.Run("non-positive upload limit", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CLOUDMERSIVE_API_KEY", "test-api-key")
		t.Setenv("MAX_UPLOAD_BYTES", "0")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidUploadLimit)
	})

	t.Run("zero job result TTL", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("CLOUDMERSIVE_API_KEY", "test-api-key")
		t.Setenv("JOB_RESULT_TTL", "0s")

		_, err := Load()
		assert.ErrorIs(t, err, ErrInvalidJobTTL)
	})
}

func TestConfig_S3Enabled(t *testing.T) {
	tests := []struct {
		name     string
		bucket   string
		region   string
		expected bool
	}{
		{"both set", "bucket", "region", true},
		{"only bucket", "bucket", "", false},
		{"only region", "", "region", false},
		{"neither set", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				S3Bucket: tt.bucket,
				S3Region: tt.region,
			}
			assert.Equal(t, tt.expected, cfg.S3Enabled())
		})
	}
}

func TestConfig_String(t *testing.T) {
	cfg := &Config{
		Port:               3000,
		CloudmersiveAPIKey: "secret-key",
		UploadDir:          "/tmp/uploads",
		RedisURL:           "redis://:hunter2@localhost:6379",
		AWSSecretAccessKey: "aws-secret",
		S3Bucket:           "bucket",
		LogFormat:          "json",
		LogLevel:           "info",
	}

	str := cfg.String()

	assert.Contains(t, str, "3000")
	assert.Contains(t, str, "/tmp/uploads")
	assert.Contains(t, str, "bucket")

	assert.NotContains(t, str, "secret-key")
	assert.NotContains(t, str, "hunter2")
	assert.NotContains(t, str, "aws-secret")
}

func TestConfig_NewLogger_JSON(t *testing.T) {
	cfg := &Config{
		LogFormat: "json",
		LogLevel:  "info",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.IsType(t, &slog.JSONHandler{}, logger.Handler())

	var buf bytes.Buffer
	testLogger := slog.New(slog.NewJSONHandler(&buf, nil))
	testLogger.Info("test message")
	assert.Contains(t, buf.String(), `"msg"`)
}

func TestConfig_NewLogger_Text(t *testing.T) {
	cfg := &Config{
		LogFormat: "text",
		LogLevel:  "debug",
	}

	logger := cfg.NewLogger()
	require.NotNil(t, logger)
	assert.IsType(t, &slog.TextHandler{}, logger.Handler())
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{CloudmersiveAPIKey: "key", MaxUploadBytes: 1, MaxConcurrentJobs: 1, JobResultTTL: time.Hour}
	}

	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("missing API key", func(t *testing.T) {
		cfg := valid()
		cfg.CloudmersiveAPIKey = ""
		assert.ErrorIs(t, cfg.Validate(), ErrAPIKeyRequired)
	})

	t.Run("non-positive job limit", func(t *testing.T) {
		cfg := valid()
		cfg.MaxConcurrentJobs = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidJobLimit)
	})

	t.Run("non-positive job result TTL", func(t *testing.T) {
		cfg := valid()
		cfg.JobResultTTL = 0
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidJobTTL)

		cfg.JobResultTTL = -time.Minute
		assert.ErrorIs(t, cfg.Validate(), ErrInvalidJobTTL)
	})
}
