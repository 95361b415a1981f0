// Package bootstrap provides dependency initialization for the conversion relay.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/maauso/convert-relay/internal/cache"
	"github.com/maauso/convert-relay/internal/cloudmersive"
	"github.com/maauso/convert-relay/internal/config"
	"github.com/maauso/convert-relay/internal/conversion"
	"github.com/maauso/convert-relay/internal/janitor"
	"github.com/maauso/convert-relay/internal/job"
	"github.com/maauso/convert-relay/internal/metrics"
	"github.com/maauso/convert-relay/internal/storage"
)

// cacheCleanupInterval is how often the in-memory cache drops expired entries.
const cacheCleanupInterval = time.Minute

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Storage     storage.Storage
	Metrics     *metrics.Metrics
	Conversions *conversion.Service
	Jobs        *job.Service
	Janitor     *janitor.Janitor

	closers []io.Closer
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.Storage = store

	if cfg.MetricsEnabled {
		deps.Metrics = metrics.New()
	}

	client, err := cloudmersive.NewClient(
		cloudmersive.WithAPIKey(cfg.CloudmersiveAPIKey),
		cloudmersive.WithBaseURL(cfg.CloudmersiveBaseURL),
		cloudmersive.WithTimeout(cfg.VendorTimeout),
		cloudmersive.WithMaxRetries(cfg.VendorMaxRetries),
		cloudmersive.WithBaseBackoff(cfg.VendorRetryBackoff),
		cloudmersive.WithRateLimit(cfg.VendorRateLimit, cfg.VendorRateBurst),
		cloudmersive.WithLogger(logger),
	)
	if err != nil {
		return nil, fmt.Errorf("create Cloudmersive client: %w", err)
	}

	opts := []conversion.Option{
		conversion.WithStrictFormatCheck(cfg.StrictFormatCheck),
		conversion.WithMetrics(deps.Metrics),
		conversion.WithS3Prefix(cfg.S3Prefix),
		conversion.WithLogger(logger),
	}

	resultCache, err := initCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if resultCache != nil {
		opts = append(opts, conversion.WithCache(resultCache, cfg.CacheTTL, cfg.CacheMaxEntryBytes))
		if c, ok := resultCache.(io.Closer); ok {
			deps.closers = append(deps.closers, c)
		}
	}

	deps.Conversions = conversion.NewService(client, store, opts...)

	deps.Jobs = job.NewService(
		job.NewMemoryRepository(),
		deps.Conversions,
		store,
		job.WithMaxConcurrent(cfg.MaxConcurrentJobs),
		job.WithLogger(logger),
	)

	deps.Janitor = janitor.New(store, deps.Jobs, cfg.SweepInterval, cfg.JobResultTTL, logger, deps.Jobs, deps.Conversions)

	return deps, nil
}

// Close releases cache connections and background loops.
func (d *Dependencies) Close() error {
	var errs []error
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(ctx, cfg.UploadDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
			slog.String("upload_dir", cfg.UploadDir),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.UploadDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("upload_dir", localStore.TempDir()),
	)
	return localStore, nil
}

// initCache picks Redis when REDIS_URL is set, the in-memory cache otherwise,
// and nothing when caching is disabled.
func initCache(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, error) {
	if !cfg.CacheEnabled {
		logger.Info("result cache disabled")
		return nil, nil
	}

	if cfg.RedisEnabled() {
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("create Redis cache: %w", err)
		}
		logger.Info("Redis result cache configured", slog.Duration("ttl", cfg.CacheTTL))
		return cache.NewRedisCache(client), nil
	}

	logger.Info("in-memory result cache configured", slog.Duration("ttl", cfg.CacheTTL))
	return cache.NewMemoryCache(cacheCleanupInterval), nil
}
