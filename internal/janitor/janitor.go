// Package janitor periodically removes orphaned temp files and expired jobs.
package janitor

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper removes temp files last modified before a cutoff, except those in keep.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Time, keep []string) (int, error)
}

// Expirer removes finished jobs completed before a cutoff.
type Expirer interface {
	Expire(ctx context.Context, olderThan time.Time) (int, error)
}

// FileTracker reports temp files that are still in use.
type FileTracker interface {
	ActiveFiles(ctx context.Context) ([]string, error)
}

// Janitor runs Expire and Sweep on a fixed interval.
type Janitor struct {
	sweeper  Sweeper
	expirer  Expirer
	trackers []FileTracker
	interval time.Duration
	maxAge   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a janitor. Files and jobs older than maxAge are removed every
// interval; files reported by any tracker are never swept. expirer may be nil.
func New(sweeper Sweeper, expirer Expirer, interval, maxAge time.Duration, logger *slog.Logger, trackers ...FileTracker) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Janitor{
		sweeper:  sweeper,
		expirer:  expirer,
		trackers: trackers,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
		now:      time.Now,
	}
}

// Run blocks until ctx is cancelled, cleaning up once per interval.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.logger.Info("janitor started",
		slog.Duration("interval", j.interval),
		slog.Duration("max_age", j.maxAge),
	)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("janitor stopped")
			return nil
		case <-ticker.C:
			j.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single cleanup pass. Jobs are expired first so their
// files are removed with them before the orphan sweep. The sweep is skipped
// when the set of files in use cannot be determined.
func (j *Janitor) RunOnce(ctx context.Context) {
	cutoff := j.now().Add(-j.maxAge)

	if j.expirer != nil {
		n, err := j.expirer.Expire(ctx, cutoff)
		if err != nil {
			j.logger.Warn("job expiry failed", slog.String("error", err.Error()))
		} else if n > 0 {
			j.logger.Debug("jobs expired", slog.Int("count", n))
		}
	}

	if j.sweeper == nil {
		return
	}

	var keep []string
	for _, t := range j.trackers {
		files, err := t.ActiveFiles(ctx)
		if err != nil {
			j.logger.Warn("skipping temp sweep", slog.String("error", err.Error()))
			return
		}
		keep = append(keep, files...)
	}

	n, err := j.sweeper.Sweep(ctx, cutoff, keep)
	if err != nil {
		j.logger.Warn("temp sweep failed", slog.String("error", err.Error()))
	} else if n > 0 {
		j.logger.Info("removed orphaned temp files", slog.Int("count", n))
	}
}
