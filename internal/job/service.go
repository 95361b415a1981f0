package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/maauso/convert-relay/internal/conversion"
	"github.com/maauso/convert-relay/internal/format"
	"github.com/maauso/convert-relay/internal/storage"
)

// ErrResultNotReady is returned when a job's result is requested before the
// job has completed.
var ErrResultNotReady = errors.New("job: result not ready")

// Converter converts a staged file.
type Converter interface {
	ConvertFile(ctx context.Context, path, inputFormat, outputFormat string, push bool) (*conversion.Result, error)
}

// Service queues conversions and runs them in the background with a bounded
// number of concurrent vendor calls.
type Service struct {
	repo      Repository
	converter Converter
	storage   storage.Storage
	logger    *slog.Logger
	sem       *semaphore.Weighted

	// mu serializes read-modify-write cycles on stored jobs.
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMaxConcurrent limits how many jobs convert at the same time.
func WithMaxConcurrent(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a job service. Concurrency defaults to 1.
func NewService(repo Repository, converter Converter, store storage.Storage, opts ...ServiceOption) *Service {
	s := &Service{
		repo:      repo,
		converter: converter,
		storage:   store,
		logger:    slog.Default(),
		sem:       semaphore.NewWeighted(1),
		cancels:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit stages the upload, persists a queued job and starts converting it in
// the background. The conversion outlives ctx but keeps its values.
func (s *Service) Submit(ctx context.Context, req conversion.Request) (*Job, error) {
	in, err := format.Normalize(req.InputFormat)
	if err != nil {
		return nil, err
	}
	out, err := format.Normalize(req.OutputFormat)
	if err != nil {
		return nil, err
	}
	if req.Body == nil {
		return nil, conversion.ErrEmptyUpload
	}

	path, err := s.storage.SaveTemp(ctx, conversion.TempName(req.Filename, in), req.Body)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}

	j := New()
	j.InputFormat = in
	j.OutputFormat = out
	j.SourceFilename = req.Filename
	j.InputPath = path
	j.PushToS3 = req.PushToS3

	if err := s.repo.Save(ctx, j); err != nil {
		s.removeFiles(ctx, path)
		return nil, fmt.Errorf("save job: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.mu.Lock()
	s.cancels[j.ID] = cancel
	s.mu.Unlock()

	s.logger.Info("job submitted",
		slog.String("job_id", j.ID),
		slog.String("input_format", in),
		slog.String("output_format", out),
		slog.Bool("push_to_s3", req.PushToS3),
	)

	s.wg.Add(1)
	go s.run(runCtx, j.ID)

	return j.Clone(), nil
}

func (s *Service) run(ctx context.Context, jobID string) {
	defer s.wg.Done()
	defer s.forget(jobID)

	// Bookkeeping must finish even after the job context is cancelled.
	bg := context.WithoutCancel(ctx)
	logger := s.logger.With(slog.String("job_id", jobID))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		logger.Info("job cancelled while queued")
		return
	}
	defer s.sem.Release(1)

	j, err := s.update(bg, jobID, (*Job).Start)
	if err != nil {
		logger.Info("job not started", slog.String("reason", err.Error()))
		return
	}

	res, convErr := s.converter.ConvertFile(ctx, j.InputPath, j.InputFormat, j.OutputFormat, j.PushToS3)
	s.removeFiles(bg, j.InputPath)

	if convErr != nil {
		if _, err := s.update(bg, jobID, func(j *Job) error { return j.Fail(convErr.Error()) }); err != nil {
			logger.Info("dropping failure of finished job", slog.String("reason", err.Error()))
			return
		}
		logger.Error("job failed", slog.String("error", convErr.Error()))
		return
	}

	resultPath, err := s.storage.SaveTemp(bg, res.Filename, bytes.NewReader(res.Data))
	if err != nil {
		logger.Error("failed to store result", slog.String("error", err.Error()))
		_, _ = s.update(bg, jobID, func(j *Job) error { return j.Fail("store result: " + err.Error()) })
		return
	}

	_, err = s.update(bg, jobID, func(j *Job) error {
		if err := j.Complete(); err != nil {
			return err
		}
		j.SetResult(resultPath, res.Filename, res.URL, int64(len(res.Data)), res.DetectedType, res.CacheHit)
		return nil
	})
	if err != nil {
		logger.Info("discarding result of finished job", slog.String("reason", err.Error()))
		s.removeFiles(bg, resultPath)
		return
	}

	logger.Info("job completed", slog.Int("size", len(res.Data)), slog.Bool("cache_hit", res.CacheHit))
}

// update loads a job, applies fn and saves it under the service lock.
func (s *Service) update(ctx context.Context, jobID string, fn func(*Job) error) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := fn(j); err != nil {
		return nil, err
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, err
	}
	return j, nil
}

func (s *Service) forget(jobID string) {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	delete(s.cancels, jobID)
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Get returns a job by ID.
func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.FindByID(ctx, jobID)
}

// OpenResult returns the job and a reader over its converted output.
// The caller must close the reader.
func (s *Service) OpenResult(ctx context.Context, jobID string) (*Job, io.ReadCloser, error) {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if j.Status != StatusCompleted {
		return j, nil, ErrResultNotReady
	}
	rc, err := s.storage.LoadTemp(ctx, j.ResultPath)
	if err != nil {
		return j, nil, fmt.Errorf("open result: %w", err)
	}
	return j, rc, nil
}

// Cancel stops a queued or running job and marks it CANCELLED.
// Returns ErrInvalidTransition if the job already finished.
func (s *Service) Cancel(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked(ctx, jobID)
}

func (s *Service) cancelLocked(ctx context.Context, jobID string) (*Job, error) {
	j, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := j.Cancel(); err != nil {
		return j, err
	}
	if cancel, ok := s.cancels[jobID]; ok {
		cancel()
	}
	if err := s.repo.Save(ctx, j); err != nil {
		return nil, err
	}
	s.logger.Info("job cancelled", slog.String("job_id", jobID))
	return j, nil
}

// Delete cancels the job if it is still active and removes it together with
// its files.
func (s *Service) Delete(ctx context.Context, jobID string) error {
	s.mu.Lock()
	j, err := s.cancelLocked(ctx, jobID)
	if err != nil && !errors.Is(err, ErrInvalidTransition) {
		s.mu.Unlock()
		return err
	}
	err = s.repo.Delete(ctx, jobID)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.removeFiles(ctx, j.Files()...)
	s.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

// Expire removes finished jobs that completed before olderThan, along with
// their files, and returns how many were removed.
func (s *Service) Expire(ctx context.Context, olderThan time.Time) (int, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, j := range jobs {
		if !j.IsTerminal() || !j.CompletedAt.Before(olderThan) {
			continue
		}
		if err := s.repo.Delete(ctx, j.ID); err != nil {
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			return removed, err
		}
		s.removeFiles(ctx, j.Files()...)
		removed++
	}
	if removed > 0 {
		s.logger.Info("expired jobs", slog.Int("count", removed))
	}
	return removed, nil
}

// ActiveFiles returns the temp files referenced by stored jobs: queued and
// running inputs as well as results that have not expired yet.
func (s *Service) ActiveFiles(ctx context.Context) ([]string, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, j := range jobs {
		paths = append(paths, j.Files()...)
	}
	return paths, nil
}

// Shutdown cancels every active job and waits for the background workers to
// return, or for ctx to end.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.cancels))
	for jobID := range s.cancels {
		ids = append(ids, jobID)
	}
	for _, jobID := range ids {
		_, _ = s.cancelLocked(ctx, jobID)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) removeFiles(ctx context.Context, paths ...string) {
	if len(paths) == 0 {
		return
	}
	if err := s.storage.CleanupTemp(context.WithoutCancel(ctx), paths); err != nil {
		s.logger.Warn("failed to remove job files", slog.String("error", err.Error()))
	}
}
