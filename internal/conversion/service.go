// Package conversion implements the relay core: stage the upload, check it,
// hand it to the conversion vendor and return the converted bytes.
package conversion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/convert-relay/internal/cache"
	"github.com/maauso/convert-relay/internal/cloudmersive"
	"github.com/maauso/convert-relay/internal/format"
	"github.com/maauso/convert-relay/internal/metrics"
	"github.com/maauso/convert-relay/internal/storage"
)

// ContentType is the media type of every converted result.
const ContentType = "application/octet-stream"

var (
	// ErrEmptyUpload is returned when the uploaded file has no content.
	ErrEmptyUpload = errors.New("conversion: uploaded file is empty")
	// ErrFormatMismatch is returned when strict checking is enabled and the
	// uploaded content contradicts the declared input format.
	ErrFormatMismatch = errors.New("conversion: content does not match input format")
)

// Request describes a single conversion.
type Request struct {
	// InputFormat is the declared format of the upload, e.g. "docx".
	InputFormat string
	// OutputFormat is the requested target format, e.g. "pdf".
	OutputFormat string
	// Filename is the original client-side filename, used as a temp name hint.
	Filename string
	// Body is the uploaded content.
	Body io.Reader
	// PushToS3 archives the result to S3 when storage supports it.
	PushToS3 bool
}

// Result is a converted file.
type Result struct {
	Data         []byte
	Filename     string
	ContentType  string
	DetectedType string
	CacheHit     bool
	URL          string
}

// Service runs conversions against a vendor client.
type Service struct {
	converter cloudmersive.Client
	storage   storage.Storage
	logger    *slog.Logger
	metrics   *metrics.Metrics

	cache         cache.Cache
	cacheTTL      time.Duration
	maxCacheEntry int

	strict   bool
	s3Prefix string
	now      func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// Option configures a Service.
type Option func(*Service)

// WithCache enables result caching. Results larger than maxEntry bytes are not
// cached; maxEntry <= 0 means no limit.
func WithCache(c cache.Cache, ttl time.Duration, maxEntry int) Option {
	return func(s *Service) {
		s.cache = c
		s.cacheTTL = ttl
		s.maxCacheEntry = maxEntry
	}
}

// WithStrictFormatCheck rejects uploads whose sniffed type contradicts the
// declared input format.
func WithStrictFormatCheck(strict bool) Option {
	return func(s *Service) {
		s.strict = strict
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithS3Prefix sets the key prefix for archived results.
func WithS3Prefix(prefix string) Option {
	return func(s *Service) {
		s.s3Prefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewService creates a conversion service.
func NewService(converter cloudmersive.Client, store storage.Storage, opts ...Option) *Service {
	s := &Service{
		converter: converter,
		storage:   store,
		logger:    slog.Default(),
		now:       time.Now,
		active:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Convert stages req.Body as a temp file, converts it and removes the temp
// file again, whether or not the conversion succeeded.
func (s *Service) Convert(ctx context.Context, req Request) (*Result, error) {
	in, err := format.Normalize(req.InputFormat)
	if err != nil {
		return nil, err
	}
	out, err := format.Normalize(req.OutputFormat)
	if err != nil {
		return nil, err
	}
	if req.Body == nil {
		return nil, ErrEmptyUpload
	}

	path, err := s.storage.SaveTemp(ctx, TempName(req.Filename, in), req.Body)
	if err != nil {
		return nil, fmt.Errorf("save upload: %w", err)
	}
	s.track(path)
	defer s.cleanup(ctx, path)

	return s.ConvertFile(ctx, path, in, out, req.PushToS3)
}

// ConvertFile converts a previously staged file. The file is left in place.
func (s *Service) ConvertFile(ctx context.Context, path, inputFormat, outputFormat string, push bool) (*Result, error) {
	in, err := format.Normalize(inputFormat)
	if err != nil {
		return nil, err
	}
	out, err := format.Normalize(outputFormat)
	if err != nil {
		return nil, err
	}

	data, err := s.readTemp(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrEmptyUpload
	}
	s.metrics.ObserveUpload(len(data))

	detected := format.Detect(data)
	if s.strict && !detected.Matches(in) {
		return nil, fmt.Errorf("%w: declared %s, detected %s", ErrFormatMismatch, in, detected.MIME)
	}

	result := &Result{
		Filename:     "converted." + out,
		ContentType:  ContentType,
		DetectedType: detected.MIME,
	}

	key := cache.Key(in, out, data)
	if cached := s.lookup(ctx, key); cached != nil {
		result.Data = cached
		result.CacheHit = true
	} else {
		start := time.Now()
		converted, err := s.converter.Convert(ctx, in, out, data)
		s.metrics.ObserveConversion(in, out, time.Since(start), err)
		if err != nil {
			s.logger.Error("conversion failed",
				slog.String("input_format", in),
				slog.String("output_format", out),
				slog.Int("size", len(data)),
				slog.String("error", err.Error()),
			)
			return nil, fmt.Errorf("convert %s to %s: %w", in, out, err)
		}
		result.Data = converted
		s.store(ctx, key, converted)
	}

	if push {
		url, err := s.archive(ctx, out, result.Data)
		if err != nil {
			return nil, fmt.Errorf("upload result: %w", err)
		}
		result.URL = url
	}

	s.logger.Info("conversion completed",
		slog.String("input_format", in),
		slog.String("output_format", out),
		slog.Int("input_size", len(data)),
		slog.Int("output_size", len(result.Data)),
		slog.Bool("cache_hit", result.CacheHit),
	)

	return result, nil
}

func (s *Service) readTemp(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.storage.LoadTemp(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("load upload: %w", err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	return data, nil
}

func (s *Service) lookup(ctx context.Context, key string) []byte {
	if s.cache == nil {
		return nil
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("cache lookup failed", slog.String("error", err.Error()))
		data = nil
	}
	s.metrics.ObserveCacheLookup(data != nil)
	return data
}

func (s *Service) store(ctx context.Context, key string, data []byte) {
	if s.cache == nil {
		return
	}
	if s.maxCacheEntry > 0 && len(data) > s.maxCacheEntry {
		return
	}
	if err := s.cache.Set(ctx, key, data, s.cacheTTL); err != nil {
		s.logger.Warn("cache store failed", slog.String("error", err.Error()))
	}
}

func (s *Service) archive(ctx context.Context, out string, data []byte) (string, error) {
	key := fmt.Sprintf("%s%s/%s.%s", s.s3Prefix, s.now().UTC().Format("2006/01/02"), uuid.NewString(), out)
	url, err := s.storage.UploadToS3(ctx, key, archiveContentType(out), bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	s.logger.Info("result uploaded to S3", slog.String("key", key), slog.String("url", url))
	return url, nil
}

// ActiveFiles returns the staged uploads of conversions still in progress.
func (s *Service) ActiveFiles(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.active))
	for p := range s.active {
		paths = append(paths, p)
	}
	return paths, nil
}

func (s *Service) track(path string) {
	s.mu.Lock()
	s.active[path] = struct{}{}
	s.mu.Unlock()
}

// cleanup runs on a context that survives request cancellation so an aborted
// request never leaves its upload behind.
func (s *Service) cleanup(ctx context.Context, path string) {
	s.mu.Lock()
	delete(s.active, path)
	s.mu.Unlock()

	if err := s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{path}); err != nil {
		s.logger.Warn("failed to remove upload", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// archiveContentType maps an output format to the media type stored with the
// archived object.
func archiveContentType(out string) string {
	if t := mime.TypeByExtension("." + out); t != "" {
		return t
	}
	return storage.DefaultContentType
}

// TempName returns the temp file name hint for an upload. The declared input
// format is used when the client sent no filename.
func TempName(filename, inputFormat string) string {
	if filename == "" {
		return "upload." + inputFormat
	}
	return filename
}
