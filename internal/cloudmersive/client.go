// Package cloudmersive provides an HTTP client for the Cloudmersive
// document conversion API.
package cloudmersive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// Static errors for Cloudmersive client operations.
var (
	// ErrAPIKeyRequired is returned when no API key is configured.
	ErrAPIKeyRequired = errors.New("cloudmersive: API key is required")
	// ErrFormatRequired is returned when the input or output format is empty.
	ErrFormatRequired = errors.New("cloudmersive: input and output formats are required")
	// ErrServerError is returned when the server returns a 5xx status code.
	ErrServerError = errors.New("cloudmersive: server error")
	// ErrRateLimited is returned when the server returns a 429 status code.
	ErrRateLimited = errors.New("cloudmersive: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("cloudmersive: request failed")
	// ErrEmptyResult is returned when a successful response carries no bytes.
	ErrEmptyResult = errors.New("cloudmersive: empty conversion result")
)

const (
	defaultBaseURL = "https://api.cloudmersive.com"
	maxErrorBody   = 512
)

// Client defines the interface for converting documents through Cloudmersive.
type Client interface {
	// Convert sends data in inputFormat and returns it converted to outputFormat.
	Convert(ctx context.Context, inputFormat, outputFormat string, data []byte) ([]byte, error)
}

// HTTPClient is the resty-based implementation of Client.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	timeout     time.Duration
	maxRetries  int
	baseBackoff time.Duration
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *slog.Logger

	rc *resty.Client
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithAPIKey sets the API key sent in the Apikey header.
func WithAPIKey(key string) ClientOption {
	return func(hc *HTTPClient) {
		hc.apiKey = key
	}
}

// WithBaseURL sets a custom base URL for the Cloudmersive API.
func WithBaseURL(url string) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseURL = url
	}
}

// WithTimeout sets the overall timeout of a single attempt.
func WithTimeout(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// WithRateLimit throttles outbound attempts to rps requests per second.
// A non-positive rps disables throttling.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(hc *HTTPClient) {
		if rps <= 0 {
			hc.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		hc.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for retry and transport diagnostics.
func WithLogger(l *slog.Logger) ClientOption {
	return func(hc *HTTPClient) {
		hc.logger = l
	}
}

// NewClient creates a new Cloudmersive HTTP client.
// The API key can be set via WithAPIKey. If not provided, it is read from
// the CLOUDMERSIVE_API_KEY environment variable.
func NewClient(opts ...ClientOption) (*HTTPClient, error) {
	c := &HTTPClient{
		baseURL:     defaultBaseURL,
		timeout:     120 * time.Second,
		maxRetries:  3,
		baseBackoff: 1 * time.Second,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		c.apiKey = os.Getenv("CLOUDMERSIVE_API_KEY")
	}
	if c.apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	var rc *resty.Client
	if c.httpClient != nil {
		rc = resty.NewWithClient(c.httpClient)
	} else {
		rc = resty.New()
	}

	maxWait := c.baseBackoff
	for i := 0; i < c.maxRetries; i++ {
		maxWait *= 2
	}

	rc.SetBaseURL(strings.TrimRight(c.baseURL, "/")).
		SetTimeout(c.timeout).
		SetLogger(&restyLogger{logger: c.logger}).
		SetRetryCount(c.maxRetries).
		SetRetryWaitTime(c.baseBackoff).
		SetRetryMaxWaitTime(maxWait).
		AddRetryCondition(shouldRetry).
		AddRetryHook(func(resp *resty.Response, err error) {
			var attrs []any
			if resp != nil && resp.Request != nil {
				attrs = append(attrs, slog.Int("attempt", resp.Request.Attempt))
			}
			if err != nil {
				attrs = append(attrs, slog.String("error", err.Error()))
			} else if resp != nil {
				attrs = append(attrs, slog.Int("status", resp.StatusCode()))
			}
			c.logger.Warn("retrying cloudmersive request", attrs...)
		})

	if c.limiter != nil {
		limiter := c.limiter
		rc.OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if err := limiter.Wait(r.Context()); err != nil {
				return fmt.Errorf("cloudmersive: rate limiter: %w", err)
			}
			return nil
		})
	}

	c.rc = rc
	return c, nil
}

// Convert posts data to /convert/{inputFormat}/to/{outputFormat} and returns
// the converted bytes.
func (c *HTTPClient) Convert(ctx context.Context, inputFormat, outputFormat string, data []byte) ([]byte, error) {
	if inputFormat == "" || outputFormat == "" {
		return nil, ErrFormatRequired
	}

	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Apikey", c.apiKey).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader("Accept", "application/octet-stream").
		SetPathParams(map[string]string{
			"in":  inputFormat,
			"out": outputFormat,
		}).
		SetBody(data).
		Post("/convert/{in}/to/{out}")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("cloudmersive: context done: %w", ctxErr)
		}
		return nil, fmt.Errorf("cloudmersive: request failed: %w", err)
	}

	if err := statusError(resp.StatusCode(), resp.Body()); err != nil {
		return nil, err
	}

	body := resp.Body()
	if len(body) == 0 {
		return nil, ErrEmptyResult
	}
	return body, nil
}

// statusError maps a non-2xx response to a sentinel error.
func statusError(status int, body []byte) error {
	if status >= 200 && status < 300 {
		return nil
	}
	msg := truncate(body)
	switch {
	case status >= 500:
		return fmt.Errorf("%w %d: %s", ErrServerError, status, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", ErrRateLimited, msg)
	default:
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, status, msg)
	}
}

// shouldRetry retries transport errors, 5xx and 429. Cancellation is final.
func shouldRetry(resp *resty.Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	if resp == nil {
		return false
	}
	code := resp.StatusCode()
	return code >= 500 || code == http.StatusTooManyRequests
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

// restyLogger routes resty's internal messages to slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l *restyLogger) Errorf(format string, v ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "resty"))
}

func (l *restyLogger) Warnf(format string, v ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "resty"))
}

func (l *restyLogger) Debugf(format string, v ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)), slog.String("component", "resty"))
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
