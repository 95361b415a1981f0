// Package relayclient is an HTTP client for the conversion relay API.
package relayclient

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

var (
	// ErrJobFailed is returned by WaitForJob when the job ends without a result.
	ErrJobFailed = errors.New("relayclient: job did not complete")
	// ErrInvalidInterval is returned by WaitForJob for a non-positive poll interval.
	ErrInvalidInterval = errors.New("relayclient: poll interval must be positive")
)

// APIError is a non-2xx response from the relay.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("relay returned %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("relay returned %d %s: %s", e.Status, e.Code, e.Message)
}

// Config holds client settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client talks to a relay server.
type Client struct {
	rc *resty.Client
}

// Result is a downloaded converted file.
type Result struct {
	Data         []byte
	Filename     string
	CacheHit     bool
	DetectedType string
	URL          string
}

// Health is the relay's /health payload.
type Health struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
}

// Job is the relay's view of an asynchronous conversion.
type Job struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	InputFormat    string `json:"inputFormat"`
	OutputFormat   string `json:"outputFormat"`
	Error          string `json:"error,omitempty"`
	ResultFilename string `json:"resultFilename,omitempty"`
	ResultSize     int64  `json:"resultSize,omitempty"`
	ResultURL      string `json:"resultUrl,omitempty"`
}

// Terminal reports whether the job reached a final status.
func (j *Job) Terminal() bool {
	switch j.Status {
	case "COMPLETED", "FAILED", "CANCELLED":
		return true
	}
	return false
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// New creates a client. BaseURL defaults to http://localhost:3000.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:3000"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}

	rc := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetError(&errorBody{})

	return &Client{rc: rc}
}

// Convert uploads the file at path and returns the converted bytes.
func (c *Client) Convert(ctx context.Context, path, inputFormat, outputFormat string, push bool) (*Result, error) {
	resp, err := c.upload(ctx, path, inputFormat, outputFormat, push).Post("/convert")
	if err != nil {
		return nil, fmt.Errorf("convert request: %w", err)
	}
	if err := apiError(resp); err != nil {
		return nil, err
	}
	return toResult(resp, outputFormat), nil
}

// SubmitJob uploads the file at path for asynchronous conversion.
func (c *Client) SubmitJob(ctx context.Context, path, inputFormat, outputFormat string, push bool) (*Job, error) {
	var job Job
	resp, err := c.upload(ctx, path, inputFormat, outputFormat, push).
		SetResult(&job).
		Post("/jobs")
	if err != nil {
		return nil, fmt.Errorf("submit job request: %w", err)
	}
	if err := apiError(resp); err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJob fetches the current state of a job.
func (c *Client) GetJob(ctx context.Context, id string) (*Job, error) {
	var job Job
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&job).
		Get("/jobs/{id}")
	if err != nil {
		return nil, fmt.Errorf("get job request: %w", err)
	}
	if err := apiError(resp); err != nil {
		return nil, err
	}
	return &job, nil
}

// WaitForJob polls until the job is terminal. It returns ErrJobFailed with the
// job's error message when the job did not complete.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := c.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			if job.Status != "COMPLETED" {
				return job, fmt.Errorf("%w: %s %s", ErrJobFailed, job.Status, job.Error)
			}
			return job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// DownloadResult fetches a completed job's converted file.
func (c *Client) DownloadResult(ctx context.Context, id string) (*Result, error) {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Get("/jobs/{id}/result")
	if err != nil {
		return nil, fmt.Errorf("download result request: %w", err)
	}
	if err := apiError(resp); err != nil {
		return nil, err
	}
	return toResult(resp, ""), nil
}

// DeleteJob removes a job and its files.
func (c *Client) DeleteJob(ctx context.Context, id string) error {
	resp, err := c.rc.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete("/jobs/{id}")
	if err != nil {
		return fmt.Errorf("delete job request: %w", err)
	}
	return apiError(resp)
}

// Health queries GET /health.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var h Health
	resp, err := c.rc.R().
		SetContext(ctx).
		SetResult(&h).
		Get("/health")
	if err != nil {
		return nil, fmt.Errorf("health request: %w", err)
	}
	if err := apiError(resp); err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) upload(ctx context.Context, path, inputFormat, outputFormat string, push bool) *resty.Request {
	return c.rc.R().
		SetContext(ctx).
		SetFile("file", path).
		SetFormData(map[string]string{
			"inputFormat":  inputFormat,
			"outputFormat": outputFormat,
			"pushToS3":     strconv.FormatBool(push),
		})
}

func apiError(resp *resty.Response) error {
	if resp.StatusCode() >= http.StatusOK && resp.StatusCode() < http.StatusMultipleChoices {
		return nil
	}

	apiErr := &APIError{Status: resp.StatusCode()}
	if body, ok := resp.Error().(*errorBody); ok && body != nil && body.Error != "" {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(resp.Body()))
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(resp.StatusCode())
	}
	return apiErr
}

func toResult(resp *resty.Response, outputFormat string) *Result {
	hdr := resp.Header()
	res := &Result{
		Data:         resp.Body(),
		Filename:     filenameFrom(hdr.Get("Content-Disposition")),
		CacheHit:     hdr.Get("X-Cache") == "HIT",
		DetectedType: hdr.Get("X-Detected-Type"),
		URL:          hdr.Get("X-Result-URL"),
	}
	if res.Filename == "" && outputFormat != "" {
		res.Filename = "converted." + outputFormat
	}
	return res
}

// filenameFrom extracts the suggested filename from a Content-Disposition
// header. Directory components are stripped so the name is always local.
func filenameFrom(disposition string) string {
	if disposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(disposition)
	if err != nil {
		return ""
	}
	name := filepath.Base(filepath.FromSlash(strings.ReplaceAll(params["filename"], `\`, "/")))
	switch name {
	case "", ".", "..", string(filepath.Separator):
		return ""
	}
	return name
}
