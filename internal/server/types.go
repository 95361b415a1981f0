// Package server provides the HTTP server for the conversion relay.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// ConvertForm holds the text fields of a multipart conversion upload.
type ConvertForm struct {
	// InputFormat is the declared format of the uploaded file.
	InputFormat string `validate:"required"`
	// OutputFormat is the requested target format.
	OutputFormat string `validate:"required"`
	// PushToS3 optionally archives the result to S3.
	PushToS3 string `validate:"omitempty,boolean"`
}

// CreateJobResponse is the HTTP response after submitting an async conversion.
type CreateJobResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
}

// JobResponse is the HTTP response for getting job details.
type JobResponse struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	InputFormat    string     `json:"inputFormat"`
	OutputFormat   string     `json:"outputFormat"`
	SourceFilename string     `json:"sourceFilename,omitempty"`
	Error          string     `json:"error,omitempty"`
	ResultFilename string     `json:"resultFilename,omitempty"`
	ResultSize     int64      `json:"resultSize,omitempty"`
	ResultURL      string     `json:"resultUrl,omitempty"`
	DetectedType   string     `json:"detectedType,omitempty"`
	CacheHit       bool       `json:"cacheHit"`
	CreatedAt      time.Time  `json:"createdAt"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Uptime is the process uptime in seconds.
	Uptime float64 `json:"uptime"`
}
