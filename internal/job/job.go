// Package job provides the Job aggregate for asynchronous conversions.
// It includes the Job entity with its state machine, the repository port
// and the service that runs queued conversions in the background.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/convert-relay/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a free conversion slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the conversion is in progress.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the result is ready for download.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the conversion returned an error.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled before it finished.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Job represents one asynchronous conversion.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// InputFormat and OutputFormat are the normalized conversion formats.
	InputFormat  string
	OutputFormat string
	// SourceFilename is the client-side name of the upload.
	SourceFilename string
	// InputPath is the staged upload.
	InputPath string
	// PushToS3 indicates whether the result is archived to S3.
	PushToS3 bool
	// ResultPath is the temp file holding the converted bytes.
	ResultPath string
	// ResultFilename is the download name, e.g. converted.pdf.
	ResultFilename string
	// ResultURL is the S3 URL when PushToS3 was set.
	ResultURL string
	// ResultSize is the size of the converted file in bytes.
	ResultSize int64
	// DetectedType is the sniffed MIME type of the upload.
	DetectedType string
	// CacheHit reports whether the result came from the cache.
	CacheHit bool
	// Error contains the failure message if the job failed.
	Error string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}
	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error message.
// The message is only recorded when the transition is allowed.
func (j *Job) Fail(errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	return nil
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetResult records where the converted output lives.
func (j *Job) SetResult(path, filename, url string, size int64, detectedType string, cacheHit bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ResultPath = path
	j.ResultFilename = filename
	j.ResultURL = url
	j.ResultSize = size
	j.DetectedType = detectedType
	j.CacheHit = cacheHit
	j.UpdatedAt = time.Now()
}

// Files returns the temp files owned by the job.
func (j *Job) Files() []string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var files []string
	for _, p := range []string{j.InputPath, j.ResultPath} {
		if p != "" {
			files = append(files, p)
		}
	}
	return files
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.GetStatus().IsTerminal()
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:             j.ID,
		Status:         j.Status,
		InputFormat:    j.InputFormat,
		OutputFormat:   j.OutputFormat,
		SourceFilename: j.SourceFilename,
		InputPath:      j.InputPath,
		PushToS3:       j.PushToS3,
		ResultPath:     j.ResultPath,
		ResultFilename: j.ResultFilename,
		ResultURL:      j.ResultURL,
		ResultSize:     j.ResultSize,
		DetectedType:   j.DetectedType,
		CacheHit:       j.CacheHit,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
	}
}
