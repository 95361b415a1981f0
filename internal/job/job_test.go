package job

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	job := New()

	if !strings.HasPrefix(job.ID, "job-") {
		t.Errorf("expected job ID to start with job-, got %q", job.ID)
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
	if job.CreatedAt.IsZero() || job.UpdatedAt.IsZero() {
		t.Error("expected timestamps to be set")
	}
}

func TestNewWithID(t *testing.T) {
	job := NewWithID("test-job-123")

	if job.ID != "test-job-123" {
		t.Errorf("expected ID test-job-123, got %s", job.ID)
	}
	if job.Status != StatusInQueue {
		t.Errorf("expected status %s, got %s", StatusInQueue, job.Status)
	}
}

func TestJob_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		wantErr bool
	}{
		{"IN_QUEUE to RUNNING", StatusInQueue, StatusRunning, false},
		{"IN_QUEUE to CANCELLED", StatusInQueue, StatusCancelled, false},
		{"RUNNING to COMPLETED", StatusRunning, StatusCompleted, false},
		{"RUNNING to FAILED", StatusRunning, StatusFailed, false},
		{"RUNNING to CANCELLED", StatusRunning, StatusCancelled, false},
		{"IN_QUEUE to COMPLETED", StatusInQueue, StatusCompleted, true},
		{"IN_QUEUE to FAILED", StatusInQueue, StatusFailed, true},
		{"COMPLETED to RUNNING", StatusCompleted, StatusRunning, true},
		{"COMPLETED to CANCELLED", StatusCompleted, StatusCancelled, true},
		{"FAILED to COMPLETED", StatusFailed, StatusCompleted, true},
		{"CANCELLED to RUNNING", StatusCancelled, StatusRunning, true},
		{"unknown status", Status("BOGUS"), StatusRunning, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewWithID("test")
			job.Status = tt.from

			err := job.TransitionTo(tt.to)

			if tt.wantErr && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition for %s -> %s, got %v", tt.from, tt.to, err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error for transition %s -> %s: %v", tt.from, tt.to, err)
			}
		})
	}
}

func TestJob_Timestamps(t *testing.T) {
	job := New()

	if err := job.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.StartedAt.IsZero() {
		t.Error("expected StartedAt to be set")
	}
	if !job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be zero while running")
	}

	if err := job.Complete(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.CompletedAt.IsZero() {
		t.Error("expected CompletedAt to be set")
	}
}

func TestJob_Fail(t *testing.T) {
	job := New()
	_ = job.Start()

	if err := job.Fail("vendor exploded"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Status != StatusFailed {
		t.Errorf("expected status %s, got %s", StatusFailed, job.Status)
	}
	if job.Error != "vendor exploded" {
		t.Errorf("expected error message to be recorded, got %q", job.Error)
	}
}

func TestJob_Fail_KeepsMessageOnInvalidTransition(t *testing.T) {
	job := New()
	_ = job.Cancel()

	if err := job.Fail("late failure"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if job.Error != "" {
		t.Errorf("expected no error message on cancelled job, got %q", job.Error)
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := map[Status]bool{
		StatusInQueue:   false,
		StatusRunning:   false,
		StatusCompleted: true,
		StatusFailed:    true,
		StatusCancelled: true,
	}
	for status, want := range tests {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%s.IsTerminal() = %v, want %v", status, got, want)
		}
		job := NewWithID("x")
		job.Status = status
		if got := job.IsTerminal(); got != want {
			t.Errorf("job in %s IsTerminal() = %v, want %v", status, got, want)
		}
	}
}

func TestJob_SetResult(t *testing.T) {
	job := New()
	before := job.UpdatedAt
	time.Sleep(time.Millisecond)

	job.SetResult("/tmp/converted_1.pdf", "converted.pdf", "https://s3/x.pdf", 42, "application/pdf", true)

	if job.ResultPath != "/tmp/converted_1.pdf" || job.ResultFilename != "converted.pdf" {
		t.Errorf("unexpected result location: %s %s", job.ResultPath, job.ResultFilename)
	}
	if job.ResultURL != "https://s3/x.pdf" || job.ResultSize != 42 {
		t.Errorf("unexpected result metadata: %s %d", job.ResultURL, job.ResultSize)
	}
	if job.DetectedType != "application/pdf" || !job.CacheHit {
		t.Errorf("unexpected detection: %s %v", job.DetectedType, job.CacheHit)
	}
	if !job.UpdatedAt.After(before) {
		t.Error("expected UpdatedAt to advance")
	}
}

func TestJob_Files(t *testing.T) {
	job := New()
	if len(job.Files()) != 0 {
		t.Errorf("expected no files, got %v", job.Files())
	}

	job.InputPath = "/tmp/in.docx"
	job.ResultPath = "/tmp/out.pdf"
	files := job.Files()
	if len(files) != 2 || files[0] != "/tmp/in.docx" || files[1] != "/tmp/out.pdf" {
		t.Errorf("unexpected files: %v", files)
	}
}

func TestJob_Clone(t *testing.T) {
	original := New()
	original.InputFormat = "docx"
	original.OutputFormat = "pdf"
	original.SourceFilename = "report.docx"
	original.InputPath = "/tmp/report.docx"
	original.PushToS3 = true
	_ = original.Start()

	clone := original.Clone()

	if clone.ID != original.ID || clone.Status != original.Status {
		t.Error("clone should carry ID and status")
	}
	if clone.InputFormat != "docx" || clone.OutputFormat != "pdf" || !clone.PushToS3 {
		t.Error("clone should carry request fields")
	}
	if clone.StartedAt != original.StartedAt {
		t.Error("clone should carry timestamps")
	}

	clone.Status = StatusFailed
	if original.Status != StatusRunning {
		t.Error("modifying clone should not affect original")
	}
}

func TestJob_GetStatus_ThreadSafe(t *testing.T) {
	job := New()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = job.GetStatus()
			_ = job.Clone()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = job.Start()
	}()

	wg.Wait()
}
