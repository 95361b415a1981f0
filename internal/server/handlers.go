package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maauso/convert-relay/internal/conversion"
	"github.com/maauso/convert-relay/internal/format"
	"github.com/maauso/convert-relay/internal/job"
)

// Banner is the body served on GET /.
const Banner = "Conversion relay is running"

// MsgMissingFields is returned when the upload or either format is absent.
const MsgMissingFields = "file, inputFormat, and outputFormat are required"

// multipartMemory is how much of a multipart body is buffered in memory
// before spilling to disk.
const multipartMemory = 8 << 20

// Converter runs synchronous conversions.
type Converter interface {
	Convert(ctx context.Context, req conversion.Request) (*conversion.Result, error)
}

// JobService runs asynchronous conversions.
type JobService interface {
	Submit(ctx context.Context, req conversion.Request) (*job.Job, error)
	Get(ctx context.Context, jobID string) (*job.Job, error)
	OpenResult(ctx context.Context, jobID string) (*job.Job, io.ReadCloser, error)
	Delete(ctx context.Context, jobID string) error
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	converter      Converter
	jobs           JobService
	validator      *validator.Validate
	logger         *slog.Logger
	maxUploadBytes int64
	started        time.Time
	now            func() time.Time
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithJobs enables the /jobs endpoints.
func WithJobs(js JobService) HandlerOption {
	return func(h *Handlers) {
		h.jobs = js
	}
}

// WithMaxUploadBytes limits the size of a request body.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(converter Converter, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		converter:      converter,
		validator:      validator.New(),
		logger:         logger,
		maxUploadBytes: 50 << 20,
		now:            time.Now,
	}
	h.started = h.now()
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Root handles GET / requests.
func (h *Handlers) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, Banner)
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status: "OK",
		Uptime: h.now().Sub(h.started).Seconds(),
	})
}

// Convert handles POST /convert requests.
func (h *Handlers) Convert(w http.ResponseWriter, r *http.Request) {
	req, cleanup, ok := h.parseUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	res, err := h.converter.Convert(r.Context(), req)
	if err != nil {
		h.writeConversionError(w, r, err)
		return
	}

	h.writeFile(w, res.Filename, int64(len(res.Data)), res.DetectedType, res.CacheHit, res.URL)
	if _, err := w.Write(res.Data); err != nil {
		h.logger.Warn("failed to write converted file",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// CreateJob handles POST /jobs requests.
func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	req, cleanup, ok := h.parseUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	created, err := h.jobs.Submit(r.Context(), req)
	if err != nil {
		h.writeConversionError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, CreateJobResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	found, err := h.jobs.Get(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, r, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(found))
}

// GetJobResult handles GET /jobs/{id}/result requests.
func (h *Handlers) GetJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	found, rc, err := h.jobs.OpenResult(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, r, jobID, err)
		return
	}
	defer func() { _ = rc.Close() }()

	h.writeFile(w, found.ResultFilename, found.ResultSize, found.DetectedType, found.CacheHit, found.ResultURL)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream job result",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// DeleteJob handles DELETE /jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if err := h.jobs.Delete(r.Context(), jobID); err != nil {
		h.writeJobError(w, r, jobID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// parseUpload reads the multipart form into a conversion request. On failure
// it writes the error response and returns ok=false.
func (h *Handlers) parseUpload(w http.ResponseWriter, r *http.Request) (req conversion.Request, cleanup func(), ok bool) {
	cleanup = func() {}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %d bytes", h.maxUploadBytes), "UPLOAD_TOO_LARGE")
		case errors.Is(err, http.ErrNotMultipart), errors.Is(err, http.ErrMissingBoundary):
			writeError(w, http.StatusBadRequest, MsgMissingFields, "MISSING_FIELDS")
		default:
			h.logger.Warn("failed to parse multipart form",
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		}
		return req, cleanup, false
	}
	cleanup = func() { _ = r.MultipartForm.RemoveAll() }

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, MsgMissingFields, "MISSING_FIELDS")
		return req, cleanup, false
	}
	closeFile := func() { _ = file.Close() }
	removeForm := cleanup
	cleanup = func() {
		closeFile()
		removeForm()
	}

	form := ConvertForm{
		InputFormat:  r.FormValue("inputFormat"),
		OutputFormat: r.FormValue("outputFormat"),
		PushToS3:     r.FormValue("pushToS3"),
	}
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "PushToS3" {
			writeError(w, http.StatusBadRequest, "pushToS3 must be a boolean", "INVALID_FORM")
		} else {
			writeError(w, http.StatusBadRequest, MsgMissingFields, "MISSING_FIELDS")
		}
		return req, cleanup, false
	}

	push, _ := strconv.ParseBool(form.PushToS3)
	return conversion.Request{
		InputFormat:  form.InputFormat,
		OutputFormat: form.OutputFormat,
		Filename:     uploadName(header),
		Body:         file,
		PushToS3:     push,
	}, cleanup, true
}

// writeFile sets the download headers shared by /convert and job results.
func (h *Handlers) writeFile(w http.ResponseWriter, filename string, size int64, detectedType string, cacheHit bool, url string) {
	hdr := w.Header()
	hdr.Set("Content-Type", conversion.ContentType)
	hdr.Set("Content-Disposition", "attachment; filename="+filename)
	hdr.Set("Content-Length", strconv.FormatInt(size, 10))
	if cacheHit {
		hdr.Set("X-Cache", "HIT")
	} else {
		hdr.Set("X-Cache", "MISS")
	}
	if detectedType != "" {
		hdr.Set("X-Detected-Type", detectedType)
	}
	if url != "" {
		hdr.Set("X-Result-URL", url)
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) writeConversionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, format.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "inputFormat and outputFormat must be 1-16 letters or digits", "INVALID_FORMAT")
	case errors.Is(err, conversion.ErrEmptyUpload):
		writeError(w, http.StatusBadRequest, "uploaded file is empty", "EMPTY_FILE")
	case errors.Is(err, conversion.ErrFormatMismatch):
		writeError(w, http.StatusUnsupportedMediaType, err.Error(), "FORMAT_MISMATCH")
	case isTimeout(err):
		h.logger.Error("conversion timed out",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusGatewayTimeout, "Conversion timed out", "CONVERSION_TIMEOUT")
	default:
		h.logger.Error("conversion error",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "Conversion failed", "CONVERSION_FAILED")
	}
}

func (h *Handlers) writeJobError(w http.ResponseWriter, r *http.Request, jobID string, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrResultNotReady):
		writeError(w, http.StatusConflict, "job result is not ready", "RESULT_NOT_READY")
	default:
		h.logger.Error("job request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "job request failed", "JOB_FETCH_FAILED")
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

func uploadName(header *multipart.FileHeader) string {
	if header == nil {
		return ""
	}
	return header.Filename
}

func toJobResponse(j *job.Job) JobResponse {
	resp := JobResponse{
		ID:             j.ID,
		Status:         string(j.Status),
		InputFormat:    j.InputFormat,
		OutputFormat:   j.OutputFormat,
		SourceFilename: j.SourceFilename,
		Error:          j.Error,
		CacheHit:       j.CacheHit,
		CreatedAt:      j.CreatedAt,
	}
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		resp.StartedAt = &t
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	if j.Status == job.StatusCompleted {
		resp.ResultFilename = j.ResultFilename
		resp.ResultSize = j.ResultSize
		resp.ResultURL = j.ResultURL
		resp.DetectedType = j.DetectedType
	}
	return resp
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
