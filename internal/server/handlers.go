package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/framegrab/internal/job"
	"github.com/maauso/framegrab/internal/media"
	"github.com/maauso/framegrab/internal/present"
	"github.com/maauso/framegrab/internal/storage"
)

const (
	// DefaultMaxUploadBytes is the default upload limit (500 MB).
	DefaultMaxUploadBytes int64 = 500 << 20
	// multipartOverhead is allowed on top of the file size for form framing.
	multipartOverhead = 1 << 20
	// multipartMemory is kept in memory before ParseMultipartForm spills to disk.
	multipartMemory = 32 << 20
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.ExtractionService
	storage            storage.Storage
	validator          *validator.Validate
	logger             *slog.Logger
	enableAsyncProcess bool
	maxUploadBytes     int64
	trace              traceStreamer
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateExtraction only creates the job and returns
// immediately without starting the extraction.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithMaxUploadBytes sets the upload size limit.
func WithMaxUploadBytes(n int64) HandlerOption {
	return func(h *Handlers) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// NewHandlers creates a new Handlers instance. Uploads are spooled through store.
func NewHandlers(service *job.ExtractionService, store storage.Storage, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		storage:            store,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true, // Default to enabled
		maxUploadBytes:     DefaultMaxUploadBytes,
		trace:              newTraceStreamer(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateExtraction handles POST /extractions requests.
func (h *Handlers) CreateExtraction(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage(), "UPLOAD_TOO_LARGE")
			return
		}
		h.logger.Warn("failed to parse multipart form", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "invalid multipart form", "INVALID_FORM")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, http.StatusBadRequest, "form field 'video' is required", "MISSING_VIDEO")
		return
	}
	defer func() { _ = file.Close() }()

	if header.Size > h.maxUploadBytes {
		writeError(w, http.StatusRequestEntityTooLarge, h.tooLargeMessage(), "UPLOAD_TOO_LARGE")
		return
	}

	var pushToS3 bool
	if v := r.FormValue("push_to_s3"); v != "" {
		pushToS3, err = strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "push_to_s3 must be a boolean", "INVALID_FORM")
			return
		}
	}

	req := CreateExtractionRequest{
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		PushToS3:    pushToS3,
	}
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed", slog.String("error", err.Error()))
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && verrs[0].Field() == "ContentType" {
			writeError(w, http.StatusUnsupportedMediaType, "please upload a valid video file", "NOT_A_VIDEO")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	if ok, detected := sniffVideo(file); !ok {
		h.logger.Warn("upload content is not a video",
			slog.String("declared", req.ContentType),
			slog.String("detected", detected),
		)
		writeError(w, http.StatusUnsupportedMediaType, "please upload a valid video file", "NOT_A_VIDEO")
		return
	}

	path, err := h.storage.SaveTemp(r.Context(), req.FileName, file)
	if err != nil {
		h.logger.Error("failed to spool upload", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to store upload", "UPLOAD_FAILED")
		return
	}

	input := job.ExtractionInput{
		Name:        req.FileName,
		Size:        req.Size,
		ContentType: req.ContentType,
		Path:        path,
		PushToS3:    req.PushToS3,
	}
	created, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		h.logger.Error("failed to create job", slog.String("error", err.Error()))
		_ = h.storage.CleanupTemp(context.WithoutCancel(r.Context()), []string{path})
		writeError(w, http.StatusInternalServerError, "failed to create extraction", "JOB_CREATION_FAILED")
		return
	}

	// Start processing in background with a detached context
	// Use context.WithoutCancel to prevent cancellation when the request ends
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string) {
			if _, processErr := h.service.ProcessExistingJob(ctx, jobID); processErr != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", processErr.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), created.ID)
	}

	h.logger.Info("extraction accepted",
		slog.String("job_id", created.ID),
		slog.String("file", req.FileName),
		slog.Int64("size", req.Size),
	)

	writeJSON(w, http.StatusAccepted, CreateExtractionResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetExtraction handles GET /extractions/{id} requests.
func (h *Handlers) GetExtraction(w http.ResponseWriter, r *http.Request) {
	found, ok := h.findJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toExtractionResponse(found))
}

// GetFrame handles GET /extractions/{id}/frames/{which} requests, serving the
// JPEG as a download.
func (h *Handlers) GetFrame(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "extraction ID is required", "MISSING_JOB_ID")
		return
	}

	frame, filename, err := h.service.Frame(r.Context(), jobID, r.PathValue("which"))
	switch {
	case errors.Is(err, job.ErrUnknownFrame):
		writeError(w, http.StatusBadRequest, "frame must be 'first' or 'last'", "UNKNOWN_FRAME")
		return
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "extraction not found", "JOB_NOT_FOUND")
		return
	case errors.Is(err, job.ErrFrameNotReady):
		writeError(w, http.StatusConflict, "frames are not available for this extraction", "FRAME_NOT_READY")
		return
	case err != nil:
		h.logger.Error("failed to get frame",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get frame", "FRAME_FETCH_FAILED")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(frame); err != nil {
		h.logger.Warn("failed to write frame", slog.String("job_id", jobID), slog.String("error", err.Error()))
	}
}

// DeleteExtraction handles DELETE /extractions/{id} requests.
// It discards the extraction and its frames.
func (h *Handlers) DeleteExtraction(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "extraction ID is required", "MISSING_JOB_ID")
		return
	}

	err := h.service.DeleteJob(r.Context(), jobID)
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "extraction not found", "JOB_NOT_FOUND")
		return
	case errors.Is(err, job.ErrJobRunning):
		writeError(w, http.StatusConflict, "extraction is still running", "JOB_RUNNING")
		return
	case err != nil:
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete extraction", "JOB_DELETE_FAILED")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// findJob resolves the {id} path value, writing the error response itself
// when the job cannot be returned.
func (h *Handlers) findJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "extraction ID is required", "MISSING_JOB_ID")
		return nil, false
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "extraction not found", "JOB_NOT_FOUND")
			return nil, false
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get extraction", "JOB_FETCH_FAILED")
		return nil, false
	}
	return found, true
}

func (h *Handlers) tooLargeMessage() string {
	return fmt.Sprintf("upload exceeds the %s limit", present.FormatBytes(h.maxUploadBytes, 0))
}

// sniffVideo checks the leading bytes of f and rewinds it.
func sniffVideo(f io.ReadSeeker) (bool, string) {
	detected, ok, err := media.SniffVideo(f)
	if _, seekErr := f.Seek(0, io.SeekStart); err != nil || seekErr != nil {
		return false, detected
	}
	return ok, detected
}

func toExtractionResponse(j *job.Job) ExtractionResponse {
	resp := ExtractionResponse{
		ID:        j.ID,
		Status:    string(j.Status),
		Error:     j.Error,
		ErrorKind: j.ErrorKind,
		Trace:     []TraceLine{},
	}

	if j.Trace != nil {
		for _, e := range j.Trace.Entries() {
			resp.Trace = append(resp.Trace, TraceLine{At: e.At, Message: e.Message})
		}
	}

	if j.Status != job.StatusCompleted {
		return resp
	}

	m := j.Metadata
	resp.Metadata = &MetadataResponse{
		Name:     m.Name,
		Size:     m.Size,
		Duration: m.Duration,
		Width:    m.Width,
		Height:   m.Height,
		Summary:  present.Summary(m),
	}

	if j.PushToS3 && j.FirstFrameURL != "" {
		resp.Frames = &FramesResponse{First: j.FirstFrameURL, Last: j.LastFrameURL}
	} else {
		resp.Frames = &FramesResponse{First: j.Frames.First.DataURL(), Last: j.Frames.Last.DataURL()}
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
