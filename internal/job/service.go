package job

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/maauso/framegrab/internal/extract"
	"github.com/maauso/framegrab/internal/metrics"
	"github.com/maauso/framegrab/internal/present"
	"github.com/maauso/framegrab/internal/storage"
)

// Service errors.
var (
	// ErrJobRunning is returned when deleting a job whose extraction is in flight.
	ErrJobRunning = errors.New("job is running")
	// ErrFrameNotReady is returned when frames are requested before completion.
	ErrFrameNotReady = errors.New("frames not available")
	// ErrUnknownFrame is returned for a frame label other than first or last.
	ErrUnknownFrame = errors.New("unknown frame")
)

// Extractor runs one extraction. *extract.Pipeline implements it.
type Extractor interface {
	Extract(ctx context.Context, src extract.Source, sink extract.LogSink) (*extract.Result, error)
}

// ExtractionInput describes an upload already spooled into temp storage.
type ExtractionInput struct {
	// Name is the original file name.
	Name string
	// Size is the upload size in bytes.
	Size int64
	// ContentType is the declared MIME type.
	ContentType string
	// Path is the spooled upload. The service removes it after processing.
	Path string
	// PushToS3 exports both frames when true.
	PushToS3 bool
}

// ExtractionService runs extraction jobs with bounded concurrency and keeps
// their results until the TTL expires.
type ExtractionService struct {
	repo      Repository
	extractor Extractor
	storage   storage.Storage
	logger    *slog.Logger
	sem       chan struct{}
	ttl       time.Duration
}

// ServiceOption configures an ExtractionService.
type ServiceOption func(*ExtractionService)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *ExtractionService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxConcurrent limits how many extractions run at once.
func WithMaxConcurrent(n int) ServiceOption {
	return func(s *ExtractionService) {
		if n > 0 {
			s.sem = make(chan struct{}, n)
		}
	}
}

// WithTTL sets how long finished jobs are kept. Zero keeps them forever.
func WithTTL(ttl time.Duration) ServiceOption {
	return func(s *ExtractionService) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// NewExtractionService creates a new ExtractionService.
func NewExtractionService(repo Repository, extractor Extractor, store storage.Storage, opts ...ServiceOption) *ExtractionService {
	s := &ExtractionService{
		repo:      repo,
		extractor: extractor,
		storage:   store,
		logger:    slog.Default(),
		sem:       make(chan struct{}, 2),
		ttl:       30 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateJob creates a QUEUED job for an uploaded video.
func (s *ExtractionService) CreateJob(ctx context.Context, in ExtractionInput) (*Job, error) {
	job := New()
	job.SourceName = in.Name
	job.SourceSize = in.Size
	job.ContentType = in.ContentType
	job.SourcePath = in.Path
	job.PushToS3 = in.PushToS3

	s.logger.Info("creating new job",
		slog.String("job_id", job.ID),
		slog.String("source", in.Name),
		slog.Int64("size", in.Size),
		slog.Bool("push_to_s3", in.PushToS3),
	)

	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	metrics.UploadBytes.Observe(float64(in.Size))
	return job, nil
}

// GetJob retrieves a job by ID.
func (s *ExtractionService) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.repo.FindByID(ctx, id)
}

// DeleteJob discards a job and its results. Running jobs cannot be deleted.
func (s *ExtractionService) DeleteJob(ctx context.Context, id string) error {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if job.GetStatus() == StatusRunning {
		return ErrJobRunning
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if job.SourcePath != "" {
		s.cleanup(ctx, job.ID, job.SourcePath)
	}
	s.logger.Info("job deleted", slog.String("job_id", id))
	return nil
}

// Frame returns the captured frame for label ("first" or "last").
func (s *ExtractionService) Frame(ctx context.Context, id, which string) (extract.Frame, string, error) {
	label, ok := present.LabelFor(which)
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownFrame, which)
	}

	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.GetStatus() != StatusCompleted {
		return nil, "", ErrFrameNotReady
	}

	if label == present.LabelFirst {
		return job.Frames.First, present.FrameFilename(label), nil
	}
	return job.Frames.Last, present.FrameFilename(label), nil
}

// ProcessExistingJob runs the extraction for a QUEUED job. It waits for a
// free slot, so callers usually run it on its own goroutine.
func (s *ExtractionService) ProcessExistingJob(ctx context.Context, jobID string) (*Job, error) {
	job, err := s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		s.cleanup(ctx, job.ID, job.SourcePath)
		return s.failJob(ctx, job, ctx.Err(), metrics.OutcomeAborted)
	}
	defer func() { <-s.sem }()

	// The job may have been deleted while waiting for a slot.
	job, err = s.repo.FindByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	metrics.ActiveExtractions.Inc()
	defer metrics.ActiveExtractions.Dec()

	if err := job.Start(); err != nil {
		return nil, fmt.Errorf("start job %s: %w", jobID, err)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}

	logger := s.logger.With(slog.String("job_id", job.ID))
	logger.Info("extraction started", slog.String("source", job.SourceName))

	sourcePath := job.SourcePath
	src := extract.Source{
		Name:        job.SourceName,
		Size:        job.SourceSize,
		ContentType: job.ContentType,
		Open: func() (io.ReadCloser, error) {
			return s.storage.LoadTemp(ctx, sourcePath)
		},
	}

	started := time.Now()
	result, extractErr := s.extractor.Extract(ctx, src, job.Trace.Sink())
	metrics.ExtractionDuration.Observe(time.Since(started).Seconds())

	s.cleanup(ctx, job.ID, sourcePath)
	job.ClearSource()

	if extractErr != nil {
		outcome := extract.KindName(extractErr)
		if outcome == "" {
			outcome = metrics.OutcomeAborted
		}
		return s.failJob(ctx, job, extractErr, outcome)
	}

	if job.PushToS3 {
		first, last, err := s.exportFrames(ctx, job.ID, result.Frames)
		if err != nil {
			job.Trace.Append(fmt.Sprintf("export failed: %v", err))
			return s.failJob(ctx, job, err, KindExportFailure)
		}
		job.SetFrameURLs(first, last)
		job.Trace.Append("frames exported to S3")
	}

	if err := job.Complete(result); err != nil {
		return nil, fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	metrics.ExtractionsTotal.WithLabelValues(metrics.OutcomeSucceeded).Inc()

	logger.Info("extraction completed",
		slog.Float64("duration", result.Metadata.Duration),
		slog.Int("width", result.Metadata.Width),
		slog.Int("height", result.Metadata.Height),
	)
	return job, nil
}

// failJob marks job FAILED. The kind recorded on the job is the pipeline
// failure kind when there is one, otherwise outcome.
func (s *ExtractionService) failJob(ctx context.Context, job *Job, cause error, outcome string) (*Job, error) {
	kind := extract.KindName(cause)
	if kind == "" {
		kind = outcome
	}
	if err := job.Fail(cause.Error(), kind); err != nil {
		return nil, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	metrics.ExtractionsTotal.WithLabelValues(outcome).Inc()

	// Persist even when the request context is gone.
	if err := s.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		return nil, err
	}

	s.logger.Warn("extraction failed",
		slog.String("job_id", job.ID),
		slog.String("kind", kind),
		slog.String("error", cause.Error()),
	)
	return job, cause
}

// exportFrames uploads both frames under frames/<job id>/.
func (s *ExtractionService) exportFrames(ctx context.Context, jobID string, frames extract.Frames) (string, string, error) {
	urls := make([]string, 0, 2)
	for _, f := range []struct {
		label string
		data  extract.Frame
	}{
		{present.LabelFirst, frames.First},
		{present.LabelLast, frames.Last},
	} {
		key := path.Join("frames", jobID, present.FrameFilename(f.label))
		url, err := s.storage.UploadToS3(ctx, key, extract.FrameContentType, bytes.NewReader(f.data))
		if err != nil {
			return "", "", fmt.Errorf("upload %s: %w", key, err)
		}
		metrics.FramesExportedTotal.Inc()
		urls = append(urls, url)
	}
	return urls[0], urls[1], nil
}

// SweepExpired removes finished jobs older than the TTL.
func (s *ExtractionService) SweepExpired(ctx context.Context) (int, error) {
	if s.ttl == 0 {
		return 0, nil
	}
	removed, err := s.repo.DeleteFinishedBefore(ctx, time.Now().Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Debug("expired jobs swept", slog.Int("removed", removed))
	}
	return removed, nil
}

// RunJanitor sweeps expired jobs every interval until ctx is done.
func (s *ExtractionService) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.Warn("job sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *ExtractionService) cleanup(ctx context.Context, jobID, p string) {
	if p == "" {
		return
	}
	if err := s.storage.CleanupTemp(context.WithoutCancel(ctx), []string{p}); err != nil {
		s.logger.Warn("failed to remove upload",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}
