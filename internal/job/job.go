// Package job provides the Job aggregate for frame-extraction requests
// accepted by the HTTP API, its state machine and repository interfaces.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/framegrab/internal/extract"
	"github.com/maauso/framegrab/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusQueued indicates the job is waiting for a free extraction slot.
	StatusQueued Status = "QUEUED"
	// StatusRunning indicates the extraction pipeline is running.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates both frames were captured.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the extraction or export failed.
	StatusFailed Status = "FAILED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusQueued:    {StatusRunning, StatusFailed},
	StatusRunning:   {StatusCompleted, StatusFailed},
	StatusCompleted: {},
	StatusFailed:    {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// KindExportFailure is the error kind of jobs whose frames were captured but
// could not be exported.
const KindExportFailure = "EXPORT_FAILURE"

// Job is one extraction request.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status
	// SourceName is the uploaded file name.
	SourceName string
	// SourceSize is the upload size in bytes.
	SourceSize int64
	// ContentType is the declared MIME type of the upload.
	ContentType string
	// SourcePath is the spooled upload. Cleared once processing ends.
	SourcePath string
	// PushToS3 indicates whether to export the frames to S3.
	PushToS3 bool
	// Metadata is set on completion.
	Metadata extract.Metadata
	// Frames holds the captured JPEGs on completion.
	Frames extract.Frames
	// FirstFrameURL and LastFrameURL are the S3 URLs when PushToS3 was true.
	FirstFrameURL string
	LastFrameURL  string
	// Error contains the error message if the job failed.
	Error string
	// ErrorKind is the machine-readable failure kind (for example SEEK_FAILURE).
	ErrorKind string
	// Trace is the diagnostic log of the extraction. It is append-only and
	// shared between clones so readers observe it live.
	Trace *extract.Trace
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when processing finished.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial QUEUED status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial QUEUED status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusQueued,
		Trace:     extract.NewTrace(),
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
	case StatusCompleted, StatusFailed:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from QUEUED to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete stores the extraction result and transitions to COMPLETED.
func (j *Job) Complete(res *extract.Result) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusCompleted); err != nil {
		return err
	}
	j.Metadata = res.Metadata
	j.Frames = res.Frames
	return nil
}

// Fail transitions the job to FAILED with an error message and kind.
func (j *Job) Fail(errMsg, kind string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(StatusFailed); err != nil {
		return err
	}
	j.Error = errMsg
	j.ErrorKind = kind
	return nil
}

// SetFrameURLs records the exported frame URLs.
func (j *Job) SetFrameURLs(first, last string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.FirstFrameURL = first
	j.LastFrameURL = last
	j.UpdatedAt = time.Now()
}

// ClearSource forgets the spooled upload path.
func (j *Job) ClearSource() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.SourcePath = ""
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Clone creates a copy of the job for safe reads. Frame bytes and the trace
// are shared; neither is mutated after being set.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:            j.ID,
		Status:        j.Status,
		SourceName:    j.SourceName,
		SourceSize:    j.SourceSize,
		ContentType:   j.ContentType,
		SourcePath:    j.SourcePath,
		PushToS3:      j.PushToS3,
		Metadata:      j.Metadata,
		Frames:        j.Frames,
		FirstFrameURL: j.FirstFrameURL,
		LastFrameURL:  j.LastFrameURL,
		Error:         j.Error,
		ErrorKind:     j.ErrorKind,
		Trace:         j.Trace,
		CreatedAt:     j.CreatedAt,
		UpdatedAt:     j.UpdatedAt,
		StartedAt:     j.StartedAt,
		CompletedAt:   j.CompletedAt,
	}
}
