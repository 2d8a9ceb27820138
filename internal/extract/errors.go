package extract

import (
	"errors"
	"fmt"
)

// Failure kinds. Every pipeline failure matches exactly one of these via errors.Is.
var (
	// ErrLoadFailure is returned when the engine cannot open or decode the resource.
	ErrLoadFailure = errors.New("load failure")
	// ErrInvalidMedia is returned when metadata reports a zero or non-finite duration.
	ErrInvalidMedia = errors.New("invalid media")
	// ErrSeekFailure is returned when the engine fails while seeking.
	ErrSeekFailure = errors.New("seek failure")
	// ErrCaptureFailure is returned when the decoded frame cannot be rasterized.
	ErrCaptureFailure = errors.New("capture failure")
	// ErrTimeout is returned when metadata does not arrive within the watchdog
	// window and strict timeouts are enabled.
	ErrTimeout = errors.New("timeout")
)

// Error is the error returned by Pipeline.Extract.
type Error struct {
	// Kind is one of the Err* sentinels above.
	Kind error
	// State is the pipeline state in which the failure happened.
	State State
	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extract: %v during %s", e.Kind, e.State)
	}
	return fmt.Sprintf("extract: %v during %s: %v", e.Kind, e.State, e.Err)
}

// Is reports whether target is the failure kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindName returns a stable machine-readable name for the failure kind of err,
// or "" if err is not a pipeline error.
func KindName(err error) string {
	switch {
	case errors.Is(err, ErrLoadFailure):
		return "LOAD_FAILURE"
	case errors.Is(err, ErrInvalidMedia):
		return "INVALID_MEDIA"
	case errors.Is(err, ErrSeekFailure):
		return "SEEK_FAILURE"
	case errors.Is(err, ErrCaptureFailure):
		return "CAPTURE_FAILURE"
	case errors.Is(err, ErrTimeout):
		return "TIMEOUT"
	default:
		return ""
	}
}

// EngineError is an error reported by a decode engine, shaped after the
// code/message pair that media backends expose.
type EngineError struct {
	Code    int
	Message string
	Err     error
}

// Engine error codes.
const (
	CodeAborted     = 1
	CodeNetwork     = 2
	CodeDecode      = 3
	CodeUnsupported = 4
)

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine error %d: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("engine error %d: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

func fail(kind error, state State, cause error) *Error {
	return &Error{Kind: kind, State: state, Err: cause}
}
