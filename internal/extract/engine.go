package extract

import (
	"context"
	"image"
	"io"
)

// Source is the caller-owned video handed to one extraction. The pipeline
// opens it once while binding and never keeps it after Extract returns.
type Source struct {
	// Name is the original file name.
	Name string
	// Size is the declared size in bytes.
	Size int64
	// ContentType is the declared MIME type (for example "video/mp4").
	ContentType string
	// Open returns a fresh reader over the video bytes.
	Open func() (io.ReadCloser, error)
}

// MediaInfo is what an engine reports once metadata is decodable.
type MediaInfo struct {
	// Duration in seconds. May be zero, NaN or +Inf for degenerate streams.
	Duration float64
	Width    int
	Height   int
}

// EventKind identifies an engine notification.
type EventKind int

const (
	// EventMetadataReady fires once after Load when MediaInfo is available.
	EventMetadataReady EventKind = iota + 1
	// EventSeeked fires when the last requested seek has completed.
	EventSeeked
	// EventError fires when the engine fails to load or seek.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventMetadataReady:
		return "metadata-ready"
	case EventSeeked:
		return "seeked"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single notification delivered to a Resource listener.
type Event struct {
	Kind EventKind
	// Info is set for EventMetadataReady.
	Info MediaInfo
	// Err is set for EventError.
	Err error
}

// Engine turns a Source into a decodable Resource.
type Engine interface {
	// Bind creates the Decodable Resource for src. The returned Resource must
	// be released by the caller.
	Bind(ctx context.Context, src Source) (Resource, error)
}

// Resource is one engine binding. Load and Seek only request work: their
// outcome arrives as an Event on the current listener, either synchronously
// from inside the call or later from another goroutine.
type Resource interface {
	// Listen installs fn as the only listener. A nil fn removes it.
	Listen(fn func(Event))
	// Load starts reading metadata. Completion is EventMetadataReady or EventError.
	Load(ctx context.Context) error
	// Seek positions the resource at t seconds. Completion is EventSeeked or EventError.
	Seek(ctx context.Context, t float64) error
	// Render returns the frame at the current position.
	Render(ctx context.Context) (image.Image, error)
	// Release frees the binding. It is safe to call more than once.
	Release() error
}
