// Package extract captures the first and last frames of a video.
//
// The Pipeline drives an injected Engine through a fixed sequence of states:
//
//	INIT -> AWAITING_METADATA -> SEEK_FIRST -> SEEK_LAST -> FINALIZE -> SUCCEEDED
//
// Any failure moves the machine to FAILED. The engine's Resource is released
// exactly once on every path, before Extract returns.
//
// Engine notifications are routed through a single pending-operation slot:
// a slot is installed immediately before Load or Seek is requested and
// cleared as soon as a matching event arrives, so late or duplicate events
// are dropped instead of being handled twice.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

const (
	// DefaultEpsilon is how far before the end of the stream the last-frame
	// seek lands, in seconds. It is shorter than one frame at 1000 fps.
	DefaultEpsilon = 0.001
	// MaxEpsilon is the largest accepted epsilon.
	MaxEpsilon = 0.001
	// DefaultMetadataTimeout is the metadata watchdog window.
	DefaultMetadataTimeout = 15 * time.Second
)

// errWatchdog is returned by await when the watchdog fires in strict mode.
var errWatchdog = errors.New("metadata watchdog expired")

// Pipeline extracts frames using an Engine. It holds no per-request state and
// is safe for concurrent use.
type Pipeline struct {
	engine          Engine
	logger          *slog.Logger
	epsilon         float64
	metadataTimeout time.Duration
	strictTimeout   bool
	quality         int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithEpsilon sets the last-frame offset. Values outside (0, 1ms] are ignored.
func WithEpsilon(d time.Duration) Option {
	return func(p *Pipeline) {
		if s := d.Seconds(); s > 0 && s <= MaxEpsilon {
			p.epsilon = s
		}
	}
}

// WithMetadataTimeout sets the watchdog window. Zero disables the watchdog.
func WithMetadataTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d >= 0 {
			p.metadataTimeout = d
		}
	}
}

// WithStrictTimeout makes the metadata watchdog fail the extraction with
// ErrTimeout. When disabled the watchdog only logs.
func WithStrictTimeout(strict bool) Option {
	return func(p *Pipeline) {
		p.strictTimeout = strict
	}
}

// WithJPEGQuality sets the JPEG quality (1-100) of captured frames.
func WithJPEGQuality(q int) Option {
	return func(p *Pipeline) {
		if q >= 1 && q <= 100 {
			p.quality = q
		}
	}
}

// New creates a Pipeline bound to engine.
func New(engine Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine:          engine,
		logger:          slog.Default(),
		epsilon:         DefaultEpsilon,
		metadataTimeout: DefaultMetadataTimeout,
		quality:         DefaultJPEGQuality,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Epsilon returns the configured last-frame offset in seconds.
func (p *Pipeline) Epsilon() float64 {
	return p.epsilon
}

// LastFrameTarget returns the last-frame seek time for a stream of the given
// duration: max(0, duration-epsilon).
func LastFrameTarget(duration, epsilon float64) float64 {
	return math.Max(0, duration-epsilon)
}

// Extract runs one extraction of src. sink may be nil.
//
// Extract returns either a complete Result or an *Error, never both and never
// a partial result. Cancelling ctx aborts the wait at the current suspension
// point; the resource is still released before Extract returns.
func (p *Pipeline) Extract(ctx context.Context, src Source, sink LogSink) (*Result, error) {
	r := &run{
		p:      p,
		src:    src,
		sink:   sink,
		state:  StateInit,
		logger: p.logger.With(slog.String("source", src.Name)),
	}
	return r.execute(ctx)
}

// pendingOp is the single slot an engine event may complete.
type pendingOp struct {
	want EventKind
	ch   chan Event
}

// run is the state of one in-flight extraction.
type run struct {
	p      *Pipeline
	src    Source
	sink   LogSink
	logger *slog.Logger

	res         Resource
	releaseOnce sync.Once

	mu      sync.Mutex
	state   State
	pending *pendingOp

	sinkMu sync.Mutex
}

func (r *run) execute(ctx context.Context) (result *Result, err error) {
	started := time.Now()

	// Armed at INIT so the window covers binding as well as loading.
	var stall <-chan time.Time
	if r.p.metadataTimeout > 0 {
		watchdog := time.NewTimer(r.p.metadataTimeout)
		defer watchdog.Stop()
		stall = watchdog.C
	}

	defer func() {
		if err == nil {
			return
		}
		r.trace("exception: %v", err)
		_ = r.moveTo(StateFailed)
		r.logger.Info("extraction failed",
			slog.String("kind", KindName(err)),
			slog.Duration("elapsed", time.Since(started)),
			slog.String("error", err.Error()),
		)
	}()

	r.trace("binding %q (%d bytes, %s)", r.src.Name, r.src.Size, r.src.ContentType)
	res, bindErr := r.p.engine.Bind(ctx, r.src)
	if bindErr != nil {
		return nil, r.failure(ErrLoadFailure, bindErr)
	}
	r.res = res
	defer r.release()
	res.Listen(r.dispatch)
	defer res.Listen(nil)
	r.trace("resource bound")

	info, err := r.awaitMetadata(ctx, stall)
	if err != nil {
		return nil, err
	}

	if err := r.moveTo(StateSeekFirst); err != nil {
		return nil, err
	}
	first, err := r.capture(ctx, 0, "first")
	if err != nil {
		return nil, err
	}

	if err := r.moveTo(StateSeekLast); err != nil {
		return nil, err
	}
	last, err := r.capture(ctx, LastFrameTarget(info.Duration, r.p.epsilon), "last")
	if err != nil {
		return nil, err
	}

	if err := r.moveTo(StateFinalize); err != nil {
		return nil, err
	}
	meta := Metadata{
		Name:     r.src.Name,
		Size:     r.src.Size,
		Duration: info.Duration,
		Width:    info.Width,
		Height:   info.Height,
	}
	r.release()
	if err := r.moveTo(StateSucceeded); err != nil {
		return nil, err
	}

	r.trace("completed in %s", time.Since(started).Round(time.Millisecond))
	r.logger.Info("extraction completed",
		slog.Float64("duration", meta.Duration),
		slog.Int("width", meta.Width),
		slog.Int("height", meta.Height),
		slog.Duration("elapsed", time.Since(started)),
	)

	return &Result{
		Frames:   Frames{First: first, Last: last},
		Metadata: meta,
	}, nil
}

func (r *run) awaitMetadata(ctx context.Context, stall <-chan time.Time) (MediaInfo, error) {
	if err := r.moveTo(StateAwaitingMetadata); err != nil {
		return MediaInfo{}, err
	}

	r.trace("load requested")
	ev, err := r.await(ctx, EventMetadataReady, stall, func() error {
		return r.res.Load(ctx)
	})
	if err != nil {
		return MediaInfo{}, r.failure(ErrLoadFailure, err)
	}
	if ev.Kind == EventError {
		return MediaInfo{}, r.failure(ErrLoadFailure, ev.Err)
	}

	info := ev.Info
	r.trace("metadata ready: duration=%v size=%dx%d", info.Duration, info.Width, info.Height)
	if math.IsNaN(info.Duration) || math.IsInf(info.Duration, 0) || info.Duration <= 0 {
		return MediaInfo{}, r.failure(ErrInvalidMedia, fmt.Errorf("unusable duration %v", info.Duration))
	}
	return info, nil
}

// capture seeks to t, waits for completion and rasterizes the current frame.
func (r *run) capture(ctx context.Context, t float64, label string) (Frame, error) {
	r.trace("seek requested: %s frame at %.6fs", label, t)
	ev, err := r.await(ctx, EventSeeked, nil, func() error {
		return r.res.Seek(ctx, t)
	})
	if err != nil {
		return nil, r.failure(ErrSeekFailure, err)
	}
	if ev.Kind == EventError {
		return nil, r.failure(ErrSeekFailure, ev.Err)
	}
	r.trace("seeked event fired for %s frame", label)

	img, err := r.res.Render(ctx)
	if err != nil {
		return nil, r.failure(ErrCaptureFailure, err)
	}
	frame, err := EncodeJPEG(img, r.p.quality)
	if err != nil {
		return nil, r.failure(ErrCaptureFailure, err)
	}
	r.trace("%s frame captured (%d bytes)", label, len(frame))
	return frame, nil
}

// await installs the pending slot, runs action and waits for the matching
// event. stall may be nil.
func (r *run) await(ctx context.Context, want EventKind, stall <-chan time.Time, action func() error) (Event, error) {
	op := &pendingOp{want: want, ch: make(chan Event, 1)}
	r.mu.Lock()
	r.pending = op
	r.mu.Unlock()
	defer r.clearPending(op)

	if err := action(); err != nil {
		return Event{}, err
	}

	for {
		select {
		case ev := <-op.ch:
			return ev, nil
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-stall:
			if r.p.strictTimeout {
				return Event{}, fmt.Errorf("%w after %s", errWatchdog, r.p.metadataTimeout)
			}
			r.trace("watchdog: no %s event after %s, still waiting", want, r.p.metadataTimeout)
			r.logger.Warn("engine slow to report metadata",
				slog.Duration("waited", r.p.metadataTimeout),
			)
			stall = nil
		}
	}
}

// dispatch is the Resource listener. It completes the pending slot at most once.
func (r *run) dispatch(ev Event) {
	r.mu.Lock()
	op := r.pending
	if op == nil || (ev.Kind != op.want && ev.Kind != EventError) {
		r.mu.Unlock()
		r.trace("dropped unexpected %s event", ev.Kind)
		return
	}
	r.pending = nil
	r.mu.Unlock()

	op.ch <- ev
}

func (r *run) clearPending(op *pendingOp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == op {
		r.pending = nil
	}
}

func (r *run) moveTo(to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !canTransition(r.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.state, to)
	}
	r.state = to
	return nil
}

func (r *run) currentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// failure builds the returned error for the current state. Watchdog and
// context errors take precedence over kind.
func (r *run) failure(kind error, cause error) *Error {
	state := r.currentState()
	switch {
	case errors.Is(cause, errWatchdog):
		return fail(ErrTimeout, state, cause)
	case errors.Is(cause, context.Canceled):
		return fail(context.Canceled, state, cause)
	case errors.Is(cause, context.DeadlineExceeded):
		return fail(context.DeadlineExceeded, state, cause)
	default:
		return fail(kind, state, cause)
	}
}

func (r *run) release() {
	if r.res == nil {
		return
	}
	r.releaseOnce.Do(func() {
		if err := r.res.Release(); err != nil {
			r.trace("cleanup failed: %v", err)
			r.logger.Warn("failed to release resource", slog.String("error", err.Error()))
			return
		}
		r.trace("resource released")
	})
}

// trace writes to the debug log and the caller's sink. A panicking sink is
// recovered so it cannot disturb the state machine.
func (r *run) trace(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.logger.Debug(msg, slog.String("state", string(r.currentState())))
	if r.sink == nil {
		return
	}

	r.sinkMu.Lock()
	defer r.sinkMu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("log sink panicked", slog.Any("panic", rec))
		}
	}()
	r.sink(msg)
}
