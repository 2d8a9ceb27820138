package media

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"

	"github.com/maauso/framegrab/internal/extract"
	"github.com/maauso/framegrab/internal/storage"
)

// FFmpegEngine implements extract.Engine using the ffmpeg CLI. Each bound
// Resource owns a spooled copy of the source in temp storage.
type FFmpegEngine struct {
	ffmpegPath  string
	ffprobePath string
	storage     storage.Storage
	logger      *slog.Logger
}

// EngineOption configures an FFmpegEngine.
type EngineOption func(*FFmpegEngine)

// WithFFprobePath sets the ffprobe binary. Defaults to "ffprobe".
func WithFFprobePath(path string) EngineOption {
	return func(e *FFmpegEngine) {
		if path != "" {
			e.ffprobePath = path
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *FFmpegEngine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewFFmpegEngine creates a new FFmpegEngine.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpegEngine(ffmpegPath string, store storage.Storage, opts ...EngineOption) *FFmpegEngine {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	e := &FFmpegEngine{
		ffmpegPath:  ffmpegPath,
		ffprobePath: "ffprobe",
		storage:     store,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Probe reports duration and dimensions of the video at path. A duration
// neither ffprobe nor the container header can provide is +Inf.
func (e *FFmpegEngine) Probe(ctx context.Context, path string) (extract.MediaInfo, error) {
	out, err := e.runFFprobe(ctx, path)
	if err != nil {
		return extract.MediaInfo{}, err
	}

	info, err := parseProbe(out)
	if err != nil {
		return extract.MediaInfo{}, err
	}
	if !math.IsNaN(info.Duration) {
		return info, nil
	}

	fallback, err := probeContainer(path)
	if err != nil {
		e.logger.Debug("container probe failed", slog.String("path", path), slog.String("error", err.Error()))
		info.Duration = math.Inf(1)
		return info, nil
	}
	info.Duration = fallback.Duration
	if info.Width == 0 || info.Height == 0 {
		info.Width, info.Height = fallback.Width, fallback.Height
	}
	return info, nil
}

// Bind spools src into temp storage and returns a Resource over the copy.
func (e *FFmpegEngine) Bind(ctx context.Context, src extract.Source) (extract.Resource, error) {
	if src.Open == nil {
		return nil, errors.New("source has no reader")
	}
	rc, err := src.Open()
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = rc.Close() }()

	path, err := e.storage.SaveTemp(ctx, src.Name, rc)
	if err != nil {
		return nil, fmt.Errorf("spool source: %w", err)
	}

	rctx, cancel := context.WithCancel(context.Background())
	return &resource{
		engine: e,
		path:   path,
		ctx:    rctx,
		cancel: cancel,
		logger: e.logger.With(slog.String("path", path)),
	}, nil
}

// resource is one spooled binding. Load and Seek run ffprobe/ffmpeg on a
// goroutine and report through the listener.
type resource struct {
	engine *FFmpegEngine
	path   string
	logger *slog.Logger

	// ctx is cancelled by Release to stop in-flight commands.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	listener   func(extract.Event)
	frame      image.Image
	released   bool
	releaseErr error
}

func (r *resource) Listen(fn func(extract.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

func (r *resource) Load(ctx context.Context) error {
	return r.start(ctx, func(opCtx context.Context) {
		info, err := r.engine.Probe(opCtx, r.path)
		if err != nil {
			r.emit(extract.Event{Kind: extract.EventError, Err: engineError(opCtx, err)})
			return
		}
		r.emit(extract.Event{Kind: extract.EventMetadataReady, Info: info})
	})
}

func (r *resource) Seek(ctx context.Context, t float64) error {
	return r.start(ctx, func(opCtx context.Context) {
		img, err := r.engine.decodeAt(opCtx, r.path, t)
		if err != nil && t > 0 && opCtx.Err() == nil {
			r.logger.Debug("no frame at target, decoding tail", slog.Float64("target", t))
			img, err = r.engine.decodeTail(opCtx, r.path)
		}
		if err != nil {
			r.emit(extract.Event{Kind: extract.EventError, Err: engineError(opCtx, err)})
			return
		}

		r.mu.Lock()
		r.frame = img
		r.mu.Unlock()
		r.emit(extract.Event{Kind: extract.EventSeeked})
	})
}

func (r *resource) Render(_ context.Context) (image.Image, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frame == nil {
		return nil, ErrNoFrame
	}
	return r.frame, nil
}

// Release stops in-flight commands, waits for them and removes the spooled
// copy. Later calls return the first result.
func (r *resource) Release() error {
	r.mu.Lock()
	if r.released {
		err := r.releaseErr
		r.mu.Unlock()
		return err
	}
	r.released = true
	r.listener = nil
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()

	err := r.engine.storage.CleanupTemp(context.Background(), []string{r.path})

	r.mu.Lock()
	r.releaseErr = err
	r.frame = nil
	r.mu.Unlock()
	return err
}

// start runs op on a goroutine bound to both ctx and the resource lifetime.
func (r *resource) start(ctx context.Context, op func(context.Context)) error {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return ErrReleased
	}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		opCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(r.ctx, cancel)
		defer stop()
		op(opCtx)
	}()
	return nil
}

func (r *resource) emit(ev extract.Event) {
	r.mu.Lock()
	fn := r.listener
	r.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

// engineError classifies a command failure.
func engineError(ctx context.Context, err error) *extract.EngineError {
	var ffErr *FFmpegError
	switch {
	case ctx.Err() != nil:
		return &extract.EngineError{Code: extract.CodeAborted, Message: "operation aborted", Err: err}
	case errors.Is(err, ErrNoVideoStream):
		return &extract.EngineError{Code: extract.CodeUnsupported, Message: "source not supported", Err: err}
	case errors.Is(err, ErrNoFrame), errors.As(err, &ffErr), errors.Is(err, ErrFFprobeExecution):
		return &extract.EngineError{Code: extract.CodeDecode, Message: "decode failed", Err: err}
	default:
		return &extract.EngineError{Code: extract.CodeNetwork, Message: "source unavailable", Err: err}
	}
}
