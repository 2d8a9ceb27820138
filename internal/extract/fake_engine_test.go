package extract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"
)

// fakeEngine is a scripted Engine. By default it emits events synchronously
// from inside Load and Seek.
type fakeEngine struct {
	mu sync.Mutex

	info MediaInfo

	bindErr      error
	loadErr      error
	loadEvent    error         // emitted as EventError instead of metadata
	metadataWait time.Duration // >0 delivers metadata from a goroutine after the delay
	neverLoad    bool          // never emits a load event
	async        bool          // deliver seek events from a goroutine
	duplicate    bool          // emit every event twice
	seekErrAt    map[int]error // seek call index (0-based) -> EventError
	renderNilAt  map[int]bool  // render call index -> nil image

	calls    []string
	seeks    []float64
	acquired int
	released int
}

func newFakeEngine(duration float64) *fakeEngine {
	return &fakeEngine{
		info:        MediaInfo{Duration: duration, Width: 32, Height: 18},
		seekErrAt:   map[int]error{},
		renderNilAt: map[int]bool{},
	}
}

func (e *fakeEngine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *fakeEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

func (e *fakeEngine) Seeks() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, len(e.seeks))
	copy(out, e.seeks)
	return out
}

func (e *fakeEngine) Counts() (acquired, released int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.acquired, e.released
}

func (e *fakeEngine) Bind(_ context.Context, src Source) (Resource, error) {
	e.record("bind")
	if e.bindErr != nil {
		return nil, e.bindErr
	}
	e.mu.Lock()
	e.acquired++
	e.mu.Unlock()
	return &fakeResource{engine: e}, nil
}

type fakeResource struct {
	engine *fakeEngine

	mu       sync.Mutex
	listener func(Event)
	released bool
	seekN    int
	renderN  int
	wg       sync.WaitGroup
}

func (r *fakeResource) Listen(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listener = fn
}

func (r *fakeResource) emit(ev Event) {
	r.mu.Lock()
	fn := r.listener
	r.mu.Unlock()
	if fn == nil {
		return
	}
	fn(ev)
	if r.engine.duplicate {
		fn(ev)
	}
}

func (r *fakeResource) emitLater(d time.Duration, ev Event) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		time.Sleep(d)
		r.emit(ev)
	}()
}

func (r *fakeResource) Load(_ context.Context) error {
	e := r.engine
	e.record("load")
	switch {
	case e.loadErr != nil:
		return e.loadErr
	case e.neverLoad:
		return nil
	case e.loadEvent != nil:
		r.emit(Event{Kind: EventError, Err: e.loadEvent})
	case e.metadataWait > 0:
		r.emitLater(e.metadataWait, Event{Kind: EventMetadataReady, Info: e.info})
	default:
		r.emit(Event{Kind: EventMetadataReady, Info: e.info})
	}
	return nil
}

func (r *fakeResource) Seek(_ context.Context, t float64) error {
	e := r.engine
	e.record(fmt.Sprintf("seek %.6f", t))
	e.mu.Lock()
	e.seeks = append(e.seeks, t)
	e.mu.Unlock()

	r.mu.Lock()
	n := r.seekN
	r.seekN++
	r.mu.Unlock()

	ev := Event{Kind: EventSeeked}
	if err, ok := e.seekErrAt[n]; ok {
		ev = Event{Kind: EventError, Err: err}
	}
	if e.async {
		r.emitLater(time.Millisecond, ev)
		return nil
	}
	r.emit(ev)
	return nil
}

func (r *fakeResource) Render(_ context.Context) (image.Image, error) {
	e := r.engine
	e.record("render")
	r.mu.Lock()
	n := r.renderN
	r.renderN++
	r.mu.Unlock()

	if e.renderNilAt[n] {
		return nil, errors.New("no renderable surface")
	}
	img := image.NewRGBA(image.Rect(0, 0, e.info.Width, e.info.Height))
	for y := 0; y < e.info.Height; y++ {
		for x := 0; x < e.info.Width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(40 * n), G: 100, B: 200, A: 255})
		}
	}
	return img, nil
}

// Release counts every call so double releases show up in Counts.
func (r *fakeResource) Release() error {
	r.engine.record("release")
	r.mu.Lock()
	r.released = true
	r.mu.Unlock()
	r.engine.mu.Lock()
	r.engine.released++
	r.engine.mu.Unlock()
	return nil
}
