package media

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/framegrab/internal/extract"
	"github.com/maauso/framegrab/internal/storage"
)

func newTestEngine(t *testing.T) (*FFmpegEngine, *storage.LocalStorage) {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewFFmpegEngine("", store, WithLogger(logger)), store
}

func fileSource(t *testing.T, path string) extract.Source {
	t.Helper()
	st, err := os.Stat(path)
	require.NoError(t, err)
	return extract.Source{
		Name:        filepath.Base(path),
		Size:        st.Size(),
		ContentType: "video/mp4",
		Open: func() (io.ReadCloser, error) {
			return os.Open(path) // #nosec G304 - test fixture
		},
	}
}

// waitEvent returns the next event delivered to res.
func waitEvent(t *testing.T, events <-chan extract.Event) extract.Event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for engine event")
		return extract.Event{}
	}
}

func TestNewFFmpegEngine(t *testing.T) {
	t.Run("default paths", func(t *testing.T) {
		e := NewFFmpegEngine("", nil)
		assert.Equal(t, "ffmpeg", e.ffmpegPath)
		assert.Equal(t, "ffprobe", e.ffprobePath)
	})

	t.Run("custom paths", func(t *testing.T) {
		e := NewFFmpegEngine("/usr/local/bin/ffmpeg", nil, WithFFprobePath("/usr/local/bin/ffprobe"))
		assert.Equal(t, "/usr/local/bin/ffmpeg", e.ffmpegPath)
		assert.Equal(t, "/usr/local/bin/ffprobe", e.ffprobePath)
	})
}

func TestBind_OpenError(t *testing.T) {
	e, _ := newTestEngine(t)
	src := extract.Source{
		Name: "broken.mp4",
		Open: func() (io.ReadCloser, error) { return nil, errors.New("gone") },
	}

	_, err := e.Bind(context.Background(), src)
	assert.Error(t, err)

	_, err = e.Bind(context.Background(), extract.Source{Name: "nil.mp4"})
	assert.Error(t, err)
}

func TestResource_ReleaseRemovesSpool(t *testing.T) {
	e, store := newTestEngine(t)
	src := extract.Source{
		Name: "clip.mp4",
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader([]byte("abc"))), nil },
	}

	res, err := e.Bind(context.Background(), src)
	require.NoError(t, err)

	path := res.(*resource).path
	assert.Equal(t, store.TempDir(), filepath.Dir(path))
	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, res.Release())
	require.NoError(t, res.Release(), "release is idempotent")
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, res.Load(context.Background()), ErrReleased)
	assert.ErrorIs(t, res.Seek(context.Background(), 0), ErrReleased)
	_, err = res.Render(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestResource_LoadNotAVideo(t *testing.T) {
	skipIfNoFFmpeg(t)

	e, _ := newTestEngine(t)
	src := extract.Source{
		Name: "notes.txt",
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader([]byte("hello"))), nil },
	}
	res, err := e.Bind(context.Background(), src)
	require.NoError(t, err)
	defer func() { _ = res.Release() }()

	events := make(chan extract.Event, 4)
	res.Listen(func(ev extract.Event) { events <- ev })
	require.NoError(t, res.Load(context.Background()))

	ev := waitEvent(t, events)
	require.Equal(t, extract.EventError, ev.Kind)
	var engErr *extract.EngineError
	require.ErrorAs(t, ev.Err, &engErr)
	assert.Equal(t, extract.CodeDecode, engErr.Code)
}

func TestResource_LoadSeekRender(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "red.mp4")
	createTestVideo(t, path, 2, "red", 64, 48)

	e, _ := newTestEngine(t)
	res, err := e.Bind(context.Background(), fileSource(t, path))
	require.NoError(t, err)
	defer func() { _ = res.Release() }()

	events := make(chan extract.Event, 4)
	res.Listen(func(ev extract.Event) { events <- ev })

	require.NoError(t, res.Load(context.Background()))
	ev := waitEvent(t, events)
	require.Equal(t, extract.EventMetadataReady, ev.Kind, "unexpected event: %v", ev.Err)
	assert.InDelta(t, 2.0, ev.Info.Duration, 0.1)
	assert.Equal(t, 64, ev.Info.Width)
	assert.Equal(t, 48, ev.Info.Height)

	require.NoError(t, res.Seek(context.Background(), 0))
	ev = waitEvent(t, events)
	require.Equal(t, extract.EventSeeked, ev.Kind, "unexpected event: %v", ev.Err)

	img, err := res.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, img.Bounds().Dx())
	r, g, b, _ := color.RGBAModel.Convert(img.At(10, 10)).RGBA()
	assert.Greater(t, r>>8, uint32(200), "frame should be red")
	assert.Less(t, g>>8, uint32(60))
	assert.Less(t, b>>8, uint32(60))
}

func TestResource_SeekPastEndFallsBackToTail(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "green.mp4")
	createTestVideo(t, path, 1, "green", 32, 32)

	e, _ := newTestEngine(t)
	res, err := e.Bind(context.Background(), fileSource(t, path))
	require.NoError(t, err)
	defer func() { _ = res.Release() }()

	events := make(chan extract.Event, 4)
	res.Listen(func(ev extract.Event) { events <- ev })

	// Well past the last frame timestamp.
	require.NoError(t, res.Seek(context.Background(), 5))
	ev := waitEvent(t, events)
	require.Equal(t, extract.EventSeeked, ev.Kind, "unexpected event: %v", ev.Err)

	img, err := res.Render(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 32, img.Bounds().Dx())
}

func TestEngine_PipelineEndToEnd(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	createTestVideo(t, path, 3, "blue", 80, 60)

	e, store := newTestEngine(t)
	p := extract.New(e, extract.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	tr := extract.NewTrace()

	res, err := p.Extract(context.Background(), fileSource(t, path), tr.Sink())
	require.NoError(t, err)

	assert.InDelta(t, 3.0, res.Metadata.Duration, 0.1)
	assert.Equal(t, 80, res.Metadata.Width)
	assert.Equal(t, 60, res.Metadata.Height)
	assert.Equal(t, []byte{0xFF, 0xD8}, []byte(res.Frames.First[:2]))
	assert.Equal(t, []byte{0xFF, 0xD8}, []byte(res.Frames.Last[:2]))

	entries, err := os.ReadDir(store.TempDir())
	require.NoError(t, err)
	assert.Empty(t, entries, "spooled copy is removed after extraction")
}

func TestProbe(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "probe.mp4")
	createTestVideo(t, path, 1.5, "white", 48, 32)

	e, _ := newTestEngine(t)
	info, err := e.Probe(context.Background(), path)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, info.Duration, 0.1)
	assert.Equal(t, 48, info.Width)
	assert.Equal(t, 32, info.Height)
}
