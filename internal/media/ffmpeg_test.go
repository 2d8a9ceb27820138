package media

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// skipIfNoFFmpeg skips the test if ffmpeg or ffprobe is not available.
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not found in PATH, skipping test", bin)
		}
	}
}

// createTestVideo creates a solid color H.264 video using ffmpeg.
func createTestVideo(t *testing.T, path string, duration float64, color string, w, h int) {
	t.Helper()

	cmd := exec.Command("ffmpeg",
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=%s:s=%dx%d:r=25:d=%.2f", color, w, h, duration),
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-pix_fmt", "yuv420p",
		path,
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("failed to create test video: %v\noutput: %s", err, output)
	}
}

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantDur  float64
		wantW    int
		wantH    int
		wantNaN  bool
		wantErr  error
		parseErr bool
	}{
		{
			name:    "format duration",
			input:   `{"streams":[{"codec_type":"video","width":1920,"height":1080,"duration":"9.960000"}],"format":{"duration":"10.000000"}}`,
			wantDur: 10, wantW: 1920, wantH: 1080,
		},
		{
			name:    "stream duration when format has none",
			input:   `{"streams":[{"codec_type":"video","width":640,"height":360,"duration":"4.5"}],"format":{"duration":"N/A"}}`,
			wantDur: 4.5, wantW: 640, wantH: 360,
		},
		{
			name:    "no duration anywhere",
			input:   `{"streams":[{"codec_type":"video","width":320,"height":240}],"format":{}}`,
			wantNaN: true, wantW: 320, wantH: 240,
		},
		{
			name:    "no video stream",
			input:   `{"streams":[],"format":{"duration":"3.0"}}`,
			wantErr: ErrNoVideoStream,
		},
		{
			name:     "garbage",
			input:    `not json`,
			parseErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseProbe([]byte(tt.input))
			switch {
			case tt.parseErr:
				require.Error(t, err)
				return
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			if tt.wantNaN {
				assert.True(t, math.IsNaN(info.Duration))
			} else {
				assert.InDelta(t, tt.wantDur, info.Duration, 1e-9)
			}
			assert.Equal(t, tt.wantW, info.Width)
			assert.Equal(t, tt.wantH, info.Height)
		})
	}
}

func TestParseDuration(t *testing.T) {
	assert.InDelta(t, 2.5, parseDuration(" 2.500000 "), 1e-9)
	assert.True(t, math.IsNaN(parseDuration("N/A")))
	assert.True(t, math.IsNaN(parseDuration("")))
	assert.True(t, math.IsNaN(parseDuration("abc")))
}

func TestFFmpegError(t *testing.T) {
	err := &FFmpegError{
		Args:   []string{"-ss", "0.000000", "-i", "input.mp4"},
		Stderr: "Error opening input file",
		Err:    fmt.Errorf("exit status 1"),
	}

	errStr := err.Error()
	if !strings.Contains(errStr, "exit status 1") {
		t.Error("Error() should contain underlying error")
	}
	if !strings.Contains(errStr, "Error opening input file") {
		t.Error("Error() should contain stderr")
	}

	unwrapped := err.Unwrap()
	if unwrapped == nil || unwrapped.Error() != "exit status 1" {
		t.Errorf("Unwrap() returned wrong error: %v", unwrapped)
	}
}

func TestProbeContainer(t *testing.T) {
	skipIfNoFFmpeg(t)

	path := filepath.Join(t.TempDir(), "clip.mp4")
	createTestVideo(t, path, 2, "blue", 96, 54)

	info, err := probeContainer(path)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, info.Duration, 0.1)
	assert.Equal(t, 96, info.Width)
	assert.Equal(t, 54, info.Height)
}

func TestProbeContainer_NotMP4(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a movie"), 0600))

	_, err := probeContainer(path)
	assert.Error(t, err)
}

func TestProbeContainer_Missing(t *testing.T) {
	_, err := probeContainer(filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}

func TestEngineError(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, 4, engineError(ctx, ErrNoVideoStream).Code)
	assert.Equal(t, 3, engineError(ctx, &FFmpegError{Err: errors.New("exit status 1")}).Code)
	assert.Equal(t, 3, engineError(ctx, fmt.Errorf("%w at 1s", ErrNoFrame)).Code)
	assert.Equal(t, 2, engineError(ctx, errors.New("open failed")).Code)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Equal(t, 1, engineError(cancelled, ErrNoVideoStream).Code)
}
