// Package media implements the frame-extraction engine on top of the ffmpeg
// and ffprobe command line tools.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/maauso/framegrab/internal/extract"
)

// Static errors for media operations.
var (
	// ErrNoVideoStream is returned when ffprobe finds no video stream.
	ErrNoVideoStream = errors.New("no video stream found")
	// ErrNoFrame is returned when ffmpeg decodes nothing at the requested position.
	ErrNoFrame = errors.New("no frame decoded")
	// ErrFFprobeExecution is returned when ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrReleased is returned when a released resource is used.
	ErrReleased = errors.New("resource already released")
)

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// runFFmpeg executes ffmpeg with the given arguments and returns its stdout.
func (e *FFmpegEngine) runFFmpeg(ctx context.Context, args []string) ([]byte, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return nil, &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return stdout.Bytes(), nil
}

// ffprobeOutput is the subset of `ffprobe -of json` used here.
type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		Duration  string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// runFFprobe reads the container duration and the first video stream.
func (e *FFmpegEngine) runFFprobe(ctx context.Context, path string) ([]byte, error) {
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, e.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "format=duration:stream=codec_type,width,height,duration",
		"-of", "json",
		path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// parseProbe decodes ffprobe JSON. Duration is NaN when neither the container
// nor the stream reports one.
func parseProbe(data []byte) (extract.MediaInfo, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return extract.MediaInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	for _, s := range out.Streams {
		if s.CodecType != "" && s.CodecType != "video" {
			continue
		}
		info := extract.MediaInfo{
			Duration: parseDuration(out.Format.Duration),
			Width:    s.Width,
			Height:   s.Height,
		}
		if math.IsNaN(info.Duration) {
			info.Duration = parseDuration(s.Duration)
		}
		return info, nil
	}

	return extract.MediaInfo{}, ErrNoVideoStream
}

// parseDuration parses an ffprobe duration field. "N/A" and empty values
// yield NaN.
func parseDuration(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return math.NaN()
	}
	d, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return d
}

// decodeAt decodes the frame at t seconds as PNG over a pipe.
func (e *FFmpegEngine) decodeAt(ctx context.Context, path string, t float64) (image.Image, error) {
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-ss", strconv.FormatFloat(t, 'f', 6, 64), // Input seek
		"-i", path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	}

	out, err := e.runFFmpeg(ctx, args)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w at %.6fs", ErrNoFrame, t)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

// decodeTail decodes the last second of the stream, keeping only the final
// frame. Used when a seek just before the reported end lands past the last
// decodable frame.
func (e *FFmpegEngine) decodeTail(ctx context.Context, path string) (image.Image, error) {
	out, err := e.storage.SaveTemp(ctx, "tail.png", bytes.NewReader(nil))
	if err != nil {
		return nil, fmt.Errorf("reserve tail frame: %w", err)
	}
	defer func() { _ = e.storage.CleanupTemp(context.WithoutCancel(ctx), []string{out}) }()

	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-sseof", "-1", // Start one second before the end
		"-i", path,
		"-update", "1", // Overwrite the single output image with every frame
		"-vcodec", "png",
		"-f", "image2",
		out,
	}
	if _, err := e.runFFmpeg(ctx, args); err != nil {
		return nil, err
	}

	rc, err := e.storage.LoadTemp(ctx, out)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	img, err := png.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%w: tail decode: %w", ErrNoFrame, err)
	}
	return img, nil
}
