package extract

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
)

// FrameContentType is the MIME type of every captured Frame.
const FrameContentType = "image/jpeg"

// DefaultJPEGQuality matches a 0.9 quality factor.
const DefaultJPEGQuality = 90

// ErrEmptyImage is returned when there is nothing to rasterize.
var ErrEmptyImage = errors.New("empty image")

// Frame is an encoded JPEG still.
type Frame []byte

// DataURL returns the frame as a self-contained data URL.
func (f Frame) DataURL() string {
	return "data:" + FrameContentType + ";base64," + base64.StdEncoding.EncodeToString(f)
}

// Frames holds the two captures of one extraction.
type Frames struct {
	First Frame
	Last  Frame
}

// Metadata describes the source video.
type Metadata struct {
	Name     string  `json:"name"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
	Width    int     `json:"width"`
	Height   int     `json:"height"`
}

// Result is the terminal value of a successful extraction.
type Result struct {
	Frames   Frames
	Metadata Metadata
}

// EncodeJPEG rasterizes img into a JPEG Frame.
func EncodeJPEG(img image.Image, quality int) (Frame, error) {
	if img == nil {
		return nil, ErrEmptyImage
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrEmptyImage, b.Dx(), b.Dy())
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return Frame(out.Bytes()), nil
}
