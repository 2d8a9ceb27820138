package media

import (
	"errors"
	"fmt"
	"os"

	"github.com/abema/go-mp4"

	"github.com/maauso/framegrab/internal/extract"
)

// ErrNoContainerDuration is returned when the MP4 header carries no usable
// timescale or duration.
var ErrNoContainerDuration = errors.New("container has no duration")

// probeContainer reads duration and AVC dimensions straight from the MP4/MOV
// box tree. It is the fallback for files ffprobe cannot time.
func probeContainer(path string) (extract.MediaInfo, error) {
	f, err := os.Open(path) // #nosec G304 - path is a spooled temp file
	if err != nil {
		return extract.MediaInfo{}, fmt.Errorf("open container: %w", err)
	}
	defer func() { _ = f.Close() }()

	probe, err := mp4.Probe(f)
	if err != nil {
		return extract.MediaInfo{}, fmt.Errorf("probe container: %w", err)
	}

	var info extract.MediaInfo
	if probe.Timescale != 0 && probe.Duration != 0 {
		info.Duration = float64(probe.Duration) / float64(probe.Timescale)
	}

	for _, track := range probe.Tracks {
		if info.Duration == 0 && track.Timescale != 0 && track.Duration != 0 {
			info.Duration = float64(track.Duration) / float64(track.Timescale)
		}
		if track.Codec == mp4.CodecAVC1 && track.AVC != nil {
			info.Width = int(track.AVC.Width)
			info.Height = int(track.AVC.Height)
		}
	}

	if info.Duration == 0 {
		return info, ErrNoContainerDuration
	}
	return info, nil
}
