package cli

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/maauso/framegrab/internal/present"
)

// ProbeResult is the JSON document printed by the probe command.
type ProbeResult struct {
	Name        string `json:"name"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
	// Duration is null when the stream length is unknown.
	Duration *float64 `json:"duration"`
	Width    int      `json:"width"`
	Height   int      `json:"height"`
	Summary  string   `json:"summary"`
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(global *GlobalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "probe FILE",
		Short:   "Print a video's duration and dimensions as JSON",
		Example: `  framegrab probe clip.mp4`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, global, args[0])
		},
	}
}

func runProbe(cmd *cobra.Command, global *GlobalOptions, path string) error {
	src, err := openVideo(path, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	s, err := global.newSession(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	info, err := s.engine.Probe(ctx, path)
	if err != nil {
		return fmt.Errorf("probe %s: %w", src.Name, err)
	}

	res := ProbeResult{
		Name:        src.Name,
		Size:        src.Size,
		ContentType: src.ContentType,
		Width:       info.Width,
		Height:      info.Height,
	}
	if !math.IsNaN(info.Duration) && !math.IsInf(info.Duration, 0) {
		d := info.Duration
		res.Duration = &d
	}
	res.Summary = fmt.Sprintf("%s • %s • %dx%d",
		present.FormatDuration(info.Duration), present.FormatBytes(src.Size, 2), info.Width, info.Height)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
