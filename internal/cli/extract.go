package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/framegrab/internal/extract"
	"github.com/maauso/framegrab/internal/media"
	"github.com/maauso/framegrab/internal/present"
)

// ErrNotVideo is returned for input files outside the video/ MIME family.
var ErrNotVideo = errors.New("not a video file")

// ExtractOptions are the flags of the extract command.
type ExtractOptions struct {
	OutDir          string
	Trace           bool
	StrictTimeout   bool
	Epsilon         time.Duration
	MetadataTimeout time.Duration
	Quality         int
}

// NewExtractCommand creates the extract command.
func NewExtractCommand(global *GlobalOptions) *cobra.Command {
	opts := &ExtractOptions{}

	cmd := &cobra.Command{
		Use:   "extract FILE",
		Short: "Write the first and last frames of a video as JPEGs",
		Example: `  framegrab extract clip.mp4
  framegrab extract clip.mp4 --out ./frames --trace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd, global, opts, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.OutDir, "out", "o", ".", "Directory to write first_frame.jpg and last_frame.jpg to")
	flags.BoolVar(&opts.Trace, "trace", false, "Print the extraction trace to stderr")
	flags.BoolVar(&opts.StrictTimeout, "strict-timeout", false, "Fail when metadata does not arrive within --metadata-timeout")
	flags.DurationVar(&opts.Epsilon, "epsilon", time.Millisecond, "How far before the end the last frame is taken (max 1ms)")
	flags.DurationVar(&opts.MetadataTimeout, "metadata-timeout", extract.DefaultMetadataTimeout, "Metadata watchdog window")
	flags.IntVarP(&opts.Quality, "quality", "q", extract.DefaultJPEGQuality, "JPEG quality (1-100)")

	return cmd
}

func runExtract(cmd *cobra.Command, global *GlobalOptions, opts *ExtractOptions, path string) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	src, err := openVideo(path, stderr)
	if err != nil {
		return err
	}

	s, err := global.newSession(stderr)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	pipeline := extract.New(s.engine,
		extract.WithLogger(s.logger),
		extract.WithEpsilon(opts.Epsilon),
		extract.WithMetadataTimeout(opts.MetadataTimeout),
		extract.WithStrictTimeout(opts.StrictTimeout),
		extract.WithJPEGQuality(opts.Quality),
	)

	var sink extract.LogSink
	if opts.Trace {
		sink = traceWriter(stderr)
	}

	result, err := pipeline.Extract(ctx, src, sink)
	if err != nil {
		if kind := extract.KindName(err); kind != "" {
			return fmt.Errorf("extraction failed (%s): %w", kind, err)
		}
		return fmt.Errorf("extraction failed: %w", err)
	}

	if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, f := range []struct {
		label string
		data  extract.Frame
	}{
		{present.LabelFirst, result.Frames.First},
		{present.LabelLast, result.Frames.Last},
	} {
		out := filepath.Join(opts.OutDir, present.FrameFilename(f.label))
		if err := os.WriteFile(out, f.data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		fmt.Fprintf(stdout, "%s: %s\n", f.label, out)
	}

	fmt.Fprintf(stdout, "%s: %s\n", result.Metadata.Name, present.Summary(result.Metadata))
	return nil
}

// openVideo checks that path is a regular file whose content sniffs as
// video and describes it as a Source. Files above the soft size limit get a
// warning on w.
func openVideo(path string, w io.Writer) (extract.Source, error) {
	info, err := os.Stat(path)
	if err != nil {
		return extract.Source{}, err
	}
	if info.IsDir() {
		return extract.Source{}, fmt.Errorf("%s is a directory", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return extract.Source{}, err
	}
	detected, ok, err := media.SniffVideo(f)
	_ = f.Close()
	if err != nil {
		return extract.Source{}, fmt.Errorf("read %s: %w", path, err)
	}
	if !ok {
		return extract.Source{}, fmt.Errorf("%w: %s looks like %s", ErrNotVideo, filepath.Base(path), detected)
	}

	if info.Size() > media.SoftSizeLimit {
		fmt.Fprintf(w, "warning: %s is larger than %s, extraction may be slow\n",
			present.FormatBytes(info.Size(), 2), present.FormatBytes(media.SoftSizeLimit, 0))
	}

	return extract.Source{
		Name:        filepath.Base(path),
		Size:        info.Size(),
		ContentType: detected,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}
