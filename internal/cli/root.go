// Package cli implements the framegrab command-line tool.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/maauso/framegrab/internal/config"
	"github.com/maauso/framegrab/internal/extract"
	"github.com/maauso/framegrab/internal/media"
	"github.com/maauso/framegrab/internal/storage"
)

// GlobalOptions are flags shared by every subcommand.
type GlobalOptions struct {
	FFmpegPath  string
	FFprobePath string
	LogLevel    string
}

// NewRootCommand builds the framegrab command tree.
func NewRootCommand() *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:   "framegrab",
		Short: "Extract the first and last frames of a video",
		Long: `framegrab captures the first and last frames of a local video file as JPEG
images using ffmpeg, and reports the video's duration and dimensions.`,
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.FFmpegPath, "ffmpeg", envOr("FFMPEG_PATH", "ffmpeg"), "Path to the ffmpeg binary")
	flags.StringVar(&opts.FFprobePath, "ffprobe", envOr("FFPROBE_PATH", "ffprobe"), "Path to the ffprobe binary")
	flags.StringVar(&opts.LogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.RegisterFlagCompletionFunc("log-level", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"debug", "info", "warn", "error"}, cobra.ShellCompDirectiveNoFileComp
	})

	cmd.AddCommand(NewExtractCommand(opts))
	cmd.AddCommand(NewProbeCommand(opts))
	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// session is the engine and scratch storage behind one command run.
type session struct {
	engine *media.FFmpegEngine
	store  *storage.LocalStorage
	logger *slog.Logger
}

func (o *GlobalOptions) newSession(stderr io.Writer) (*session, error) {
	logger := (&config.Config{LogFormat: "text", LogLevel: o.LogLevel}).NewLoggerTo(stderr)

	dir, err := os.MkdirTemp("", "framegrab-cli-")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	store, err := storage.NewLocalStorage(dir)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	engine := media.NewFFmpegEngine(o.FFmpegPath, store,
		media.WithFFprobePath(o.FFprobePath),
		media.WithLogger(logger),
	)
	return &session{engine: engine, store: store, logger: logger}, nil
}

func (s *session) close() {
	if err := os.RemoveAll(s.store.TempDir()); err != nil {
		s.logger.Warn("failed to remove scratch dir", slog.String("error", err.Error()))
	}
}

// traceWriter returns a LogSink printing timestamped lines to w.
func traceWriter(w io.Writer) extract.LogSink {
	return func(msg string) {
		fmt.Fprintln(w, extract.TraceEntry{At: time.Now(), Message: msg}.String())
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
