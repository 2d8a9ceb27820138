// Package bootstrap provides dependency initialization for the framegrab server.
package bootstrap

import (
	"fmt"
	"log/slog"

	"github.com/maauso/framegrab/internal/config"
	"github.com/maauso/framegrab/internal/extract"
	"github.com/maauso/framegrab/internal/job"
	"github.com/maauso/framegrab/internal/media"
	"github.com/maauso/framegrab/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Storage           storage.Storage
	Engine            *media.FFmpegEngine
	Pipeline          *extract.Pipeline
	ExtractionService *job.ExtractionService
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	// Initialize storage
	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	// Initialize the decode engine and the extraction pipeline on top of it
	engine := media.NewFFmpegEngine(cfg.FFmpegPath, store,
		media.WithFFprobePath(cfg.FFprobePath),
		media.WithLogger(logger),
	)
	pipeline := extract.New(engine, PipelineOptions(cfg, logger)...)

	// Initialize job repository
	repo := job.NewMemoryRepository()

	svc := job.NewExtractionService(
		repo,
		pipeline,
		store,
		job.WithLogger(logger),
		job.WithMaxConcurrent(cfg.MaxConcurrentExtractions),
		job.WithTTL(cfg.JobTTL),
	)

	return &Dependencies{
		Storage:           store,
		Engine:            engine,
		Pipeline:          pipeline,
		ExtractionService: svc,
	}, nil
}

// PipelineOptions maps the configuration onto pipeline options.
func PipelineOptions(cfg *config.Config, logger *slog.Logger) []extract.Option {
	return []extract.Option{
		extract.WithLogger(logger),
		extract.WithEpsilon(cfg.SeekEpsilon),
		extract.WithMetadataTimeout(cfg.MetadataTimeout),
		extract.WithStrictTimeout(cfg.StrictMetadataTimeout),
		extract.WithJPEGQuality(cfg.JPEGQuality),
	}
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
