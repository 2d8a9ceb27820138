package bootstrap

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/framegrab/internal/config"
	"github.com/maauso/framegrab/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		TempDir:                  t.TempDir(),
		FFmpegPath:               "ffmpeg",
		FFprobePath:              "ffprobe",
		MaxConcurrentExtractions: 2,
		MaxUploadMB:              500,
		SeekEpsilon:              time.Millisecond,
		MetadataTimeout:          15 * time.Second,
		JPEGQuality:              90,
		JobTTL:                   30 * time.Minute,
	}
}

func TestNewDependencies_LocalStorage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	deps, err := NewDependencies(testConfig(t), logger)
	require.NoError(t, err)

	assert.IsType(t, &storage.LocalStorage{}, deps.Storage)
	assert.NotNil(t, deps.Engine)
	assert.NotNil(t, deps.Pipeline)
	assert.NotNil(t, deps.ExtractionService)
	assert.Equal(t, 0.001, deps.Pipeline.Epsilon())
}

func TestNewDependencies_S3Storage(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t)
	cfg.S3Bucket = "frames"
	cfg.S3Region = "us-east-1"
	cfg.S3Endpoint = "http://localhost:9000"
	cfg.AWSAccessKeyID = "key"
	cfg.AWSSecretAccessKey = "secret"

	deps, err := NewDependencies(cfg, logger)
	require.NoError(t, err)

	s3Store, ok := deps.Storage.(*storage.S3Storage)
	require.True(t, ok)
	assert.Equal(t, "http://localhost:9000/frames/a.jpg", s3Store.ObjectURL("a.jpg"))
}

func TestPipelineOptions_Epsilon(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := testConfig(t)
	cfg.SeekEpsilon = 500 * time.Microsecond

	deps, err := NewDependencies(cfg, logger)
	require.NoError(t, err)
	assert.InDelta(t, 0.0005, deps.Pipeline.Epsilon(), 1e-12)
}
