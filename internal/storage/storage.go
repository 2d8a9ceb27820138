// Package storage provides the scratch space that backs decodable resources
// and the optional S3 export of captured frames.
package storage

import (
	"context"
	"io"
)

// Storage defines temporary file handling plus optional S3 export.
type Storage interface {
	// SaveTemp saves data to a new temporary file and returns its path.
	// The name parameter is used as a hint for the filename.
	SaveTemp(ctx context.Context, name string, data io.Reader) (path string, err error)

	// LoadTemp opens a temporary file. The caller closes the returned ReadCloser.
	LoadTemp(ctx context.Context, path string) (io.ReadCloser, error)

	// CleanupTemp removes the specified temporary files.
	// Missing files are not an error.
	CleanupTemp(ctx context.Context, paths []string) error

	// UploadToS3 uploads data under key and returns its URL.
	// Returns ErrS3NotConfigured if S3 is not configured.
	UploadToS3(ctx context.Context, key, contentType string, data io.Reader) (url string, err error)
}
