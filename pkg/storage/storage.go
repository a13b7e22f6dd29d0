// Package storage provides unified file access over local disk and object
// storage. Backends are selected by path scheme so file-lake adapters stay
// agnostic of where a table physically lives.
package storage

import (
	"context"
	"io"
	"strings"

	"github.com/spectrumhq/spectrum/pkg/errors"
)

// FileRef points at one physical file.
type FileRef struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Reader is a random-access handle suitable for footer reading: parquet
// readers seek to the tail without streaming the file body.
type Reader interface {
	io.ReaderAt
	io.Seeker
	io.Closer
	Size() int64
}

// ObjectStore abstracts one storage backend.
type ObjectStore interface {
	// List returns every file under prefix, recursively.
	List(ctx context.Context, prefix string) ([]FileRef, error)
	// ListDirs returns the immediate child directories of prefix.
	ListDirs(ctx context.Context, prefix string) ([]string, error)
	// Open returns a random-access reader for one file.
	Open(ctx context.Context, path string) (Reader, error)
	// ReadAll reads one small file fully (delta log commits and the like).
	ReadAll(ctx context.Context, path string) ([]byte, error)
}

// ForPath selects a backend by path scheme. s3:// paths get the object
// storage backend; everything else is treated as a local filesystem path.
// Credentials are only consulted by remote backends.
func ForPath(ctx context.Context, path string, credentials map[string]string) (ObjectStore, error) {
	switch {
	case strings.HasPrefix(path, "s3://"):
		return NewS3Store(ctx, credentials)
	case strings.Contains(path, "://"):
		scheme := path[:strings.Index(path, "://")]
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "unsupported storage scheme "+scheme)
	default:
		return NewLocalStore(), nil
	}
}
