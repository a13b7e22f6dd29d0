package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// LocalStore serves plain filesystem paths.
type LocalStore struct{}

// NewLocalStore creates a local filesystem backend.
func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

// List walks prefix recursively and returns every regular file.
func (l *LocalStore) List(ctx context.Context, prefix string) ([]FileRef, error) {
	var refs []FileRef
	err := filepath.WalkDir(prefix, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		refs = append(refs, FileRef{Path: path, Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// ListDirs returns the immediate child directories of prefix.
func (l *LocalStore) ListDirs(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list directories of %s: %w", prefix, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// Open opens one file for random access.
func (l *LocalStore) Open(ctx context.Context, path string) (Reader, error) {
	f, err := os.Open(path) //nolint:gosec // G304: paths come from listings under a registered root
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return &localReader{File: f, size: info.Size()}, nil
}

// ReadAll reads one file fully.
func (l *LocalStore) ReadAll(ctx context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: see Open
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

type localReader struct {
	*os.File
	size int64
}

func (r *localReader) Size() int64 { return r.size }
