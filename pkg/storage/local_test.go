package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreListAndRead(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "nested"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "one.parquet"), []byte("11111"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "nested", "two.parquet"), []byte("22"), 0o644))

	store := NewLocalStore()
	ctx := context.Background()

	refs, err := store.List(ctx, root)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	assert.Equal(t, int64(2), refs[0].Size)
	assert.Contains(t, refs[0].Path, "two.parquet")
	assert.Contains(t, refs[1].Path, "one.parquet")

	dirs, err := store.ListDirs(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, dirs)

	data, err := store.ReadAll(ctx, filepath.Join(root, "a", "one.parquet"))
	require.NoError(t, err)
	assert.Equal(t, "11111", string(data))
}

func TestLocalReaderRandomAccess(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "data.bin")
	require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))

	store := NewLocalStore()
	r, err := store.Open(context.Background(), path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, int64(10), r.Size())

	buf := make([]byte, 3)
	n, err := r.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "456", string(buf))

	off, err := r.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(8), off)
}

func TestForPathSelectsBackend(t *testing.T) {
	ctx := context.Background()

	local, err := ForPath(ctx, "/data/lake", nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, local)

	remote, err := ForPath(ctx, "s3://bucket/prefix", map[string]string{"region": "us-east-1"})
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, remote)

	_, err = ForPath(ctx, "gs://bucket/prefix", nil)
	assert.Error(t, err)
}

func TestSplitPath(t *testing.T) {
	bucket, key, err := splitPath("s3://my-bucket/a/b/c.parquet")
	require.NoError(t, err)
	assert.Equal(t, "my-bucket", bucket)
	assert.Equal(t, "a/b/c.parquet", key)

	bucket, key, err = splitPath("s3://only-bucket")
	require.NoError(t, err)
	assert.Equal(t, "only-bucket", bucket)
	assert.Empty(t, key)

	_, _, err = splitPath("/local/path")
	assert.Error(t, err)

	_, _, err = splitPath("s3://")
	assert.Error(t, err)
}
