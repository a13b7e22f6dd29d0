package delta

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/storage"
)

const testSchemaString = `{"type":"struct","fields":[` +
	`{"name":"id","type":"long","nullable":false,"metadata":{}},` +
	`{"name":"region","type":"string","nullable":true,"metadata":{}},` +
	`{"name":"price","type":{"type":"decimal(10,2)"},"nullable":true,"metadata":{}}]}`

func addAction(t *testing.T, path string, size int64, region string, rows, nulls int64) string {
	t.Helper()
	stats, err := json.Marshal(map[string]interface{}{
		"numRecords": rows,
		"minValues":  map[string]interface{}{"id": 1},
		"maxValues":  map[string]interface{}{"id": rows},
		"nullCount":  map[string]interface{}{"id": nulls},
	})
	require.NoError(t, err)

	line, err := json.Marshal(map[string]interface{}{
		"add": map[string]interface{}{
			"path":            path,
			"size":            size,
			"partitionValues": map[string]string{"region": region},
			"stats":           string(stats),
		},
	})
	require.NoError(t, err)
	return string(line)
}

func writeCommit(t *testing.T, tableRoot string, version int, lines ...string) {
	t.Helper()
	logDir := filepath.Join(tableRoot, LogDirName)
	require.NoError(t, os.MkdirAll(logDir, 0o755))

	var body string
	for _, l := range lines {
		body += l + "\n"
	}
	name := fmt.Sprintf("%020d.json", version)
	require.NoError(t, os.WriteFile(filepath.Join(logDir, name), []byte(body), 0o644))
}

func TestCurrentSnapshotExcludesSupersededFiles(t *testing.T) {
	tableRoot := t.TempDir()

	metaLine := fmt.Sprintf(
		`{"metaData":{"id":"m0","schemaString":%s,"partitionColumns":["region"]}}`,
		mustQuote(t, testSchemaString))
	writeCommit(t, tableRoot, 0,
		metaLine,
		addAction(t, "part-0.parquet", 1000, "us", 100, 2),
		addAction(t, "part-1.parquet", 2500, "eu", 250, 5),
	)
	// Compaction: part-0 is rewritten into part-2.
	writeCommit(t, tableRoot, 1,
		`{"remove":{"path":"part-0.parquet","deletionTimestamp":1700000000000}}`,
		addAction(t, "part-2.parquet", 1100, "us", 100, 2),
	)

	snap, err := CurrentSnapshot(context.Background(), storage.NewLocalStore(), tableRoot)
	require.NoError(t, err)

	assert.Equal(t, int64(1), snap.Version)
	require.Len(t, snap.Files, 2)
	assert.Equal(t, "part-1.parquet", snap.Files[0].Path)
	assert.Equal(t, "part-2.parquet", snap.Files[1].Path)

	assert.Equal(t, []string{"region"}, snap.PartitionColumns)

	// Stats come from the active set only.
	fileStats, warnings := snap.FileStats()
	var rows int64
	for _, fs := range fileStats {
		rows += fs.RowCount
	}
	assert.Equal(t, int64(350), rows)
	assert.Empty(t, warnings)
}

func TestFileStatsWarnsOnMissingBlobs(t *testing.T) {
	tableRoot := t.TempDir()
	metaLine := fmt.Sprintf(
		`{"metaData":{"id":"m0","schemaString":%s,"partitionColumns":[]}}`,
		mustQuote(t, testSchemaString))
	bare, err := json.Marshal(map[string]interface{}{
		"add": map[string]interface{}{"path": "part-bare.parquet", "size": int64(500)},
	})
	require.NoError(t, err)
	writeCommit(t, tableRoot, 0,
		metaLine,
		addAction(t, "part-0.parquet", 1000, "us", 100, 2),
		string(bare),
	)

	snap, err := CurrentSnapshot(context.Background(), storage.NewLocalStore(), tableRoot)
	require.NoError(t, err)

	fileStats, warnings := snap.FileStats()
	require.Len(t, fileStats, 2)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "1 of 2 active files")
	assert.Contains(t, warnings[0], "lower bound")
}

func TestCurrentSnapshotParsesSchema(t *testing.T) {
	tableRoot := t.TempDir()
	metaLine := fmt.Sprintf(
		`{"metaData":{"id":"m0","schemaString":%s,"partitionColumns":[]}}`,
		mustQuote(t, testSchemaString))
	writeCommit(t, tableRoot, 0, metaLine, addAction(t, "part-0.parquet", 10, "us", 1, 0))

	snap, err := CurrentSnapshot(context.Background(), storage.NewLocalStore(), tableRoot)
	require.NoError(t, err)

	require.Len(t, snap.Schema.Columns, 3)
	assert.Equal(t, models.Column{Name: "id", Type: models.DataTypeInteger, Nullable: false, NativeType: "long"},
		snap.Schema.Columns[0])
	assert.Equal(t, models.DataTypeString, snap.Schema.Columns[1].Type)
	assert.Equal(t, models.DataTypeStruct, snap.Schema.Columns[2].Type)
}

func TestDistinctPartitionValues(t *testing.T) {
	tableRoot := t.TempDir()
	metaLine := fmt.Sprintf(
		`{"metaData":{"id":"m0","schemaString":%s,"partitionColumns":["region"]}}`,
		mustQuote(t, testSchemaString))
	writeCommit(t, tableRoot, 0,
		metaLine,
		addAction(t, "part-0.parquet", 10, "us", 1, 0),
		addAction(t, "part-1.parquet", 10, "us", 1, 0),
		addAction(t, "part-2.parquet", 10, "eu", 1, 0),
	)

	snap, err := CurrentSnapshot(context.Background(), storage.NewLocalStore(), tableRoot)
	require.NoError(t, err)

	// Two files share the us partition; the count is of values, not files.
	assert.Equal(t, map[string]int64{"region": 2}, snap.DistinctPartitionValues())
}

func TestCurrentSnapshotRejectsEmptyLog(t *testing.T) {
	tableRoot := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(tableRoot, LogDirName), 0o755))

	_, err := CurrentSnapshot(context.Background(), storage.NewLocalStore(), tableRoot)
	assert.Error(t, err)
}

func TestFileStatsRendersNativeValues(t *testing.T) {
	fs, err := parseFileStats(`{"numRecords":7,"minValues":{"id":3,"name":"alice"},` +
		`"maxValues":{"id":9,"name":"zoe"},"nullCount":{"id":0,"name":2}}`)
	require.NoError(t, err)

	assert.Equal(t, int64(7), fs.RowCount)
	id := fs.Columns["id"]
	require.NotNil(t, id.Min)
	assert.Equal(t, "3", *id.Min)
	name := fs.Columns["name"]
	require.NotNil(t, name.Max)
	assert.Equal(t, "zoe", *name.Max)
	require.NotNil(t, name.NullCount)
	assert.Equal(t, int64(2), *name.NullCount)
}

func mustQuote(t *testing.T, s string) string {
	t.Helper()
	q, err := json.Marshal(s)
	require.NoError(t, err)
	return string(q)
}
