// Package filelake implements the source adapter for file-based lakes:
// parquet directories and Delta tables on local disk or object storage.
// All metadata comes from listings, delta logs, and parquet footers; Describe
// never reads row data.
package filelake

import (
	"context"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spectrumhq/spectrum/pkg/delta"
	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/footer"
	"github.com/spectrumhq/spectrum/pkg/logger"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/source"
	"github.com/spectrumhq/spectrum/pkg/storage"
)

// Format names the physical layout of one table directory.
type Format string

const (
	FormatDelta   Format = "delta"
	FormatParquet Format = "parquet"
)

// Adapter serves one lake root. Databases are first-level directories under
// the root, tables second-level directories.
type Adapter struct {
	store storage.ObjectStore
	root  string
	name  string
}

var _ source.Adapter = (*Adapter)(nil)

// New builds an adapter over desc.Connection["root"], selecting the storage
// backend by path scheme.
func New(ctx context.Context, desc models.SourceDescriptor, credentials map[string]string) (source.Adapter, error) {
	root := desc.Connection["root"]
	if root == "" {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "filelake source needs a root path").WithSource(desc.Name)
	}

	store, err := storage.ForPath(ctx, root, credentials)
	if err != nil {
		return nil, err
	}

	logger.Get().Info("opened file lake source",
		zap.String("source", desc.Name),
		zap.String("root", root))

	return &Adapter{store: store, root: root, name: desc.Name}, nil
}

// ListDatabases returns the first-level directories of the lake root.
func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	dirs, err := a.store.ListDirs(ctx, a.root)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list lake root").WithSource(a.name)
	}
	return dirs, nil
}

// ListObjects returns the table directories under one database directory.
// Every child directory is reported; format detection is deferred to
// Describe so listings stay one storage call.
func (a *Adapter) ListObjects(ctx context.Context, parent []string) ([]models.ObjectInfo, error) {
	if len(parent) != 1 {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "filelake object listing expects a single database segment")
	}

	dirs, err := a.store.ListDirs(ctx, joinPath(a.root, parent[0]))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeObjectNotFound, "failed to list database directory").
			WithSource(a.name).WithPath(parent[0])
	}

	objs := make([]models.ObjectInfo, 0, len(dirs))
	for _, d := range dirs {
		objs = append(objs, models.ObjectInfo{Name: d, Kind: models.ObjectKindTable})
	}
	return objs, nil
}

// Describe extracts metadata for one table directory. Delta tables resolve
// the current snapshot first so removed files never contribute; plain parquet
// directories aggregate over every footer.
func (a *Adapter) Describe(ctx context.Context, ref models.ObjectRef, includeStats bool) (*models.MetadataResult, error) {
	tableRoot, err := a.tableRoot(ref)
	if err != nil {
		return nil, err
	}

	format, files, err := a.detect(ctx, tableRoot)
	if err != nil {
		return nil, err
	}

	if format == FormatDelta {
		return a.describeDelta(ctx, ref, tableRoot, includeStats)
	}
	return a.describeParquet(ctx, ref, files, includeStats)
}

// describeDelta serves metadata from the delta log alone. Per-file stats are
// already embedded in add actions, so even includeStats reads no data files.
func (a *Adapter) describeDelta(ctx context.Context, ref models.ObjectRef, tableRoot string, includeStats bool) (*models.MetadataResult, error) {
	snap, err := delta.CurrentSnapshot(ctx, a.store, tableRoot)
	if err != nil {
		return nil, err
	}

	var size int64
	for _, f := range snap.Files {
		size += f.Size
	}

	result := &models.MetadataResult{
		Ref:           ref,
		Schema:        snap.Schema,
		SizeBytes:     models.Int64Ptr(size),
		PartitionKeys: snap.PartitionColumns,
		ExtractedAt:   time.Now().UTC(),
	}

	fileStats, statWarnings := snap.FileStats()
	agg := footer.Aggregate(snap.Schema, fileStats, snap.PartitionColumns)
	result.RowCount = models.Int64Ptr(agg.RowCount)
	// Row count is returned either way, so its disclosure is too.
	result.Warnings = statWarnings
	if includeStats {
		result.Stats = agg.Stats
		result.Warnings = append(result.Warnings, agg.Warnings...)
		overlayDistinct(result, snap.DistinctPartitionValues())
	}
	return result, nil
}

// describeParquet lists the directory and reads footers. Without stats only
// the first footer is opened, enough for the schema.
func (a *Adapter) describeParquet(ctx context.Context, ref models.ObjectRef, files []storage.FileRef, includeStats bool) (*models.MetadataResult, error) {
	if len(files) == 0 {
		return nil, errors.New(errors.ErrorTypeObjectNotFound, "no parquet files in table directory").
			WithSource(a.name).WithPath(ref.PathString())
	}

	var size int64
	for _, f := range files {
		size += f.Size
	}

	partitionKeys, partitionValues := hivePartitions(files)

	result := &models.MetadataResult{
		Ref:           ref,
		SizeBytes:     models.Int64Ptr(size),
		PartitionKeys: partitionKeys,
		ExtractedAt:   time.Now().UTC(),
	}

	if !includeStats {
		pf, err := a.readFooter(ctx, files[0])
		if err != nil {
			return nil, err
		}
		result.Schema = pf.Schema
		return result, nil
	}

	fileStats := make([]footer.FileStats, 0, len(files))
	for i, f := range files {
		pf, err := a.readFooter(ctx, f)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			result.Schema = pf.Schema
		}
		fileStats = append(fileStats, pf.Stats)
	}

	agg := footer.Aggregate(result.Schema, fileStats, partitionKeys)
	result.RowCount = models.Int64Ptr(agg.RowCount)
	result.Stats = agg.Stats
	result.Warnings = agg.Warnings
	overlayDistinct(result, partitionValues)
	return result, nil
}

func (a *Adapter) readFooter(ctx context.Context, f storage.FileRef) (*footer.ParquetFooter, error) {
	r, err := a.store.Open(ctx, f.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeObjectNotFound, "failed to open parquet file").
			WithSource(a.name).WithPath(f.Path)
	}
	defer r.Close()

	pf, err := footer.ReadParquetFooter(r, f.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read parquet footer").
			WithSource(a.name).WithPath(f.Path)
	}
	return pf, nil
}

// Close is a no-op; object stores hold no persistent connections.
func (a *Adapter) Close() error { return nil }

func (a *Adapter) tableRoot(ref models.ObjectRef) (string, error) {
	if len(ref.Path) != 2 {
		return "", errors.New(errors.ErrorTypeInvalidConfig,
			"filelake object paths have two segments (database/table)").WithPath(ref.PathString())
	}
	return joinPath(a.root, ref.Path[0], ref.Path[1]), nil
}

// detect sniffs the layout of one table directory: a _delta_log child makes
// it a Delta table, otherwise parquet files make it a parquet directory.
// The parquet file listing is returned so Describe does not list twice.
func (a *Adapter) detect(ctx context.Context, tableRoot string) (Format, []storage.FileRef, error) {
	all, err := a.store.List(ctx, tableRoot)
	if err != nil {
		return "", nil, errors.Wrap(err, errors.ErrorTypeObjectNotFound, "failed to list table directory").
			WithSource(a.name).WithPath(tableRoot)
	}

	var parquetFiles []storage.FileRef
	for _, f := range all {
		rel := strings.TrimPrefix(strings.TrimPrefix(f.Path, tableRoot), "/")
		if strings.HasPrefix(rel, delta.LogDirName+"/") {
			return FormatDelta, nil, nil
		}
		if strings.HasSuffix(f.Path, ".parquet") {
			parquetFiles = append(parquetFiles, f)
		}
	}
	if len(parquetFiles) > 0 {
		return FormatParquet, parquetFiles, nil
	}
	return "", nil, errors.New(errors.ErrorTypeObjectNotFound, "directory holds neither a delta log nor parquet files").
		WithSource(a.name).WithPath(tableRoot)
}

// hivePartitions derives partition keys and per-key distinct value counts
// from key=value path segments.
func hivePartitions(files []storage.FileRef) ([]string, map[string]int64) {
	var keys []string
	seen := make(map[string]map[string]struct{})
	for _, f := range files {
		for _, seg := range strings.Split(path.Dir(f.Path), "/") {
			eq := strings.Index(seg, "=")
			if eq <= 0 {
				continue
			}
			k, v := seg[:eq], seg[eq+1:]
			if _, ok := seen[k]; !ok {
				seen[k] = make(map[string]struct{})
				keys = append(keys, k)
			}
			seen[k][v] = struct{}{}
		}
	}
	distinct := make(map[string]int64, len(seen))
	for k, vals := range seen {
		distinct[k] = int64(len(vals))
	}
	return keys, distinct
}

// overlayDistinct sets exact distinct counts for partition key columns. The
// values come from partition identity, not file footers, so they override
// whatever the aggregator decided. Partition columns usually have no footer
// entry at all and get a fresh stats row.
func overlayDistinct(result *models.MetadataResult, distinct map[string]int64) {
	covered := make(map[string]bool, len(result.Stats))
	for i := range result.Stats {
		if n, ok := distinct[result.Stats[i].Column]; ok {
			result.Stats[i].DistinctCount = models.Int64Ptr(n)
			covered[result.Stats[i].Column] = true
		}
	}
	for col, n := range distinct {
		if covered[col] {
			continue
		}
		cs := models.ColumnStats{Column: col, DistinctCount: models.Int64Ptr(n)}
		if c, ok := result.Schema.Column(col); ok {
			cs.Type = c.Type
		}
		result.Stats = append(result.Stats, cs)
	}
}

// joinPath joins path components without collapsing URL schemes.
func joinPath(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		cleaned = append(cleaned, strings.Trim(p, "/"))
	}
	joined := strings.Join(cleaned, "/")
	if strings.HasPrefix(parts[0], "/") && !strings.Contains(parts[0], "://") {
		return "/" + joined
	}
	return joined
}
