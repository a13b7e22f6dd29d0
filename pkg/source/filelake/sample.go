package filelake

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/spectrumhq/spectrum/pkg/delta"
	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/storage"
)

// Sample reads rows from the table's data files in listing order until the
// limit is reached. There is no row-level random access over parquet, so
// bernoulli requests fall back to head with disclosure. Delta tables sample
// only active files.
func (a *Adapter) Sample(ctx context.Context, ref models.ObjectRef, opts models.SampleOptions) (*models.SampleResult, error) {
	tableRoot, err := a.tableRoot(ref)
	if err != nil {
		return nil, err
	}

	format, files, err := a.detect(ctx, tableRoot)
	if err != nil {
		return nil, err
	}

	if format == FormatDelta {
		snap, err := delta.CurrentSnapshot(ctx, a.store, tableRoot)
		if err != nil {
			return nil, err
		}
		files = files[:0]
		for _, f := range snap.Files {
			files = append(files, storage.FileRef{Path: joinPath(tableRoot, f.Path), Size: f.Size})
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	out := &models.SampleResult{
		Method:   models.SamplingHead,
		Fallback: opts.Method == models.SamplingBernoulli,
		Rows:     []map[string]interface{}{},
	}

	for _, f := range files {
		if len(out.Rows) >= limit {
			break
		}
		rows, err := a.readRows(ctx, f, limit-len(out.Rows))
		if err != nil {
			return nil, err
		}
		out.Rows = append(out.Rows, rows...)
	}
	return out, nil
}

// readRows decodes up to limit rows from one parquet file through the arrow
// record reader.
func (a *Adapter) readRows(ctx context.Context, f storage.FileRef, limit int) ([]map[string]interface{}, error) {
	r, err := a.store.Open(ctx, f.Path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeObjectNotFound, "failed to open parquet file").
			WithSource(a.name).WithPath(f.Path)
	}
	defer r.Close()

	fr, err := file.NewParquetReader(r)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read parquet file").
			WithSource(a.name).WithPath(f.Path)
	}
	defer fr.Close()

	arrowReader, err := pqarrow.NewFileReader(fr,
		pqarrow.ArrowReadProperties{BatchSize: int64(limit)}, memory.DefaultAllocator)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to build arrow reader").
			WithSource(a.name).WithPath(f.Path)
	}

	rr, err := arrowReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read record batches").
			WithSource(a.name).WithPath(f.Path)
	}
	defer rr.Release()

	var rows []map[string]interface{}
	for rr.Next() && len(rows) < limit {
		rec := rr.Record()
		fields := rec.Schema().Fields()
		for i := 0; i < int(rec.NumRows()) && len(rows) < limit; i++ {
			row := make(map[string]interface{}, len(fields))
			for ci, field := range fields {
				row[field.Name] = rec.Column(ci).GetOneForMarshal(i)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}
