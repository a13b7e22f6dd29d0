package footer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/metadata"
	"github.com/apache/arrow-go/v18/parquet/schema"

	"github.com/spectrumhq/spectrum/pkg/models"
)

// ParquetFooter is the decoded footer of one parquet file: its schema and the
// per-column statistics recorded by the writer. Only footer bytes are read.
type ParquetFooter struct {
	Schema models.SchemaInfo
	Stats  FileStats
}

// ReadParquetFooter opens a parquet file through r and extracts footer-level
// metadata. Row group column chunk statistics are folded into one per-file
// ColumnFooter per column so the aggregator sees files, not row groups.
func ReadParquetFooter(r parquet.ReaderAtSeeker, path string) (*ParquetFooter, error) {
	fr, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet footer of %s: %w", path, err)
	}
	defer fr.Close()

	fileMD := fr.MetaData()
	out := &ParquetFooter{
		Schema: schemaFromParquet(fileMD.Schema),
		Stats: FileStats{
			Path:     path,
			RowCount: fr.NumRows(),
			Columns:  make(map[string]ColumnFooter),
		},
	}

	typeByColumn := make(map[string]models.DataType, len(out.Schema.Columns))
	for _, c := range out.Schema.Columns {
		typeByColumn[c.Name] = c.Type
	}

	for rg := 0; rg < fr.NumRowGroups(); rg++ {
		rgMD := fr.RowGroup(rg).MetaData()
		for ci := 0; ci < rgMD.NumColumns(); ci++ {
			chunk, err := rgMD.ColumnChunk(ci)
			if err != nil {
				return nil, fmt.Errorf("failed to read column chunk metadata of %s: %w", path, err)
			}
			name := chunk.PathInSchema().String()
			col := fileMD.Schema.Column(ci)

			cf, seen := out.Stats.Columns[name]
			if !seen {
				cf = ColumnFooter{Column: name}
			}

			set, err := chunk.StatsSet()
			if err != nil || !set {
				// A row group without statistics makes the whole file
				// unknown for this column.
				cf.Min, cf.Max, cf.NullCount = nil, nil, nil
				out.Stats.Columns[name] = cf
				continue
			}
			stats, err := chunk.Statistics()
			if err != nil || stats == nil {
				cf.Min, cf.Max, cf.NullCount = nil, nil, nil
				out.Stats.Columns[name] = cf
				continue
			}

			cf = foldChunkStats(cf, stats, col, typeByColumn[name], !seen)
			out.Stats.Columns[name] = cf
		}
	}

	return out, nil
}

// foldChunkStats merges one row group's column chunk statistics into the
// running per-file footer. first marks the first chunk seen for the column.
func foldChunkStats(cf ColumnFooter, stats metadata.TypedStatistics, col *schema.Column, t models.DataType, first bool) ColumnFooter {
	if stats.HasNullCount() {
		if first {
			cf.NullCount = models.Int64Ptr(stats.NullCount())
		} else if cf.NullCount != nil {
			cf.NullCount = models.Int64Ptr(*cf.NullCount + stats.NullCount())
		}
	} else {
		cf.NullCount = nil
	}

	minStr, maxStr, ok := "", "", false
	if stats.HasMinMax() {
		minStr, maxStr, ok = renderMinMax(stats, col)
	}
	switch {
	case !ok:
		cf.Min, cf.Max = nil, nil
	case first:
		cf.Min, cf.Max = &minStr, &maxStr
	case cf.Min != nil && cf.Max != nil:
		cmpMin, errMin := Compare(minStr, *cf.Min, t)
		cmpMax, errMax := Compare(maxStr, *cf.Max, t)
		if errMin != nil || errMax != nil {
			cf.Min, cf.Max = nil, nil
			break
		}
		if cmpMin < 0 {
			cf.Min = &minStr
		}
		if cmpMax > 0 {
			cf.Max = &maxStr
		}
	}

	// Parquet chunk distinct counts are rarely written and never exact
	// across row groups; leave the field unknown.
	cf.DistinctCount = nil

	return cf
}

// renderMinMax converts typed parquet statistics into the native string
// representation carried through aggregation. Temporal logical types are
// normalized to canonical formats so temporal ordering applies.
func renderMinMax(stats metadata.TypedStatistics, col *schema.Column) (string, string, bool) {
	switch s := stats.(type) {
	case *metadata.BooleanStatistics:
		return strconv.FormatBool(s.Min()), strconv.FormatBool(s.Max()), true
	case *metadata.Int32Statistics:
		return renderTemporalInt(int64(s.Min()), col), renderTemporalInt(int64(s.Max()), col), true
	case *metadata.Int64Statistics:
		return renderTemporalInt(s.Min(), col), renderTemporalInt(s.Max(), col), true
	case *metadata.Float32Statistics:
		return strconv.FormatFloat(float64(s.Min()), 'g', -1, 32),
			strconv.FormatFloat(float64(s.Max()), 'g', -1, 32), true
	case *metadata.Float64Statistics:
		return strconv.FormatFloat(s.Min(), 'g', -1, 64),
			strconv.FormatFloat(s.Max(), 'g', -1, 64), true
	case *metadata.ByteArrayStatistics:
		return string(s.Min()), string(s.Max()), true
	case *metadata.FixedLenByteArrayStatistics:
		return string(s.Min()), string(s.Max()), true
	default:
		return "", "", false
	}
}

// renderTemporalInt formats integer-backed date/timestamp columns as
// canonical temporal strings; plain integers pass through unchanged.
func renderTemporalInt(v int64, col *schema.Column) string {
	switch lt := col.LogicalType().(type) {
	case *schema.DateLogicalType:
		return time.Unix(0, 0).UTC().AddDate(0, 0, int(v)).Format("2006-01-02")
	case *schema.TimestampLogicalType:
		switch lt.TimeUnit() {
		case schema.TimeUnitMillis:
			return time.UnixMilli(v).UTC().Format(time.RFC3339Nano)
		case schema.TimeUnitNanos:
			return time.Unix(0, v).UTC().Format(time.RFC3339Nano)
		default:
			return time.UnixMicro(v).UTC().Format(time.RFC3339Nano)
		}
	default:
		return strconv.FormatInt(v, 10)
	}
}

// schemaFromParquet maps a parquet schema to the coarse type vocabulary.
func schemaFromParquet(sc *schema.Schema) models.SchemaInfo {
	info := models.SchemaInfo{Columns: make([]models.Column, 0, sc.NumColumns())}
	for i := 0; i < sc.NumColumns(); i++ {
		col := sc.Column(i)
		info.Columns = append(info.Columns, models.Column{
			Name:       col.Path(),
			Type:       dataTypeFromParquet(col),
			Nullable:   col.MaxDefinitionLevel() > 0,
			NativeType: col.PhysicalType().String(),
		})
	}
	return info
}

func dataTypeFromParquet(col *schema.Column) models.DataType {
	switch col.LogicalType().(type) {
	case *schema.StringLogicalType:
		return models.DataTypeString
	case *schema.DateLogicalType:
		return models.DataTypeDate
	case *schema.TimestampLogicalType:
		return models.DataTypeTimestamp
	case *schema.DecimalLogicalType:
		return models.DataTypeDecimal
	case *schema.IntLogicalType:
		return models.DataTypeInteger
	}

	switch col.PhysicalType() {
	case parquet.Types.Boolean:
		return models.DataTypeBoolean
	case parquet.Types.Int32, parquet.Types.Int64:
		return models.DataTypeInteger
	case parquet.Types.Int96:
		return models.DataTypeTimestamp
	case parquet.Types.Float, parquet.Types.Double:
		return models.DataTypeFloat
	case parquet.Types.ByteArray, parquet.Types.FixedLenByteArray:
		return models.DataTypeBinary
	default:
		return models.DataTypeUnknown
	}
}
