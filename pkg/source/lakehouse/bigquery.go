package lakehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/logger"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/source"
)

// BigQueryAdapter serves one GCP project through the BigQuery client.
type BigQueryAdapter struct {
	client  *bigquery.Client
	project string
	name    string
}

var _ source.Adapter = (*BigQueryAdapter)(nil)

// NewBigQuery connects to the project in desc.Connection. A service account
// key is read from credentials["service_account_json"]; without one the
// ambient application default credentials apply.
func NewBigQuery(ctx context.Context, desc models.SourceDescriptor, credentials map[string]string) (source.Adapter, error) {
	project := desc.Connection["project"]
	if project == "" {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "bigquery source needs a project").WithSource(desc.Name)
	}

	var opts []option.ClientOption
	if key := credentials["service_account_json"]; key != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(key)))
	}

	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeAuth, "failed to create bigquery client").WithSource(desc.Name)
	}

	logger.Get().Info("connected to bigquery source",
		zap.String("source", desc.Name),
		zap.String("project", project))

	return &BigQueryAdapter{client: client, project: project, name: desc.Name}, nil
}

// ListDatabases returns the project's datasets.
func (a *BigQueryAdapter) ListDatabases(ctx context.Context) ([]string, error) {
	it := a.client.Datasets(ctx)
	var names []string
	for {
		ds, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list datasets").WithSource(a.name)
		}
		names = append(names, ds.DatasetID)
	}
	return names, nil
}

// ListObjects returns the tables and views of one dataset.
func (a *BigQueryAdapter) ListObjects(ctx context.Context, parent []string) ([]models.ObjectInfo, error) {
	if len(parent) != 1 {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "bigquery object listing expects a single dataset segment")
	}

	it := a.client.Dataset(parent[0]).Tables(ctx)
	var objs []models.ObjectInfo
	for {
		t, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list tables").
				WithSource(a.name).WithPath(parent[0])
		}
		// Table type requires a metadata call per table; listings stay cheap
		// and report everything as a table.
		objs = append(objs, models.ObjectInfo{Name: t.TableID, Kind: models.ObjectKindTable})
	}
	return objs, nil
}

// Describe reads table metadata from the catalog. Row and byte counts come
// free with the metadata call; statistics add one aggregate query.
func (a *BigQueryAdapter) Describe(ctx context.Context, ref models.ObjectRef, includeStats bool) (*models.MetadataResult, error) {
	if len(ref.Path) != 2 {
		return nil, errors.New(errors.ErrorTypeInvalidConfig,
			"bigquery object paths have two segments (dataset.table)").WithPath(ref.PathString())
	}

	md, err := a.client.Dataset(ref.Path[0]).Table(ref.Path[1]).Metadata(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeObjectNotFound, "failed to read table metadata").
			WithSource(a.name).WithPath(ref.PathString())
	}

	result := &models.MetadataResult{
		Ref:         ref,
		RowCount:    models.Int64Ptr(int64(md.NumRows)),
		SizeBytes:   models.Int64Ptr(md.NumBytes),
		ExtractedAt: time.Now().UTC(),
	}
	for _, f := range md.Schema {
		result.Schema.Columns = append(result.Schema.Columns, models.Column{
			Name:       f.Name,
			Type:       mapBigQueryType(f.Type),
			Nullable:   !f.Required,
			NativeType: string(f.Type),
		})
	}
	if md.TimePartitioning != nil && md.TimePartitioning.Field != "" {
		result.PartitionKeys = append(result.PartitionKeys, md.TimePartitioning.Field)
	}
	if md.RangePartitioning != nil && md.RangePartitioning.Field != "" {
		result.PartitionKeys = append(result.PartitionKeys, md.RangePartitioning.Field)
	}

	if includeStats {
		if err := a.collectStats(ctx, ref, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// collectStats runs one aggregate query over the table. Distinct counts use
// APPROX_COUNT_DISTINCT and are disclosed as approximate.
func (a *BigQueryAdapter) collectStats(ctx context.Context, ref models.ObjectRef, result *models.MetadataResult) error {
	exprs := []string{"COUNT(*)"}
	type plan struct {
		column models.Column
		minMax bool
	}
	plans := make([]plan, 0, len(result.Schema.Columns))
	for _, col := range result.Schema.Columns {
		p := plan{column: col, minMax: bigqueryOrderable(col.Type)}
		q := "`" + col.Name + "`"
		if p.minMax {
			exprs = append(exprs, "CAST(MIN("+q+") AS STRING)", "CAST(MAX("+q+") AS STRING)")
		}
		exprs = append(exprs, "COUNT("+q+")", "APPROX_COUNT_DISTINCT("+q+")")
		plans = append(plans, p)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), a.qualify(ref))
	it, err := a.client.Query(query).Read(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "statistics query failed").
			WithSource(a.name).WithPath(ref.PathString())
	}
	var row []bigquery.Value
	if err := it.Next(&row); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to read statistics row").WithSource(a.name)
	}

	idx := 0
	next := func() bigquery.Value {
		v := row[idx]
		idx++
		return v
	}

	total := asInt64(next())
	result.RowCount = models.Int64Ptr(total)
	result.Warnings = append(result.Warnings, "distinct counts are approximate (APPROX_COUNT_DISTINCT)")
	for _, p := range plans {
		cs := models.ColumnStats{Column: p.column.Name, Type: p.column.Type}
		if p.minMax {
			if s, ok := next().(string); ok {
				cs.Min = models.StringPtr(s)
			}
			if s, ok := next().(string); ok {
				cs.Max = models.StringPtr(s)
			}
		}
		cs.NullCount = models.Int64Ptr(total - asInt64(next()))
		cs.DistinctCount = models.Int64Ptr(asInt64(next()))
		result.Stats = append(result.Stats, cs)
	}
	return nil
}

// Sample returns head rows. BigQuery's TABLESAMPLE is block-level, not
// row-level, so bernoulli requests fall back to head with disclosure.
func (a *BigQueryAdapter) Sample(ctx context.Context, ref models.ObjectRef, opts models.SampleOptions) (*models.SampleResult, error) {
	if len(ref.Path) != 2 {
		return nil, errors.New(errors.ErrorTypeInvalidConfig,
			"bigquery object paths have two segments (dataset.table)").WithPath(ref.PathString())
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	fallback := opts.Method == models.SamplingBernoulli

	query := fmt.Sprintf("SELECT * FROM %s LIMIT %d", a.qualify(ref), limit)
	it, err := a.client.Query(query).Read(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "sample query failed").
			WithSource(a.name).WithPath(ref.PathString())
	}

	out := &models.SampleResult{Method: models.SamplingHead, Fallback: fallback, Rows: []map[string]interface{}{}}
	for {
		var row map[string]bigquery.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read sample row").WithSource(a.name)
		}
		converted := make(map[string]interface{}, len(row))
		for k, v := range row {
			converted[k] = v
		}
		out.Rows = append(out.Rows, converted)
	}
	return out, nil
}

// Close releases the client.
func (a *BigQueryAdapter) Close() error {
	return a.client.Close()
}

func (a *BigQueryAdapter) qualify(ref models.ObjectRef) string {
	return fmt.Sprintf("`%s.%s.%s`", a.project, ref.Path[0], ref.Path[1])
}

func asInt64(v bigquery.Value) int64 {
	if n, ok := v.(int64); ok {
		return n
	}
	return 0
}

func bigqueryOrderable(t models.DataType) bool {
	switch t {
	case models.DataTypeInteger, models.DataTypeFloat, models.DataTypeDecimal,
		models.DataTypeString, models.DataTypeDate, models.DataTypeTimestamp:
		return true
	}
	return false
}

func mapBigQueryType(t bigquery.FieldType) models.DataType {
	switch t {
	case bigquery.IntegerFieldType:
		return models.DataTypeInteger
	case bigquery.FloatFieldType:
		return models.DataTypeFloat
	case bigquery.NumericFieldType, bigquery.BigNumericFieldType:
		return models.DataTypeDecimal
	case bigquery.StringFieldType, bigquery.JSONFieldType:
		return models.DataTypeString
	case bigquery.BooleanFieldType:
		return models.DataTypeBoolean
	case bigquery.DateFieldType:
		return models.DataTypeDate
	case bigquery.TimestampFieldType, bigquery.DateTimeFieldType, bigquery.TimeFieldType:
		return models.DataTypeTimestamp
	case bigquery.BytesFieldType:
		return models.DataTypeBinary
	case bigquery.RecordFieldType:
		return models.DataTypeStruct
	default:
		return models.DataTypeUnknown
	}
}
