// Package lakehouse implements source adapters for warehouse catalogs that
// answer metadata questions through their own SQL surface: Snowflake and
// BigQuery. Both expose catalog metadata cheaply, so Describe without stats
// never scans table data.
package lakehouse

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	sf "github.com/snowflakedb/gosnowflake"
	"go.uber.org/zap"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/logger"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/source"
)

// SnowflakeAdapter serves one Snowflake account through database/sql.
type SnowflakeAdapter struct {
	db   *sql.DB
	name string
}

var _ source.Adapter = (*SnowflakeAdapter)(nil)

// NewSnowflake connects to the account in desc.Connection (account,
// warehouse, optional database/role). The password comes from credentials.
func NewSnowflake(ctx context.Context, desc models.SourceDescriptor, credentials map[string]string) (source.Adapter, error) {
	account := desc.Connection["account"]
	if account == "" {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "snowflake source needs an account").WithSource(desc.Name)
	}
	user := desc.Connection["user"]
	if user == "" {
		user = credentials["user"]
	}

	cfg := &sf.Config{
		Account:   account,
		User:      user,
		Password:  credentials["password"],
		Database:  desc.Connection["database"],
		Warehouse: desc.Connection["warehouse"],
		Role:      desc.Connection["role"],
	}
	dsn, err := sf.DSN(cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidConfig, "failed to build snowflake DSN").WithSource(desc.Name)
	}

	db, err := sql.Open("snowflake", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidConfig, "failed to open snowflake handle").WithSource(desc.Name)
	}
	db.SetMaxOpenConns(4)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		errType, msg := errors.ErrorTypeConnection, "snowflake unreachable"
		if isSnowflakeAuthError(err) {
			errType, msg = errors.ErrorTypeAuth, "authentication failed"
		}
		return nil, errors.Wrap(err, errType, msg).WithSource(desc.Name)
	}

	logger.Get().Info("connected to snowflake source", zap.String("source", desc.Name))
	return &SnowflakeAdapter{db: db, name: desc.Name}, nil
}

// isSnowflakeAuthError reports whether a ping failure is a credential
// rejection. The 390xxx error family covers authentication and role issues.
func isSnowflakeAuthError(err error) bool {
	var sfErr *sf.SnowflakeError
	if stderrors.As(err, &sfErr) {
		return sfErr.Number >= 390100 && sfErr.Number < 390200
	}
	return false
}

// ListDatabases runs SHOW DATABASES and returns the name column.
func (a *SnowflakeAdapter) ListDatabases(ctx context.Context) ([]string, error) {
	rows, err := a.showRows(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		if n := r["name"]; n != "" {
			names = append(names, n)
		}
	}
	return names, nil
}

// ListObjects lists schemas under a database, or tables and views under a
// database.schema pair.
func (a *SnowflakeAdapter) ListObjects(ctx context.Context, parent []string) ([]models.ObjectInfo, error) {
	switch len(parent) {
	case 1:
		rows, err := a.showRows(ctx, "SHOW SCHEMAS IN DATABASE "+quoteIdent(parent[0]))
		if err != nil {
			return nil, err
		}
		objs := make([]models.ObjectInfo, 0, len(rows))
		for _, r := range rows {
			if n := r["name"]; n != "" && n != "INFORMATION_SCHEMA" {
				objs = append(objs, models.ObjectInfo{Name: n, Kind: models.ObjectKindDirectory})
			}
		}
		return objs, nil
	case 2:
		rows, err := a.showRows(ctx, "SHOW OBJECTS IN SCHEMA "+quoteIdent(parent[0])+"."+quoteIdent(parent[1]))
		if err != nil {
			return nil, err
		}
		objs := make([]models.ObjectInfo, 0, len(rows))
		for _, r := range rows {
			kind := models.ObjectKindTable
			if strings.EqualFold(r["kind"], "VIEW") {
				kind = models.ObjectKindView
			}
			objs = append(objs, models.ObjectInfo{Name: r["name"], Kind: kind})
		}
		return objs, nil
	default:
		return nil, errors.New(errors.ErrorTypeInvalidConfig,
			"snowflake listing expects a database or database.schema parent")
	}
}

// Describe reads the schema via DESCRIBE TABLE and row/byte counts from SHOW
// TABLES, both catalog-only. Statistics add one aggregate scan.
func (a *SnowflakeAdapter) Describe(ctx context.Context, ref models.ObjectRef, includeStats bool) (*models.MetadataResult, error) {
	if len(ref.Path) != 3 {
		return nil, errors.New(errors.ErrorTypeInvalidConfig,
			"snowflake object paths have three segments (database.schema.table)").WithPath(ref.PathString())
	}
	qualified := quoteIdent(ref.Path[0]) + "." + quoteIdent(ref.Path[1]) + "." + quoteIdent(ref.Path[2])

	descRows, err := a.showRows(ctx, "DESCRIBE TABLE "+qualified)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeObjectNotFound, "describe failed").
			WithSource(a.name).WithPath(ref.PathString())
	}

	result := &models.MetadataResult{Ref: ref, ExtractedAt: time.Now().UTC()}
	for _, r := range descRows {
		if r["kind"] != "" && !strings.EqualFold(r["kind"], "COLUMN") {
			continue
		}
		result.Schema.Columns = append(result.Schema.Columns, models.Column{
			Name:       r["name"],
			Type:       mapSnowflakeType(r["type"]),
			Nullable:   strings.EqualFold(r["null?"], "Y"),
			NativeType: r["type"],
		})
		if strings.EqualFold(r["primary key"], "Y") {
			result.Schema.PrimaryKeys = append(result.Schema.PrimaryKeys, r["name"])
		}
	}
	if len(result.Schema.Columns) == 0 {
		return nil, errors.New(errors.ErrorTypeObjectNotFound, "table has no columns").
			WithSource(a.name).WithPath(ref.PathString())
	}

	showRows, err := a.showRows(ctx, fmt.Sprintf("SHOW TABLES LIKE '%s' IN SCHEMA %s.%s",
		escapeLike(ref.Path[2]), quoteIdent(ref.Path[0]), quoteIdent(ref.Path[1])))
	if err == nil && len(showRows) > 0 {
		if v, perr := strconv.ParseInt(showRows[0]["rows"], 10, 64); perr == nil {
			result.RowCount = models.Int64Ptr(v)
		}
		if v, perr := strconv.ParseInt(showRows[0]["bytes"], 10, 64); perr == nil {
			result.SizeBytes = models.Int64Ptr(v)
		}
	}

	if includeStats {
		if err := a.collectStats(ctx, qualified, result); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// collectStats computes per-column statistics in one aggregate scan. Distinct
// counts use APPROX_COUNT_DISTINCT, disclosed as a warning since exactness is
// the default expectation elsewhere.
func (a *SnowflakeAdapter) collectStats(ctx context.Context, qualified string, result *models.MetadataResult) error {
	exprs := []string{"COUNT(*)"}
	type plan struct {
		column models.Column
		minMax bool
	}
	plans := make([]plan, 0, len(result.Schema.Columns))
	for _, col := range result.Schema.Columns {
		p := plan{column: col, minMax: snowflakeOrderable(col.Type)}
		q := quoteIdent(col.Name)
		if p.minMax {
			exprs = append(exprs, "TO_VARCHAR(MIN("+q+"))", "TO_VARCHAR(MAX("+q+"))")
		}
		exprs = append(exprs, "COUNT("+q+")", "APPROX_COUNT_DISTINCT("+q+")")
		plans = append(plans, p)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), qualified)

	var total int64
	dest := []interface{}{&total}
	type slot struct {
		min, max sql.NullString
		nonNull  int64
		distinct int64
	}
	slots := make([]slot, len(plans))
	for i := range plans {
		if plans[i].minMax {
			dest = append(dest, &slots[i].min, &slots[i].max)
		}
		dest = append(dest, &slots[i].nonNull, &slots[i].distinct)
	}

	if err := a.db.QueryRowContext(ctx, query).Scan(dest...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to compute column statistics").
			WithSource(a.name)
	}

	result.RowCount = models.Int64Ptr(total)
	result.Warnings = append(result.Warnings, "distinct counts are approximate (APPROX_COUNT_DISTINCT)")
	for i, p := range plans {
		cs := models.ColumnStats{
			Column:        p.column.Name,
			Type:          p.column.Type,
			NullCount:     models.Int64Ptr(total - slots[i].nonNull),
			DistinctCount: models.Int64Ptr(slots[i].distinct),
		}
		if p.minMax {
			if slots[i].min.Valid {
				cs.Min = models.StringPtr(slots[i].min.String)
			}
			if slots[i].max.Valid {
				cs.Max = models.StringPtr(slots[i].max.String)
			}
		}
		result.Stats = append(result.Stats, cs)
	}
	return nil
}

// Sample uses Snowflake's native SAMPLE BERNOULLI for probabilistic requests.
func (a *SnowflakeAdapter) Sample(ctx context.Context, ref models.ObjectRef, opts models.SampleOptions) (*models.SampleResult, error) {
	if len(ref.Path) != 3 {
		return nil, errors.New(errors.ErrorTypeInvalidConfig,
			"snowflake object paths have three segments (database.schema.table)").WithPath(ref.PathString())
	}
	qualified := quoteIdent(ref.Path[0]) + "." + quoteIdent(ref.Path[1]) + "." + quoteIdent(ref.Path[2])

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	percent := opts.Percent
	if percent <= 0 || percent > 100 {
		percent = 1.0
	}

	var query string
	method := opts.Method
	if method == models.SamplingBernoulli {
		query = fmt.Sprintf("SELECT * FROM %s SAMPLE BERNOULLI (%g) LIMIT %d", qualified, percent, limit)
	} else {
		method = models.SamplingHead
		query = fmt.Sprintf("SELECT * FROM %s LIMIT %d", qualified, limit)
	}

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "sample query failed").
			WithSource(a.name).WithPath(ref.PathString())
	}
	defer rows.Close()

	out := &models.SampleResult{Method: method, Rows: []map[string]interface{}{}}
	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read sample columns")
	}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		scanners := make([]interface{}, len(cols))
		for i := range values {
			scanners[i] = &values[i]
		}
		if err := rows.Scan(scanners...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan sample row")
		}
		row := make(map[string]interface{}, len(cols))
		for i, name := range cols {
			if b, ok := values[i].([]byte); ok {
				row[name] = string(b)
			} else {
				row[name] = values[i]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (a *SnowflakeAdapter) Close() error {
	return a.db.Close()
}

// showRows runs a SHOW/DESCRIBE command and returns each row keyed by the
// lowercased result column name, every value rendered as a string.
func (a *SnowflakeAdapter) showRows(ctx context.Context, query string) ([]map[string]string, error) {
	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "catalog query failed").WithSource(a.name)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read catalog columns")
	}

	var out []map[string]string
	for rows.Next() {
		values := make([]interface{}, len(cols))
		scanners := make([]interface{}, len(cols))
		for i := range values {
			scanners[i] = &values[i]
		}
		if err := rows.Scan(scanners...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan catalog row")
		}
		row := make(map[string]string, len(cols))
		for i, name := range cols {
			switch v := values[i].(type) {
			case nil:
				row[strings.ToLower(name)] = ""
			case []byte:
				row[strings.ToLower(name)] = string(v)
			default:
				row[strings.ToLower(name)] = fmt.Sprint(v)
			}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// snowflakeOrderable mirrors statsCapable for the Snowflake type system.
func snowflakeOrderable(t models.DataType) bool {
	switch t {
	case models.DataTypeInteger, models.DataTypeFloat, models.DataTypeDecimal,
		models.DataTypeString, models.DataTypeDate, models.DataTypeTimestamp:
		return true
	}
	return false
}

// mapSnowflakeType folds DESCRIBE TABLE type strings into the shared
// vocabulary. NUMBER with zero scale counts as integer.
func mapSnowflakeType(native string) models.DataType {
	n := strings.ToUpper(native)
	switch {
	case strings.HasPrefix(n, "NUMBER"):
		if strings.HasSuffix(n, ",0)") {
			return models.DataTypeInteger
		}
		return models.DataTypeDecimal
	case strings.HasPrefix(n, "INT") || strings.HasPrefix(n, "BIGINT") || strings.HasPrefix(n, "SMALLINT"):
		return models.DataTypeInteger
	case strings.HasPrefix(n, "FLOAT") || strings.HasPrefix(n, "DOUBLE") || strings.HasPrefix(n, "REAL"):
		return models.DataTypeFloat
	case strings.HasPrefix(n, "DECIMAL") || strings.HasPrefix(n, "NUMERIC"):
		return models.DataTypeDecimal
	case strings.HasPrefix(n, "VARCHAR") || strings.HasPrefix(n, "CHAR") || strings.HasPrefix(n, "STRING") || strings.HasPrefix(n, "TEXT"):
		return models.DataTypeString
	case strings.HasPrefix(n, "BOOLEAN"):
		return models.DataTypeBoolean
	case n == "DATE":
		return models.DataTypeDate
	case strings.HasPrefix(n, "TIMESTAMP") || strings.HasPrefix(n, "DATETIME") || strings.HasPrefix(n, "TIME"):
		return models.DataTypeTimestamp
	case strings.HasPrefix(n, "BINARY") || strings.HasPrefix(n, "VARBINARY"):
		return models.DataTypeBinary
	case strings.HasPrefix(n, "VARIANT") || strings.HasPrefix(n, "OBJECT") || strings.HasPrefix(n, "ARRAY"):
		return models.DataTypeStruct
	default:
		return models.DataTypeUnknown
	}
}

// quoteIdent wraps an identifier in double quotes, Snowflake style.
func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// escapeLike escapes single quotes for SHOW ... LIKE patterns.
func escapeLike(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
