// Package rdbms implements the source adapter for relational databases
// reachable over database/sql. PostgreSQL and MySQL dialects are supported;
// discovery and schema extraction go through information_schema so the same
// queries serve both with minimal branching.
package rdbms

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/logger"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/source"
)

// Dialect selects the SQL flavor of a relational source.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

// Adapter serves one relational database through a shared *sql.DB pool.
type Adapter struct {
	db      *sql.DB
	dialect Dialect
	name    string
}

var _ source.Adapter = (*Adapter)(nil)

// New connects to the database described by desc. A full "url" connection
// value wins over discrete host/port/database fields; the password always
// comes from the unsealed credentials, never from the descriptor.
func New(ctx context.Context, desc models.SourceDescriptor, credentials map[string]string) (source.Adapter, error) {
	dialect, err := resolveDialect(desc.Connection)
	if err != nil {
		return nil, err
	}

	dsn, err := buildDSN(dialect, desc.Connection, credentials)
	if err != nil {
		return nil, err
	}

	driver := "pgx"
	if dialect == DialectMySQL {
		driver = "mysql"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInvalidConfig, "failed to open database handle").WithSource(desc.Name)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		errType, msg := errors.ErrorTypeConnection, "database unreachable"
		if isAuthError(err) {
			errType, msg = errors.ErrorTypeAuth, "authentication failed"
		}
		return nil, errors.Wrap(err, errType, msg).WithSource(desc.Name)
	}

	logger.Get().Info("connected to relational source",
		zap.String("source", desc.Name),
		zap.String("dialect", string(dialect)))

	return &Adapter{db: db, dialect: dialect, name: desc.Name}, nil
}

// resolveDialect reads the dialect from the connection map or infers it from
// the url scheme.
func resolveDialect(conn map[string]string) (Dialect, error) {
	switch conn["dialect"] {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql":
		return DialectMySQL, nil
	case "":
	default:
		return "", errors.New(errors.ErrorTypeInvalidConfig, "unsupported rdbms dialect "+conn["dialect"])
	}

	if raw := conn["url"]; raw != "" {
		switch {
		case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
			return DialectPostgres, nil
		case strings.HasPrefix(raw, "mysql://"):
			return DialectMySQL, nil
		}
	}
	return "", errors.New(errors.ErrorTypeInvalidConfig, "rdbms source needs a dialect or a url with a recognized scheme")
}

// buildDSN produces the driver DSN. With a url present, discrete fields are
// ignored; the password from credentials is injected when the url carries
// none so secrets stay out of stored descriptors.
func buildDSN(dialect Dialect, conn map[string]string, credentials map[string]string) (string, error) {
	password := credentials["password"]

	if raw := conn["url"]; raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeInvalidConfig, "malformed connection url")
		}
		if u.User != nil {
			if _, has := u.User.Password(); !has && password != "" {
				u.User = url.UserPassword(u.User.Username(), password)
			}
		} else if user := credentials["user"]; user != "" {
			u.User = url.UserPassword(user, password)
		}
		if dialect == DialectMySQL {
			return mysqlDSNFromURL(u)
		}
		return u.String(), nil
	}

	host := conn["host"]
	if host == "" {
		return "", errors.New(errors.ErrorTypeInvalidConfig, "rdbms source needs a url or a host")
	}
	database := conn["database"]
	if database == "" {
		return "", errors.New(errors.ErrorTypeInvalidConfig, "rdbms source needs a database")
	}
	user := conn["user"]
	if user == "" {
		user = credentials["user"]
	}

	switch dialect {
	case DialectMySQL:
		port := conn["port"]
		if port == "" {
			port = "3306"
		}
		cfg := gomysql.NewConfig()
		cfg.User = user
		cfg.Passwd = password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(host, port)
		cfg.DBName = database
		cfg.ParseTime = true
		return cfg.FormatDSN(), nil
	default:
		port := conn["port"]
		if port == "" {
			port = "5432"
		}
		u := url.URL{
			Scheme: "postgres",
			User:   url.UserPassword(user, password),
			Host:   net.JoinHostPort(host, port),
			Path:   "/" + database,
		}
		if ssl := conn["sslmode"]; ssl != "" {
			u.RawQuery = "sslmode=" + ssl
		}
		return u.String(), nil
	}
}

// mysqlDSNFromURL converts a mysql:// url into the driver's DSN form.
func mysqlDSNFromURL(u *url.URL) (string, error) {
	cfg := gomysql.NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if !strings.Contains(u.Host, ":") {
		cfg.Addr = net.JoinHostPort(u.Host, "3306")
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if cfg.DBName == "" {
		return "", errors.New(errors.ErrorTypeInvalidConfig, "mysql url is missing a database path")
	}
	return cfg.FormatDSN(), nil
}

// isAuthError reports whether a ping failure is a credential rejection
// rather than plain unreachability. Auth failures must not be classified as
// retryable connection problems.
func isAuthError(err error) bool {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		// Class 28: invalid authorization specification.
		return strings.HasPrefix(pgErr.Code, "28")
	}
	var myErr *gomysql.MySQLError
	if stderrors.As(err, &myErr) {
		switch myErr.Number {
		case 1044, 1045, 1698: // access denied variants
			return true
		}
	}
	return false
}

// systemSchemas are excluded from discovery.
var systemSchemas = map[Dialect][]string{
	DialectPostgres: {"pg_catalog", "information_schema", "pg_toast"},
	DialectMySQL:    {"mysql", "information_schema", "performance_schema", "sys"},
}

// ListDatabases returns user schemas from information_schema.schemata.
func (a *Adapter) ListDatabases(ctx context.Context) ([]string, error) {
	excluded := systemSchemas[a.dialect]
	placeholders := make([]string, len(excluded))
	args := make([]interface{}, len(excluded))
	for i, s := range excluded {
		placeholders[i] = a.placeholder(i + 1)
		args[i] = s
	}

	query := fmt.Sprintf(
		"SELECT schema_name FROM information_schema.schemata WHERE schema_name NOT IN (%s) ORDER BY schema_name",
		strings.Join(placeholders, ", "))

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list schemas").WithSource(a.name)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan schema name")
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// ListObjects returns tables and views within one schema.
func (a *Adapter) ListObjects(ctx context.Context, parent []string) ([]models.ObjectInfo, error) {
	if len(parent) != 1 {
		return nil, errors.New(errors.ErrorTypeInvalidConfig, "rdbms object listing expects a single schema segment")
	}

	query := fmt.Sprintf(
		"SELECT table_name, table_type FROM information_schema.tables WHERE table_schema = %s ORDER BY table_name",
		a.placeholder(1))

	rows, err := a.db.QueryContext(ctx, query, parent[0])
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to list tables").WithSource(a.name)
	}
	defer rows.Close()

	var objs []models.ObjectInfo
	for rows.Next() {
		var name, tableType string
		if err := rows.Scan(&name, &tableType); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan table listing")
		}
		kind := models.ObjectKindTable
		if strings.EqualFold(tableType, "VIEW") {
			kind = models.ObjectKindView
		}
		objs = append(objs, models.ObjectInfo{Name: name, Kind: kind})
	}
	return objs, rows.Err()
}

// Describe extracts the schema of one table and, when requested, per-column
// statistics computed in a single aggregate scan.
func (a *Adapter) Describe(ctx context.Context, ref models.ObjectRef, includeStats bool) (*models.MetadataResult, error) {
	schemaName, table, err := splitRef(ref)
	if err != nil {
		return nil, err
	}

	schema, err := a.tableSchema(ctx, schemaName, table)
	if err != nil {
		return nil, err
	}
	if len(schema.Columns) == 0 {
		return nil, errors.New(errors.ErrorTypeObjectNotFound, "table not found").
			WithSource(a.name).WithPath(ref.PathString())
	}

	result := &models.MetadataResult{Ref: ref, Schema: schema}

	if sizeBytes, ok := a.tableSize(ctx, schemaName, table); ok {
		result.SizeBytes = models.Int64Ptr(sizeBytes)
	}

	if includeStats {
		if err := a.collectStats(ctx, schemaName, table, result); err != nil {
			return nil, err
		}
	} else if rowCount, err := a.countRows(ctx, schemaName, table); err == nil {
		result.RowCount = models.Int64Ptr(rowCount)
	}

	return result, nil
}

// tableSchema reads column definitions and primary keys from information_schema.
func (a *Adapter) tableSchema(ctx context.Context, schemaName, table string) (models.SchemaInfo, error) {
	query := fmt.Sprintf(`
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position`,
		a.placeholder(1), a.placeholder(2))

	rows, err := a.db.QueryContext(ctx, query, schemaName, table)
	if err != nil {
		return models.SchemaInfo{}, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read table schema").WithSource(a.name)
	}
	defer rows.Close()

	var info models.SchemaInfo
	for rows.Next() {
		var name, nativeType, nullable string
		if err := rows.Scan(&name, &nativeType, &nullable); err != nil {
			return models.SchemaInfo{}, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan column definition")
		}
		info.Columns = append(info.Columns, models.Column{
			Name:       name,
			Type:       mapNativeType(nativeType),
			Nullable:   strings.EqualFold(nullable, "YES"),
			NativeType: nativeType,
		})
	}
	if err := rows.Err(); err != nil {
		return models.SchemaInfo{}, errors.Wrap(err, errors.ErrorTypeConnection, "failed reading table schema").WithSource(a.name)
	}

	pks, err := a.primaryKeys(ctx, schemaName, table)
	if err != nil {
		logger.Get().Warn("primary key lookup failed",
			zap.String("source", a.name),
			zap.String("table", table),
			zap.Error(err))
	} else {
		info.PrimaryKeys = pks
	}
	return info, nil
}

func (a *Adapter) primaryKeys(ctx context.Context, schemaName, table string) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
		  ON kcu.constraint_name = tc.constraint_name
		 AND kcu.table_schema = tc.table_schema
		 AND kcu.table_name = tc.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		  AND tc.table_schema = %s AND tc.table_name = %s
		ORDER BY kcu.ordinal_position`,
		a.placeholder(1), a.placeholder(2))

	rows, err := a.db.QueryContext(ctx, query, schemaName, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pks []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, err
		}
		pks = append(pks, col)
	}
	return pks, rows.Err()
}

// tableSize asks the catalog for on-disk size. Best effort; absence is not an
// error.
func (a *Adapter) tableSize(ctx context.Context, schemaName, table string) (int64, bool) {
	var query string
	var args []interface{}
	switch a.dialect {
	case DialectPostgres:
		query = "SELECT pg_total_relation_size($1::regclass)"
		args = []interface{}{a.quote(schemaName) + "." + a.quote(table)}
	case DialectMySQL:
		query = `SELECT COALESCE(data_length + index_length, 0)
			FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`
		args = []interface{}{schemaName, table}
	}

	var size sql.NullInt64
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&size); err != nil || !size.Valid {
		return 0, false
	}
	return size.Int64, true
}

func (a *Adapter) countRows(ctx context.Context, schemaName, table string) (int64, error) {
	var count int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", a.qualify(schemaName, table))
	if err := a.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeConnection, "failed to count rows").WithSource(a.name)
	}
	return count, nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// placeholder renders the dialect's positional parameter marker.
func (a *Adapter) placeholder(n int) string {
	if a.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// quote wraps an identifier in the dialect's quoting style.
func (a *Adapter) quote(ident string) string {
	if a.dialect == DialectMySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (a *Adapter) qualify(schemaName, table string) string {
	return a.quote(schemaName) + "." + a.quote(table)
}

func splitRef(ref models.ObjectRef) (schemaName, table string, err error) {
	if len(ref.Path) != 2 {
		return "", "", errors.New(errors.ErrorTypeInvalidConfig,
			"rdbms object paths have exactly two segments (schema.table)").WithPath(ref.PathString())
	}
	return ref.Path[0], ref.Path[1], nil
}

// mapNativeType folds the dialect's type names into the shared vocabulary.
func mapNativeType(native string) models.DataType {
	n := strings.ToLower(native)
	switch {
	case strings.Contains(n, "int"):
		return models.DataTypeInteger
	case n == "real" || n == "float" || strings.Contains(n, "double"):
		return models.DataTypeFloat
	case strings.Contains(n, "numeric") || strings.Contains(n, "decimal"):
		return models.DataTypeDecimal
	case strings.Contains(n, "char") || n == "text" || strings.Contains(n, "uuid") || strings.Contains(n, "json") || strings.Contains(n, "enum"):
		return models.DataTypeString
	case strings.Contains(n, "bool"):
		return models.DataTypeBoolean
	case n == "date":
		return models.DataTypeDate
	case strings.Contains(n, "timestamp") || n == "datetime" || strings.Contains(n, "time"):
		return models.DataTypeTimestamp
	case strings.Contains(n, "bytea") || strings.Contains(n, "blob") || strings.Contains(n, "binary"):
		return models.DataTypeBinary
	default:
		return models.DataTypeUnknown
	}
}
