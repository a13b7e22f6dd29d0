package rdbms

import (
	"context"
	"fmt"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/models"
)

// Sample returns up to opts.Limit rows. PostgreSQL serves bernoulli requests
// natively with TABLESAMPLE; MySQL has no row-level sampling, so bernoulli
// falls back to head with the fallback disclosed in the result.
func (a *Adapter) Sample(ctx context.Context, ref models.ObjectRef, opts models.SampleOptions) (*models.SampleResult, error) {
	schemaName, table, err := splitRef(ref)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	percent := opts.Percent
	if percent <= 0 || percent > 100 {
		percent = 1.0
	}

	method := opts.Method
	fallback := false
	var query string
	switch {
	case method == models.SamplingBernoulli && a.dialect == DialectPostgres:
		query = fmt.Sprintf("SELECT * FROM %s TABLESAMPLE BERNOULLI(%g) LIMIT %d",
			a.qualify(schemaName, table), percent, limit)
	case method == models.SamplingBernoulli:
		method = models.SamplingHead
		fallback = true
		fallthrough
	default:
		method = models.SamplingHead
		query = fmt.Sprintf("SELECT * FROM %s LIMIT %d", a.qualify(schemaName, table), limit)
	}

	rows, err := a.db.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "sample query failed").
			WithSource(a.name).WithPath(ref.PathString())
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to read sample columns")
	}

	out := &models.SampleResult{Method: method, Fallback: fallback, Rows: []map[string]interface{}{}}
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
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "sample scan interrupted").WithSource(a.name)
	}
	return out, nil
}
