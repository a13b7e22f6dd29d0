package rdbms

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/models"
)

// statsCapable reports whether MIN/MAX is computable for a column type. The
// dialects disagree on ordering for booleans and binary blobs, so those are
// reported without extrema.
func statsCapable(t models.DataType) bool {
	switch t {
	case models.DataTypeInteger, models.DataTypeFloat, models.DataTypeDecimal,
		models.DataTypeString, models.DataTypeDate, models.DataTypeTimestamp:
		return true
	}
	return false
}

// collectStats computes row count and per-column statistics in one aggregate
// scan over the table. Exact values only; there is no sampling shortcut here.
func (a *Adapter) collectStats(ctx context.Context, schemaName, table string, result *models.MetadataResult) error {
	type plan struct {
		column   models.Column
		minMax   bool
		distinct bool
	}

	plans := make([]plan, 0, len(result.Schema.Columns))
	exprs := []string{"COUNT(*)"}
	for _, col := range result.Schema.Columns {
		p := plan{
			column:   col,
			minMax:   statsCapable(col.Type),
			distinct: col.Type != models.DataTypeBinary,
		}
		q := a.quote(col.Name)
		if p.minMax {
			exprs = append(exprs, a.castText("MIN("+q+")"), a.castText("MAX("+q+")"))
		}
		exprs = append(exprs, "COUNT("+q+")")
		if p.distinct {
			exprs = append(exprs, "COUNT(DISTINCT "+q+")")
		}
		plans = append(plans, p)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", strings.Join(exprs, ", "), a.qualify(schemaName, table))

	var total int64
	dest := []interface{}{&total}
	type slot struct {
		min, max sql.NullString
		nonNull  int64
		distinct sql.NullInt64
	}
	slots := make([]slot, len(plans))
	for i := range plans {
		if plans[i].minMax {
			dest = append(dest, &slots[i].min, &slots[i].max)
		}
		dest = append(dest, &slots[i].nonNull)
		if plans[i].distinct {
			dest = append(dest, &slots[i].distinct)
		}
	}

	if err := a.db.QueryRowContext(ctx, query).Scan(dest...); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to compute column statistics").
			WithSource(a.name).WithPath(schemaName + "." + table)
	}

	result.RowCount = models.Int64Ptr(total)
	result.ExtractedAt = time.Now().UTC()
	result.Stats = make([]models.ColumnStats, 0, len(plans))
	for i, p := range plans {
		cs := models.ColumnStats{
			Column:    p.column.Name,
			Type:      p.column.Type,
			NullCount: models.Int64Ptr(total - slots[i].nonNull),
		}
		if p.minMax {
			if slots[i].min.Valid {
				cs.Min = models.StringPtr(slots[i].min.String)
			}
			if slots[i].max.Valid {
				cs.Max = models.StringPtr(slots[i].max.String)
			}
		} else {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("column %s: min/max not computed for type %s", p.column.Name, p.column.Type))
		}
		if p.distinct && slots[i].distinct.Valid {
			cs.DistinctCount = models.Int64Ptr(slots[i].distinct.Int64)
		}
		result.Stats = append(result.Stats, cs)
	}
	return nil
}

// castText renders an aggregate expression as text so every dialect scans
// into the same string slot.
func (a *Adapter) castText(expr string) string {
	if a.dialect == DialectMySQL {
		return "CAST(" + expr + " AS CHAR)"
	}
	return "(" + expr + ")::text"
}
