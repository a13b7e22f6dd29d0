// Package footer derives table-level column statistics for file-based tables
// from per-file footer metadata alone. No row data is ever read; the cost is
// O(files x columns) in a single pass regardless of table size.
package footer

import (
	"strconv"
	"strings"
	"time"

	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/models"
)

// ColumnFooter is the footer-recorded statistics of one column in one file.
// Nil fields mean the file's footer does not record that statistic.
type ColumnFooter struct {
	Column        string
	Min           *string
	Max           *string
	NullCount     *int64
	DistinctCount *int64
}

// FileStats is the footer-level metadata of one physical file.
type FileStats struct {
	Path     string
	RowCount int64
	Columns  map[string]ColumnFooter
}

// Result is the aggregate over one logical table's active file set.
type Result struct {
	RowCount int64
	Stats    []models.ColumnStats
	// Warnings names the statistics that could not be computed and why.
	Warnings []string
}

// Aggregate folds per-file footer statistics into table-level ColumnStats.
//
// Policy: sums (row count, null count) are exact or absent. A single file
// with an unknown null count poisons that column's aggregate to unknown
// rather than silently undercounting; the same holds for min/max when a file
// lacks them, since the true extremum could hide in that file. Distinct
// counts are only unioned across files for partition-key columns where every
// file reports an exact value.
func Aggregate(schema models.SchemaInfo, files []FileStats, partitionKeys []string) Result {
	res := Result{}
	for _, f := range files {
		res.RowCount += f.RowCount
	}

	isPartitionKey := make(map[string]bool, len(partitionKeys))
	for _, k := range partitionKeys {
		isPartitionKey[k] = true
	}

	for _, col := range schema.Columns {
		stat, warnings := aggregateColumn(col, files, isPartitionKey[col.Name])
		res.Warnings = append(res.Warnings, warnings...)
		if stat != nil {
			res.Stats = append(res.Stats, *stat)
		}
	}

	return res
}

func aggregateColumn(col models.Column, files []FileStats, partitionKey bool) (*models.ColumnStats, []string) {
	if len(files) == 0 {
		return nil, nil
	}

	var (
		warnings     []string
		minVal       *string
		maxVal       *string
		nullCount    int64
		nullKnown    = true
		minMaxKnown  = true
		distinctSum  int64
		distinctOK   = partitionKey
	)

	for _, f := range files {
		cf, ok := f.Columns[col.Name]
		if !ok {
			// The file does not record this column at all; every
			// per-column aggregate is unknowable.
			nullKnown = false
			minMaxKnown = false
			distinctOK = false
			continue
		}

		if cf.NullCount == nil {
			nullKnown = false
		} else if nullKnown {
			nullCount += *cf.NullCount
		}

		if cf.Min == nil || cf.Max == nil {
			minMaxKnown = false
		} else if minMaxKnown {
			var err error
			minVal, err = pickExtremum(minVal, *cf.Min, col.Type, false)
			if err == nil {
				maxVal, err = pickExtremum(maxVal, *cf.Max, col.Type, true)
			}
			if err != nil {
				minMaxKnown = false
				warnings = append(warnings, "column "+col.Name+": "+err.Error())
			}
		}

		if cf.DistinctCount == nil {
			distinctOK = false
		} else if distinctOK {
			distinctSum += *cf.DistinctCount
		}
	}

	stat := models.ColumnStats{Column: col.Name, Type: col.Type}
	populated := false

	if minMaxKnown && minVal != nil {
		stat.Min, stat.Max = minVal, maxVal
		populated = true
	} else if !minMaxKnown {
		warnings = append(warnings, "column "+col.Name+": min/max unavailable in one or more footers")
	}

	if nullKnown {
		stat.NullCount = models.Int64Ptr(nullCount)
		populated = true
	} else {
		warnings = append(warnings, "column "+col.Name+": null count unavailable in one or more footers")
	}

	// Partition values are disjoint across files, so exact per-file distinct
	// counts union-count by summation. Any other column omits the field.
	if distinctOK {
		stat.DistinctCount = models.Int64Ptr(distinctSum)
		populated = true
	}

	if !populated {
		return nil, warnings
	}
	return &stat, warnings
}

// pickExtremum folds candidate into the running extremum using type-aware
// comparison. wantMax selects max folding; otherwise min.
func pickExtremum(current *string, candidate string, t models.DataType, wantMax bool) (*string, error) {
	if current == nil {
		c := candidate
		return &c, nil
	}
	cmp, err := Compare(candidate, *current, t)
	if err != nil {
		return nil, err
	}
	if (wantMax && cmp > 0) || (!wantMax && cmp < 0) {
		c := candidate
		return &c, nil
	}
	return current, nil
}

// Compare orders two native-string values under the column's logical type:
// numeric for integer/float/decimal, temporal for date/timestamp, and
// lexicographic for everything else. Raw byte comparison is never applied
// across mixed types.
func Compare(a, b string, t models.DataType) (int, error) {
	switch t {
	case models.DataTypeInteger:
		ai, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return 0, errors.New(errors.ErrorTypePartialStats, "non-integer footer value "+strconv.Quote(a))
		}
		bi, err := strconv.ParseInt(b, 10, 64)
		if err != nil {
			return 0, errors.New(errors.ErrorTypePartialStats, "non-integer footer value "+strconv.Quote(b))
		}
		return compareOrdered(ai, bi), nil

	case models.DataTypeFloat, models.DataTypeDecimal:
		af, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return 0, errors.New(errors.ErrorTypePartialStats, "non-numeric footer value "+strconv.Quote(a))
		}
		bf, err := strconv.ParseFloat(b, 64)
		if err != nil {
			return 0, errors.New(errors.ErrorTypePartialStats, "non-numeric footer value "+strconv.Quote(b))
		}
		return compareOrdered(af, bf), nil

	case models.DataTypeDate, models.DataTypeTimestamp:
		at, err := parseTemporal(a)
		if err != nil {
			return 0, err
		}
		bt, err := parseTemporal(b)
		if err != nil {
			return 0, err
		}
		return at.Compare(bt), nil

	case models.DataTypeBoolean:
		return compareOrdered(boolRank(a), boolRank(b)), nil

	default:
		return strings.Compare(a, b), nil
	}
}

var temporalLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTemporal(v string) (time.Time, error) {
	for _, layout := range temporalLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.New(errors.ErrorTypePartialStats, "unparseable temporal footer value "+strconv.Quote(v))
}

func boolRank(v string) int {
	if v == "true" || v == "1" {
		return 1
	}
	return 0
}

func compareOrdered[T int | int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
