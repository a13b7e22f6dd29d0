package footer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrumhq/spectrum/pkg/models"
)

func intSchema(names ...string) models.SchemaInfo {
	s := models.SchemaInfo{}
	for _, n := range names {
		s.Columns = append(s.Columns, models.Column{Name: n, Type: models.DataTypeInteger})
	}
	return s
}

func fileWith(path string, rows int64, cols map[string]ColumnFooter) FileStats {
	return FileStats{Path: path, RowCount: rows, Columns: cols}
}

func statFor(t *testing.T, res Result, column string) models.ColumnStats {
	t.Helper()
	for _, s := range res.Stats {
		if s.Column == column {
			return s
		}
	}
	t.Fatalf("no aggregated stats for column %s", column)
	return models.ColumnStats{}
}

func TestAggregateSumsRowAndNullCounts(t *testing.T) {
	schema := intSchema("a", "b")
	files := []FileStats{
		fileWith("f1", 100, map[string]ColumnFooter{
			"a": {Column: "a", NullCount: models.Int64Ptr(2)},
			"b": {Column: "b", NullCount: models.Int64Ptr(0)},
		}),
		fileWith("f2", 250, map[string]ColumnFooter{
			"a": {Column: "a", NullCount: models.Int64Ptr(5)},
			"b": {Column: "b", NullCount: models.Int64Ptr(1)},
		}),
		fileWith("f3", 0, map[string]ColumnFooter{
			"a": {Column: "a", NullCount: models.Int64Ptr(0)},
			"b": {Column: "b", NullCount: models.Int64Ptr(0)},
		}),
	}

	res := Aggregate(schema, files, nil)

	assert.Equal(t, int64(350), res.RowCount)
	a := statFor(t, res, "a")
	require.NotNil(t, a.NullCount)
	assert.Equal(t, int64(7), *a.NullCount)
	b := statFor(t, res, "b")
	require.NotNil(t, b.NullCount)
	assert.Equal(t, int64(1), *b.NullCount)
}

func TestAggregateUnknownNullCountPoisonsColumn(t *testing.T) {
	schema := intSchema("a")
	files := []FileStats{
		fileWith("f1", 10, map[string]ColumnFooter{
			"a": {Column: "a", NullCount: models.Int64Ptr(3)},
		}),
		fileWith("f2", 10, map[string]ColumnFooter{
			"a": {Column: "a"},
		}),
	}

	res := Aggregate(schema, files, nil)

	// The sum must be unknown, never a silent undercount of 3.
	for _, s := range res.Stats {
		assert.Nil(t, s.NullCount)
	}
	assert.NotEmpty(t, res.Warnings)
}

func TestAggregateMinMaxNumericOrdering(t *testing.T) {
	schema := intSchema("v")
	files := []FileStats{
		fileWith("f1", 1, map[string]ColumnFooter{
			"v": {Column: "v", Min: models.StringPtr("9"), Max: models.StringPtr("9"), NullCount: models.Int64Ptr(0)},
		}),
		fileWith("f2", 1, map[string]ColumnFooter{
			"v": {Column: "v", Min: models.StringPtr("100"), Max: models.StringPtr("100"), NullCount: models.Int64Ptr(0)},
		}),
	}

	res := Aggregate(schema, files, nil)

	v := statFor(t, res, "v")
	// Lexicographically "100" < "9"; numeric ordering must win.
	require.NotNil(t, v.Min)
	require.NotNil(t, v.Max)
	assert.Equal(t, "9", *v.Min)
	assert.Equal(t, "100", *v.Max)
}

func TestAggregateMissingMinMaxPoisonsExtremes(t *testing.T) {
	schema := intSchema("v")
	files := []FileStats{
		fileWith("f1", 1, map[string]ColumnFooter{
			"v": {Column: "v", Min: models.StringPtr("1"), Max: models.StringPtr("5"), NullCount: models.Int64Ptr(0)},
		}),
		fileWith("f2", 1, map[string]ColumnFooter{
			"v": {Column: "v", NullCount: models.Int64Ptr(0)},
		}),
	}

	res := Aggregate(schema, files, nil)

	v := statFor(t, res, "v")
	assert.Nil(t, v.Min)
	assert.Nil(t, v.Max)
	// Null counts were known everywhere and survive the min/max poisoning.
	require.NotNil(t, v.NullCount)
	assert.Equal(t, int64(0), *v.NullCount)
}

func TestAggregateDistinctOnlyForPartitionKeys(t *testing.T) {
	schema := models.SchemaInfo{Columns: []models.Column{
		{Name: "region", Type: models.DataTypeString},
		{Name: "value", Type: models.DataTypeInteger},
	}}
	files := []FileStats{
		fileWith("f1", 1, map[string]ColumnFooter{
			"region": {Column: "region", NullCount: models.Int64Ptr(0), DistinctCount: models.Int64Ptr(1)},
			"value":  {Column: "value", NullCount: models.Int64Ptr(0), DistinctCount: models.Int64Ptr(40)},
		}),
		fileWith("f2", 1, map[string]ColumnFooter{
			"region": {Column: "region", NullCount: models.Int64Ptr(0), DistinctCount: models.Int64Ptr(2)},
			"value":  {Column: "value", NullCount: models.Int64Ptr(0), DistinctCount: models.Int64Ptr(40)},
		}),
	}

	res := Aggregate(schema, files, []string{"region"})

	region := statFor(t, res, "region")
	require.NotNil(t, region.DistinctCount)
	assert.Equal(t, int64(3), *region.DistinctCount)

	// Non-partition distinct counts cannot be union-counted; overlap between
	// files is unknowable from footers.
	value := statFor(t, res, "value")
	assert.Nil(t, value.DistinctCount)
}

func TestAggregatePartitionKeyWithMissingDistinctStaysUnknown(t *testing.T) {
	schema := models.SchemaInfo{Columns: []models.Column{
		{Name: "region", Type: models.DataTypeString},
	}}
	files := []FileStats{
		fileWith("f1", 1, map[string]ColumnFooter{
			"region": {Column: "region", NullCount: models.Int64Ptr(0), DistinctCount: models.Int64Ptr(1)},
		}),
		fileWith("f2", 1, map[string]ColumnFooter{
			"region": {Column: "region", NullCount: models.Int64Ptr(0)},
		}),
	}

	res := Aggregate(schema, files, []string{"region"})
	assert.Nil(t, statFor(t, res, "region").DistinctCount)
}

func TestAggregateEmptyFileSet(t *testing.T) {
	res := Aggregate(intSchema("a"), nil, nil)
	assert.Equal(t, int64(0), res.RowCount)
	assert.Empty(t, res.Stats)
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name    string
		a, b    string
		typ     models.DataType
		want    int
		wantErr bool
	}{
		{name: "integer numeric order", a: "9", b: "100", typ: models.DataTypeInteger, want: -1},
		{name: "integer equal", a: "42", b: "42", typ: models.DataTypeInteger, want: 0},
		{name: "float order", a: "2.5", b: "10.25", typ: models.DataTypeFloat, want: -1},
		{name: "decimal order", a: "99.99", b: "100.00", typ: models.DataTypeDecimal, want: -1},
		{name: "string lexicographic", a: "100", b: "9", typ: models.DataTypeString, want: -1},
		{name: "date order", a: "2024-01-02", b: "2024-01-10", typ: models.DataTypeDate, want: -1},
		{name: "timestamp rfc3339", a: "2024-01-02T00:00:00Z", b: "2024-01-01T23:59:59Z", typ: models.DataTypeTimestamp, want: 1},
		{name: "timestamp space separated", a: "2024-01-02 10:00:00", b: "2024-01-02 11:00:00", typ: models.DataTypeTimestamp, want: -1},
		{name: "boolean order", a: "false", b: "true", typ: models.DataTypeBoolean, want: -1},
		{name: "bad integer", a: "abc", b: "1", typ: models.DataTypeInteger, wantErr: true},
		{name: "bad temporal", a: "not-a-date", b: "2024-01-01", typ: models.DataTypeDate, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compare(tt.a, tt.b, tt.typ)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
