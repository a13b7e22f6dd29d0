package models

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseObjectRef(t *testing.T) {
	tests := []struct {
		name string
		path string
		want []string
	}{
		{"dotted", "public.users", []string{"public", "users"}},
		{"three segments", "db.schema.table", []string{"db", "schema", "table"}},
		{"slashed", "sales/events", []string{"sales", "events"}},
		{"trailing slash", "sales/events/", []string{"sales", "events"}},
		{"single segment", "public", []string{"public"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := ParseObjectRef("src", tt.path)
			assert.Equal(t, tt.want, ref.Path)
			assert.Equal(t, "src", ref.Source)
		})
	}
}

func TestObjectRefString(t *testing.T) {
	ref := NewObjectRef("pg", "public", "users")
	assert.Equal(t, "public.users", ref.PathString())
	assert.Equal(t, "pg:public.users", ref.String())
}

func TestSchemaValidateRejectsDuplicates(t *testing.T) {
	s := SchemaInfo{Columns: []Column{
		{Name: "id", Type: DataTypeInteger},
		{Name: "id", Type: DataTypeString},
	}}
	assert.Error(t, s.Validate())

	s.Columns[1].Name = "name"
	assert.NoError(t, s.Validate())
}

func TestSourceKindValid(t *testing.T) {
	assert.True(t, SourceKindRDBMS.Valid())
	assert.True(t, SourceKindLakehouse.Valid())
	assert.True(t, SourceKindFileLake.Valid())
	assert.False(t, SourceKind("graph").Valid())
}

func TestSealedCredentialsNeverSerialize(t *testing.T) {
	desc := SourceDescriptor{
		Name:              "pg",
		Kind:              SourceKindRDBMS,
		Connection:        map[string]string{"host": "db"},
		SealedCredentials: []byte("opaque"),
	}

	data, err := json.Marshal(desc)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "opaque")

	redacted := desc.Redacted()
	assert.Empty(t, redacted.SealedCredentials)
	assert.Equal(t, desc.Connection, redacted.Connection)
}
