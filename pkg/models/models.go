// Package models defines the shared data model for Spectrum: source
// descriptors, object references, schemas, column statistics, and the
// metadata results produced by extraction.
package models

import (
	"fmt"
	"strings"
	"time"
)

// SourceKind identifies the category of backend behind a source.
type SourceKind string

const (
	// SourceKindRDBMS covers relational databases reachable over SQL
	SourceKindRDBMS SourceKind = "rdbms"
	// SourceKindLakehouse covers warehouse/lakehouse SQL catalogs
	SourceKindLakehouse SourceKind = "lakehouse"
	// SourceKindFileLake covers file-based lakes (parquet/delta on disk or object storage)
	SourceKindFileLake SourceKind = "filelake"
)

// Valid reports whether the kind is one of the closed variant set.
func (k SourceKind) Valid() bool {
	switch k {
	case SourceKindRDBMS, SourceKindLakehouse, SourceKindFileLake:
		return true
	}
	return false
}

// SourceDescriptor holds the identity and connection configuration of one
// registered source. Credentials are kept only in sealed form; the plaintext
// never leaves the registry's resolve path.
type SourceDescriptor struct {
	Name       string            `json:"name"`
	Kind       SourceKind        `json:"kind"`
	Connection map[string]string `json:"connection"`
	// SealedCredentials is an opaque blob produced by the sealing service.
	// Never logged, never echoed.
	SealedCredentials []byte    `json:"-"`
	CreatedAt         time.Time `json:"created_at"`
}

// Redacted returns a copy safe for listing output: the sealed blob is dropped
// entirely rather than masked.
func (d *SourceDescriptor) Redacted() SourceDescriptor {
	out := SourceDescriptor{
		Name:       d.Name,
		Kind:       d.Kind,
		Connection: make(map[string]string, len(d.Connection)),
		CreatedAt:  d.CreatedAt,
	}
	for k, v := range d.Connection {
		out.Connection[k] = v
	}
	return out
}

// ObjectRef is a fully-qualified pointer to a queryable object within a
// source: the source name plus hierarchical path segments
// (e.g. database/schema/table).
type ObjectRef struct {
	Source string   `json:"source"`
	Path   []string `json:"path"`
}

// NewObjectRef builds an ObjectRef from a source name and path segments.
func NewObjectRef(source string, segments ...string) ObjectRef {
	return ObjectRef{Source: source, Path: segments}
}

// ParseObjectRef splits a dotted object path ("db.schema.table") into
// segments. File-lake paths use slashes and are split accordingly.
func ParseObjectRef(source, path string) ObjectRef {
	sep := "."
	if strings.Contains(path, "/") {
		sep = "/"
	}
	parts := strings.Split(path, sep)
	segments := parts[:0]
	for _, p := range parts {
		if p != "" {
			segments = append(segments, p)
		}
	}
	return ObjectRef{Source: source, Path: segments}
}

// PathString joins the path segments with dots.
func (r ObjectRef) PathString() string {
	return strings.Join(r.Path, ".")
}

// String renders the ref as source:path for logs and error details.
func (r ObjectRef) String() string {
	return fmt.Sprintf("%s:%s", r.Source, r.PathString())
}

// DataType is the coarse common type vocabulary shared across source
// dialects. Mapping from native types is lossy on purpose; the native type
// string is preserved alongside.
type DataType string

const (
	DataTypeInteger   DataType = "integer"
	DataTypeFloat     DataType = "float"
	DataTypeDecimal   DataType = "decimal"
	DataTypeString    DataType = "string"
	DataTypeBoolean   DataType = "boolean"
	DataTypeDate      DataType = "date"
	DataTypeTimestamp DataType = "timestamp"
	DataTypeBinary    DataType = "binary"
	DataTypeStruct    DataType = "struct"
	DataTypeUnknown   DataType = "unknown"
)

// Column is one entry of a SchemaInfo.
type Column struct {
	Name       string   `json:"name"`
	Type       DataType `json:"type"`
	Nullable   bool     `json:"nullable"`
	NativeType string   `json:"native_type,omitempty"`
}

// SchemaInfo is an ordered column sequence. Column names are unique within
// one schema.
type SchemaInfo struct {
	Columns     []Column `json:"columns"`
	PrimaryKeys []string `json:"primary_keys,omitempty"`
}

// Validate enforces the unique-column-name invariant.
func (s *SchemaInfo) Validate() error {
	seen := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate column name %q in schema", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Column looks up a column by name.
func (s *SchemaInfo) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnStats carries per-column statistics. Min and max are kept in the
// source-native string representation with the logical type tag so that no
// lossy cross-type coercion happens at aggregation boundaries. Fields a
// source or format cannot supply stay nil.
type ColumnStats struct {
	Column        string   `json:"column"`
	Type          DataType `json:"type"`
	Min           *string  `json:"min,omitempty"`
	Max           *string  `json:"max,omitempty"`
	NullCount     *int64   `json:"null_count,omitempty"`
	DistinctCount *int64   `json:"distinct_count,omitempty"`
}

// MetadataResult is the unit cached and returned by extraction.
// If Stats is present it has at most one entry per schema column; columns
// with no computable stats simply have no entry.
type MetadataResult struct {
	Ref           ObjectRef     `json:"ref"`
	Schema        SchemaInfo    `json:"schema"`
	RowCount      *int64        `json:"row_count,omitempty"`
	SizeBytes     *int64        `json:"size_bytes,omitempty"`
	Stats         []ColumnStats `json:"stats,omitempty"`
	PartitionKeys []string      `json:"partition_keys,omitempty"`
	ExtractedAt   time.Time     `json:"extracted_at"`
	// Warnings records which statistics are missing and why when extraction
	// was only partially successful.
	Warnings []string `json:"warnings,omitempty"`
}

// ObjectKind classifies a discovered object.
type ObjectKind string

const (
	ObjectKindTable     ObjectKind = "table"
	ObjectKindView      ObjectKind = "view"
	ObjectKindDirectory ObjectKind = "directory"
)

// ObjectInfo is one discovery listing entry.
type ObjectInfo struct {
	Name string     `json:"name"`
	Kind ObjectKind `json:"kind"`
}

// SamplingMethod selects how sample rows are drawn.
type SamplingMethod string

const (
	// SamplingHead returns the first rows the backend yields
	SamplingHead SamplingMethod = "head"
	// SamplingBernoulli requests a probabilistic row-level sample; adapters
	// without native support fall back to head
	SamplingBernoulli SamplingMethod = "bernoulli"
)

// SampleOptions parameterizes a sample request.
type SampleOptions struct {
	Limit   int            `json:"limit"`
	Method  SamplingMethod `json:"method"`
	Percent float64        `json:"percent"`
}

// SampleResult is a row batch plus disclosure of the method actually used.
type SampleResult struct {
	Rows   []map[string]interface{} `json:"rows"`
	Method SamplingMethod           `json:"method"`
	// Fallback is set when the requested method was not natively supported
	// and head sampling was substituted.
	Fallback bool `json:"fallback"`
}

// TTLClass names a cache freshness policy.
type TTLClass string

const (
	// TTLMetadata applies to schema/stats extraction results
	TTLMetadata TTLClass = "metadata"
	// TTLDiscovery applies to database/object listing results
	TTLDiscovery TTLClass = "discovery"
)

// Int64Ptr is a small helper for optional counters.
func Int64Ptr(v int64) *int64 { return &v }

// StringPtr is a small helper for optional native-string values.
func StringPtr(v string) *string { return &v }
