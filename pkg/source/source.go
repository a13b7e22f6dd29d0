// Package source defines the capability-oriented adapter contract every
// backend implements. Callers hold an Adapter and never see driver types;
// what a backend cannot answer it reports as unknown rather than guessing.
package source

import (
	"context"

	"github.com/spectrumhq/spectrum/pkg/models"
)

// Adapter is the uniform surface over one registered source. Implementations
// exist for relational databases, SQL lakehouse warehouses, and file-based
// lakes. Every call is bounded by its context.
type Adapter interface {
	// ListDatabases returns the top-level namespaces of the source:
	// databases, schemas, or first-level directories.
	ListDatabases(ctx context.Context) ([]string, error)

	// ListObjects returns the tables, views, or table directories under
	// parent. parent is a path within the source namespace.
	ListObjects(ctx context.Context, parent []string) ([]models.ObjectInfo, error)

	// Describe extracts metadata for one object. With includeStats the
	// result also carries per-column statistics; backends that can only
	// answer part of the request return what they have plus warnings.
	Describe(ctx context.Context, ref models.ObjectRef, includeStats bool) (*models.MetadataResult, error)

	// Sample returns up to opts.Limit rows from the object. Backends
	// without native random sampling fall back to head sampling and say
	// so in the result.
	Sample(ctx context.Context, ref models.ObjectRef, opts models.SampleOptions) (*models.SampleResult, error)

	// Close releases connections and pools held by the adapter.
	Close() error
}

// Factory builds an adapter from a resolved descriptor. credentials is the
// unsealed secret material; implementations must not retain or log it beyond
// establishing their connections.
type Factory func(ctx context.Context, desc models.SourceDescriptor, credentials map[string]string) (Adapter, error)
