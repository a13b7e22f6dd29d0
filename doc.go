// Package spectrum provides a metadata extraction and caching engine for
// heterogeneous data sources: relational databases, SQL lakehouses, and
// file-based data lakes.
//
// Spectrum answers schema, statistics, and discovery questions without moving
// table data. Every adapter is metadata-first:
//   - RDBMS (PostgreSQL, MySQL): information_schema plus single aggregate
//     scans for statistics
//   - Lakehouse (Snowflake, BigQuery): catalog commands and metadata APIs,
//     no warehouse compute for schema-only requests
//   - File lakes (Parquet, Delta): footer bytes and commit logs only,
//     never row data
//
// # Architecture
//
// Operations flow through three layers:
//
// 1. Registry (pkg/registry): the authority on which sources exist.
// Credentials are sealed with AES-256-GCM at registration and unsealed only
// while an adapter is being constructed.
//
// 2. Cache (pkg/cache): a staleness-aware two-tier cache with single-flight
// fetch coordination. Metadata and discovery results carry independent TTLs;
// concurrent requests for the same key share exactly one backend fetch, and a
// failed fetch is never cached. A sqlite tier keeps entries across restarts.
//
// 3. Adapters (pkg/source/...): capability-oriented backends behind one
// interface for discovery, describe, and sampling. Statistics for file lakes
// aggregate parquet footers and Delta commit stats in pkg/footer with explicit
// unknown propagation.
//
// # Quick Start
//
// Register a source and describe a table through the orchestrator:
//
//	import (
//	    "context"
//	    "github.com/spectrumhq/spectrum/pkg/config"
//	    "github.com/spectrumhq/spectrum/pkg/models"
//	    "github.com/spectrumhq/spectrum/pkg/orchestrator"
//	    "github.com/spectrumhq/spectrum/pkg/seal"
//	    "github.com/spectrumhq/spectrum/pkg/store"
//	)
//
//	cfg := config.Default()
//	st, _ := store.Open(cfg.Store.Path)
//	sealer, _ := seal.NewAESSealerFromFile(cfg.Store.KeyPath)
//	orch, _ := orchestrator.New(cfg, st, sealer, orchestrator.DefaultFactories())
//	defer orch.Close()
//
//	orch.RegisterSource("warehouse", models.SourceKindRDBMS,
//	    map[string]string{"url": "postgres://svc@db.internal:5432/app"},
//	    map[string]string{"password": "..."})
//
//	result, _ := orch.Describe(context.Background(), "warehouse", "public.orders", true)
//
// The same operations are available from the command line via cmd/spectrum.
package spectrum
