// Package orchestrator coordinates the extraction pipeline: it resolves
// sources through the registry, routes operations to adapters, and serves
// results through the staleness-aware cache. Discovery and describe results
// are cached under their TTL class; sampling always goes to the backend.
package orchestrator

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/spectrumhq/spectrum/pkg/cache"
	"github.com/spectrumhq/spectrum/pkg/config"
	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/logger"
	"github.com/spectrumhq/spectrum/pkg/metrics"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/registry"
	"github.com/spectrumhq/spectrum/pkg/seal"
	"github.com/spectrumhq/spectrum/pkg/source"
	"github.com/spectrumhq/spectrum/pkg/source/filelake"
	"github.com/spectrumhq/spectrum/pkg/source/lakehouse"
	"github.com/spectrumhq/spectrum/pkg/source/rdbms"
	"github.com/spectrumhq/spectrum/pkg/store"
)

// DefaultFactories maps each source kind to its adapter constructor.
func DefaultFactories() map[models.SourceKind]source.Factory {
	return map[models.SourceKind]source.Factory{
		models.SourceKindRDBMS:     rdbms.New,
		models.SourceKindLakehouse: lakehouse.New,
		models.SourceKindFileLake:  filelake.New,
	}
}

// Orchestrator is the operation surface of the engine.
type Orchestrator struct {
	cfg       *config.Config
	registry  *registry.Registry
	cache     *cache.Cache
	factories map[models.SourceKind]source.Factory

	mu       sync.Mutex
	adapters map[string]source.Adapter
}

// New assembles the pipeline over an opened store and sealer. The registry's
// deregistration path invalidates both cached metadata and the pooled adapter.
func New(cfg *config.Config, st *store.Store, sealer seal.Sealer, factories map[models.SourceKind]source.Factory) (*Orchestrator, error) {
	o := &Orchestrator{
		cfg:       cfg,
		cache:     cache.New(cfg.TTL.Metadata, cfg.TTL.Discovery, st),
		factories: factories,
		adapters:  make(map[string]source.Adapter),
	}

	reg, err := registry.New(st, sealer, o)
	if err != nil {
		return nil, err
	}
	o.registry = reg
	return o, nil
}

// Invalidate implements registry.Invalidator: the pooled adapter is closed
// and every cached entry for the source dropped.
func (o *Orchestrator) Invalidate(name string) error {
	o.mu.Lock()
	if a, ok := o.adapters[name]; ok {
		delete(o.adapters, name)
		if err := a.Close(); err != nil {
			logger.Get().Warn("failed to close adapter",
				zap.String("source", name), zap.Error(err))
		}
	}
	o.mu.Unlock()

	return o.cache.Invalidate(name)
}

// RegisterSource registers a new source.
func (o *Orchestrator) RegisterSource(name string, kind models.SourceKind, connection, credentials map[string]string) (*models.SourceDescriptor, error) {
	return o.registry.Register(name, kind, connection, credentials)
}

// DeregisterSource removes a source; the registry invalidates through us.
func (o *Orchestrator) DeregisterSource(name string) error {
	return o.registry.Deregister(name)
}

// ListSources returns redacted descriptors.
func (o *Orchestrator) ListSources() []models.SourceDescriptor {
	return o.registry.List()
}

// DiscoverDatabases lists the top-level namespaces of a source, cached under
// the discovery TTL.
func (o *Orchestrator) DiscoverDatabases(ctx context.Context, sourceName string) ([]string, error) {
	key := cache.Key{Source: sourceName, Variant: cache.VariantDatabases}
	return fetchCached(o, ctx, key, models.TTLDiscovery, sourceName, func(ctx context.Context, a source.Adapter) ([]string, error) {
		return a.ListDatabases(ctx)
	})
}

// DiscoverObjects lists the objects under parent (a dotted or slashed path
// within the source), cached under the discovery TTL.
func (o *Orchestrator) DiscoverObjects(ctx context.Context, sourceName, parent string) ([]models.ObjectInfo, error) {
	segments := models.ParseObjectRef(sourceName, parent).Path
	key := cache.Key{Source: sourceName, Path: strings.Join(segments, "."), Variant: cache.VariantObjects}
	return fetchCached(o, ctx, key, models.TTLDiscovery, sourceName, func(ctx context.Context, a source.Adapter) ([]models.ObjectInfo, error) {
		return a.ListObjects(ctx, segments)
	})
}

// Describe extracts object metadata, cached under the metadata TTL. Results
// with and without statistics are cached independently so a schema-only
// request never pays for a stats scan.
func (o *Orchestrator) Describe(ctx context.Context, sourceName, path string, includeStats bool) (*models.MetadataResult, error) {
	ref := models.ParseObjectRef(sourceName, path)
	variant := cache.VariantDescribe
	if includeStats {
		variant = cache.VariantDescribeStats
	}
	key := cache.Key{Source: sourceName, Path: ref.PathString(), Variant: variant}

	return fetchCached(o, ctx, key, models.TTLMetadata, sourceName, func(ctx context.Context, a source.Adapter) (*models.MetadataResult, error) {
		result, err := a.Describe(ctx, ref, includeStats)
		if err != nil {
			return nil, err
		}
		if result.ExtractedAt.IsZero() {
			result.ExtractedAt = time.Now().UTC()
		}
		return result, nil
	})
}

// Sample draws rows from an object. Samples are never cached; two identical
// requests may return different rows.
func (o *Orchestrator) Sample(ctx context.Context, sourceName, path string, opts models.SampleOptions) (*models.SampleResult, error) {
	if opts.Limit <= 0 {
		opts.Limit = o.cfg.Sampling.DefaultLimit
	}
	if opts.Limit > o.cfg.Sampling.MaxLimit {
		opts.Limit = o.cfg.Sampling.MaxLimit
	}
	if opts.Method == "" {
		opts.Method = models.SamplingHead
	}

	ctx = logger.WithOperation(logger.WithSource(ctx, sourceName), "sample")
	a, err := o.adapterFor(ctx, sourceName)
	if err != nil {
		return nil, err
	}

	sampleCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Sample)
	defer cancel()

	result, err := a.Sample(sampleCtx, models.ParseObjectRef(sourceName, path), opts)
	if err != nil {
		return nil, asTimeout(sampleCtx, err)
	}

	logger.WithContext(ctx).Debug("served sample",
		zap.String("path", path),
		zap.Int("rows", len(result.Rows)),
		zap.Bool("fallback", result.Fallback))
	return result, nil
}

// Close shuts down every pooled adapter.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	var firstErr error
	for name, a := range o.adapters {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(o.adapters, name)
	}
	return firstErr
}

// adapterFor returns the pooled adapter for a source, constructing one on
// first use. Credentials are unsealed only for the construction call.
func (o *Orchestrator) adapterFor(ctx context.Context, name string) (source.Adapter, error) {
	o.mu.Lock()
	if a, ok := o.adapters[name]; ok {
		o.mu.Unlock()
		return a, nil
	}
	o.mu.Unlock()

	desc, credentials, err := o.registry.Resolve(name)
	if err != nil {
		return nil, err
	}
	factory, ok := o.factories[desc.Kind]
	if !ok {
		return nil, errors.New(errors.ErrorTypeCapability, "no adapter for source kind "+string(desc.Kind)).WithSource(name)
	}

	connectCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Connection)
	defer cancel()

	a, err := factory(connectCtx, *desc, credentials)
	if err != nil {
		return nil, asTimeout(connectCtx, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.adapters[name]; ok {
		// Another caller won the race; keep theirs.
		a.Close()
		return existing, nil
	}
	o.adapters[name] = a
	return a, nil
}

// fetchCached serves one cacheable operation: lookup, single-flight fetch
// with the fetch timeout, JSON round-trip through the cache tiers.
func fetchCached[T any](o *Orchestrator, ctx context.Context, key cache.Key, class models.TTLClass, sourceName string, fn func(context.Context, source.Adapter) (T, error)) (T, error) {
	var zero T
	ctx = logger.WithOperation(logger.WithSource(ctx, sourceName), key.Variant)

	content, hit, err := o.cache.GetOrFetch(ctx, key, class, func(ctx context.Context) ([]byte, error) {
		a, err := o.adapterFor(ctx, sourceName)
		if err != nil {
			return nil, err
		}

		kind := o.kindOf(sourceName)
		timer := prometheus.NewTimer(metrics.FetchLatency.WithLabelValues(kind))
		defer timer.ObserveDuration()

		fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeouts.Fetch)
		defer cancel()

		value, err := fn(fetchCtx, a)
		if err != nil {
			err = asTimeout(fetchCtx, err)
			metrics.ExtractionErrors.WithLabelValues(string(errors.TypeOf(err))).Inc()
			return nil, err
		}
		return json.Marshal(value)
	})
	if err != nil {
		return zero, err
	}

	var out T
	if err := json.Unmarshal(content, &out); err != nil {
		return zero, errors.Wrap(err, errors.ErrorTypeInternal, "failed to decode cached entry").WithSource(sourceName)
	}

	logger.WithContext(ctx).Debug("served cacheable operation",
		zap.String("path", key.Path),
		zap.Bool("cache_hit", hit))
	return out, nil
}

func (o *Orchestrator) kindOf(name string) string {
	for _, d := range o.registry.List() {
		if d.Name == name {
			return string(d.Kind)
		}
	}
	return "unknown"
}

// asTimeout converts a deadline-driven failure into the timeout error type so
// every waiter on a shared fetch sees the same classification.
func asTimeout(ctx context.Context, err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(err, errors.ErrorTypeTimeout, "operation exceeded its deadline")
	}
	return err
}
