package orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrumhq/spectrum/pkg/config"
	"github.com/spectrumhq/spectrum/pkg/errors"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/seal"
	"github.com/spectrumhq/spectrum/pkg/source"
	"github.com/spectrumhq/spectrum/pkg/store"
)

type fakeAdapter struct {
	mu            sync.Mutex
	describeCalls int32
	listCalls     int32
	sampleCalls   int32
	lastOpts      models.SampleOptions
	block         chan struct{}
	describeDelay time.Duration
	closed        bool
}

func (f *fakeAdapter) ListDatabases(ctx context.Context) ([]string, error) {
	atomic.AddInt32(&f.listCalls, 1)
	return []string{"sales", "marketing"}, nil
}

func (f *fakeAdapter) ListObjects(ctx context.Context, parent []string) ([]models.ObjectInfo, error) {
	return []models.ObjectInfo{{Name: "events", Kind: models.ObjectKindTable}}, nil
}

func (f *fakeAdapter) Describe(ctx context.Context, ref models.ObjectRef, includeStats bool) (*models.MetadataResult, error) {
	atomic.AddInt32(&f.describeCalls, 1)
	if f.block != nil {
		<-f.block
	}
	if f.describeDelay > 0 {
		select {
		case <-time.After(f.describeDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &models.MetadataResult{
		Ref:      ref,
		Schema:   models.SchemaInfo{Columns: []models.Column{{Name: "id", Type: models.DataTypeInteger}}},
		RowCount: models.Int64Ptr(42),
	}, nil
}

func (f *fakeAdapter) Sample(ctx context.Context, ref models.ObjectRef, opts models.SampleOptions) (*models.SampleResult, error) {
	atomic.AddInt32(&f.sampleCalls, 1)
	f.mu.Lock()
	f.lastOpts = opts
	f.mu.Unlock()
	return &models.SampleResult{Rows: []map[string]interface{}{{"id": 1}}, Method: opts.Method}, nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func newTestOrchestrator(t *testing.T, fake *fakeAdapter, mutate func(*config.Config)) *Orchestrator {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(dir, "meta.db")
	cfg.Store.KeyPath = filepath.Join(dir, "secret.key")
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	st, err := store.Open(cfg.Store.Path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sealer, err := seal.NewAESSealer("test-passphrase")
	require.NoError(t, err)

	factories := map[models.SourceKind]source.Factory{
		models.SourceKindFileLake: func(ctx context.Context, desc models.SourceDescriptor, credentials map[string]string) (source.Adapter, error) {
			return fake, nil
		},
	}

	o, err := New(cfg, st, sealer, factories)
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })

	_, err = o.RegisterSource("lake", models.SourceKindFileLake, map[string]string{"root": dir}, nil)
	require.NoError(t, err)
	return o
}

func TestDescribeIsCached(t *testing.T) {
	fake := &fakeAdapter{}
	o := newTestOrchestrator(t, fake, nil)

	first, err := o.Describe(context.Background(), "lake", "sales.events", false)
	require.NoError(t, err)
	second, err := o.Describe(context.Background(), "lake", "sales.events", false)
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.describeCalls))
	require.NotNil(t, second.RowCount)
	assert.Equal(t, *first.RowCount, *second.RowCount)
}

func TestDescribeStatsVariantCachedSeparately(t *testing.T) {
	fake := &fakeAdapter{}
	o := newTestOrchestrator(t, fake, nil)

	_, err := o.Describe(context.Background(), "lake", "sales.events", false)
	require.NoError(t, err)
	_, err = o.Describe(context.Background(), "lake", "sales.events", true)
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.describeCalls))
}

func TestConcurrentDescribeSharesOneFetch(t *testing.T) {
	fake := &fakeAdapter{block: make(chan struct{})}
	o := newTestOrchestrator(t, fake, nil)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = o.Describe(context.Background(), "lake", "sales.events", false)
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(fake.block)
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.describeCalls))
}

func TestFetchTimeoutSurfacesAsTimeoutError(t *testing.T) {
	fake := &fakeAdapter{describeDelay: 500 * time.Millisecond}
	o := newTestOrchestrator(t, fake, func(c *config.Config) {
		c.Timeouts.Fetch = 50 * time.Millisecond
	})

	_, err := o.Describe(context.Background(), "lake", "sales.events", false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	// The failure was not cached; a later call hits the backend again.
	fake.describeDelay = 0
	result, err := o.Describe(context.Background(), "lake", "sales.events", false)
	require.NoError(t, err)
	require.NotNil(t, result.RowCount)
	assert.Equal(t, int64(42), *result.RowCount)
}

func TestDiscoverDatabasesCached(t *testing.T) {
	fake := &fakeAdapter{}
	o := newTestOrchestrator(t, fake, nil)

	dbs, err := o.DiscoverDatabases(context.Background(), "lake")
	require.NoError(t, err)
	assert.Equal(t, []string{"sales", "marketing"}, dbs)

	_, err = o.DiscoverDatabases(context.Background(), "lake")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fake.listCalls))
}

func TestSampleNeverCachedAndClamped(t *testing.T) {
	fake := &fakeAdapter{}
	o := newTestOrchestrator(t, fake, nil)

	for i := 0; i < 2; i++ {
		_, err := o.Sample(context.Background(), "lake", "sales.events", models.SampleOptions{Limit: 1 << 30})
		require.NoError(t, err)
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&fake.sampleCalls))
	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, 10000, fake.lastOpts.Limit)
	assert.Equal(t, models.SamplingHead, fake.lastOpts.Method)
}

func TestDeregisterDropsCacheAndAdapter(t *testing.T) {
	fake := &fakeAdapter{}
	o := newTestOrchestrator(t, fake, nil)

	_, err := o.Describe(context.Background(), "lake", "sales.events", false)
	require.NoError(t, err)

	require.NoError(t, o.DeregisterSource("lake"))

	fake.mu.Lock()
	closed := fake.closed
	fake.mu.Unlock()
	assert.True(t, closed, "pooled adapter must be closed on deregistration")

	_, err = o.Describe(context.Background(), "lake", "sales.events", false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownSource))
}

func TestUnknownSourceKindFailsWithCapabilityError(t *testing.T) {
	fake := &fakeAdapter{}
	o := newTestOrchestrator(t, fake, nil)

	// Registered behind the registry's back to simulate a stale descriptor.
	_, err := o.RegisterSource("pg", models.SourceKindRDBMS,
		map[string]string{"dialect": "postgres", "host": "h", "database": "d"}, nil)
	require.NoError(t, err)

	_, err = o.Describe(context.Background(), "pg", "public.users", false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeCapability))
}
