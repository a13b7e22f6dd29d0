package cache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/store"
)

func memoryCache() *Cache {
	return New(time.Hour, time.Hour, nil)
}

func TestGetOrFetchCachesResult(t *testing.T) {
	c := memoryCache()
	key := Key{Source: "pg", Path: "public.users", Variant: VariantDescribe}

	var calls int32
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte(`{"ok":true}`), nil
	}

	content, hit, err := c.GetOrFetch(context.Background(), key, models.TTLMetadata, fetch)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.JSONEq(t, `{"ok":true}`, string(content))

	content, hit, err = c.GetOrFetch(context.Background(), key, models.TTLMetadata, fetch)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.JSONEq(t, `{"ok":true}`, string(content))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	c := memoryCache()
	key := Key{Source: "pg", Path: "public.orders", Variant: VariantDescribeStats}

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte(`"payload"`), nil
	}

	const n = 25
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = c.GetOrFetch(context.Background(), key, models.TTLMetadata, fetch)
		}(i)
	}

	// Give every goroutine a chance to attach before the fetch completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "exactly one backend fetch for N concurrent requests")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, `"payload"`, string(results[i]))
	}
}

func TestGetOrFetchFailureLeavesKeyAbsent(t *testing.T) {
	c := memoryCache()
	key := Key{Source: "pg", Path: "public.users", Variant: VariantDescribe}

	var calls int32
	boom := errors.New("backend unreachable")
	failing := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}

	_, _, err := c.GetOrFetch(context.Background(), key, models.TTLMetadata, failing)
	require.ErrorIs(t, err, boom)

	// The failure is not cached; the next request fetches again.
	_, _, err = c.GetOrFetch(context.Background(), key, models.TTLMetadata, failing)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, c.Len())
}

func TestTTLExpiryPerClass(t *testing.T) {
	c := New(40*time.Millisecond, 10*time.Millisecond, nil)
	metaKey := Key{Source: "pg", Path: "public.users", Variant: VariantDescribe}
	discKey := Key{Source: "pg", Variant: VariantDatabases}

	fetchCount := func(counter *int32) FetchFunc {
		return func(ctx context.Context) ([]byte, error) {
			atomic.AddInt32(counter, 1)
			return []byte("x"), nil
		}
	}

	var metaCalls, discCalls int32
	_, _, err := c.GetOrFetch(context.Background(), metaKey, models.TTLMetadata, fetchCount(&metaCalls))
	require.NoError(t, err)
	_, _, err = c.GetOrFetch(context.Background(), discKey, models.TTLDiscovery, fetchCount(&discCalls))
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	// Discovery has expired, metadata has not.
	_, hit, err := c.GetOrFetch(context.Background(), metaKey, models.TTLMetadata, fetchCount(&metaCalls))
	require.NoError(t, err)
	assert.True(t, hit)
	_, hit, err = c.GetOrFetch(context.Background(), discKey, models.TTLDiscovery, fetchCount(&discCalls))
	require.NoError(t, err)
	assert.False(t, hit)

	assert.Equal(t, int32(1), atomic.LoadInt32(&metaCalls))
	assert.Equal(t, int32(2), atomic.LoadInt32(&discCalls))
}

func TestFreshnessBoundaryIsExclusive(t *testing.T) {
	storedAt := time.Now()
	ttl := time.Minute

	assert.True(t, freshAt(storedAt, storedAt.Add(ttl-time.Nanosecond), ttl))
	// At exactly storedAt+TTL the entry must miss.
	assert.False(t, freshAt(storedAt, storedAt.Add(ttl), ttl))
	assert.False(t, freshAt(storedAt, storedAt.Add(ttl+time.Second), ttl))
}

func TestPersistentTierSurvivesRestart(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer st.Close()

	key := Key{Source: "lake", Path: "sales.events", Variant: VariantDescribe}

	first := New(time.Hour, time.Hour, st)
	_, _, err = first.GetOrFetch(context.Background(), key, models.TTLMetadata, func(ctx context.Context) ([]byte, error) {
		return []byte("persisted"), nil
	})
	require.NoError(t, err)

	// A fresh cache over the same store must serve the entry without fetching.
	second := New(time.Hour, time.Hour, st)
	content, ok := second.Lookup(key, models.TTLMetadata)
	require.True(t, ok)
	assert.Equal(t, "persisted", string(content))
}

func TestInvalidateDropsBothTiers(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	defer st.Close()

	c := New(time.Hour, time.Hour, st)
	keep := Key{Source: "other", Path: "x", Variant: VariantDescribe}
	drop := Key{Source: "gone", Path: "y", Variant: VariantDescribe}

	for _, k := range []Key{keep, drop} {
		_, _, err := c.GetOrFetch(context.Background(), k, models.TTLMetadata, func(ctx context.Context) ([]byte, error) {
			return []byte("v"), nil
		})
		require.NoError(t, err)
	}

	require.NoError(t, c.Invalidate("gone"))

	_, ok := c.Lookup(drop, models.TTLMetadata)
	assert.False(t, ok)
	_, ok = c.Lookup(keep, models.TTLMetadata)
	assert.True(t, ok)

	// The persistent tier was cleared too.
	fresh := New(time.Hour, time.Hour, st)
	_, ok = fresh.Lookup(drop, models.TTLMetadata)
	assert.False(t, ok)
}
