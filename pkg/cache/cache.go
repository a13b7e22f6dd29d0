// Package cache implements the staleness-aware metadata cache with
// single-flight fetch coordination. A key is either fresh, absent, or being
// fetched; concurrent requests for the same key share exactly one backend
// fetch, and a failed fetch leaves the key absent so the next request retries.
//
// Entries live in memory and, when a store is attached, in sqlite so cached
// metadata survives restarts. Expiry is lazy: entries are judged against
// their TTL class at read time.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/spectrumhq/spectrum/pkg/metrics"
	"github.com/spectrumhq/spectrum/pkg/models"
	"github.com/spectrumhq/spectrum/pkg/store"
)

// Variants distinguish cached results for the same key path. Listings use
// the parent path as the key path; database listings use the empty path.
const (
	VariantDescribe      = "describe"
	VariantDescribeStats = "describe+stats"
	VariantDatabases     = "databases"
	VariantObjects       = "objects"
)

// Key identifies one cache entry.
type Key struct {
	Source  string
	Path    string
	Variant string
}

func (k Key) id() string {
	return k.Source + "\x00" + k.Path + "\x00" + k.Variant
}

type entry struct {
	content  []byte
	storedAt time.Time
}

// FetchFunc produces the serialized value for a key on a miss.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Cache is the two-tier TTL cache.
type Cache struct {
	metadataTTL  time.Duration
	discoveryTTL time.Duration
	persistent   *store.Store

	group singleflight.Group

	mu      sync.RWMutex
	entries map[Key]entry
}

// New builds a cache with the given TTLs. persistent may be nil for a
// memory-only cache.
func New(metadataTTL, discoveryTTL time.Duration, persistent *store.Store) *Cache {
	return &Cache{
		metadataTTL:  metadataTTL,
		discoveryTTL: discoveryTTL,
		persistent:   persistent,
		entries:      make(map[Key]entry),
	}
}

// freshAt reports whether an entry stored at storedAt is still inside its
// TTL at now. An entry aged exactly one TTL has expired.
func freshAt(storedAt, now time.Time, ttl time.Duration) bool {
	return now.Sub(storedAt) < ttl
}

func (c *Cache) ttl(class models.TTLClass) time.Duration {
	if class == models.TTLDiscovery {
		return c.discoveryTTL
	}
	return c.metadataTTL
}

// Lookup returns the cached content for key if a fresh entry exists in either
// tier. A fresh persistent entry repopulates the memory tier.
func (c *Cache) Lookup(key Key, class models.TTLClass) ([]byte, bool) {
	ttl := c.ttl(class)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		if freshAt(e.storedAt, time.Now(), ttl) {
			return e.content, true
		}
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.storedAt.Equal(e.storedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
	}

	if c.persistent == nil {
		return nil, false
	}
	pe, err := c.persistent.GetEntry(key.Source, key.Path, key.Variant)
	if err != nil || pe == nil || !freshAt(pe.StoredAt, time.Now(), ttl) {
		return nil, false
	}

	c.mu.Lock()
	c.entries[key] = entry{content: pe.Content, storedAt: pe.StoredAt}
	c.mu.Unlock()
	return pe.Content, true
}

// GetOrFetch returns the cached content for key, fetching it on a miss. All
// concurrent callers for the same key attach to one fetch and receive the
// same content or the same error. A failed fetch stores nothing.
func (c *Cache) GetOrFetch(ctx context.Context, key Key, class models.TTLClass, fetch FetchFunc) ([]byte, bool, error) {
	if content, ok := c.Lookup(key, class); ok {
		metrics.CacheHits.WithLabelValues(string(class)).Inc()
		return content, true, nil
	}
	metrics.CacheMisses.WithLabelValues(string(class)).Inc()

	v, err, shared := c.group.Do(key.id(), func() (interface{}, error) {
		// A fetch completed between the miss and entering the flight.
		if content, ok := c.Lookup(key, class); ok {
			return content, nil
		}

		content, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.put(key, class, content)
		return content, nil
	})
	if shared {
		metrics.SharedFetches.Inc()
	}
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// put stores content in both tiers.
func (c *Cache) put(key Key, class models.TTLClass, content []byte) {
	now := time.Now()

	c.mu.Lock()
	c.entries[key] = entry{content: content, storedAt: now}
	c.mu.Unlock()

	if c.persistent != nil {
		// Persistence is best effort; a write failure costs a refetch after
		// restart, not correctness.
		_ = c.persistent.SaveEntry(&store.Entry{
			Source:   key.Source,
			Path:     key.Path,
			Variant:  key.Variant,
			Class:    class,
			Content:  content,
			StoredAt: now,
		})
	}
}

// Invalidate drops every entry belonging to source from both tiers.
func (c *Cache) Invalidate(source string) error {
	c.mu.Lock()
	for k := range c.entries {
		if k.Source == source {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	metrics.CacheInvalidations.Inc()

	if c.persistent != nil {
		return c.persistent.DeleteEntries(source)
	}
	return nil
}

// Len reports the number of live memory entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
