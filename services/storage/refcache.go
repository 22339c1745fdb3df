package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsv-blockchain/blobstore/model"
	"github.com/jellydator/ttlcache/v3"
)

type refCacheKey struct {
	namespaceID string
	name        string
}

// refCacheEntry is an immutable snapshot. A nil ref records that the ref did not exist at time.
type refCacheEntry struct {
	ref  *model.RefInfo
	time time.Time
}

// refCache is a sliding-expiry cache of ref records with generation based invalidation.
//
// A reader that misses captures the generation before querying the metadata store and only
// fills the cache if no write happened in the meantime, so a slow read can never overwrite the
// value a concurrent WriteRef or DeleteRef just stored.
type refCache struct {
	mu         sync.Mutex
	cache      *ttlcache.Cache[refCacheKey, refCacheEntry]
	generation atomic.Uint64
	started    atomic.Bool
	stopped    atomic.Bool
}

func newRefCache(ttl time.Duration, capacity uint64) *refCache {
	opts := []ttlcache.Option[refCacheKey, refCacheEntry]{
		ttlcache.WithTTL[refCacheKey, refCacheEntry](ttl),
	}

	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[refCacheKey, refCacheEntry](capacity))
	}

	return &refCache{
		cache: ttlcache.New[refCacheKey, refCacheEntry](opts...),
	}
}

// start runs the expiry loop in the background.
func (c *refCache) start() {
	if c.started.CompareAndSwap(false, true) {
		go c.cache.Start()
	}
}

func (c *refCache) stop() {
	if c.started.Load() && c.stopped.CompareAndSwap(false, true) {
		c.cache.Stop()
	}
}

func (c *refCache) get(namespaceID, name string) (refCacheEntry, bool) {
	item := c.cache.Get(refCacheKey{namespaceID: namespaceID, name: name})
	if item == nil {
		return refCacheEntry{}, false
	}

	return item.Value(), true
}

// begin returns the generation a later fill must match.
func (c *refCache) begin() uint64 {
	return c.generation.Load()
}

// fill caches a value read from the metadata store unless a write happened since begin.
func (c *refCache) fill(namespaceID, name string, ref *model.RefInfo, now time.Time, generation uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation.Load() != generation {
		return false
	}

	c.cache.Set(refCacheKey{namespaceID: namespaceID, name: name}, refCacheEntry{ref: ref, time: now}, ttlcache.DefaultTTL)

	return true
}

// set stores the value written by this instance, invalidating every fill in flight.
func (c *refCache) set(namespaceID, name string, ref *model.RefInfo, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation.Add(1)
	c.cache.Set(refCacheKey{namespaceID: namespaceID, name: name}, refCacheEntry{ref: ref, time: now}, ttlcache.DefaultTTL)
}

func (c *refCache) count() int {
	return c.cache.Len()
}
