package api

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// GeoJSONCache keeps encoded layer payloads by group handle. A mounted
// group never changes, so entries need no expiry; a rebuild mounts a new
// handle and the old entry ages out of the LRU.
type GeoJSONCache struct {
	mu         sync.Mutex
	entries    map[uuid.UUID][]byte
	order      []uuid.UUID // front=oldest
	maxEntries int
	hits       atomic.Int64
	misses     atomic.Int64
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewGeoJSONCache creates a cache holding up to maxEntries payloads.
func NewGeoJSONCache(maxEntries int) *GeoJSONCache {
	if maxEntries <= 0 {
		maxEntries = 32
	}
	return &GeoJSONCache{
		entries:    make(map[uuid.UUID][]byte),
		maxEntries: maxEntries,
	}
}

// Get returns the payload for a group, or nil.
func (c *GeoJSONCache) Get(id uuid.UUID) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.entries[id]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	c.touch(id)
	c.hits.Add(1)
	return data
}

// Put stores a payload, evicting the least recently used entry when full.
func (c *GeoJSONCache) Put(id uuid.UUID, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; ok {
		c.entries[id] = data
		c.touch(id)
		return
	}
	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[id] = data
	c.order = append(c.order, id)
}

// Stats returns hit/miss counters.
func (c *GeoJSONCache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Entries: entries, Hits: hits, Misses: misses, HitRate: rate}
}

func (c *GeoJSONCache) touch(id uuid.UUID) {
	for i, k := range c.order {
		if k == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, id)
}
