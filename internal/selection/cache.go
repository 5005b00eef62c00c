package selection

import (
	lru "github.com/hashicorp/golang-lru"
)

// DefaultCacheCapacity is the default number of selection results to cache.
const DefaultCacheCapacity = 1000

// resultCache is a thread-safe LRU cache of selection results. Keys embed
// the catalog version, so entries of a replaced snapshot are never hit again
// and simply age out. A nil lru disables caching.
type resultCache struct {
	lru *lru.Cache
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		return &resultCache{}
	}
	c, err := lru.New(capacity)
	if err != nil {
		return &resultCache{}
	}
	return &resultCache{lru: c}
}

// Get returns a copy of the cached result, or nil.
func (c *resultCache) Get(key string) *Result {
	if c.lru == nil {
		return nil
	}
	v, ok := c.lru.Get(key)
	if !ok {
		return nil
	}
	return v.(*Result).clone()
}

// Put stores a copy of result, evicting the least recently used entry if full.
func (c *resultCache) Put(key string, result *Result) {
	if c.lru == nil {
		return
	}
	c.lru.Add(key, result.clone())
}

// Len returns the number of cached entries.
func (c *resultCache) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
