package cache

import (
	"sync"
)

// BatchCache caches serialized batch records keyed by request digest, so
// identical pack requests skip the pack and encode work.
type BatchCache interface {
	// Get retrieves an encoded record from the cache.
	Get(key string) ([]byte, bool)
	// Put stores an encoded record in the cache.
	Put(key string, payload []byte)
	// Size returns the number of cached records.
	Size() int
}

// MapCache is a simple in-memory implementation of BatchCache.
type MapCache struct {
	data map[string][]byte
	mu   sync.RWMutex
}

func NewMapCache() *MapCache {
	return &MapCache{
		data: make(map[string][]byte),
	}
}

func (c *MapCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Return copy to avoid modification of cached value
	if v, ok := c.data[key]; ok {
		dst := make([]byte, len(v))
		copy(dst, v)
		return dst, true
	}
	return nil, false
}

func (c *MapCache) Put(key string, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Store copy
	dst := make([]byte, len(payload))
	copy(dst, payload)
	c.data[key] = dst
}

func (c *MapCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

var _ BatchCache = (*MapCache)(nil)
