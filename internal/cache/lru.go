// Package cache provides a byte-bounded LRU used for small binary assets
// such as lesson posters.
package cache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// LRU is safe for concurrent use. It evicts least recently used entries
// once either the entry count or the total byte size would be exceeded.
type LRU struct {
	maxBytes int64

	mu    sync.Mutex
	size  int64
	items *simplelru.LRU[string, []byte]

	hits, misses uint64
}

func NewLRU(maxEntries int, maxBytes int64) *LRU {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	c := &LRU{maxBytes: maxBytes}
	// simplelru only fails on a non-positive size.
	c.items, _ = simplelru.NewLRU[string, []byte](maxEntries, func(_ string, data []byte) {
		c.size -= int64(len(data))
	})
	return c
}

func (c *LRU) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data, ok := c.items.Get(key); ok {
		c.hits++
		return data, true
	}
	c.misses++
	return nil, false
}

// Add stores data under key. Values larger than the byte budget are not
// cached at all.
func (c *LRU) Add(key string, data []byte) {
	n := int64(len(data))
	if c.maxBytes > 0 && n > c.maxBytes {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.items.Peek(key); ok {
		c.size -= int64(len(old))
	}
	c.items.Add(key, data)
	c.size += n

	// The newest entry always fits on its own.
	for c.maxBytes > 0 && c.size > c.maxBytes && c.items.Len() > 1 {
		c.items.RemoveOldest()
	}
}

func (c *LRU) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Remove(key)
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Size is the total byte size of cached values.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRU) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
