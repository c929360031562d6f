package chunkwise

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryCache is a bounded in-process DecisionCache. It is reference
// plumbing for hosts that do not need cross-run persistence: LRU-evicted,
// safe for concurrent use. Compatibility checking stays in the engine - the
// cache only remembers.
type MemoryCache struct {
	entries *lru.Cache[Fingerprint, *Decision]
}

// NewMemoryCache creates a cache bounded to size decisions.
func NewMemoryCache(size int) (*MemoryCache, error) {
	entries, err := lru.New[Fingerprint, *Decision](size)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{entries: entries}, nil
}

// Lookup returns the cached decision for a fingerprint, if any.
func (c *MemoryCache) Lookup(fp Fingerprint) (*Decision, bool) {
	return c.entries.Get(fp)
}

// Store remembers a decision, evicting the least recently used on overflow.
func (c *MemoryCache) Store(fp Fingerprint, d *Decision) {
	c.entries.Add(fp, d)
}

// Len is the number of cached decisions.
func (c *MemoryCache) Len() int { return c.entries.Len() }
