package translate

import (
	"sync"
	"sync/atomic"
)

// cache is the in-memory compiled-query cache, keyed by fingerprint.
// Readers share the lock. Eviction is FIFO: when full, the oldest inserted
// entry goes, and hits do not refresh an entry's position.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*Translation
	order   []string // insertion order, oldest first
	size    int      // 0 = unbounded

	hits   atomic.Int64
	misses atomic.Int64
}

func newCache(size int) *cache {
	return &cache{entries: make(map[string]*Translation), size: size}
}

func (c *cache) get(fp string) (*Translation, bool) {
	c.mu.RLock()
	tr, ok := c.entries[fp]
	c.mu.RUnlock()
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return tr, ok
}

// put stores tr unless its fingerprint is already present. The first
// translation stored for a fingerprint wins.
func (c *cache) put(tr *Translation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[tr.Fingerprint]; ok {
		return
	}
	if c.size > 0 && len(c.order) >= c.size {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[tr.Fingerprint] = tr
	c.order = append(c.order, tr.Fingerprint)
}

func (c *cache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
