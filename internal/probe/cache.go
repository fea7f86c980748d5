package probe

import (
	"container/list"
	"io/fs"
	"os"
	"sync"

	"mediastream/internal/domain"
)

type statFunc func(path string) (fs.FileInfo, error)

func osStat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

type cacheKey struct {
	path      string
	mtimeNano int64
}

type cacheEntry struct {
	key    cacheKey
	result domain.ProbeResult
}

// resultCache is a bounded LRU over probe results. Eviction happens on
// overflow only; staleness is handled by the mtime component of the key.
// It has its own lock, independent of the job registry.
type resultCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[cacheKey]*list.Element
}

func newResultCache(max int) *resultCache {
	return &resultCache{
		max:     max,
		order:   list.New(),
		entries: make(map[cacheKey]*list.Element, max),
	}
}

func (c *resultCache) get(key cacheKey) (domain.ProbeResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.entries[key]
	if !ok {
		return domain.ProbeResult{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).result, true
}

func (c *resultCache) put(key cacheKey, result domain.ProbeResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		elem.Value.(*cacheEntry).result = result
		c.order.MoveToFront(elem)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, result: result})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
