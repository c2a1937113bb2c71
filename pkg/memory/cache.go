package memory

import (
	"container/list"
	"context"

	"github.com/memtensor/memu/pkg/interfaces"
	"github.com/memtensor/memu/pkg/types"
)

// cacheEntry wraps a resident tree with its dirty flag. The entry's position
// in the recency list is its LRU marker.
type cacheEntry struct {
	candidateID string
	tree        *types.MemoryTree
	dirty       bool
}

// LRUCache keeps a bounded number of candidate trees resident, evicting the
// least-recently-used tree and flushing it through the persistence adapter
// first when dirty.
//
// The cache is not safe for concurrent use on its own; the storage facade
// serializes all access to it.
type LRUCache struct {
	capacity    int
	persistence interfaces.Persistence
	logger      interfaces.Logger

	// recency front = most recently used, back = least recently used
	recency *list.List
	entries map[string]*list.Element

	hits      int64
	misses    int64
	evictions int64
}

// NewLRUCache creates a cache bounded to capacity entries. Evicted dirty
// trees are flushed through persistence before removal.
func NewLRUCache(capacity int, persistence interfaces.Persistence, logger interfaces.Logger) *LRUCache {
	return &LRUCache{
		capacity:    capacity,
		persistence: persistence,
		logger:      logger,
		recency:     list.New(),
		entries:     make(map[string]*list.Element),
	}
}

// Get returns the resident tree for candidateID, marking it most recently
// used. The second return value is false on a miss.
func (c *LRUCache) Get(candidateID string) (*types.MemoryTree, bool) {
	elem, exists := c.entries[candidateID]
	if !exists {
		c.misses++
		return nil, false
	}

	c.hits++
	c.recency.MoveToFront(elem)
	return elem.Value.(*cacheEntry).tree, true
}

// Put inserts or refreshes an entry as most recently used. When the insert
// would exceed capacity, the least-recently-used entry is evicted; a dirty
// victim is flushed first, and a flush failure aborts the insert.
func (c *LRUCache) Put(ctx context.Context, candidateID string, tree *types.MemoryTree) error {
	if elem, exists := c.entries[candidateID]; exists {
		entry := elem.Value.(*cacheEntry)
		entry.tree = tree
		c.recency.MoveToFront(elem)
		return nil
	}

	if c.recency.Len() >= c.capacity {
		if err := c.evictOldest(ctx); err != nil {
			return err
		}
	}

	entry := &cacheEntry{candidateID: candidateID, tree: tree}
	c.entries[candidateID] = c.recency.PushFront(entry)
	return nil
}

// MarkDirty flags the resident entry as needing a flush. Unknown candidates
// are ignored.
func (c *LRUCache) MarkDirty(candidateID string) {
	if elem, exists := c.entries[candidateID]; exists {
		elem.Value.(*cacheEntry).dirty = true
	}
}

// MarkClean clears the dirty flag after a successful external flush
func (c *LRUCache) MarkClean(candidateID string) {
	if elem, exists := c.entries[candidateID]; exists {
		elem.Value.(*cacheEntry).dirty = false
	}
}

// IsDirty reports whether the resident entry needs a flush
func (c *LRUCache) IsDirty(candidateID string) bool {
	if elem, exists := c.entries[candidateID]; exists {
		return elem.Value.(*cacheEntry).dirty
	}
	return false
}

// Remove drops an entry without flushing it, for candidate deletion
func (c *LRUCache) Remove(candidateID string) {
	if elem, exists := c.entries[candidateID]; exists {
		c.recency.Remove(elem)
		delete(c.entries, candidateID)
	}
}

// Flush writes the resident entry through persistence if it is dirty
func (c *LRUCache) Flush(ctx context.Context, candidateID string) error {
	elem, exists := c.entries[candidateID]
	if !exists {
		return nil
	}
	entry := elem.Value.(*cacheEntry)
	if !entry.dirty {
		return nil
	}
	if err := c.persistence.Save(ctx, entry.tree); err != nil {
		return err
	}
	entry.dirty = false
	return nil
}

// FlushAll writes every dirty entry through persistence, leaving all
// entries resident and clean.
func (c *LRUCache) FlushAll(ctx context.Context) error {
	for elem := c.recency.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry)
		if !entry.dirty {
			continue
		}
		if err := c.persistence.Save(ctx, entry.tree); err != nil {
			return err
		}
		entry.dirty = false
	}
	return nil
}

// EvictAll flushes every dirty entry and clears the cache. Used at shutdown.
func (c *LRUCache) EvictAll(ctx context.Context) error {
	for elem := c.recency.Back(); elem != nil; elem = elem.Prev() {
		entry := elem.Value.(*cacheEntry)
		if !entry.dirty {
			continue
		}
		if err := c.persistence.Save(ctx, entry.tree); err != nil {
			return err
		}
		entry.dirty = false
	}

	c.recency.Init()
	c.entries = make(map[string]*list.Element)
	return nil
}

// Len returns the number of resident entries
func (c *LRUCache) Len() int {
	return c.recency.Len()
}

// Stats returns a snapshot of cache counters
func (c *LRUCache) Stats() types.CacheStats {
	dirty := 0
	for _, elem := range c.entries {
		if elem.Value.(*cacheEntry).dirty {
			dirty++
		}
	}
	return types.CacheStats{
		Capacity:  c.capacity,
		Resident:  c.recency.Len(),
		Dirty:     dirty,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *LRUCache) evictOldest(ctx context.Context) error {
	elem := c.recency.Back()
	if elem == nil {
		return nil
	}
	entry := elem.Value.(*cacheEntry)

	if entry.dirty {
		if err := c.persistence.Save(ctx, entry.tree); err != nil {
			return err
		}
		entry.dirty = false
	}

	c.recency.Remove(elem)
	delete(c.entries, entry.candidateID)
	c.evictions++

	if c.logger != nil {
		c.logger.Debug("Evicted candidate tree from cache", map[string]interface{}{
			"candidate_id": entry.candidateID,
		})
	}
	return nil
}
