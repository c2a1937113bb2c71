package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memtensor/memu/pkg/errors"
	"github.com/memtensor/memu/pkg/logger"
	"github.com/memtensor/memu/pkg/types"
)

// fakePersistence records saves in memory and can be told to fail
type fakePersistence struct {
	saved    map[string]*types.MemoryTree
	failSave bool
	saves    int
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{saved: make(map[string]*types.MemoryTree)}
}

func (f *fakePersistence) Load(ctx context.Context, candidateID string) (*types.MemoryTree, error) {
	tree, ok := f.saved[candidateID]
	if !ok {
		return nil, errors.NewCandidateNotFoundError(candidateID)
	}
	return tree.Clone(), nil
}

func (f *fakePersistence) Save(ctx context.Context, tree *types.MemoryTree) error {
	if f.failSave {
		return errors.NewStorageError("save", fmt.Errorf("disk full"))
	}
	f.saves++
	f.saved[tree.CandidateID] = tree.Clone()
	return nil
}

func (f *fakePersistence) Exists(ctx context.Context, candidateID string) (bool, error) {
	_, ok := f.saved[candidateID]
	return ok, nil
}

func (f *fakePersistence) Delete(ctx context.Context, candidateID string) error {
	delete(f.saved, candidateID)
	return nil
}

func newTestTree(t *testing.T, candidateID string) *types.MemoryTree {
	t.Helper()
	tree, err := newTestManager().NewTree(candidateID, nil)
	require.NoError(t, err)
	return tree
}

func TestLRUCacheGetPut(t *testing.T) {
	ctx := context.Background()

	t.Run("miss then hit", func(t *testing.T) {
		cache := NewLRUCache(2, newFakePersistence(), logger.NewTestLogger())

		_, ok := cache.Get("c1")
		assert.False(t, ok)

		tree := newTestTree(t, "c1")
		require.NoError(t, cache.Put(ctx, "c1", tree))

		got, ok := cache.Get("c1")
		assert.True(t, ok)
		assert.Same(t, tree, got)
	})

	t.Run("put of resident key replaces the tree", func(t *testing.T) {
		cache := NewLRUCache(2, newFakePersistence(), logger.NewTestLogger())
		first := newTestTree(t, "c1")
		second := newTestTree(t, "c1")

		require.NoError(t, cache.Put(ctx, "c1", first))
		require.NoError(t, cache.Put(ctx, "c1", second))

		got, ok := cache.Get("c1")
		assert.True(t, ok)
		assert.Same(t, second, got)
		assert.Equal(t, 1, cache.Len())
	})
}

func TestLRUCacheEviction(t *testing.T) {
	ctx := context.Background()

	t.Run("exceeding capacity evicts the least recently used", func(t *testing.T) {
		cache := NewLRUCache(2, newFakePersistence(), logger.NewTestLogger())
		require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))
		require.NoError(t, cache.Put(ctx, "b", newTestTree(t, "b")))
		require.NoError(t, cache.Put(ctx, "c", newTestTree(t, "c")))

		_, ok := cache.Get("a")
		assert.False(t, ok, "oldest entry should be evicted")
		_, ok = cache.Get("b")
		assert.True(t, ok)
		_, ok = cache.Get("c")
		assert.True(t, ok)
		assert.Equal(t, 2, cache.Len())
	})

	t.Run("get refreshes recency", func(t *testing.T) {
		cache := NewLRUCache(2, newFakePersistence(), logger.NewTestLogger())
		require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))
		require.NoError(t, cache.Put(ctx, "b", newTestTree(t, "b")))

		// Touch "a" so "b" becomes the eviction victim
		_, ok := cache.Get("a")
		require.True(t, ok)

		require.NoError(t, cache.Put(ctx, "c", newTestTree(t, "c")))

		_, ok = cache.Get("a")
		assert.True(t, ok)
		_, ok = cache.Get("b")
		assert.False(t, ok)
	})

	t.Run("dirty victim is flushed before removal", func(t *testing.T) {
		persistence := newFakePersistence()
		cache := NewLRUCache(1, persistence, logger.NewTestLogger())

		tree := newTestTree(t, "a")
		require.NoError(t, cache.Put(ctx, "a", tree))
		cache.MarkDirty("a")
		tree.Version = 7

		require.NoError(t, cache.Put(ctx, "b", newTestTree(t, "b")))

		saved, ok := persistence.saved["a"]
		require.True(t, ok, "dirty tree must be written through on eviction")
		assert.Equal(t, int64(7), saved.Version)
	})

	t.Run("clean victim is dropped without a save", func(t *testing.T) {
		persistence := newFakePersistence()
		cache := NewLRUCache(1, persistence, logger.NewTestLogger())

		require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))
		require.NoError(t, cache.Put(ctx, "b", newTestTree(t, "b")))

		assert.Zero(t, persistence.saves)
	})

	t.Run("failed victim flush aborts the insert", func(t *testing.T) {
		persistence := newFakePersistence()
		cache := NewLRUCache(1, persistence, logger.NewTestLogger())

		require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))
		cache.MarkDirty("a")
		persistence.failSave = true

		err := cache.Put(ctx, "b", newTestTree(t, "b"))
		require.Error(t, err)

		// The dirty entry must still be resident, unsaved mutations intact
		_, ok := cache.Get("a")
		assert.True(t, ok)
		assert.True(t, cache.IsDirty("a"))
		_, ok = cache.Get("b")
		assert.False(t, ok)
	})
}

func TestLRUCacheDirtyTracking(t *testing.T) {
	ctx := context.Background()

	t.Run("mark and clear", func(t *testing.T) {
		cache := NewLRUCache(2, newFakePersistence(), logger.NewTestLogger())
		require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))

		assert.False(t, cache.IsDirty("a"))
		cache.MarkDirty("a")
		assert.True(t, cache.IsDirty("a"))
		cache.MarkClean("a")
		assert.False(t, cache.IsDirty("a"))
	})

	t.Run("flush writes dirty entries only", func(t *testing.T) {
		persistence := newFakePersistence()
		cache := NewLRUCache(2, persistence, logger.NewTestLogger())
		require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))

		require.NoError(t, cache.Flush(ctx, "a"))
		assert.Zero(t, persistence.saves)

		cache.MarkDirty("a")
		require.NoError(t, cache.Flush(ctx, "a"))
		assert.Equal(t, 1, persistence.saves)
		assert.False(t, cache.IsDirty("a"))
	})

	t.Run("flush of unknown candidate is a no-op", func(t *testing.T) {
		cache := NewLRUCache(2, newFakePersistence(), logger.NewTestLogger())
		assert.NoError(t, cache.Flush(ctx, "missing"))
	})
}

func TestLRUCacheFlushAllAndEvictAll(t *testing.T) {
	ctx := context.Background()

	t.Run("FlushAll leaves entries resident", func(t *testing.T) {
		persistence := newFakePersistence()
		cache := NewLRUCache(3, persistence, logger.NewTestLogger())
		require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))
		require.NoError(t, cache.Put(ctx, "b", newTestTree(t, "b")))
		cache.MarkDirty("a")
		cache.MarkDirty("b")

		require.NoError(t, cache.FlushAll(ctx))
		assert.Equal(t, 2, persistence.saves)
		assert.Equal(t, 2, cache.Len())
		assert.False(t, cache.IsDirty("a"))
		assert.False(t, cache.IsDirty("b"))
	})

	t.Run("EvictAll flushes dirty entries and clears", func(t *testing.T) {
		persistence := newFakePersistence()
		cache := NewLRUCache(3, persistence, logger.NewTestLogger())
		require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))
		require.NoError(t, cache.Put(ctx, "b", newTestTree(t, "b")))
		cache.MarkDirty("b")

		require.NoError(t, cache.EvictAll(ctx))
		assert.Equal(t, 1, persistence.saves)
		assert.Equal(t, 0, cache.Len())
	})
}

func TestLRUCacheRemove(t *testing.T) {
	ctx := context.Background()
	persistence := newFakePersistence()
	cache := NewLRUCache(2, persistence, logger.NewTestLogger())

	require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))
	cache.MarkDirty("a")
	cache.Remove("a")

	_, ok := cache.Get("a")
	assert.False(t, ok)
	assert.Zero(t, persistence.saves, "Remove must not flush")

	// Removing an absent key is harmless
	cache.Remove("a")
}

func TestLRUCacheStats(t *testing.T) {
	ctx := context.Background()
	cache := NewLRUCache(2, newFakePersistence(), logger.NewTestLogger())

	require.NoError(t, cache.Put(ctx, "a", newTestTree(t, "a")))
	require.NoError(t, cache.Put(ctx, "b", newTestTree(t, "b")))
	cache.MarkDirty("a")
	cache.Get("a")
	cache.Get("missing")
	require.NoError(t, cache.Put(ctx, "c", newTestTree(t, "c")))

	stats := cache.Stats()
	assert.Equal(t, 2, stats.Capacity)
	assert.Equal(t, 2, stats.Resident)
	assert.Equal(t, 1, stats.Dirty)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Evictions)
}
