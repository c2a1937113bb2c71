// Package storage provides the MemU storage facade combining the LRU cache,
// the persistence adapter and the tree operations behind a single lock.
package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/memtensor/memu/pkg/config"
	"github.com/memtensor/memu/pkg/errors"
	"github.com/memtensor/memu/pkg/interfaces"
	"github.com/memtensor/memu/pkg/memory"
	"github.com/memtensor/memu/pkg/persistence"
	"github.com/memtensor/memu/pkg/types"
)

// MemUStorage is the single entry point for candidate memory operations.
// All state (cache map, LRU order, resident trees) is guarded by one mutex,
// so mutations to a candidate are serialized; persistence I/O is the only
// blocking point.
type MemUStorage struct {
	config  *config.MemUConfig
	treeMgr *memory.TreeManager
	cache   *memory.LRUCache
	adapter interfaces.Persistence
	logger  interfaces.Logger
	metrics interfaces.Metrics

	mu     sync.Mutex
	closed bool
}

// New creates a MemU storage instance backed by a file persistence adapter
// rooted at the configured storage path.
func New(cfg *config.MemUConfig, logger interfaces.Logger, metrics interfaces.Metrics) (*MemUStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	treeMgr := memory.NewTreeManager(cfg.MaxDepth, cfg.MaxNodes)
	adapter, err := persistence.NewFileAdapter(cfg.StoragePath, treeMgr, logger, metrics)
	if err != nil {
		return nil, err
	}
	return NewWithPersistence(cfg, adapter, logger, metrics)
}

// NewWithPersistence creates a MemU storage instance over a caller-supplied
// persistence adapter.
func NewWithPersistence(cfg *config.MemUConfig, adapter interfaces.Persistence, logger interfaces.Logger, metrics interfaces.Metrics) (*MemUStorage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	treeMgr := memory.NewTreeManager(cfg.MaxDepth, cfg.MaxNodes)
	return &MemUStorage{
		config:  cfg,
		treeMgr: treeMgr,
		cache:   memory.NewLRUCache(cfg.CacheSize, adapter, logger),
		adapter: adapter,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// CreateCandidateMemory creates a tree with a single root node holding
// initialData, persists it immediately and inserts it into the cache.
func (s *MemUStorage) CreateCandidateMemory(ctx context.Context, candidateID string, initialData map[string]interface{}) (*types.MemoryTree, error) {
	defer s.timeOp("create", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.NewStorageClosedError()
	}

	if err := persistence.ValidateCandidateID(candidateID); err != nil {
		return nil, err
	}
	if _, resident := s.cache.Get(candidateID); resident {
		return nil, errors.NewAlreadyExistsError(candidateID)
	}
	exists, err := s.adapter.Exists(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, errors.NewAlreadyExistsError(candidateID)
	}

	tree, err := s.treeMgr.NewTree(candidateID, initialData)
	if err != nil {
		return nil, err
	}
	if err := s.adapter.Save(ctx, tree); err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, candidateID, tree); err != nil {
		return nil, err
	}

	s.logger.Info("Created candidate memory", map[string]interface{}{
		"candidate_id": candidateID,
	})
	s.countOp("create")
	return tree, nil
}

// GetCandidateMemory returns the candidate's tree, loading it from
// persistence and populating the cache on a miss.
func (s *MemUStorage) GetCandidateMemory(ctx context.Context, candidateID string) (*types.MemoryTree, error) {
	defer s.timeOp("get", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.NewStorageClosedError()
	}

	tree, err := s.getTreeLocked(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	s.countOp("get")
	return tree, nil
}

// AddMemoryNode appends a new node under parentID. Under the write-through
// policy the mutation is rolled back in memory when the flush fails, so the
// cache never diverges from disk.
func (s *MemUStorage) AddMemoryNode(ctx context.Context, candidateID, parentID string, data, metadata map[string]interface{}) (string, error) {
	defer s.timeOp("add_node", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", errors.NewStorageClosedError()
	}

	tree, err := s.getTreeLocked(ctx, candidateID)
	if err != nil {
		return "", err
	}

	var backup *types.MemoryTree
	if s.writeThrough() {
		backup = tree.Clone()
	}

	nodeID, err := s.treeMgr.AddNode(tree, parentID, data, metadata)
	if err != nil {
		return "", err
	}

	if err := s.afterMutation(ctx, candidateID, backup); err != nil {
		return "", err
	}

	s.logger.Debug("Added memory node", map[string]interface{}{
		"candidate_id": candidateID,
		"node_id":      nodeID,
		"parent_id":    parentID,
	})
	s.countOp("add_node")
	return nodeID, nil
}

// UpdateMemoryNode shallow-merges the patches into an existing node, with
// the same flush and rollback semantics as AddMemoryNode.
func (s *MemUStorage) UpdateMemoryNode(ctx context.Context, candidateID, nodeID string, dataPatch, metadataPatch map[string]interface{}) error {
	defer s.timeOp("update_node", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorageClosedError()
	}

	tree, err := s.getTreeLocked(ctx, candidateID)
	if err != nil {
		return err
	}

	var backup *types.MemoryTree
	if s.writeThrough() {
		backup = tree.Clone()
	}

	if err := s.treeMgr.UpdateNode(tree, nodeID, dataPatch, metadataPatch); err != nil {
		return err
	}

	if err := s.afterMutation(ctx, candidateID, backup); err != nil {
		return err
	}

	s.countOp("update_node")
	return nil
}

// DeleteCandidate removes the candidate from the cache and from
// persistence. Deleting an absent candidate is not an error.
func (s *MemUStorage) DeleteCandidate(ctx context.Context, candidateID string) error {
	defer s.timeOp("delete", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorageClosedError()
	}

	s.cache.Remove(candidateID)
	if err := s.adapter.Delete(ctx, candidateID); err != nil {
		return err
	}

	s.logger.Info("Deleted candidate memory", map[string]interface{}{
		"candidate_id": candidateID,
	})
	s.countOp("delete")
	return nil
}

// GetPath returns the root-to-node chain for a node
func (s *MemUStorage) GetPath(ctx context.Context, candidateID, nodeID string) ([]*types.MemoryNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.NewStorageClosedError()
	}

	tree, err := s.getTreeLocked(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	return s.treeMgr.Path(tree, nodeID)
}

// Traverse returns the nodes reachable from startID in the given order
func (s *MemUStorage) Traverse(ctx context.Context, candidateID, startID string, order types.TraversalOrder) ([]*types.MemoryNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.NewStorageClosedError()
	}

	tree, err := s.getTreeLocked(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	return s.treeMgr.Traverse(tree, startID, order)
}

// Search scores the candidate's nodes against a free-text query by term
// frequency over string values in data and metadata, returning up to topK
// results in descending score order.
func (s *MemUStorage) Search(ctx context.Context, candidateID, query string, topK int) ([]*types.SearchResult, error) {
	defer s.timeOp("search", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.NewStorageClosedError()
	}

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, errors.NewInvalidInputError("query is empty")
	}

	tree, err := s.getTreeLocked(ctx, candidateID)
	if err != nil {
		return nil, err
	}

	results := make([]*types.SearchResult, 0)
	for _, node := range tree.Nodes {
		score := scoreNode(node, terms)
		if score > 0 {
			results = append(results, &types.SearchResult{
				CandidateID: candidateID,
				Node:        node,
				Score:       score,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Node.CreatedAt.Before(results[j].Node.CreatedAt)
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	s.countOp("search")
	return results, nil
}

// Stats returns size statistics for one candidate tree
func (s *MemUStorage) Stats(ctx context.Context, candidateID string) (*types.TreeStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.NewStorageClosedError()
	}

	tree, err := s.getTreeLocked(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	return &types.TreeStats{
		CandidateID: candidateID,
		NodeCount:   tree.NodeCount(),
		Depth:       s.treeMgr.Depth(tree),
		Version:     tree.Version,
		LastUpdated: tree.LastUpdated,
	}, nil
}

// CacheStats returns a snapshot of the resident cache counters
func (s *MemUStorage) CacheStats() types.CacheStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Stats()
}

// Flush writes one dirty entry, or all dirty entries when candidateID is
// empty, through the persistence adapter.
func (s *MemUStorage) Flush(ctx context.Context, candidateID string) error {
	defer s.timeOp("flush", time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorageClosedError()
	}

	if candidateID == "" {
		return s.cache.FlushAll(ctx)
	}
	return s.cache.Flush(ctx, candidateID)
}

// HealthCheck verifies the persistence backend is usable
func (s *MemUStorage) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorageClosedError()
	}

	if checker, ok := s.adapter.(interface {
		Check(ctx context.Context) error
	}); ok {
		return checker.Check(ctx)
	}
	return nil
}

// Close flushes every dirty entry, clears the cache and rejects further
// operations.
func (s *MemUStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}

	if err := s.cache.EvictAll(context.Background()); err != nil {
		return err
	}
	s.closed = true
	s.logger.Info("MemU storage closed", nil)
	return nil
}

// getTreeLocked resolves a candidate's tree cache-first; the caller must
// hold s.mu.
func (s *MemUStorage) getTreeLocked(ctx context.Context, candidateID string) (*types.MemoryTree, error) {
	if err := persistence.ValidateCandidateID(candidateID); err != nil {
		return nil, err
	}

	if tree, ok := s.cache.Get(candidateID); ok {
		return tree, nil
	}

	tree, err := s.adapter.Load(ctx, candidateID)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, candidateID, tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// afterMutation marks the entry dirty and, under write-through, flushes it
// immediately. A failed flush restores the pre-mutation tree so the cached
// state keeps matching the persisted document.
func (s *MemUStorage) afterMutation(ctx context.Context, candidateID string, backup *types.MemoryTree) error {
	s.cache.MarkDirty(candidateID)
	if !s.writeThrough() {
		return nil
	}

	if err := s.cache.Flush(ctx, candidateID); err != nil {
		if putErr := s.cache.Put(ctx, candidateID, backup); putErr == nil {
			s.cache.MarkClean(candidateID)
		}
		s.logger.Error("Flush failed, rolled back in-memory mutation", err, map[string]interface{}{
			"candidate_id": candidateID,
		})
		return err
	}
	return nil
}

// scoreNode counts query term occurrences across the string values of the
// node's data and metadata, normalized by the number of words scanned.
func scoreNode(node *types.MemoryNode, terms []string) float64 {
	words := make([]string, 0)
	collectWords(node.Data, &words)
	collectWords(node.Metadata, &words)
	if len(words) == 0 {
		return 0
	}

	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}

	score := 0.0
	for _, term := range terms {
		score += float64(counts[term]) / float64(len(words))
	}
	return score
}

func collectWords(m map[string]interface{}, words *[]string) {
	for _, v := range m {
		switch val := v.(type) {
		case string:
			*words = append(*words, strings.Fields(strings.ToLower(val))...)
		case map[string]interface{}:
			collectWords(val, words)
		case []interface{}:
			for _, item := range val {
				if str, ok := item.(string); ok {
					*words = append(*words, strings.Fields(strings.ToLower(str))...)
				}
			}
		}
	}
}

func (s *MemUStorage) writeThrough() bool {
	return s.config.WritePolicy == types.WritePolicyThrough
}

func (s *MemUStorage) countOp(op string) {
	if s.metrics != nil {
		s.metrics.Counter("memu_storage_ops_total", 1, map[string]string{"op": op})
	}
}

func (s *MemUStorage) timeOp(op string, start time.Time) {
	if s.metrics != nil {
		s.metrics.Timer("memu_storage_op_duration_ms", float64(time.Since(start).Milliseconds()), map[string]string{"op": op})
	}
}

var _ interfaces.Storage = (*MemUStorage)(nil)
