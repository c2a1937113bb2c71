// Package types defines the core types for MemU
package types

import (
	"time"
)

// WritePolicy controls when a mutated tree is persisted
type WritePolicy string

const (
	// WritePolicyThrough persists synchronously as part of the mutating call
	WritePolicyThrough WritePolicy = "write-through"
	// WritePolicyBack defers persistence until eviction or an explicit flush
	WritePolicyBack WritePolicy = "write-back"
)

// TraversalOrder selects the order in which Traverse visits nodes
type TraversalOrder string

const (
	TraversalBFS TraversalOrder = "bfs"
	TraversalDFS TraversalOrder = "dfs"
)

// MemoryNode represents a single addressable unit in a candidate's memory tree
type MemoryNode struct {
	ID        string                 `json:"node_id"`
	ParentID  string                 `json:"parent_id,omitempty"`
	Level     int                    `json:"level"`
	Data      map[string]interface{} `json:"data"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Children  []string               `json:"children"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// IsRoot reports whether the node is the level-0 root of its tree
func (n *MemoryNode) IsRoot() bool {
	return n.ParentID == ""
}

// Clone returns a deep copy of the node
func (n *MemoryNode) Clone() *MemoryNode {
	clone := &MemoryNode{
		ID:        n.ID,
		ParentID:  n.ParentID,
		Level:     n.Level,
		Data:      CloneValueMap(n.Data),
		Metadata:  CloneValueMap(n.Metadata),
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
	if n.Children != nil {
		clone.Children = make([]string, len(n.Children))
		copy(clone.Children, n.Children)
	}
	return clone
}

// MemoryTree represents the full per-candidate hierarchical memory
type MemoryTree struct {
	CandidateID string                 `json:"candidate_id"`
	RootNodeID  string                 `json:"root_node_id"`
	Nodes       map[string]*MemoryNode `json:"nodes"`
	Version     int64                  `json:"version"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Root returns the root node of the tree, or nil if the tree is malformed
func (t *MemoryTree) Root() *MemoryNode {
	return t.Nodes[t.RootNodeID]
}

// NodeCount returns the number of nodes in the tree
func (t *MemoryTree) NodeCount() int {
	return len(t.Nodes)
}

// Clone returns a deep copy of the tree
func (t *MemoryTree) Clone() *MemoryTree {
	clone := &MemoryTree{
		CandidateID: t.CandidateID,
		RootNodeID:  t.RootNodeID,
		Nodes:       make(map[string]*MemoryNode, len(t.Nodes)),
		Version:     t.Version,
		LastUpdated: t.LastUpdated,
	}
	for id, node := range t.Nodes {
		clone.Nodes[id] = node.Clone()
	}
	return clone
}

// CloneValueMap returns a deep copy of a JSON-shaped value map
func CloneValueMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	clone := make(map[string]interface{}, len(m))
	for k, v := range m {
		clone[k] = cloneValue(v)
	}
	return clone
}

func cloneValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CloneValueMap(val)
	case []interface{}:
		cloned := make([]interface{}, len(val))
		for i, item := range val {
			cloned[i] = cloneValue(item)
		}
		return cloned
	default:
		// Scalars (string, bool, numbers, nil) are immutable
		return val
	}
}

// TreeStats summarizes a single candidate tree
type TreeStats struct {
	CandidateID string    `json:"candidate_id"`
	NodeCount   int       `json:"node_count"`
	Depth       int       `json:"depth"`
	Version     int64     `json:"version"`
	LastUpdated time.Time `json:"last_updated"`
}

// CacheStats summarizes the resident cache
type CacheStats struct {
	Capacity  int   `json:"capacity"`
	Resident  int   `json:"resident"`
	Dirty     int   `json:"dirty"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// SearchResult represents a scored node returned by a facade search
type SearchResult struct {
	CandidateID string      `json:"candidate_id"`
	Node        *MemoryNode `json:"node"`
	Score       float64     `json:"score"`
}

// ErrorType classifies errors for propagation and API translation
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeInternal   ErrorType = "internal"
)
