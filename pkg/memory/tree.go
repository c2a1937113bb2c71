// Package memory implements the hierarchical candidate memory model for MemU
package memory

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memtensor/memu/pkg/errors"
	"github.com/memtensor/memu/pkg/types"
)

// TreeManager applies and validates structural operations on candidate
// memory trees under the configured depth and size bounds.
type TreeManager struct {
	maxDepth int
	maxNodes int
}

// NewTreeManager creates a tree manager. maxNodes of zero means unbounded.
func NewTreeManager(maxDepth, maxNodes int) *TreeManager {
	return &TreeManager{
		maxDepth: maxDepth,
		maxNodes: maxNodes,
	}
}

// MaxDepth returns the configured depth bound
func (tm *TreeManager) MaxDepth() int {
	return tm.maxDepth
}

// NewTree builds a tree for candidateID with a single root node at level 0
func (tm *TreeManager) NewTree(candidateID string, initialData map[string]interface{}) (*types.MemoryTree, error) {
	if candidateID == "" {
		return nil, errors.NewMissingFieldError("candidate_id")
	}

	now := time.Now().UTC()
	root := &types.MemoryNode{
		ID:        generateNodeID(),
		Level:     0,
		Data:      types.CloneValueMap(initialData),
		Children:  make([]string, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if root.Data == nil {
		root.Data = make(map[string]interface{})
	}

	return &types.MemoryTree{
		CandidateID: candidateID,
		RootNodeID:  root.ID,
		Nodes:       map[string]*types.MemoryNode{root.ID: root},
		Version:     1,
		LastUpdated: now,
	}, nil
}

// AddNode creates a new node as a child of parentID and returns its id.
// The tree is left untouched when any check fails.
func (tm *TreeManager) AddNode(tree *types.MemoryTree, parentID string, data, metadata map[string]interface{}) (string, error) {
	parent, exists := tree.Nodes[parentID]
	if !exists {
		return "", errors.NewNodeNotFoundError(parentID)
	}

	level := parent.Level + 1
	if level > tm.maxDepth {
		return "", errors.NewDepthExceededError(tm.maxDepth, level)
	}
	if tm.maxNodes > 0 && len(tree.Nodes) >= tm.maxNodes {
		return "", errors.NewNodesExceededError(tm.maxNodes)
	}

	now := time.Now().UTC()
	node := &types.MemoryNode{
		ID:        generateNodeID(),
		ParentID:  parentID,
		Level:     level,
		Data:      types.CloneValueMap(data),
		Metadata:  types.CloneValueMap(metadata),
		Children:  make([]string, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if node.Data == nil {
		node.Data = make(map[string]interface{})
	}

	tree.Nodes[node.ID] = node
	parent.Children = append(parent.Children, node.ID)
	parent.UpdatedAt = now
	tree.Version++
	tree.LastUpdated = now

	return node.ID, nil
}

// UpdateNode shallow-merges the patches into the node's data and metadata:
// keys present in a patch overwrite, all other keys are preserved.
func (tm *TreeManager) UpdateNode(tree *types.MemoryTree, nodeID string, dataPatch, metadataPatch map[string]interface{}) error {
	node, exists := tree.Nodes[nodeID]
	if !exists {
		return errors.NewNodeNotFoundError(nodeID)
	}

	now := time.Now().UTC()
	if len(dataPatch) > 0 {
		if node.Data == nil {
			node.Data = make(map[string]interface{})
		}
		for k, v := range dataPatch {
			node.Data[k] = v
		}
	}
	if len(metadataPatch) > 0 {
		if node.Metadata == nil {
			node.Metadata = make(map[string]interface{})
		}
		for k, v := range metadataPatch {
			node.Metadata[k] = v
		}
	}

	node.UpdatedAt = now
	tree.Version++
	tree.LastUpdated = now

	return nil
}

// Path walks from nodeID up to the root and returns the chain in
// root-to-node order.
func (tm *TreeManager) Path(tree *types.MemoryTree, nodeID string) ([]*types.MemoryNode, error) {
	node, exists := tree.Nodes[nodeID]
	if !exists {
		return nil, errors.NewNodeNotFoundError(nodeID)
	}

	chain := []*types.MemoryNode{node}
	for !node.IsRoot() {
		parent, ok := tree.Nodes[node.ParentID]
		if !ok {
			return nil, errors.NewCorruptDataError(tree.CandidateID,
				fmt.Errorf("node %s references missing parent %s", node.ID, node.ParentID))
		}
		chain = append(chain, parent)
		node = parent

		if len(chain) > len(tree.Nodes) {
			return nil, errors.NewCorruptDataError(tree.CandidateID,
				fmt.Errorf("parent chain of node %s contains a cycle", nodeID))
		}
	}

	// Reverse into root-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Traverse returns the nodes reachable from startID in breadth-first or
// depth-first order. Each call walks the tree afresh; children are visited
// in insertion order, so the result is deterministic.
func (tm *TreeManager) Traverse(tree *types.MemoryTree, startID string, order types.TraversalOrder) ([]*types.MemoryNode, error) {
	start, exists := tree.Nodes[startID]
	if !exists {
		return nil, errors.NewNodeNotFoundError(startID)
	}

	switch order {
	case types.TraversalBFS:
		return tm.traverseBFS(tree, start), nil
	case types.TraversalDFS:
		return tm.traverseDFS(tree, start), nil
	default:
		return nil, errors.NewInvalidInputError(fmt.Sprintf("unknown traversal order: %s", order))
	}
}

func (tm *TreeManager) traverseBFS(tree *types.MemoryTree, start *types.MemoryNode) []*types.MemoryNode {
	result := make([]*types.MemoryNode, 0, len(tree.Nodes))
	queue := []*types.MemoryNode{start}

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		result = append(result, node)

		for _, childID := range node.Children {
			if child, ok := tree.Nodes[childID]; ok {
				queue = append(queue, child)
			}
		}
	}
	return result
}

func (tm *TreeManager) traverseDFS(tree *types.MemoryTree, start *types.MemoryNode) []*types.MemoryNode {
	result := make([]*types.MemoryNode, 0, len(tree.Nodes))
	stack := []*types.MemoryNode{start}

	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		result = append(result, node)

		// Push children in reverse so the first child is visited first
		for i := len(node.Children) - 1; i >= 0; i-- {
			if child, ok := tree.Nodes[node.Children[i]]; ok {
				stack = append(stack, child)
			}
		}
	}
	return result
}

// Depth returns the maximum node level present in the tree
func (tm *TreeManager) Depth(tree *types.MemoryTree) int {
	depth := 0
	for _, node := range tree.Nodes {
		if node.Level > depth {
			depth = node.Level
		}
	}
	return depth
}

// Validate checks the structural invariants of a tree: a present root at
// level 0, parent links that resolve within the tree, level arithmetic,
// full connectivity from the root, and the configured depth bound.
func (tm *TreeManager) Validate(tree *types.MemoryTree) error {
	if tree.CandidateID == "" {
		return fmt.Errorf("tree has no candidate_id")
	}

	root, exists := tree.Nodes[tree.RootNodeID]
	if !exists {
		return fmt.Errorf("root node %s not present in nodes", tree.RootNodeID)
	}
	if !root.IsRoot() || root.Level != 0 {
		return fmt.Errorf("root node %s is not a level-0 root", root.ID)
	}

	for id, node := range tree.Nodes {
		if node.ID != id {
			return fmt.Errorf("node %s keyed under mismatched id %s", node.ID, id)
		}
		if node.Level > tm.maxDepth {
			return fmt.Errorf("node %s at level %d exceeds max depth %d", id, node.Level, tm.maxDepth)
		}
		if id == tree.RootNodeID {
			continue
		}
		parent, ok := tree.Nodes[node.ParentID]
		if !ok {
			return fmt.Errorf("node %s references missing parent %s", id, node.ParentID)
		}
		if node.Level != parent.Level+1 {
			return fmt.Errorf("node %s at level %d under parent at level %d", id, node.Level, parent.Level)
		}
	}

	// Reachability from the root also rules out cycles: every node has one
	// parent link, so a disconnected node or cycle never gets visited.
	visited := make(map[string]bool, len(tree.Nodes))
	queue := []*types.MemoryNode{root}
	visited[root.ID] = true
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, childID := range node.Children {
			child, ok := tree.Nodes[childID]
			if !ok {
				return fmt.Errorf("node %s lists missing child %s", node.ID, childID)
			}
			if visited[childID] {
				return fmt.Errorf("node %s reachable through more than one parent", childID)
			}
			if child.ParentID != node.ID {
				return fmt.Errorf("node %s listed as child of %s but parented to %s", childID, node.ID, child.ParentID)
			}
			visited[childID] = true
			queue = append(queue, child)
		}
	}
	if len(visited) != len(tree.Nodes) {
		return fmt.Errorf("%d of %d nodes unreachable from root", len(tree.Nodes)-len(visited), len(tree.Nodes))
	}

	return nil
}

func generateNodeID() string {
	return uuid.New().String()
}
