// Package persistence stores candidate memory trees as JSON documents,
// one file per candidate inside a configured storage directory.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/memtensor/memu/pkg/errors"
	"github.com/memtensor/memu/pkg/interfaces"
	"github.com/memtensor/memu/pkg/memory"
	"github.com/memtensor/memu/pkg/types"
)

const documentSuffix = ".json"

// FileAdapter implements interfaces.Persistence over a local directory.
// Writes go to a temp file first and are renamed over the target, so an
// interrupted save never clobbers the previous valid document.
type FileAdapter struct {
	dir     string
	treeMgr *memory.TreeManager
	logger  interfaces.Logger
	metrics interfaces.Metrics
}

// NewFileAdapter creates the storage directory if needed and returns an
// adapter confined to it.
func NewFileAdapter(dir string, treeMgr *memory.TreeManager, logger interfaces.Logger, metrics interfaces.Metrics) (*FileAdapter, error) {
	if dir == "" {
		return nil, errors.NewMissingFieldError("storage_path")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.NewStorageError("init", err).WithDetail("dir", dir)
	}
	return &FileAdapter{
		dir:     dir,
		treeMgr: treeMgr,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Load reads the candidate's document, deserializes it and checks the tree
// invariants before handing it back.
func (fa *FileAdapter) Load(ctx context.Context, candidateID string) (*types.MemoryTree, error) {
	path, err := fa.documentPath(candidateID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewCandidateNotFoundError(candidateID)
		}
		return nil, errors.NewStorageError("load", err).WithDetail("candidate_id", candidateID)
	}

	var tree types.MemoryTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, errors.NewCorruptDataError(candidateID, err)
	}
	if tree.CandidateID != candidateID {
		return nil, errors.NewCorruptDataError(candidateID,
			fmt.Errorf("document holds candidate_id %q", tree.CandidateID))
	}
	if err := fa.treeMgr.Validate(&tree); err != nil {
		return nil, errors.NewCorruptDataError(candidateID, err)
	}

	if fa.metrics != nil {
		fa.metrics.Counter("memu_persistence_load_total", 1, nil)
	}
	return &tree, nil
}

// Save serializes the tree and writes it atomically, overwriting any
// previous document for the candidate.
func (fa *FileAdapter) Save(ctx context.Context, tree *types.MemoryTree) error {
	path, err := fa.documentPath(tree.CandidateID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return errors.NewStorageError("save", err).WithDetail("candidate_id", tree.CandidateID)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return errors.NewStorageError("save", err).WithDetail("candidate_id", tree.CandidateID)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return errors.NewStorageError("save", err).WithDetail("candidate_id", tree.CandidateID)
	}

	if fa.logger != nil {
		fa.logger.Debug("Persisted candidate tree", map[string]interface{}{
			"candidate_id": tree.CandidateID,
			"version":      tree.Version,
			"nodes":        len(tree.Nodes),
		})
	}
	if fa.metrics != nil {
		fa.metrics.Counter("memu_persistence_save_total", 1, nil)
	}
	return nil
}

// Exists reports whether a document exists for the candidate
func (fa *FileAdapter) Exists(ctx context.Context, candidateID string) (bool, error) {
	path, err := fa.documentPath(candidateID)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.NewStorageError("stat", err).WithDetail("candidate_id", candidateID)
	}
	return true, nil
}

// Delete removes the candidate's document. Absent documents are a no-op.
func (fa *FileAdapter) Delete(ctx context.Context, candidateID string) error {
	path, err := fa.documentPath(candidateID)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.NewStorageError("delete", err).WithDetail("candidate_id", candidateID)
	}
	return nil
}

// Check verifies the storage directory is writable by creating and
// removing a probe file.
func (fa *FileAdapter) Check(ctx context.Context) error {
	probe := filepath.Join(fa.dir, ".health")
	if err := os.WriteFile(probe, []byte("ok"), 0644); err != nil {
		return errors.NewStorageError("health", err).WithDetail("dir", fa.dir)
	}
	if err := os.Remove(probe); err != nil {
		return errors.NewStorageError("health", err).WithDetail("dir", fa.dir)
	}
	return nil
}

// documentPath maps a candidate id to its file inside the storage directory,
// rejecting ids that could escape it.
func (fa *FileAdapter) documentPath(candidateID string) (string, error) {
	if err := ValidateCandidateID(candidateID); err != nil {
		return "", err
	}
	return filepath.Join(fa.dir, candidateID+documentSuffix), nil
}

// ValidateCandidateID rejects empty ids and ids containing path separators
// or parent-directory references.
func ValidateCandidateID(candidateID string) error {
	if candidateID == "" {
		return errors.NewMissingFieldError("candidate_id")
	}
	if strings.ContainsAny(candidateID, `/\`) || strings.Contains(candidateID, "..") {
		return errors.NewInvalidInputError(
			fmt.Sprintf("candidate_id contains path elements: %s", candidateID)).
			WithDetail("candidate_id", candidateID)
	}
	return nil
}

var _ interfaces.Persistence = (*FileAdapter)(nil)
