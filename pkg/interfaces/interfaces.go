// Package interfaces defines the core interfaces for MemU components
package interfaces

import (
	"context"

	"github.com/memtensor/memu/pkg/types"
)

// Persistence defines the interface for durable candidate tree storage
type Persistence interface {
	// Load reads and validates the persisted document for a candidate
	Load(ctx context.Context, candidateID string) (*types.MemoryTree, error)

	// Save atomically writes the tree's document, replacing any previous one
	Save(ctx context.Context, tree *types.MemoryTree) error

	// Exists reports whether a document exists for the candidate
	Exists(ctx context.Context, candidateID string) (bool, error)

	// Delete removes the candidate's document; absent documents are not an error
	Delete(ctx context.Context, candidateID string) error
}

// Storage defines the candidate-oriented facade consumed by the assessment
// engine and the API/CLI layer
type Storage interface {
	// CreateCandidateMemory creates a new tree with a root node and persists it
	CreateCandidateMemory(ctx context.Context, candidateID string, initialData map[string]interface{}) (*types.MemoryTree, error)

	// GetCandidateMemory returns the candidate's tree, cache-first
	GetCandidateMemory(ctx context.Context, candidateID string) (*types.MemoryTree, error)

	// AddMemoryNode appends a child node under parentID and returns its id
	AddMemoryNode(ctx context.Context, candidateID, parentID string, data, metadata map[string]interface{}) (string, error)

	// UpdateMemoryNode shallow-merges patches into an existing node
	UpdateMemoryNode(ctx context.Context, candidateID, nodeID string, dataPatch, metadataPatch map[string]interface{}) error

	// DeleteCandidate removes the candidate from cache and persistence
	DeleteCandidate(ctx context.Context, candidateID string) error

	// GetPath returns the root-to-node chain for a node
	GetPath(ctx context.Context, candidateID, nodeID string) ([]*types.MemoryNode, error)

	// Traverse returns nodes reachable from startID in the given order
	Traverse(ctx context.Context, candidateID, startID string, order types.TraversalOrder) ([]*types.MemoryNode, error)

	// Search scores nodes of a candidate's tree against a free-text query
	Search(ctx context.Context, candidateID, query string, topK int) ([]*types.SearchResult, error)

	// Stats returns size statistics for one candidate tree
	Stats(ctx context.Context, candidateID string) (*types.TreeStats, error)

	// Flush writes one dirty entry, or all dirty entries when candidateID is empty
	Flush(ctx context.Context, candidateID string) error

	// Close flushes all dirty entries and rejects further operations
	Close() error
}

// Logger defines the interface for logging implementations
type Logger interface {
	// Debug logs debug level messages
	Debug(msg string, fields ...map[string]interface{})

	// Info logs info level messages
	Info(msg string, fields ...map[string]interface{})

	// Warn logs warning level messages
	Warn(msg string, fields ...map[string]interface{})

	// Error logs error level messages
	Error(msg string, err error, fields ...map[string]interface{})

	// Fatal logs fatal level messages and exits
	Fatal(msg string, err error, fields ...map[string]interface{})

	// WithFields returns a logger with additional fields
	WithFields(fields map[string]interface{}) Logger
}

// Metrics defines the interface for metrics collection
type Metrics interface {
	// Counter increments a counter metric
	Counter(name string, value float64, labels map[string]string)

	// Gauge sets a gauge metric
	Gauge(name string, value float64, labels map[string]string)

	// Histogram records a histogram metric
	Histogram(name string, value float64, labels map[string]string)

	// Timer records timing metrics
	Timer(name string, duration float64, labels map[string]string)
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	// Load loads configuration from a file
	Load(ctx context.Context, path string) error

	// Get retrieves a configuration value
	Get(key string) interface{}

	// Set sets a configuration value
	Set(key string, value interface{}) error

	// Save saves configuration to a file
	Save(ctx context.Context, path string) error

	// Watch watches for configuration changes
	Watch(ctx context.Context, callback func(key string, value interface{})) error
}

// HealthChecker defines the interface for health checking
type HealthChecker interface {
	// Check performs a health check
	Check(ctx context.Context) error

	// GetStatus returns the current health status
	GetStatus() string
}
