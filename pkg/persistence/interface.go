package persistence

import "github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"

// ITreePersistence defines the interface for persisting a sparse merkle tree
// across restarts. All implementations must be thread-safe: readers may build
// proofs while a writer applies an update.
//
// The interface supports:
// - Content-addressed branch and leaf records (smt.Store)
// - Atomic application of one update's record changes (smt.BatchStore)
// - Tree state tracking (which root is current, which hasher built it)
// - Lifecycle management (close, health check)
type ITreePersistence interface {
	// Node Records

	// GetBranch, GetLeaf, InsertBranch, InsertLeaf, RemoveBranch and RemoveLeaf
	// follow the smt.Store contract: lookups return nil, nil when no record
	// exists and removals are idempotent.
	//
	// WriteBatch applies every insert and removal of one update. Backends that
	// support transactions apply it atomically.
	smt.BatchStore

	// Tree State

	// SaveTreeState persists the current tree state. Overwrites any existing state.
	SaveTreeState(state *TreeState) error

	// LoadTreeState retrieves the tree state.
	// Returns nil state if none exists (first run), error only on storage failure.
	LoadTreeState() (*TreeState, error)

	// Lifecycle Management

	// Close cleanly shuts down the persistence layer.
	// Idempotent - safe to call multiple times.
	// After Close(), all other operations should return errors.
	Close() error

	// HealthCheck verifies the persistence layer is operational.
	// Returns nil if healthy, error describing the problem if not.
	HealthCheck() error
}
