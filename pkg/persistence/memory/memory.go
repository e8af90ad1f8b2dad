package memory

import (
	"fmt"
	"sync"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
)

// MemoryPersistence is an in-memory implementation of ITreePersistence.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
// Records are copied on the way in and out to prevent external mutation.
type MemoryPersistence struct {
	mu sync.RWMutex

	// Branch records: node digest -> BranchNode
	branches map[smt.Digest]smt.BranchNode

	// Leaf records: node digest -> LeafNode
	leaves map[smt.Digest]smt.LeafNode

	// Tree state, nil until first saved
	treeState *persistence.TreeState

	// Closed flag
	closed bool
}

// NewMemoryPersistence creates a new in-memory persistence layer.
func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{
		branches: make(map[smt.Digest]smt.BranchNode),
		leaves:   make(map[smt.Digest]smt.LeafNode),
	}
}

// GetBranch retrieves a branch record by digest.
func (m *MemoryPersistence) GetBranch(node smt.Digest) (*smt.BranchNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	branch, exists := m.branches[node]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return &branch, nil
}

// GetLeaf retrieves a leaf record by digest.
func (m *MemoryPersistence) GetLeaf(node smt.Digest) (*smt.LeafNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	leaf, exists := m.leaves[node]
	if !exists {
		return nil, nil // Not found is not an error
	}

	return &leaf, nil
}

// InsertBranch stores a branch record under its digest.
func (m *MemoryPersistence) InsertBranch(node smt.Digest, branch *smt.BranchNode) error {
	if branch == nil {
		return fmt.Errorf("cannot insert nil BranchNode")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.branches[node] = *branch
	return nil
}

// InsertLeaf stores a leaf record under its digest.
func (m *MemoryPersistence) InsertLeaf(node smt.Digest, leaf *smt.LeafNode) error {
	if leaf == nil {
		return fmt.Errorf("cannot insert nil LeafNode")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	m.leaves[node] = *leaf
	return nil
}

// RemoveBranch deletes a branch record.
func (m *MemoryPersistence) RemoveBranch(node smt.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	delete(m.branches, node)
	return nil
}

// RemoveLeaf deletes a leaf record.
func (m *MemoryPersistence) RemoveLeaf(node smt.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	delete(m.leaves, node)
	return nil
}

// WriteBatch applies all record changes of one update under a single lock,
// so readers never observe a partially applied update.
func (m *MemoryPersistence) WriteBatch(batch *smt.Batch) error {
	if batch == nil {
		return fmt.Errorf("cannot write nil Batch")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	for _, e := range batch.InsertedLeaves {
		m.leaves[e.Node] = e.Leaf
	}
	for _, e := range batch.InsertedBranches {
		m.branches[e.Node] = e.Branch
	}
	for _, node := range batch.RemovedLeaves {
		delete(m.leaves, node)
	}
	for _, node := range batch.RemovedBranches {
		delete(m.branches, node)
	}

	return nil
}

// SaveTreeState persists tree state.
func (m *MemoryPersistence) SaveTreeState(state *persistence.TreeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil TreeState")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	stateCopy := *state
	m.treeState = &stateCopy

	return nil
}

// LoadTreeState retrieves tree state.
func (m *MemoryPersistence) LoadTreeState() (*persistence.TreeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	// Return nil if no state has been saved yet (first run)
	if m.treeState == nil {
		return nil, nil
	}

	stateCopy := *m.treeState
	return &stateCopy, nil
}

// Counts returns the number of stored branch and leaf records.
func (m *MemoryPersistence) Counts() (branches, leaves int) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.branches), len(m.leaves)
}

// Close shuts down the persistence layer.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the persistence layer is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return nil
}
