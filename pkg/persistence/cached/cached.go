package cached

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
)

// CachedPersistence is a read-through LRU cache in front of another
// ITreePersistence. Writes go to the backend first and reach the cache only
// once the backend accepted them.
//
// Records are content addressed and never change once written, so a cached
// record is always the correct content for its digest. A record removed
// while a concurrent read was loading it may linger in the cache until
// evicted; the tree never asks for digests that are unreachable from its root.
type CachedPersistence struct {
	backend  persistence.ITreePersistence
	branches *lru.Cache[smt.Digest, smt.BranchNode]
	leaves   *lru.Cache[smt.Digest, smt.LeafNode]
	logger   *zap.Logger
}

var _ persistence.ITreePersistence = (*CachedPersistence)(nil)

// NewCachedPersistence wraps backend with caches holding up to size branch
// records and size leaf records.
func NewCachedPersistence(backend persistence.ITreePersistence, size int, logger *zap.Logger) (*CachedPersistence, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	branches, err := lru.New[smt.Digest, smt.BranchNode](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create branch cache: %w", err)
	}
	leaves, err := lru.New[smt.Digest, smt.LeafNode](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create leaf cache: %w", err)
	}

	logger.Sugar().Infow("Node cache initialized", "size", size)

	return &CachedPersistence{
		backend:  backend,
		branches: branches,
		leaves:   leaves,
		logger:   logger,
	}, nil
}

// GetBranch returns the cached branch record or loads it from the backend.
func (c *CachedPersistence) GetBranch(node smt.Digest) (*smt.BranchNode, error) {
	if branch, ok := c.branches.Get(node); ok {
		return &branch, nil
	}
	branch, err := c.backend.GetBranch(node)
	if err != nil || branch == nil {
		return branch, err
	}
	c.branches.Add(node, *branch)
	return branch, nil
}

// GetLeaf returns the cached leaf record or loads it from the backend.
func (c *CachedPersistence) GetLeaf(node smt.Digest) (*smt.LeafNode, error) {
	if leaf, ok := c.leaves.Get(node); ok {
		return &leaf, nil
	}
	leaf, err := c.backend.GetLeaf(node)
	if err != nil || leaf == nil {
		return leaf, err
	}
	c.leaves.Add(node, *leaf)
	return leaf, nil
}

func (c *CachedPersistence) InsertBranch(node smt.Digest, branch *smt.BranchNode) error {
	if err := c.backend.InsertBranch(node, branch); err != nil {
		return err
	}
	c.branches.Add(node, *branch)
	return nil
}

func (c *CachedPersistence) InsertLeaf(node smt.Digest, leaf *smt.LeafNode) error {
	if err := c.backend.InsertLeaf(node, leaf); err != nil {
		return err
	}
	c.leaves.Add(node, *leaf)
	return nil
}

func (c *CachedPersistence) RemoveBranch(node smt.Digest) error {
	c.branches.Remove(node)
	return c.backend.RemoveBranch(node)
}

func (c *CachedPersistence) RemoveLeaf(node smt.Digest) error {
	c.leaves.Remove(node)
	return c.backend.RemoveLeaf(node)
}

// WriteBatch writes batch to the backend atomically, then mirrors it into the cache.
func (c *CachedPersistence) WriteBatch(batch *smt.Batch) error {
	if batch == nil {
		return fmt.Errorf("cannot write nil Batch")
	}
	// Evict first so a failed write cannot leave removed records readable
	for _, node := range batch.RemovedLeaves {
		c.leaves.Remove(node)
	}
	for _, node := range batch.RemovedBranches {
		c.branches.Remove(node)
	}

	if err := c.backend.WriteBatch(batch); err != nil {
		return err
	}

	for _, e := range batch.InsertedLeaves {
		c.leaves.Add(e.Node, e.Leaf)
	}
	for _, e := range batch.InsertedBranches {
		c.branches.Add(e.Node, e.Branch)
	}
	return nil
}

func (c *CachedPersistence) SaveTreeState(state *persistence.TreeState) error {
	return c.backend.SaveTreeState(state)
}

func (c *CachedPersistence) LoadTreeState() (*persistence.TreeState, error) {
	return c.backend.LoadTreeState()
}

// Close purges the caches and closes the backend.
func (c *CachedPersistence) Close() error {
	c.branches.Purge()
	c.leaves.Purge()
	return c.backend.Close()
}

func (c *CachedPersistence) HealthCheck() error {
	return c.backend.HealthCheck()
}

// Len returns the number of cached branch and leaf records.
func (c *CachedPersistence) Len() (branches, leaves int) {
	return c.branches.Len(), c.leaves.Len()
}
