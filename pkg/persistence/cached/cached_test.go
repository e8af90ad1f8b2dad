package cached

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/hashers"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence/memory"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/testutil"
)

// countingBackend counts branch reads reaching the backend and can fail batches
type countingBackend struct {
	*memory.MemoryPersistence
	branchReads int
	failBatch   bool
}

func (c *countingBackend) GetBranch(node smt.Digest) (*smt.BranchNode, error) {
	c.branchReads++
	return c.MemoryPersistence.GetBranch(node)
}

func (c *countingBackend) WriteBatch(batch *smt.Batch) error {
	if c.failBatch {
		return errors.New("backend unavailable")
	}
	return c.MemoryPersistence.WriteBatch(batch)
}

func TestCachedPersistence_Contract(t *testing.T) {
	testutil.RunPersistenceSuite(t, func(t *testing.T) persistence.ITreePersistence {
		cp, err := NewCachedPersistence(memory.NewMemoryPersistence(), 128, nil)
		require.NoError(t, err)
		return cp
	})
}

func TestNewCachedPersistence_InvalidArgs(t *testing.T) {
	_, err := NewCachedPersistence(nil, 10, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend")

	_, err = NewCachedPersistence(memory.NewMemoryPersistence(), 0, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cache size")
}

func TestCachedPersistence_ReadThrough(t *testing.T) {
	backend := &countingBackend{MemoryPersistence: memory.NewMemoryPersistence()}
	node := smt.Digest{1}
	require.NoError(t, backend.MemoryPersistence.InsertBranch(node, &smt.BranchNode{Height: 2, Left: smt.Digest{9}}))

	cp, err := NewCachedPersistence(backend, 16, nil)
	require.NoError(t, err)
	defer func() { _ = cp.Close() }()

	for i := 0; i < 3; i++ {
		branch, err := cp.GetBranch(node)
		require.NoError(t, err)
		require.NotNil(t, branch)
		assert.Equal(t, uint16(2), branch.Height)
	}
	assert.Equal(t, 1, backend.branchReads, "only the first read reaches the backend")

	// Misses are not cached
	missing, err := cp.GetBranch(smt.Digest{2})
	require.NoError(t, err)
	assert.Nil(t, missing)
	branches, _ := cp.Len()
	assert.Equal(t, 1, branches)
}

func TestCachedPersistence_FailedBatchLeavesCacheConsistent(t *testing.T) {
	backend := &countingBackend{MemoryPersistence: memory.NewMemoryPersistence()}
	cp, err := NewCachedPersistence(backend, 1024, nil)
	require.NoError(t, err)
	defer func() { _ = cp.Close() }()

	tree := smt.NewSparseMerkleTree(cp, hashers.NewSha256Hasher, nil)
	key := testutil.HashKey("alice")
	root, err := tree.Update(key, testutil.Uint64Value(1))
	require.NoError(t, err)

	backend.failBatch = true
	_, err = tree.Update(key, testutil.Uint64Value(2))
	require.Error(t, err)
	assert.Equal(t, root, tree.Root(), "a failed update keeps the previous root")

	// The previous root is still fully readable through the cache
	backend.failBatch = false
	reopened := smt.NewSparseMerkleTreeWithRoot(root, cp, hashers.NewSha256Hasher, nil)
	assert.True(t, reopened.Validate())
	v, err := reopened.Get(key)
	require.NoError(t, err)
	assert.Equal(t, testutil.Uint64Value(1), v)
}

func TestCachedPersistence_EvictionFallsBackToBackend(t *testing.T) {
	backend := &countingBackend{MemoryPersistence: memory.NewMemoryPersistence()}
	cp, err := NewCachedPersistence(backend, 8, nil)
	require.NoError(t, err)
	defer func() { _ = cp.Close() }()

	tree := smt.NewSparseMerkleTree(cp, hashers.NewSha256Hasher, nil)
	leaves := testutil.CreateTestLeaves(4)
	_, err = tree.UpdateAll(leaves)
	require.NoError(t, err)

	branches, cachedLeaves := cp.Len()
	assert.LessOrEqual(t, branches, 8)
	assert.LessOrEqual(t, cachedLeaves, 8)

	for _, l := range leaves {
		v, err := tree.Get(l.Key)
		require.NoError(t, err)
		assert.Equal(t, l.Value, v)
	}
	assert.Positive(t, backend.branchReads)
}
