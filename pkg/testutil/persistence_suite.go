package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/hashers"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
)

// PersistenceFactory opens a fresh, empty persistence layer for one test.
type PersistenceFactory func(t *testing.T) persistence.ITreePersistence

// RunPersistenceSuite exercises the ITreePersistence contract against a backend.
func RunPersistenceSuite(t *testing.T, newPersistence PersistenceFactory) {
	t.Run("BranchInsertAndGet", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		node := smt.Digest{1}
		branch := &smt.BranchNode{Height: 7, Left: smt.Digest{2}, Right: smt.Digest{3}}
		require.NoError(t, p.InsertBranch(node, branch))

		loaded, err := p.GetBranch(node)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, branch, loaded)

		// Mutating the returned record must not reach the store
		loaded.Height = 9
		again, err := p.GetBranch(node)
		require.NoError(t, err)
		assert.Equal(t, uint16(7), again.Height)
	})

	t.Run("LeafInsertAndGet", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		node := smt.Digest{4}
		leaf := &smt.LeafNode{Key: HashKey("alice"), Value: Uint64Value(1)}
		require.NoError(t, p.InsertLeaf(node, leaf))

		loaded, err := p.GetLeaf(node)
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, leaf, loaded)
	})

	t.Run("NotFound", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		branch, err := p.GetBranch(smt.Digest{0xde, 0xad})
		require.NoError(t, err)
		assert.Nil(t, branch)

		leaf, err := p.GetLeaf(smt.Digest{0xbe, 0xef})
		require.NoError(t, err)
		assert.Nil(t, leaf)
	})

	t.Run("BranchAndLeafNamespacesAreSeparate", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		node := smt.Digest{5}
		require.NoError(t, p.InsertLeaf(node, &smt.LeafNode{Key: smt.Digest{1}, Value: smt.Digest{2}}))

		branch, err := p.GetBranch(node)
		require.NoError(t, err)
		assert.Nil(t, branch)
	})

	t.Run("InsertNil", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		err := p.InsertBranch(smt.Digest{1}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil BranchNode")

		err = p.InsertLeaf(smt.Digest{1}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil LeafNode")
	})

	t.Run("RemoveIsIdempotent", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		node := smt.Digest{6}
		require.NoError(t, p.InsertBranch(node, &smt.BranchNode{Height: 1, Left: smt.Digest{1}}))
		require.NoError(t, p.InsertLeaf(node, &smt.LeafNode{Key: smt.Digest{1}, Value: smt.Digest{1}}))

		require.NoError(t, p.RemoveBranch(node))
		require.NoError(t, p.RemoveBranch(node))
		require.NoError(t, p.RemoveLeaf(node))
		require.NoError(t, p.RemoveLeaf(node))

		branch, err := p.GetBranch(node)
		require.NoError(t, err)
		assert.Nil(t, branch)
		leaf, err := p.GetLeaf(node)
		require.NoError(t, err)
		assert.Nil(t, leaf)
	})

	t.Run("WriteBatch", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		stale := smt.Digest{0x10}
		require.NoError(t, p.InsertBranch(stale, &smt.BranchNode{Height: 3, Right: smt.Digest{1}}))
		require.NoError(t, p.InsertLeaf(stale, &smt.LeafNode{Key: smt.Digest{1}, Value: smt.Digest{1}}))

		batch := &smt.Batch{
			InsertedBranches: []smt.BranchEntry{
				{Node: smt.Digest{0x20}, Branch: smt.BranchNode{Height: 4, Left: smt.Digest{2}}},
			},
			InsertedLeaves: []smt.LeafEntry{
				{Node: smt.Digest{0x30}, Leaf: smt.LeafNode{Key: smt.Digest{3}, Value: smt.Digest{3}}},
			},
			RemovedBranches: []smt.Digest{stale},
			RemovedLeaves:   []smt.Digest{stale},
		}
		require.NoError(t, p.WriteBatch(batch))

		branch, err := p.GetBranch(smt.Digest{0x20})
		require.NoError(t, err)
		require.NotNil(t, branch)
		assert.Equal(t, uint16(4), branch.Height)

		leaf, err := p.GetLeaf(smt.Digest{0x30})
		require.NoError(t, err)
		require.NotNil(t, leaf)

		gone, err := p.GetBranch(stale)
		require.NoError(t, err)
		assert.Nil(t, gone)
		goneLeaf, err := p.GetLeaf(stale)
		require.NoError(t, err)
		assert.Nil(t, goneLeaf)

		err = p.WriteBatch(nil)
		require.Error(t, err)
	})

	t.Run("TreeState", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		// First run: no state
		state, err := p.LoadTreeState()
		require.NoError(t, err)
		assert.Nil(t, state)

		saved := &persistence.TreeState{
			Root:      HashKey("root"),
			Hasher:    hashers.Blake3,
			Updates:   3,
			UpdatedAt: 1700000000,
		}
		require.NoError(t, p.SaveTreeState(saved))

		loaded, err := p.LoadTreeState()
		require.NoError(t, err)
		assert.Equal(t, saved, loaded)

		err = p.SaveTreeState(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "nil TreeState")
	})

	t.Run("Close", func(t *testing.T) {
		p := newPersistence(t)
		require.NoError(t, p.HealthCheck())

		require.NoError(t, p.Close())
		// Second close should also succeed
		require.NoError(t, p.Close())

		err := p.HealthCheck()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "closed")

		_, err = p.GetBranch(smt.Digest{1})
		require.Error(t, err)
		err = p.InsertLeaf(smt.Digest{1}, &smt.LeafNode{})
		require.Error(t, err)
		err = p.WriteBatch(&smt.Batch{})
		require.Error(t, err)
		_, err = p.LoadTreeState()
		require.Error(t, err)
	})

	t.Run("BacksTree", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		tree := smt.NewSparseMerkleTree(p, hashers.NewSha256Hasher, nil)
		leaves := CreateTestLeaves(16)
		root, err := tree.UpdateAll(leaves)
		require.NoError(t, err)
		require.False(t, root.IsZero())
		assert.True(t, tree.Validate())

		for _, l := range leaves {
			v, err := tree.Get(l.Key)
			require.NoError(t, err)
			assert.Equal(t, l.Value, v)
		}

		proof, err := tree.MerkleProof(LeafKeys(leaves[:5]))
		require.NoError(t, err)
		ok, err := proof.Verify(hashers.NewSha256Hasher, root, leaves[:5])
		require.NoError(t, err)
		assert.True(t, ok)

		// Reopen over the same records from the root alone
		reopened := smt.NewSparseMerkleTreeWithRoot(root, p, hashers.NewSha256Hasher, nil)
		v, err := reopened.Get(leaves[7].Key)
		require.NoError(t, err)
		assert.Equal(t, leaves[7].Value, v)

		// Deleting everything prunes the old root record
		for _, l := range leaves {
			_, err := tree.Update(l.Key, smt.Digest{})
			require.NoError(t, err)
		}
		assert.True(t, tree.IsEmpty())
		oldRoot, err := p.GetBranch(root)
		require.NoError(t, err)
		assert.Nil(t, oldRoot)
	})

	t.Run("ThreadSafety", func(t *testing.T) {
		p := newPersistence(t)
		defer func() { _ = p.Close() }()

		var wg sync.WaitGroup
		numGoroutines := 10
		numOperations := 50

		// Concurrent writes
		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < numOperations; j++ {
					node := Uint64Value(uint64(id*1000 + j + 1))
					err := p.InsertLeaf(node, &smt.LeafNode{Key: node, Value: node})
					assert.NoError(t, err)
				}
			}(i)
		}

		// Concurrent reads
		for i := 0; i < numGoroutines; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				for j := 0; j < numOperations; j++ {
					_, err := p.GetLeaf(Uint64Value(uint64(id*1000 + j + 1)))
					assert.NoError(t, err)
				}
			}(i)
		}

		wg.Wait()

		leaf, err := p.GetLeaf(Uint64Value(uint64(3*1000 + 7 + 1)))
		require.NoError(t, err)
		require.NotNil(t, leaf)
	})
}
