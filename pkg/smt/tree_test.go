package smt_test

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/hashers"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence/memory"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/testutil"
)

func newTestTree(t *testing.T) (*smt.SparseMerkleTree, *memory.MemoryPersistence) {
	t.Helper()
	store := memory.NewMemoryPersistence()
	t.Cleanup(func() { _ = store.Close() })
	return smt.NewSparseMerkleTree(store, hashers.NewSha256Hasher, nil), store
}

// plainStore hides WriteBatch so the tree takes the non-atomic commit path
type plainStore struct {
	smt.Store
}

// failingStore fails the selected operations of an otherwise working store
type failingStore struct {
	smt.Store
	failInsert bool
	failRemove bool
}

func (f *failingStore) InsertBranch(node smt.Digest, branch *smt.BranchNode) error {
	if f.failInsert {
		return errors.New("disk full")
	}
	return f.Store.InsertBranch(node, branch)
}

func (f *failingStore) RemoveBranch(node smt.Digest) error {
	if f.failRemove {
		return errors.New("permission denied")
	}
	return f.Store.RemoveBranch(node)
}

func TestSparseMerkleTree_Empty(t *testing.T) {
	tree, _ := newTestTree(t)

	assert.True(t, tree.IsEmpty())
	assert.Equal(t, smt.Digest{}, tree.Root())
	assert.True(t, tree.Validate())

	for _, name := range []string{"alice", "bob", ""} {
		v, err := tree.Get(testutil.HashKey(name))
		require.NoError(t, err)
		assert.True(t, v.IsZero())
	}
}

func TestSparseMerkleTree_RoundTrip(t *testing.T) {
	tree, _ := newTestTree(t)
	leaves := testutil.CreateTestLeaves(50)

	for _, l := range leaves {
		_, err := tree.Update(l.Key, l.Value)
		require.NoError(t, err)
	}

	for _, l := range leaves {
		v, err := tree.Get(l.Key)
		require.NoError(t, err)
		assert.Equal(t, l.Value, v)
	}

	// Keys never inserted read as zero
	v, err := tree.Get(testutil.HashKey("missing"))
	require.NoError(t, err)
	assert.True(t, v.IsZero())

	assert.True(t, tree.Validate())
}

func TestSparseMerkleTree_Overwrite(t *testing.T) {
	tree, _ := newTestTree(t)
	key := testutil.HashKey("alice")

	r1, err := tree.Update(key, testutil.Uint64Value(1))
	require.NoError(t, err)
	r2, err := tree.Update(key, testutil.Uint64Value(2))
	require.NoError(t, err)
	assert.NotEqual(t, r1, r2)

	v, err := tree.Get(key)
	require.NoError(t, err)
	assert.Equal(t, testutil.Uint64Value(2), v)

	// Writing the same value again is a no-op on the root
	r3, err := tree.Update(key, testutil.Uint64Value(2))
	require.NoError(t, err)
	assert.Equal(t, r2, r3)
	assert.True(t, tree.Validate())
}

func TestSparseMerkleTree_DeleteByZero(t *testing.T) {
	tree, store := newTestTree(t)
	base := testutil.CreateTestLeaves(10)
	before, err := tree.UpdateAll(base)
	require.NoError(t, err)
	branchesBefore, leavesBefore := store.Counts()

	extra := testutil.HashKey("extra")
	_, err = tree.Update(extra, testutil.Uint64Value(99))
	require.NoError(t, err)

	after, err := tree.Update(extra, smt.Digest{})
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Pruning leaves no degenerate records behind
	branchesAfter, leavesAfter := store.Counts()
	assert.Equal(t, branchesBefore, branchesAfter)
	assert.Equal(t, leavesBefore, leavesAfter)
	assert.True(t, tree.Validate())

	// Deleting an absent key changes nothing
	same, err := tree.Update(testutil.HashKey("never"), smt.Digest{})
	require.NoError(t, err)
	assert.Equal(t, before, same)
}

func TestSparseMerkleTree_DeleteAll(t *testing.T) {
	tree, store := newTestTree(t)
	leaves := testutil.CreateTestLeaves(20)
	_, err := tree.UpdateAll(leaves)
	require.NoError(t, err)

	for _, l := range leaves {
		_, err := tree.Update(l.Key, smt.Digest{})
		require.NoError(t, err)
	}

	assert.True(t, tree.IsEmpty())
	branches, storedLeaves := store.Counts()
	assert.Zero(t, branches)
	assert.Zero(t, storedLeaves)
}

func TestSparseMerkleTree_OrderIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	leaves := testutil.CreateRandomLeaves(rng, 64)

	reference, _ := newTestTree(t)
	want, err := reference.UpdateAll(leaves)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		shuffled := append([]smt.Leaf(nil), leaves...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		tree, _ := newTestTree(t)
		got, err := tree.UpdateAll(shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, got, "permutation %d", i)
	}
}

func TestSparseMerkleTree_Determinism_InsertDeleteReinsert(t *testing.T) {
	leaves := testutil.CreateTestLeaves(12)

	direct, _ := newTestTree(t)
	want, err := direct.UpdateAll(leaves[:6])
	require.NoError(t, err)

	churned, _ := newTestTree(t)
	_, err = churned.UpdateAll(leaves)
	require.NoError(t, err)
	for _, l := range leaves[6:] {
		_, err := churned.Update(l.Key, smt.Digest{})
		require.NoError(t, err)
	}
	_, err = churned.Update(leaves[0].Key, smt.Digest{})
	require.NoError(t, err)
	got, err := churned.Update(leaves[0].Key, leaves[0].Value)
	require.NoError(t, err)

	assert.Equal(t, want, got)
}

func TestSparseMerkleTree_HasherChangesRoot(t *testing.T) {
	leaves := testutil.CreateTestLeaves(4)
	roots := make(map[smt.Digest]string)

	for _, name := range hashers.Names {
		factory, err := hashers.ByName(name)
		require.NoError(t, err)

		tree := smt.NewSparseMerkleTree(memory.NewMemoryPersistence(), factory, nil)
		root, err := tree.UpdateAll(leaves)
		require.NoError(t, err)
		assert.True(t, tree.Validate())

		prev, dup := roots[root]
		require.False(t, dup, "%s and %s produced the same root", name, prev)
		roots[root] = name
	}
}

func TestSparseMerkleTree_ReopenWithRoot(t *testing.T) {
	tree, store := newTestTree(t)
	leaves := testutil.CreateTestLeaves(8)
	root, err := tree.UpdateAll(leaves)
	require.NoError(t, err)

	reopened := smt.NewSparseMerkleTreeWithRoot(root, store, hashers.NewSha256Hasher, zap.NewNop())
	assert.Equal(t, root, reopened.Root())
	assert.True(t, reopened.Validate())

	// Updating through the reopened handle continues the same tree
	extra := testutil.HashKey("extra")
	_, err = reopened.Update(extra, testutil.Uint64Value(1))
	require.NoError(t, err)
	got, err := tree.Store().GetLeaf(smt.MergeLeaf(hashers.NewSha256Hasher, extra, testutil.Uint64Value(1)))
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSparseMerkleTree_Scenario(t *testing.T) {
	alice := testutil.HashKey("alice")
	bob := testutil.HashKey("bob")
	carol := testutil.HashKey("carol")
	one := smt.Digest{0: 0x01}
	two := smt.Digest{0: 0x02}

	tree, _ := newTestTree(t)
	_, err := tree.Update(alice, one)
	require.NoError(t, err)
	r1, err := tree.Update(bob, two)
	require.NoError(t, err)

	// Inclusion of alice
	proof, err := tree.MerkleProof([]smt.Digest{alice})
	require.NoError(t, err)
	aliceLeaf := []smt.Leaf{{Key: alice, Value: one}}
	compiled, err := proof.Compile(aliceLeaf)
	require.NoError(t, err)
	ok, err := compiled.Verify(hashers.NewSha256Hasher, r1, aliceLeaf)
	require.NoError(t, err)
	assert.True(t, ok)

	// Non-inclusion of carol
	proof, err = tree.MerkleProof([]smt.Digest{carol})
	require.NoError(t, err)
	carolLeaf := []smt.Leaf{{Key: carol}}
	compiled, err = proof.Compile(carolLeaf)
	require.NoError(t, err)
	ok, err = compiled.Verify(hashers.NewSha256Hasher, r1, carolLeaf)
	require.NoError(t, err)
	assert.True(t, ok)

	// Delete bob
	r2, err := tree.Update(bob, smt.Digest{})
	require.NoError(t, err)

	aliceOnly, _ := newTestTree(t)
	want, err := aliceOnly.Update(alice, one)
	require.NoError(t, err)
	assert.Equal(t, want, r2)
}

func TestSparseMerkleTree_MissingStoreNode(t *testing.T) {
	tree, store := newTestTree(t)
	leaves := testutil.CreateTestLeaves(4)
	root, err := tree.UpdateAll(leaves)
	require.NoError(t, err)

	t.Run("missing root branch", func(t *testing.T) {
		broken := smt.NewSparseMerkleTreeWithRoot(testutil.HashKey("bogus root"), store, hashers.NewSha256Hasher, nil)

		_, err := broken.Get(leaves[0].Key)
		assert.True(t, errors.Is(err, smt.ErrMissingStoreNode))

		_, err = broken.Update(leaves[0].Key, testutil.Uint64Value(5))
		assert.True(t, errors.Is(err, smt.ErrMissingStoreNode))
		assert.Equal(t, testutil.HashKey("bogus root"), broken.Root())

		_, err = broken.MerkleProof([]smt.Digest{leaves[0].Key})
		assert.True(t, errors.Is(err, smt.ErrMissingStoreNode))

		assert.False(t, broken.Validate())
	})

	t.Run("missing leaf", func(t *testing.T) {
		leafNode := smt.MergeLeaf(hashers.NewSha256Hasher, leaves[1].Key, leaves[1].Value)
		require.NoError(t, store.RemoveLeaf(leafNode))

		_, err := tree.Get(leaves[1].Key)
		assert.True(t, errors.Is(err, smt.ErrMissingStoreNode))
		assert.False(t, tree.Validate())

		// Other keys are unaffected
		v, err := tree.Get(leaves[2].Key)
		require.NoError(t, err)
		assert.Equal(t, leaves[2].Value, v)
		assert.Equal(t, root, tree.Root())
	})
}

func TestSparseMerkleTree_ValidateDetectsTampering(t *testing.T) {
	tree, store := newTestTree(t)
	key := testutil.HashKey("alice")
	value := testutil.Uint64Value(1)
	_, err := tree.Update(key, value)
	require.NoError(t, err)
	require.True(t, tree.Validate())

	// Overwrite the leaf record with a different value under the same digest
	leafNode := smt.MergeLeaf(hashers.NewSha256Hasher, key, value)
	require.NoError(t, store.InsertLeaf(leafNode, &smt.LeafNode{Key: key, Value: testutil.Uint64Value(2)}))
	assert.False(t, tree.Validate())
}

func TestSparseMerkleTree_FailedInsertKeepsRoot(t *testing.T) {
	store := &failingStore{Store: memory.NewMemoryPersistence()}
	tree := smt.NewSparseMerkleTree(store, hashers.NewSha256Hasher, nil)

	key := testutil.HashKey("alice")
	root, err := tree.Update(key, testutil.Uint64Value(1))
	require.NoError(t, err)

	store.failInsert = true
	got, err := tree.Update(testutil.HashKey("bob"), testutil.Uint64Value(2))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, root, got)
	assert.Equal(t, root, tree.Root())

	// The previous root is intact
	store.failInsert = false
	assert.True(t, tree.Validate())
	v, err := tree.Get(key)
	require.NoError(t, err)
	assert.Equal(t, testutil.Uint64Value(1), v)
}

func TestSparseMerkleTree_FailedRemovalIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	store := &failingStore{Store: memory.NewMemoryPersistence(), failRemove: true}
	tree := smt.NewSparseMerkleTree(store, hashers.NewSha256Hasher, zap.New(core))

	key := testutil.HashKey("alice")
	_, err := tree.Update(key, testutil.Uint64Value(1))
	require.NoError(t, err)

	// Replacing the value must drop the old path, which now fails
	root, err := tree.Update(key, testutil.Uint64Value(2))
	require.NoError(t, err)
	assert.Equal(t, root, tree.Root())
	assert.True(t, tree.Validate())
	assert.Equal(t, 1, logs.FilterMessage("Failed to remove stale tree nodes").Len())
}

func TestSparseMerkleTree_NonAtomicStoreMatchesBatchStore(t *testing.T) {
	leaves := testutil.CreateTestLeaves(16)

	batched, _ := newTestTree(t)
	want, err := batched.UpdateAll(leaves)
	require.NoError(t, err)

	plain := smt.NewSparseMerkleTree(&plainStore{Store: memory.NewMemoryPersistence()}, hashers.NewSha256Hasher, nil)
	got, err := plain.UpdateAll(leaves)
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.True(t, plain.Validate())
}
