package badger

import (
	"testing"

	badgerdb "github.com/dgraph-io/badger/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/hashers"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/logger"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/testutil"
)

func TestBadgerPersistence_Contract(t *testing.T) {
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	testutil.RunPersistenceSuite(t, func(t *testing.T) persistence.ITreePersistence {
		bp, err := NewBadgerPersistence(t.TempDir(), testLogger)
		require.NoError(t, err)
		return bp
	})
}

func TestBadgerPersistence_NilLogger(t *testing.T) {
	bp, err := NewBadgerPersistence(t.TempDir(), nil)
	require.NoError(t, err)
	require.NoError(t, bp.HealthCheck())
	require.NoError(t, bp.Close())
}

func TestBadgerPersistence_Persistence_AcrossRestarts(t *testing.T) {
	tmpDir := t.TempDir()
	testLogger, _ := logger.NewLogger(&logger.LoggerConfig{Debug: false})

	// First instance - build a tree and record its root
	bp1, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)

	tree := smt.NewSparseMerkleTree(bp1, hashers.NewBlake3Hasher, testLogger)
	leaves := testutil.CreateTestLeaves(8)
	root, err := tree.UpdateAll(leaves)
	require.NoError(t, err)

	state := &persistence.TreeState{Root: root, Hasher: hashers.Blake3, Updates: uint64(len(leaves))}
	require.NoError(t, bp1.SaveTreeState(state))
	require.NoError(t, bp1.Close())

	// Second instance - reopen the tree from the persisted root
	bp2, err := NewBadgerPersistence(tmpDir, testLogger)
	require.NoError(t, err)
	defer func() { _ = bp2.Close() }()

	loadedState, err := bp2.LoadTreeState()
	require.NoError(t, err)
	require.NotNil(t, loadedState)
	assert.Equal(t, state, loadedState)

	reopened := smt.NewSparseMerkleTreeWithRoot(loadedState.Root, bp2, hashers.NewBlake3Hasher, testLogger)
	assert.True(t, reopened.Validate())
	for _, l := range leaves {
		v, err := reopened.Get(l.Key)
		require.NoError(t, err)
		assert.Equal(t, l.Value, v)
	}

	proof, err := reopened.MerkleProof(testutil.LeafKeys(leaves))
	require.NoError(t, err)
	ok, err := proof.Verify(hashers.NewBlake3Hasher, root, leaves)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBadgerPersistence_SchemaVersionMismatch(t *testing.T) {
	tmpDir := t.TempDir()

	// Plant a foreign schema version
	db, err := badgerdb.Open(badgerdb.DefaultOptions(tmpDir).WithLogger(nil))
	require.NoError(t, err)
	err = db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keySchemaVersion), []byte("v0"))
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = NewBadgerPersistence(tmpDir, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported schema version")
}

func TestBadgerPersistence_CorruptRecord(t *testing.T) {
	bp, err := NewBadgerPersistence(t.TempDir(), nil)
	require.NoError(t, err)
	defer func() { _ = bp.Close() }()

	node := smt.Digest{7}
	err = bp.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(branchKey(node), []byte("not json"))
	})
	require.NoError(t, err)

	_, err = bp.GetBranch(node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal branch")
}
