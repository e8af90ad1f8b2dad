package treeManager

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/config"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/hashers"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence/badger"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence/cached"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence/memory"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence/redis"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
)

// TreeManager owns one persistent tree. Readers share the tree while a
// writer applies updates and records the new root in the tree state.
type TreeManager struct {
	mu sync.RWMutex

	store      persistence.ITreePersistence
	tree       *smt.SparseMerkleTree
	hasherName string
	newHasher  smt.HasherFactory
	state      persistence.TreeState
	logger     *zap.Logger
}

// NewTreeManager opens the storage backend described by cfg and resumes the
// tree recorded in it.
func NewTreeManager(cfg *config.TreeConfig, logger *zap.Logger) (*TreeManager, error) {
	if cfg == nil {
		return nil, errors.New("tree config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid tree config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := openPersistence(cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.CacheSize > 0 {
		cachedStore, err := cached.NewCachedPersistence(store, cfg.CacheSize, logger)
		if err != nil {
			_ = store.Close()
			return nil, errors.Wrapf(err, "failed to create node cache")
		}
		store = cachedStore
	}

	tm, err := NewTreeManagerWithPersistence(store, cfg.Hasher, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return tm, nil
}

func openPersistence(cfg *config.TreeConfig, logger *zap.Logger) (persistence.ITreePersistence, error) {
	switch cfg.PersistenceType {
	case config.PersistenceTypeMemory:
		return memory.NewMemoryPersistence(), nil
	case config.PersistenceTypeBadger:
		store, err := badger.NewBadgerPersistence(cfg.DataPath, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open badger persistence at %s", cfg.DataPath)
		}
		return store, nil
	case config.PersistenceTypeRedis:
		store, err := redis.NewRedisPersistence(&redis.RedisConfig{
			Address:   cfg.RedisAddress,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, logger)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open redis persistence at %s", cfg.RedisAddress)
		}
		return store, nil
	default:
		return nil, errors.Errorf("unsupported persistence type %q", cfg.PersistenceType)
	}
}

// NewTreeManagerWithPersistence resumes the tree recorded in store. A store
// without tree state starts an empty tree. The manager takes ownership of
// store and closes it on Close.
func NewTreeManagerWithPersistence(store persistence.ITreePersistence, hasherName string, logger *zap.Logger) (*TreeManager, error) {
	if store == nil {
		return nil, errors.New("persistence cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	newHasher, err := hashers.ByName(hasherName)
	if err != nil {
		return nil, err
	}
	hasherName = strings.ToLower(hasherName)

	saved, err := store.LoadTreeState()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load tree state")
	}

	state := persistence.TreeState{Hasher: hasherName}
	if saved != nil {
		if saved.Hasher != "" && !strings.EqualFold(saved.Hasher, hasherName) {
			return nil, errors.Errorf("tree was built with hasher %s, cannot open it with %s", saved.Hasher, hasherName)
		}
		state = *saved
		state.Hasher = hasherName
	}

	tree := smt.NewSparseMerkleTreeWithRoot(state.Root, store, newHasher, logger)

	logger.Sugar().Infow("Tree manager opened",
		"root", state.Root.Hex(),
		"hasher", hasherName,
		"updates", state.Updates,
		"resumed", saved != nil)

	return &TreeManager{
		store:      store,
		tree:       tree,
		hasherName: hasherName,
		newHasher:  newHasher,
		state:      state,
		logger:     logger,
	}, nil
}

// Root returns the current root digest
func (tm *TreeManager) Root() smt.Digest {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	return tm.tree.Root()
}

// State returns a copy of the current tree state
func (tm *TreeManager) State() persistence.TreeState {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	return tm.state
}

// HasherFactory returns the hash plug-in the tree is built with
func (tm *TreeManager) HasherFactory() smt.HasherFactory {
	return tm.newHasher
}

// Update sets one key and persists the new root
func (tm *TreeManager) Update(key, value smt.Digest) (smt.Digest, error) {
	return tm.UpdateAll([]smt.Leaf{{Key: key, Value: value}})
}

// UpdateAll applies leaves in order and persists the final root. Updates
// applied before a failure stay in the tree and are recorded as well.
func (tm *TreeManager) UpdateAll(leaves []smt.Leaf) (smt.Digest, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	applied := 0
	var updateErr error
	for _, leaf := range leaves {
		if _, err := tm.tree.Update(leaf.Key, leaf.Value); err != nil {
			updateErr = errors.Wrapf(err, "failed to update key %s", leaf.Key.Hex())
			break
		}
		applied++
	}

	root := tm.tree.Root()
	if applied > 0 {
		if err := tm.saveState(root, applied); err != nil {
			return root, err
		}
		tm.logger.Sugar().Debugw("Tree updated", "root", root.Hex(), "leaves", applied)
	}
	return root, updateErr
}

func (tm *TreeManager) saveState(root smt.Digest, updates int) error {
	next := tm.state
	next.Root = root
	next.Updates += uint64(updates)
	next.UpdatedAt = time.Now().Unix()

	if err := tm.store.SaveTreeState(&next); err != nil {
		tm.logger.Sugar().Errorw("Failed to save tree state", "root", root.Hex(), "error", err)
		return errors.Wrapf(err, "failed to save tree state for root %s", root.Hex())
	}
	tm.state = next
	return nil
}

// Get returns the value stored at key, or the zero digest
func (tm *TreeManager) Get(key smt.Digest) (smt.Digest, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	value, err := tm.tree.Get(key)
	if err != nil {
		return smt.Digest{}, errors.Wrapf(err, "failed to get key %s", key.Hex())
	}
	return value, nil
}

// Prove builds a compiled proof for keys against the current root. The
// returned leaves carry the current value of every distinct key, in key
// order; absent keys carry the zero value and prove non-inclusion.
func (tm *TreeManager) Prove(keys []smt.Digest) (smt.CompiledMerkleProof, []smt.Leaf, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	proof, err := tm.tree.MerkleProof(keys)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to build proof for %d keys", len(keys))
	}

	proven := proof.Keys()
	leaves := make([]smt.Leaf, len(proven))
	for i, key := range proven {
		value, err := tm.tree.Get(key)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to get key %s", key.Hex())
		}
		leaves[i] = smt.Leaf{Key: key, Value: value}
	}

	compiled, err := proof.Compile(leaves)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to compile proof")
	}
	return compiled, leaves, nil
}

// Verify checks a compiled proof against root with the manager's hasher
func (tm *TreeManager) Verify(root smt.Digest, proof smt.CompiledMerkleProof, leaves []smt.Leaf) (bool, error) {
	return proof.Verify(tm.newHasher, root, leaves)
}

// Validate recomputes every stored digest reachable from the root
func (tm *TreeManager) Validate() bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	return tm.tree.Validate()
}

// HealthCheck reports whether the storage backend is operational
func (tm *TreeManager) HealthCheck() error {
	return tm.store.HealthCheck()
}

// Close closes the storage backend
func (tm *TreeManager) Close() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if err := tm.store.Close(); err != nil {
		return errors.Wrapf(err, "failed to close persistence")
	}
	return nil
}
