package badger

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/persistence"
	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
)

// Key prefixes for namespacing
const (
	keyPrefixBranch      = "branch:"
	keyPrefixLeaf        = "leaf:"
	keyTreeState         = "tree:state"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"
)

// gcInterval is how often the value log is garbage collected.
const gcInterval = 5 * time.Minute

// BadgerPersistence is a disk-backed persistence implementation using Badger.
// Every update's records are written in a single transaction.
type BadgerPersistence struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

// NewBadgerPersistence creates a new Badger-backed persistence layer.
// The database is opened at the specified path with SyncWrites enabled for durability.
// A background goroutine is started for garbage collection.
func NewBadgerPersistence(dataPath string, logger *zap.Logger) (*BadgerPersistence, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = newBadgerLoggerAdapter(logger)
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	// Records are content addressed and never rewritten in place
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bp := &BadgerPersistence{
		db:     db,
		logger: logger,
	}

	if err := bp.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bp.gcCancel = cancel
	bp.gcWg.Add(1)
	go bp.runGC(ctx)

	logger.Sugar().Infow("Badger persistence initialized", "path", absPath)

	return bp, nil
}

// initSchema initializes or validates the schema version
func (b *BadgerPersistence) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}

		return nil
	})
}

// runGC runs periodic value log garbage collection in the background.
// Updates delete the records of replaced paths, so the value log accumulates
// garbage at the rate the tree is written.
func (b *BadgerPersistence) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badgerdb.ErrNoRewrite) {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func branchKey(node smt.Digest) []byte {
	return append([]byte(keyPrefixBranch), node[:]...)
}

func leafKey(node smt.Digest) []byte {
	return append([]byte(keyPrefixLeaf), node[:]...)
}

// load reads the value stored at key; nil data means not found.
func (b *BadgerPersistence) load(key []byte) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil // Not found is not an error
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// GetBranch retrieves a branch record by digest
func (b *BadgerPersistence) GetBranch(node smt.Digest) (*smt.BranchNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := b.load(branchKey(node))
	if err != nil {
		return nil, fmt.Errorf("failed to load branch %s: %w", node, err)
	}
	if data == nil {
		return nil, nil
	}

	branch, err := persistence.UnmarshalBranchNode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal branch %s: %w", node, err)
	}
	return branch, nil
}

// GetLeaf retrieves a leaf record by digest
func (b *BadgerPersistence) GetLeaf(node smt.Digest) (*smt.LeafNode, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := b.load(leafKey(node))
	if err != nil {
		return nil, fmt.Errorf("failed to load leaf %s: %w", node, err)
	}
	if data == nil {
		return nil, nil
	}

	leaf, err := persistence.UnmarshalLeafNode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal leaf %s: %w", node, err)
	}
	return leaf, nil
}

// InsertBranch stores a branch record under its digest
func (b *BadgerPersistence) InsertBranch(node smt.Digest, branch *smt.BranchNode) error {
	if branch == nil {
		return fmt.Errorf("cannot insert nil BranchNode")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalBranchNode(branch)
	if err != nil {
		return fmt.Errorf("failed to marshal branch: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(branchKey(node), data)
	})
}

// InsertLeaf stores a leaf record under its digest
func (b *BadgerPersistence) InsertLeaf(node smt.Digest, leaf *smt.LeafNode) error {
	if leaf == nil {
		return fmt.Errorf("cannot insert nil LeafNode")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalLeafNode(leaf)
	if err != nil {
		return fmt.Errorf("failed to marshal leaf: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(leafKey(node), data)
	})
}

// RemoveBranch deletes a branch record (idempotent)
func (b *BadgerPersistence) RemoveBranch(node smt.Digest) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(branchKey(node))
	})
}

// RemoveLeaf deletes a leaf record (idempotent)
func (b *BadgerPersistence) RemoveLeaf(node smt.Digest) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(leafKey(node))
	})
}

// WriteBatch applies all record changes of one update in a single transaction
func (b *BadgerPersistence) WriteBatch(batch *smt.Batch) error {
	if batch == nil {
		return fmt.Errorf("cannot write nil Batch")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	// Serialize outside the transaction
	branches := make([][]byte, len(batch.InsertedBranches))
	for i := range batch.InsertedBranches {
		data, err := persistence.MarshalBranchNode(&batch.InsertedBranches[i].Branch)
		if err != nil {
			return fmt.Errorf("failed to marshal branch: %w", err)
		}
		branches[i] = data
	}
	leaves := make([][]byte, len(batch.InsertedLeaves))
	for i := range batch.InsertedLeaves {
		data, err := persistence.MarshalLeafNode(&batch.InsertedLeaves[i].Leaf)
		if err != nil {
			return fmt.Errorf("failed to marshal leaf: %w", err)
		}
		leaves[i] = data
	}

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		for i, e := range batch.InsertedLeaves {
			if err := txn.Set(leafKey(e.Node), leaves[i]); err != nil {
				return err
			}
		}
		for i, e := range batch.InsertedBranches {
			if err := txn.Set(branchKey(e.Node), branches[i]); err != nil {
				return err
			}
		}
		for _, node := range batch.RemovedLeaves {
			if err := txn.Delete(leafKey(node)); err != nil {
				return err
			}
		}
		for _, node := range batch.RemovedBranches {
			if err := txn.Delete(branchKey(node)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write batch: %w", err)
	}

	b.logger.Sugar().Debugw("Wrote tree batch",
		"inserted_branches", len(batch.InsertedBranches),
		"inserted_leaves", len(batch.InsertedLeaves),
		"removed_branches", len(batch.RemovedBranches),
		"removed_leaves", len(batch.RemovedLeaves),
	)
	return nil
}

// SaveTreeState persists tree state
func (b *BadgerPersistence) SaveTreeState(state *persistence.TreeState) error {
	if state == nil {
		return fmt.Errorf("cannot save nil TreeState")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	data, err := persistence.MarshalTreeState(state)
	if err != nil {
		return fmt.Errorf("failed to marshal TreeState: %w", err)
	}

	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(keyTreeState), data)
	})
}

// LoadTreeState retrieves tree state
func (b *BadgerPersistence) LoadTreeState() (*persistence.TreeState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("persistence layer is closed")
	}

	data, err := b.load([]byte(keyTreeState))
	if err != nil {
		return nil, fmt.Errorf("failed to load TreeState: %w", err)
	}
	if data == nil {
		return nil, nil // First run
	}

	state, err := persistence.UnmarshalTreeState(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal TreeState: %w", err)
	}
	return state, nil
}

// Close closes the database and stops GC
func (b *BadgerPersistence) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil // Already closed, idempotent
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger persistence closed")
	return nil
}

// HealthCheck verifies the persistence layer is operational
func (b *BadgerPersistence) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("persistence layer is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
