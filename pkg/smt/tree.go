package smt

import (
	"fmt"

	"go.uber.org/zap"
)

// SparseMerkleTree maps Digest keys to Digest values over a content-addressed
// Store and commits to the whole mapping with a single root.
//
// A tree instance is not safe for concurrent Update calls. Get, MerkleProof
// and Validate only read the store and may run concurrently with each other
// when the store allows it.
type SparseMerkleTree struct {
	store     Store
	newHasher HasherFactory
	root      Digest
	logger    *zap.Logger
}

// NewSparseMerkleTree creates an empty tree over store.
func NewSparseMerkleTree(store Store, newHasher HasherFactory, logger *zap.Logger) *SparseMerkleTree {
	return NewSparseMerkleTreeWithRoot(Digest{}, store, newHasher, logger)
}

// NewSparseMerkleTreeWithRoot opens the tree committed to by root. The store
// must already hold every record reachable from root.
func NewSparseMerkleTreeWithRoot(root Digest, store Store, newHasher HasherFactory, logger *zap.Logger) *SparseMerkleTree {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SparseMerkleTree{
		store:     store,
		newHasher: newHasher,
		root:      root,
		logger:    logger,
	}
}

// Root returns the current root, the zero Digest for an empty tree.
func (t *SparseMerkleTree) Root() Digest {
	return t.root
}

// IsEmpty reports whether the tree holds no keys.
func (t *SparseMerkleTree) IsEmpty() bool {
	return t.root.IsZero()
}

// Store returns the backing store.
func (t *SparseMerkleTree) Store() Store {
	return t.store
}

// HasherFactory returns the hash capability the tree merges with.
func (t *SparseMerkleTree) HasherFactory() HasherFactory {
	return t.newHasher
}

// pathSiblings holds what a descent along one key collected.
type pathSiblings struct {
	// siblings[h] is the sibling of the path node at branch height h
	siblings [TreeHeight]Digest
	// branches are the digests of the stored branches on the path, root first
	branches []Digest
	// leaf is the digest found below the height 0 branch, zero if absent
	leaf Digest
}

// descend walks from the root along key and collects the siblings of every
// path node. Empty subtrees end the walk early; their siblings are zero.
func (t *SparseMerkleTree) descend(key Digest, ps *pathSiblings) error {
	node := t.root
	for h := TreeHeight - 1; h >= 0; h-- {
		height := uint16(h)
		if node.IsZero() {
			return nil
		}
		branch, err := t.store.GetBranch(node)
		if err != nil {
			return fmt.Errorf("failed to get branch %s at height %d: %w", node, height, err)
		}
		if branch == nil {
			return fmt.Errorf("%w: branch %s at height %d", ErrMissingStoreNode, node, height)
		}
		ps.branches = append(ps.branches, node)
		if key.Bit(height) == 0 {
			node, ps.siblings[height] = branch.Left, branch.Right
		} else {
			node, ps.siblings[height] = branch.Right, branch.Left
		}
	}
	ps.leaf = node
	return nil
}

// Update sets the value stored at key and returns the new root. A zero value
// deletes the key and prunes every ancestor left with two empty children.
// On error the previous root remains current and valid.
func (t *SparseMerkleTree) Update(key, value Digest) (Digest, error) {
	ps := &pathSiblings{branches: make([]Digest, 0, TreeHeight)}
	if err := t.descend(key, ps); err != nil {
		return t.root, err
	}

	batch := &Batch{}
	inserted := make(map[Digest]struct{}, TreeHeight+1)

	node := MergeLeaf(t.newHasher, key, value)
	if !node.IsZero() {
		batch.InsertedLeaves = append(batch.InsertedLeaves, LeafEntry{
			Node: node,
			Leaf: LeafNode{Key: key, Value: value},
		})
	}
	if !ps.leaf.IsZero() && ps.leaf != node {
		batch.RemovedLeaves = append(batch.RemovedLeaves, ps.leaf)
	}

	for h := 0; h < TreeHeight; h++ {
		height := uint16(h)
		sibling := ps.siblings[height]
		left, right := node, sibling
		if key.Bit(height) == 1 {
			left, right = sibling, node
		}
		parent := Merge(t.newHasher, height, key.ParentPath(height), left, right)
		if !parent.IsZero() {
			batch.InsertedBranches = append(batch.InsertedBranches, BranchEntry{
				Node:   parent,
				Branch: BranchNode{Height: height, Left: left, Right: right},
			})
			inserted[parent] = struct{}{}
		}
		node = parent
	}

	for _, old := range ps.branches {
		if _, ok := inserted[old]; !ok {
			batch.RemovedBranches = append(batch.RemovedBranches, old)
		}
	}

	if err := t.commit(batch); err != nil {
		return t.root, err
	}
	t.root = node
	return t.root, nil
}

// commit writes batch to the store. Without atomic batches, inserts must all
// succeed before the root moves; removing stale records afterwards only frees
// space, so failures there are logged and do not fail the update.
func (t *SparseMerkleTree) commit(batch *Batch) error {
	if bs, ok := t.store.(BatchStore); ok {
		if err := bs.WriteBatch(batch); err != nil {
			return fmt.Errorf("failed to write batch: %w", err)
		}
		return nil
	}
	if err := applyInserts(t.store, batch); err != nil {
		return fmt.Errorf("failed to insert nodes: %w", err)
	}
	if err := applyRemovals(t.store, batch); err != nil {
		t.logger.Sugar().Warnw("Failed to remove stale tree nodes",
			"removed_branches", len(batch.RemovedBranches),
			"removed_leaves", len(batch.RemovedLeaves),
			"error", err)
	}
	return nil
}

// UpdateAll applies every leaf in order and returns the final root. It stops
// at the first failing update; earlier updates stay applied.
func (t *SparseMerkleTree) UpdateAll(leaves []Leaf) (Digest, error) {
	for _, leaf := range leaves {
		if _, err := t.Update(leaf.Key, leaf.Value); err != nil {
			return t.root, fmt.Errorf("failed to update key %s: %w", leaf.Key, err)
		}
	}
	return t.root, nil
}

// Get returns the value stored at key, or the zero Digest when key is absent.
func (t *SparseMerkleTree) Get(key Digest) (Digest, error) {
	node := t.root
	for h := TreeHeight - 1; h >= 0; h-- {
		height := uint16(h)
		if node.IsZero() {
			return Digest{}, nil
		}
		branch, err := t.store.GetBranch(node)
		if err != nil {
			return Digest{}, fmt.Errorf("failed to get branch %s at height %d: %w", node, height, err)
		}
		if branch == nil {
			return Digest{}, fmt.Errorf("%w: branch %s at height %d", ErrMissingStoreNode, node, height)
		}
		if key.Bit(height) == 0 {
			node = branch.Left
		} else {
			node = branch.Right
		}
	}
	if node.IsZero() {
		return Digest{}, nil
	}
	leaf, err := t.store.GetLeaf(node)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to get leaf %s: %w", node, err)
	}
	if leaf == nil || leaf.Key != key {
		return Digest{}, fmt.Errorf("%w: leaf %s for key %s", ErrMissingStoreNode, node, key)
	}
	return leaf.Value, nil
}
