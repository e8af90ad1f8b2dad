package smt

// BranchNode is the stored record of an inner node. It is addressed by
// Merge(Height, prefix, Left, Right) and at least one child is non-zero.
type BranchNode struct {
	Height uint16 `json:"height"`
	Left   Digest `json:"left"`
	Right  Digest `json:"right"`
}

// LeafNode is the stored record of a present key. Value is never zero.
type LeafNode struct {
	Key   Digest `json:"key"`
	Value Digest `json:"value"`
}

// Store is the content-addressed node storage used by the tree.
//
// Lookups return nil with a nil error when no record exists; errors signal
// storage failures only. Removals are idempotent. The tree never asks the
// store about the zero Digest.
type Store interface {
	GetBranch(node Digest) (*BranchNode, error)
	GetLeaf(node Digest) (*LeafNode, error)
	InsertBranch(node Digest, branch *BranchNode) error
	InsertLeaf(node Digest, leaf *LeafNode) error
	RemoveBranch(node Digest) error
	RemoveLeaf(node Digest) error
}

// BatchStore is a Store that can apply all record changes of one update atomically.
type BatchStore interface {
	Store
	WriteBatch(batch *Batch) error
}

// BranchEntry pairs a branch record with its address.
type BranchEntry struct {
	Node   Digest
	Branch BranchNode
}

// LeafEntry pairs a leaf record with its address.
type LeafEntry struct {
	Node Digest
	Leaf LeafNode
}

// Batch collects the record changes of an update. A digest never appears
// both in an insert list and in the matching remove list.
type Batch struct {
	InsertedBranches []BranchEntry
	InsertedLeaves   []LeafEntry
	RemovedBranches  []Digest
	RemovedLeaves    []Digest
}

func applyInserts(store Store, batch *Batch) error {
	for i := range batch.InsertedLeaves {
		e := &batch.InsertedLeaves[i]
		if err := store.InsertLeaf(e.Node, &e.Leaf); err != nil {
			return err
		}
	}
	for i := range batch.InsertedBranches {
		e := &batch.InsertedBranches[i]
		if err := store.InsertBranch(e.Node, &e.Branch); err != nil {
			return err
		}
	}
	return nil
}

func applyRemovals(store Store, batch *Batch) error {
	for _, node := range batch.RemovedLeaves {
		if err := store.RemoveLeaf(node); err != nil {
			return err
		}
	}
	for _, node := range batch.RemovedBranches {
		if err := store.RemoveBranch(node); err != nil {
			return err
		}
	}
	return nil
}
