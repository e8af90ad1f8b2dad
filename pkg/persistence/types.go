package persistence

import "github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"

// TreeState represents tree metadata that must persist across restarts.
// The node records alone cannot tell which root is current.
type TreeState struct {
	// Root is the root digest committed by the last successful update.
	// The zero digest denotes an empty tree.
	Root smt.Digest `json:"root"`

	// Hasher is the name of the hash plug-in the tree was built with.
	// Reopening the tree with a different hasher would invalidate every record.
	Hasher string `json:"hasher"`

	// Updates counts the updates applied since the tree was created.
	Updates uint64 `json:"updates"`

	// UpdatedAt is the Unix timestamp of the last successful update.
	UpdatedAt int64 `json:"updatedAt"`
}
