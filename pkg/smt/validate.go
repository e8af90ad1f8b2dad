package smt

import "fmt"

// validateFrame is one pending node of the validation walk.
type validateFrame struct {
	node Digest
	// height of the branch at node; -1 marks a leaf
	height int
	// path is the node key shared by every key below node
	path Digest
}

// Validate recomputes every stored node reachable from the root and reports
// whether each record hashes to the digest it is stored under. It is an
// integrity self check and touches every record of the tree.
func (t *SparseMerkleTree) Validate() bool {
	if err := t.validate(); err != nil {
		t.logger.Sugar().Warnw("Sparse merkle tree validation failed", "root", t.root, "error", err)
		return false
	}
	return true
}

func (t *SparseMerkleTree) validate() error {
	if t.root.IsZero() {
		return nil
	}
	stack := []validateFrame{{node: t.root, height: TreeHeight - 1}}
	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if frame.height < 0 {
			if err := t.validateLeaf(frame); err != nil {
				return err
			}
			continue
		}

		height := uint16(frame.height)
		branch, err := t.store.GetBranch(frame.node)
		if err != nil {
			return fmt.Errorf("failed to get branch %s at height %d: %w", frame.node, height, err)
		}
		if branch == nil {
			return fmt.Errorf("%w: branch %s at height %d", ErrMissingStoreNode, frame.node, height)
		}
		if branch.Height != height {
			return fmt.Errorf("branch %s stored with height %d, found at height %d", frame.node, branch.Height, height)
		}
		if got := Merge(t.newHasher, height, frame.path, branch.Left, branch.Right); got != frame.node {
			return fmt.Errorf("branch %s at height %d recomputes to %s", frame.node, height, got)
		}

		rightPath := frame.path
		rightPath.SetBit(height)
		if !branch.Right.IsZero() {
			stack = append(stack, validateFrame{node: branch.Right, height: frame.height - 1, path: rightPath})
		}
		if !branch.Left.IsZero() {
			stack = append(stack, validateFrame{node: branch.Left, height: frame.height - 1, path: frame.path})
		}
	}
	return nil
}

func (t *SparseMerkleTree) validateLeaf(frame validateFrame) error {
	leaf, err := t.store.GetLeaf(frame.node)
	if err != nil {
		return fmt.Errorf("failed to get leaf %s: %w", frame.node, err)
	}
	if leaf == nil {
		return fmt.Errorf("%w: leaf %s", ErrMissingStoreNode, frame.node)
	}
	if leaf.Key != frame.path {
		return fmt.Errorf("leaf %s holds key %s but sits at path %s", frame.node, leaf.Key, frame.path)
	}
	if got := MergeLeaf(t.newHasher, leaf.Key, leaf.Value); got != frame.node {
		return fmt.Errorf("leaf %s recomputes to %s", frame.node, got)
	}
	return nil
}
