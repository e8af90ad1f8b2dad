package smt

import (
	"fmt"
	"sort"
)

// Leaf is a key with the value asserted for it. A zero Value asserts that
// the key is absent.
type Leaf struct {
	Key   Digest `json:"key"`
	Value Digest `json:"value"`
}

// MerkleProof is an uncompiled batch proof for a set of keys.
//
// Keys are held sorted. For key i, bit h of leavesBitmap[i] is set when the
// key needs a non-zero sibling at height h that no other proven key supplies;
// merklePath lists those siblings in the order Compile consumes them.
type MerkleProof struct {
	keys         []Digest
	leavesBitmap []Digest
	merklePath   []Digest
}

// NewMerkleProof assembles a proof from its parts, as produced by Keys,
// LeavesBitmap and MerklePath.
func NewMerkleProof(keys, leavesBitmap, merklePath []Digest) (*MerkleProof, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyKeys
	}
	if len(keys) != len(leavesBitmap) {
		return nil, fmt.Errorf("%w: %d keys but %d bitmaps", ErrCorruptProof, len(keys), len(leavesBitmap))
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1].Compare(keys[i]) >= 0 {
			return nil, fmt.Errorf("%w: keys are not sorted and unique", ErrCorruptProof)
		}
	}
	return &MerkleProof{
		keys:         append([]Digest(nil), keys...),
		leavesBitmap: append([]Digest(nil), leavesBitmap...),
		merklePath:   append([]Digest(nil), merklePath...),
	}, nil
}

// Keys returns the sorted keys the proof covers.
func (p *MerkleProof) Keys() []Digest {
	return append([]Digest(nil), p.keys...)
}

// LeavesBitmap returns the per-key sibling bitmaps.
func (p *MerkleProof) LeavesBitmap() []Digest {
	return append([]Digest(nil), p.leavesBitmap...)
}

// MerklePath returns the non-zero siblings carried by the proof.
func (p *MerkleProof) MerklePath() []Digest {
	return append([]Digest(nil), p.merklePath...)
}

// walkProof drives the canonical bottom-up merge order of a batch proof.
//
// Keys must be sorted and unique. Each key is pushed as a leaf and raised to
// the height where it forks from the next key (the root for the last key).
// While raising through height h, if the pending entry on top of the stack
// sits at h the two entries are siblings and merge; otherwise the key needs
// its tree sibling at h.
func walkProof(
	keys []Digest,
	onLeaf func(i int) error,
	onMerge func(height uint16) error,
	onSibling func(i int, height uint16) error,
) error {
	pending := make([]uint16, 0, len(keys))
	for i := range keys {
		if err := onLeaf(i); err != nil {
			return err
		}
		target := uint16(TreeHeight)
		if i+1 < len(keys) {
			target = keys[i].ForkHeight(keys[i+1])
		}
		for h := uint16(0); h < target; h++ {
			if n := len(pending); n > 0 && pending[n-1] == h {
				pending = pending[:n-1]
				if err := onMerge(h); err != nil {
					return err
				}
				continue
			}
			if err := onSibling(i, h); err != nil {
				return err
			}
		}
		if i+1 < len(keys) {
			pending = append(pending, target)
		}
	}
	return nil
}

// dedupSortedKeys sorts keys and drops repeats.
func dedupSortedKeys(keys []Digest) []Digest {
	sorted := append([]Digest(nil), keys...)
	SortDigests(sorted)
	out := sorted[:0]
	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		out = append(out, k)
	}
	return out
}

// MerkleProof builds a proof covering keys. Duplicate keys are ignored and
// the result does not depend on their order.
func (t *SparseMerkleTree) MerkleProof(keys []Digest) (*MerkleProof, error) {
	if len(keys) == 0 {
		return nil, ErrEmptyKeys
	}
	sorted := dedupSortedKeys(keys)

	proof := &MerkleProof{
		keys:         sorted,
		leavesBitmap: make([]Digest, len(sorted)),
		merklePath:   make([]Digest, 0),
	}
	ps := &pathSiblings{branches: make([]Digest, 0, TreeHeight)}

	err := walkProof(sorted,
		func(i int) error {
			*ps = pathSiblings{branches: ps.branches[:0]}
			if err := t.descend(sorted[i], ps); err != nil {
				return fmt.Errorf("failed to collect siblings for key %s: %w", sorted[i], err)
			}
			return nil
		},
		func(uint16) error { return nil },
		func(i int, height uint16) error {
			sibling := ps.siblings[height]
			if !sibling.IsZero() {
				proof.leavesBitmap[i].SetBit(height)
				proof.merklePath = append(proof.merklePath, sibling)
			}
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	return proof, nil
}

// sortLeaves returns leaves sorted by key and rejects repeated keys.
func sortLeaves(leaves []Leaf) ([]Leaf, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyKeys
	}
	sorted := append([]Leaf(nil), leaves...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Key.Compare(sorted[j].Key) < 0
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Key == sorted[i-1].Key {
			return nil, fmt.Errorf("%w: duplicate leaf key %s", ErrKeyLeafMismatch, sorted[i].Key)
		}
	}
	return sorted, nil
}

// Compile serializes the proof for leaves into its canonical byte form.
// leaves must cover exactly the proof's keys, in any order.
func (p *MerkleProof) Compile(leaves []Leaf) (CompiledMerkleProof, error) {
	sorted, err := sortLeaves(leaves)
	if err != nil {
		return nil, err
	}
	if len(sorted) != len(p.keys) {
		return nil, fmt.Errorf("%w: proof covers %d keys, got %d leaves", ErrKeyLeafMismatch, len(p.keys), len(sorted))
	}
	for i, leaf := range sorted {
		if leaf.Key != p.keys[i] {
			return nil, fmt.Errorf("%w: leaf key %s is not covered by the proof", ErrKeyLeafMismatch, leaf.Key)
		}
	}

	w := &programWriter{}
	next := 0
	err = walkProof(p.keys,
		func(int) error {
			w.leaf()
			return nil
		},
		func(uint16) error {
			w.mergeStack()
			return nil
		},
		func(i int, height uint16) error {
			if p.leavesBitmap[i].Bit(height) == 0 {
				w.zero()
				return nil
			}
			if next >= len(p.merklePath) {
				return fmt.Errorf("%w: merkle path exhausted at key %s height %d", ErrCorruptProof, p.keys[i], height)
			}
			w.sibling(p.merklePath[next])
			next++
			return nil
		},
	)
	if err != nil {
		return nil, err
	}
	if next != len(p.merklePath) {
		return nil, fmt.Errorf("%w: %d unused merkle path entries", ErrCorruptProof, len(p.merklePath)-next)
	}
	return w.finish(), nil
}

// ComputeRoot recomputes the root the proof commits leaves to.
func (p *MerkleProof) ComputeRoot(newHasher HasherFactory, leaves []Leaf) (Digest, error) {
	compiled, err := p.Compile(leaves)
	if err != nil {
		return Digest{}, err
	}
	return compiled.ComputeRoot(newHasher, leaves)
}

// Verify reports whether the proof commits leaves to root.
func (p *MerkleProof) Verify(newHasher HasherFactory, root Digest, leaves []Leaf) (bool, error) {
	compiled, err := p.Compile(leaves)
	if err != nil {
		return false, err
	}
	return compiled.Verify(newHasher, root, leaves)
}
