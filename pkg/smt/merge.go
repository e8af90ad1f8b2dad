package smt

import "encoding/binary"

// Domain tags keep leaf and branch preimages distinguishable.
const (
	leafDomain   byte = 0x00
	branchDomain byte = 0x01
)

// MergeLeaf returns the digest of the leaf holding value at key.
// A zero value is an absent leaf and merges to the zero Digest.
func MergeLeaf(newHasher HasherFactory, key, value Digest) Digest {
	if value.IsZero() {
		return Digest{}
	}
	h := newHasher()
	h.WriteBytes([]byte{leafDomain})
	h.WriteBytes(key[:])
	h.WriteBytes(value[:])
	return h.Finish()
}

// Merge returns the digest of the branch at height whose node key is nodeKey.
// left is the child whose path bit at height is 0. Two empty children merge
// to the zero Digest so empty subtrees collapse.
func Merge(newHasher HasherFactory, height uint16, nodeKey, left, right Digest) Digest {
	if left.IsZero() && right.IsZero() {
		return Digest{}
	}
	var header [3]byte
	header[0] = branchDomain
	binary.BigEndian.PutUint16(header[1:], height)

	h := newHasher()
	h.WriteBytes(header[:])
	h.WriteBytes(nodeKey[:])
	h.WriteBytes(left[:])
	h.WriteBytes(right[:])
	return h.Finish()
}

// MergeZeros returns the digest of an empty subtree.
func MergeZeros() Digest {
	return Digest{}
}

// mergeChild folds node with its sibling at height along the path of key.
func mergeChild(newHasher HasherFactory, height uint16, key, node, sibling Digest) Digest {
	if key.Bit(height) == 0 {
		return Merge(newHasher, height, key.ParentPath(height), node, sibling)
	}
	return Merge(newHasher, height, key.ParentPath(height), sibling, node)
}
