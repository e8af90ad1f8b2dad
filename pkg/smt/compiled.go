package smt

import (
	"encoding/binary"
	"fmt"
)

// Proof program opcodes.
const (
	// OpLeaf pushes the next leaf, in key order, at height 0.
	OpLeaf byte = 0x4C
	// OpProof merges the top entry with the DigestSize byte sibling that follows.
	OpProof byte = 0x50
	// OpMerge merges the two top entries, which must be siblings.
	OpMerge byte = 0x48
	// OpZeros merges the top entry with an empty sibling n times, where n is
	// the big-endian uint16 that follows.
	OpZeros byte = 0x4F
)

// CompiledMerkleProof is the canonical byte form of a batch proof: a program
// over a stack of (height, key, node) entries that rebuilds the root from
// the proven leaves.
type CompiledMerkleProof []byte

// programWriter emits a proof program, coalescing consecutive empty siblings
// into a single OpZeros.
type programWriter struct {
	buf   []byte
	zeros uint16
}

func (w *programWriter) flushZeros() {
	if w.zeros == 0 {
		return
	}
	w.buf = append(w.buf, OpZeros)
	w.buf = binary.BigEndian.AppendUint16(w.buf, w.zeros)
	w.zeros = 0
}

func (w *programWriter) leaf() {
	w.flushZeros()
	w.buf = append(w.buf, OpLeaf)
}

func (w *programWriter) sibling(d Digest) {
	w.flushZeros()
	w.buf = append(w.buf, OpProof)
	w.buf = append(w.buf, d[:]...)
}

func (w *programWriter) mergeStack() {
	w.flushZeros()
	w.buf = append(w.buf, OpMerge)
}

func (w *programWriter) zero() {
	w.zeros++
}

func (w *programWriter) finish() CompiledMerkleProof {
	w.flushZeros()
	return CompiledMerkleProof(w.buf)
}

// stackEntry is a partially rebuilt subtree: node is the digest of the
// subtree rooted at height that contains key.
type stackEntry struct {
	height uint16
	key    Digest
	node   Digest
}

// ComputeRoot runs the program over leaves and returns the root it rebuilds.
// leaves may be given in any order; keys must be unique.
func (p CompiledMerkleProof) ComputeRoot(newHasher HasherFactory, leaves []Leaf) (Digest, error) {
	sorted, err := sortLeaves(leaves)
	if err != nil {
		return Digest{}, err
	}

	stack := make([]stackEntry, 0, len(sorted))
	next := 0
	pc := 0
	for pc < len(p) {
		op := p[pc]
		pc++
		switch op {
		case OpLeaf:
			if next >= len(sorted) {
				return Digest{}, fmt.Errorf("%w: program reads more than %d leaves", ErrKeyLeafMismatch, len(sorted))
			}
			leaf := sorted[next]
			next++
			stack = append(stack, stackEntry{
				key:  leaf.Key,
				node: MergeLeaf(newHasher, leaf.Key, leaf.Value),
			})

		case OpProof:
			if len(p)-pc < DigestSize {
				return Digest{}, fmt.Errorf("%w: truncated sibling at offset %d", ErrCorruptProof, pc-1)
			}
			var sibling Digest
			copy(sibling[:], p[pc:pc+DigestSize])
			pc += DigestSize
			top, err := stackTop(stack, pc)
			if err != nil {
				return Digest{}, err
			}
			top.node = mergeChild(newHasher, top.height, top.key, top.node, sibling)
			top.height++

		case OpMerge:
			if len(stack) < 2 {
				return Digest{}, fmt.Errorf("%w: merge needs two entries at offset %d", ErrCorruptProof, pc-1)
			}
			a := stack[len(stack)-2]
			b := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if a.height != b.height || a.height >= TreeHeight {
				return Digest{}, fmt.Errorf("%w: merge of entries at heights %d and %d", ErrCorruptProof, a.height, b.height)
			}
			h := a.height
			if a.key.ParentPath(h) != b.key.ParentPath(h) || a.key.Bit(h) == b.key.Bit(h) {
				return Digest{}, fmt.Errorf("%w: merged entries at height %d are not siblings", ErrCorruptProof, h)
			}
			left, right := a.node, b.node
			if a.key.Bit(h) == 1 {
				left, right = right, left
			}
			stack[len(stack)-1] = stackEntry{
				height: h + 1,
				key:    a.key,
				node:   Merge(newHasher, h, a.key.ParentPath(h), left, right),
			}

		case OpZeros:
			if len(p)-pc < 2 {
				return Digest{}, fmt.Errorf("%w: truncated zero count at offset %d", ErrCorruptProof, pc-1)
			}
			n := binary.BigEndian.Uint16(p[pc:])
			pc += 2
			top, err := stackTop(stack, pc)
			if err != nil {
				return Digest{}, err
			}
			if n == 0 || int(n) > TreeHeight-int(top.height) {
				return Digest{}, fmt.Errorf("%w: zero count %d at height %d", ErrCorruptProof, n, top.height)
			}
			for i := uint16(0); i < n; i++ {
				top.node = mergeChild(newHasher, top.height, top.key, top.node, Digest{})
				top.height++
			}

		default:
			return Digest{}, fmt.Errorf("%w: unknown opcode 0x%02x at offset %d", ErrCorruptProof, op, pc-1)
		}
	}

	if len(stack) != 1 || stack[0].height != TreeHeight {
		return Digest{}, fmt.Errorf("%w: program ends with %d entries", ErrCorruptProof, len(stack))
	}
	if next != len(sorted) {
		return Digest{}, fmt.Errorf("%w: program read %d of %d leaves", ErrKeyLeafMismatch, next, len(sorted))
	}
	return stack[0].node, nil
}

// stackTop returns the top entry for an in-place merge with a sibling.
func stackTop(stack []stackEntry, pc int) (*stackEntry, error) {
	if len(stack) == 0 {
		return nil, fmt.Errorf("%w: empty stack at offset %d", ErrCorruptProof, pc)
	}
	top := &stack[len(stack)-1]
	if top.height >= TreeHeight {
		return nil, fmt.Errorf("%w: entry already at the root at offset %d", ErrCorruptProof, pc)
	}
	return top, nil
}

// Verify reports whether the program rebuilds root from leaves. A
// well-formed proof for a different root yields false with a nil error.
func (p CompiledMerkleProof) Verify(newHasher HasherFactory, root Digest, leaves []Leaf) (bool, error) {
	got, err := p.ComputeRoot(newHasher, leaves)
	if err != nil {
		return false, err
	}
	return got == root, nil
}
