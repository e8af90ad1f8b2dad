package smt

import (
	"bytes"
	"fmt"
	"math/bits"
	"sort"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	// DigestSize is the width in bytes of keys, values and node hashes.
	DigestSize = 32

	// TreeHeight is the number of branch levels between the root and the leaves.
	// Branch heights run from 0 (parents of leaves) to TreeHeight-1 (the root).
	TreeHeight = DigestSize * 8
)

// Digest is a fixed-width value used interchangeably as a tree key, a tree value,
// a node hash and a root. The zero Digest denotes an empty subtree.
type Digest [DigestSize]byte

// BytesToDigest converts a caller supplied byte slice into a Digest.
// The slice must be exactly DigestSize bytes long.
func BytesToDigest(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestSize {
		return d, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidKeyOrValueLength, DigestSize, len(b))
	}
	copy(d[:], b)
	return d, nil
}

// HexToDigest decodes a 0x-prefixed hex string into a Digest.
func HexToDigest(s string) (Digest, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Digest{}, fmt.Errorf("failed to decode digest hex: %w", err)
	}
	return BytesToDigest(b)
}

// IsZero reports whether d is the empty-subtree sentinel.
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Bytes returns a copy of the digest as a byte slice.
func (d Digest) Bytes() []byte {
	out := make([]byte, DigestSize)
	copy(out, d[:])
	return out
}

// Hex returns the 0x-prefixed hex encoding of the digest.
func (d Digest) Hex() string {
	return hexutil.Encode(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// MarshalText implements encoding.TextMarshaler.
func (d Digest) MarshalText() ([]byte, error) {
	return hexutil.Bytes(d[:]).MarshalText()
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Digest) UnmarshalText(input []byte) error {
	var b hexutil.Bytes
	if err := b.UnmarshalText(input); err != nil {
		return err
	}
	parsed, err := BytesToDigest(b)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Compare orders digests lexicographically, which is also the in-order
// position of keys in the tree.
func (d Digest) Compare(other Digest) int {
	return bytes.Compare(d[:], other[:])
}

// Bit returns the path bit of the key at the given branch height: 0 selects
// the left child and 1 the right child. Height TreeHeight-1 reads the most
// significant bit of the first byte.
func (d Digest) Bit(height uint16) uint8 {
	return (d[DigestSize-1-int(height/8)] >> (height % 8)) & 1
}

// SetBit sets the bit at the given height.
func (d *Digest) SetBit(height uint16) {
	d[DigestSize-1-int(height/8)] |= 1 << (height % 8)
}

// ClearBit clears the bit at the given height.
func (d *Digest) ClearBit(height uint16) {
	d[DigestSize-1-int(height/8)] &^= 1 << (height % 8)
}

// ParentPath returns the node key of the branch at the given height on the path
// of d: every bit at heights 0 through height is cleared.
func (d Digest) ParentPath(height uint16) Digest {
	out := d
	full := int(height / 8)
	for i := 0; i < full; i++ {
		out[DigestSize-1-i] = 0
	}
	// clear bits 0..height%8 of the partially covered byte
	out[DigestSize-1-full] &^= byte((uint16(1) << (height%8 + 1)) - 1)
	return out
}

// ForkHeight returns the height of the lowest branch whose subtree holds both
// d and other. The digests must differ.
func (d Digest) ForkHeight(other Digest) uint16 {
	for i := 0; i < DigestSize; i++ {
		if x := d[i] ^ other[i]; x != 0 {
			return uint16(DigestSize-1-i)*8 + uint16(bits.Len8(x)-1)
		}
	}
	panic("ForkHeight called with identical digests")
}

// SortDigests sorts digests in ascending order in place.
func SortDigests(digests []Digest) {
	sort.Slice(digests, func(i, j int) bool {
		return digests[i].Compare(digests[j]) < 0
	})
}
