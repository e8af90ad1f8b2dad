package hashers

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/blake2b"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
)

// Personalization is absorbed by every hasher before any caller input.
const Personalization = "sparsemerkletree"

const (
	Sha256    = "sha256"
	Blake3    = "blake3"
	Blake2b   = "blake2b"
	Keccak256 = "keccak256"
)

// Names lists the supported hasher names.
var Names = []string{Sha256, Blake3, Blake2b, Keccak256}

// digestHasher adapts a hash.Hash with a 32-byte output to smt.Hasher.
type digestHasher struct {
	h hash.Hash
}

func newDigestHasher(h hash.Hash) *digestHasher {
	h.Write([]byte(Personalization))
	return &digestHasher{h: h}
}

func (d *digestHasher) WriteBytes(b []byte) {
	d.h.Write(b)
}

func (d *digestHasher) Finish() smt.Digest {
	var out smt.Digest
	copy(out[:], d.h.Sum(nil))
	return out
}

// NewSha256Hasher returns a personalized SHA-256 hasher.
func NewSha256Hasher() smt.Hasher {
	return newDigestHasher(sha256.New())
}

// NewBlake3Hasher returns a personalized BLAKE3 hasher with a 32-byte output.
func NewBlake3Hasher() smt.Hasher {
	return newDigestHasher(blake3.New())
}

// NewBlake2bHasher returns a personalized BLAKE2b-256 hasher.
func NewBlake2bHasher() smt.Hasher {
	h, err := blake2b.New256(nil)
	if err != nil {
		// only fails for keys longer than 64 bytes
		panic(fmt.Sprintf("failed to create blake2b hasher: %v", err))
	}
	return newDigestHasher(h)
}

// NewKeccak256Hasher returns a personalized legacy Keccak-256 hasher, the
// variant used by Ethereum.
func NewKeccak256Hasher() smt.Hasher {
	return newDigestHasher(crypto.NewKeccakState())
}

// ByName returns the hasher factory registered under name.
func ByName(name string) (smt.HasherFactory, error) {
	switch strings.ToLower(name) {
	case Sha256:
		return NewSha256Hasher, nil
	case Blake3:
		return NewBlake3Hasher, nil
	case Blake2b:
		return NewBlake2bHasher, nil
	case Keccak256:
		return NewKeccak256Hasher, nil
	default:
		return nil, fmt.Errorf("unsupported hasher %q", name)
	}
}
