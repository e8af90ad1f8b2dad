package testutil

import (
	"encoding/binary"
	"fmt"
	"math/rand"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
)

// HashKey derives a tree key from a human readable name.
func HashKey(name string) smt.Digest {
	return smt.Digest(crypto.Keccak256Hash([]byte(name)))
}

// Uint64Value encodes v big-endian in the last eight bytes of a digest.
func Uint64Value(v uint64) smt.Digest {
	var d smt.Digest
	binary.BigEndian.PutUint64(d[smt.DigestSize-8:], v)
	return d
}

// CreateTestLeaves creates n deterministic leaves with distinct keys and non-zero values.
func CreateTestLeaves(n int) []smt.Leaf {
	leaves := make([]smt.Leaf, n)
	for i := 0; i < n; i++ {
		leaves[i] = smt.Leaf{
			Key:   HashKey(fmt.Sprintf("key-%d", i)),
			Value: Uint64Value(uint64(i + 1)),
		}
	}
	return leaves
}

// RandomDigest returns a digest filled from rng.
func RandomDigest(rng *rand.Rand) smt.Digest {
	var d smt.Digest
	_, _ = rng.Read(d[:])
	return d
}

// CreateRandomLeaves creates n leaves with random keys and values drawn from rng.
func CreateRandomLeaves(rng *rand.Rand, n int) []smt.Leaf {
	leaves := make([]smt.Leaf, n)
	for i := range leaves {
		leaves[i] = smt.Leaf{Key: RandomDigest(rng), Value: RandomDigest(rng)}
	}
	return leaves
}

// LeafKeys returns the keys of leaves in order.
func LeafKeys(leaves []smt.Leaf) []smt.Digest {
	keys := make([]smt.Digest, len(leaves))
	for i, l := range leaves {
		keys[i] = l.Key
	}
	return keys
}
