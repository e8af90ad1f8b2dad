package smt

// Hasher is a one-shot hash object. Implementations absorb their
// personalization string on construction, before any caller input.
type Hasher interface {
	// WriteBytes absorbs b into the hash state.
	WriteBytes(b []byte)
	// Finish finalizes the hash state into a Digest. The Hasher must not be reused.
	Finish() Digest
}

// HasherFactory returns a fresh Hasher for every digest computed by the tree.
type HasherFactory func() Hasher
