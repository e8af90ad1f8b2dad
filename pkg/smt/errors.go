package smt

import "errors"

var (
	// ErrInvalidKeyOrValueLength is returned when a caller supplied key or value is not DigestSize bytes.
	ErrInvalidKeyOrValueLength = errors.New("invalid key or value length")

	// ErrEmptyKeys is returned when a proof is requested for, or checked against, zero keys.
	ErrEmptyKeys = errors.New("empty keys")

	// ErrKeyLeafMismatch is returned when supplied leaves do not correspond to the keys a proof covers.
	ErrKeyLeafMismatch = errors.New("leaves do not match proof keys")

	// ErrCorruptProof is returned when a proof is structurally malformed.
	ErrCorruptProof = errors.New("corrupt proof")

	// ErrMissingStoreNode is returned when the store has no record for a digest the tree references.
	ErrMissingStoreNode = errors.New("missing store node")
)
