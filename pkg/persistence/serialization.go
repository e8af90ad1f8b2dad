package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/Layr-Labs/sparse-merkle-tree-go/pkg/smt"
)

// MarshalBranchNode serializes a BranchNode to JSON bytes.
// Digests are encoded as 0x-prefixed hex strings.
func MarshalBranchNode(branch *smt.BranchNode) ([]byte, error) {
	if branch == nil {
		return nil, fmt.Errorf("cannot marshal nil BranchNode")
	}

	data, err := json.Marshal(branch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal BranchNode to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalBranchNode deserializes a BranchNode from JSON bytes.
func UnmarshalBranchNode(data []byte) (*smt.BranchNode, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var branch smt.BranchNode
	if err := json.Unmarshal(data, &branch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to BranchNode: %w", err)
	}
	if branch.Height >= smt.TreeHeight {
		return nil, fmt.Errorf("branch height %d out of range", branch.Height)
	}

	return &branch, nil
}

// MarshalLeafNode serializes a LeafNode to JSON bytes.
func MarshalLeafNode(leaf *smt.LeafNode) ([]byte, error) {
	if leaf == nil {
		return nil, fmt.Errorf("cannot marshal nil LeafNode")
	}

	data, err := json.Marshal(leaf)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal LeafNode to JSON: %w", err)
	}

	return data, nil
}

// UnmarshalLeafNode deserializes a LeafNode from JSON bytes.
func UnmarshalLeafNode(data []byte) (*smt.LeafNode, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var leaf smt.LeafNode
	if err := json.Unmarshal(data, &leaf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to LeafNode: %w", err)
	}

	return &leaf, nil
}

// MarshalTreeState serializes TreeState to JSON bytes.
func MarshalTreeState(ts *TreeState) ([]byte, error) {
	if ts == nil {
		return nil, fmt.Errorf("cannot marshal nil TreeState")
	}

	return json.Marshal(ts)
}

// UnmarshalTreeState deserializes TreeState from JSON bytes.
func UnmarshalTreeState(data []byte) (*TreeState, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot unmarshal empty data")
	}

	var ts TreeState
	if err := json.Unmarshal(data, &ts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON to TreeState: %w", err)
	}

	return &ts, nil
}
