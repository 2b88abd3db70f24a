package pageindex

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidTreeFormat is returned by Deserialize for input that does not
// describe a well-formed tree.
var ErrInvalidTreeFormat = errors.New("invalid tree format")

// Serialize encodes the tree as indented JSON.
func Serialize(tree *Tree) (string, error) {
	data, err := json.MarshalIndent(tree, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize tree: %w", err)
	}
	return string(data), nil
}

// Deserialize decodes a tree produced by Serialize. Unknown fields, trailing
// data and structurally broken trees are rejected as a whole.
func Deserialize(data string) (*Tree, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.DisallowUnknownFields()

	var tree Tree
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTreeFormat, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after tree", ErrInvalidTreeFormat)
	}
	if tree.Root == nil {
		return nil, fmt.Errorf("%w: missing root", ErrInvalidTreeFormat)
	}
	if tree.Root.Level != 0 {
		return nil, fmt.Errorf("%w: root level %d", ErrInvalidTreeFormat, tree.Root.Level)
	}
	if err := checkNode(tree.Root); err != nil {
		return nil, err
	}
	return &tree, nil
}

func checkNode(n *TreeNode) error {
	if n.ID == "" {
		return fmt.Errorf("%w: node without id", ErrInvalidTreeFormat)
	}
	if n.Level < 0 || n.Level > 6 {
		return fmt.Errorf("%w: node %s has level %d", ErrInvalidTreeFormat, n.ID, n.Level)
	}
	if n.Children == nil {
		n.Children = []*TreeNode{}
	}
	for _, child := range n.Children {
		if child == nil {
			return fmt.Errorf("%w: null child under %s", ErrInvalidTreeFormat, n.ID)
		}
		if child.Level <= n.Level {
			return fmt.Errorf("%w: node %s (level %d) nested under level %d",
				ErrInvalidTreeFormat, child.ID, child.Level, n.Level)
		}
		if err := checkNode(child); err != nil {
			return err
		}
	}
	return nil
}
