package tree

import (
	"errors"
	"fmt"
)

// ErrInvalidTree is returned when a tree does not have the expected shape.
var ErrInvalidTree = errors.New("invalid tree")

// NodesOfType filters the immediate children of node by type.
func NodesOfType(node *Node, typ NodeType) []*Node {
	if node == nil {
		return nil
	}
	var out []*Node
	for _, child := range node.Nodes {
		if child != nil && child.Type == typ {
			out = append(out, child)
		}
	}
	return out
}

// LeafContentNodes collects every childless con under node in depth-first
// document order. Only con children are descended into.
func LeafContentNodes(node *Node) []*Node {
	var out []*Node
	for _, child := range NodesOfType(node, TypeCon) {
		if len(child.Nodes) == 0 {
			out = append(out, child)
			continue
		}
		out = append(out, LeafContentNodes(child)...)
	}
	return out
}

// FloatingLeafNodes collects the leaf cons held by the floating containers
// directly attached to node.
func FloatingLeafNodes(node *Node) []*Node {
	if node == nil {
		return nil
	}
	var out []*Node
	for _, fc := range node.FloatingNodes {
		if fc == nil {
			continue
		}
		if fc.IsLeafContent() {
			out = append(out, fc)
			continue
		}
		out = append(out, LeafContentNodes(fc)...)
	}
	return out
}

// WorkspaceNodes yields every workspace reachable via root -> output -> con
// -> workspace, in snapshot order.
func WorkspaceNodes(root *Node) ([]*Node, error) {
	if root == nil {
		return nil, fmt.Errorf("%w: nil root", ErrInvalidTree)
	}
	if root.Type != TypeRoot {
		return nil, fmt.Errorf("%w: expected %s node, got %q", ErrInvalidTree, TypeRoot, root.Type)
	}
	var out []*Node
	for _, output := range NodesOfType(root, TypeOutput) {
		for _, content := range NodesOfType(output, TypeCon) {
			out = append(out, NodesOfType(content, TypeWorkspace)...)
		}
	}
	return out, nil
}

// Find returns the node with id, or nil.
func Find(root *Node, id int64) *Node {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, child := range root.Nodes {
		if found := Find(child, id); found != nil {
			return found
		}
	}
	for _, child := range root.FloatingNodes {
		if found := Find(child, id); found != nil {
			return found
		}
	}
	return nil
}
