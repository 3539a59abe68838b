package tree

import (
	"encoding/json"
	"fmt"
)

// NodeType tags a node in the window manager layout tree.
type NodeType string

const (
	TypeRoot        NodeType = "root"
	TypeOutput      NodeType = "output"
	TypeCon         NodeType = "con"
	TypeFloatingCon NodeType = "floating_con"
	TypeWorkspace   NodeType = "workspace"
	TypeDockarea    NodeType = "dockarea"
)

// WindowProperties carries the X11 properties of a window-backed container.
type WindowProperties struct {
	Class    string `json:"class,omitempty"`
	Instance string `json:"instance,omitempty"`
	Title    string `json:"title,omitempty"`
	Role     string `json:"window_role,omitempty"`
}

// Node is one element of a layout tree snapshot as delivered by GET_TREE.
// Snapshots are never mutated after decoding.
type Node struct {
	ID               int64             `json:"id"`
	Type             NodeType          `json:"type"`
	Name             string            `json:"name"`
	Num              *int              `json:"num,omitempty"`
	Focused          bool              `json:"focused,omitempty"`
	WindowProperties *WindowProperties `json:"window_properties,omitempty"`
	AppID            string            `json:"app_id,omitempty"`
	Nodes            []*Node           `json:"nodes"`
	FloatingNodes    []*Node           `json:"floating_nodes"`
}

// Decode parses a GET_TREE payload.
func Decode(data []byte) (*Node, error) {
	var root Node
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode tree: %w", err)
	}
	return &root, nil
}

// Class returns the window class of a leaf container. Wayland-native
// windows without X11 properties fall back to their app_id.
func (n *Node) Class() (string, bool) {
	if n == nil {
		return "", false
	}
	if n.WindowProperties != nil && n.WindowProperties.Class != "" {
		return n.WindowProperties.Class, true
	}
	if n.AppID != "" {
		return n.AppID, true
	}
	return "", false
}

// Number returns the workspace ordinal; ok is false for unnumbered nodes.
func (n *Node) Number() (int, bool) {
	if n == nil || n.Num == nil || *n.Num <= 0 {
		return 0, false
	}
	return *n.Num, true
}

// IsLeafContent reports whether the node is a container without children.
func (n *Node) IsLeafContent() bool {
	return n != nil && n.Type == TypeCon && len(n.Nodes) == 0
}
