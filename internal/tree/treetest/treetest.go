// Package treetest builds layout trees for tests.
package treetest

import (
	"sync/atomic"

	"github.com/wslabel/wslabel/internal/tree"
)

var nextID atomic.Int64

func id() int64 {
	return nextID.Add(1)
}

// Root returns a root node holding the outputs.
func Root(outputs ...*tree.Node) *tree.Node {
	return &tree.Node{ID: id(), Type: tree.TypeRoot, Name: "root", Nodes: outputs}
}

// Output returns an output whose content con holds the workspaces.
func Output(name string, workspaces ...*tree.Node) *tree.Node {
	content := &tree.Node{ID: id(), Type: tree.TypeCon, Name: "content", Nodes: workspaces}
	return &tree.Node{ID: id(), Type: tree.TypeOutput, Name: name, Nodes: []*tree.Node{content}}
}

// Workspace returns a numbered workspace named name.
func Workspace(num int, name string, children ...*tree.Node) *tree.Node {
	n := num
	return &tree.Node{ID: id(), Type: tree.TypeWorkspace, Name: name, Num: &n, Nodes: children}
}

// Window returns a leaf con backed by a window of class.
func Window(class string) *tree.Node {
	return &tree.Node{
		ID:               id(),
		Type:             tree.TypeCon,
		Name:             class,
		WindowProperties: &tree.WindowProperties{Class: class},
	}
}

// Split returns a con that holds other containers.
func Split(children ...*tree.Node) *tree.Node {
	return &tree.Node{ID: id(), Type: tree.TypeCon, Nodes: children}
}

// Floating wraps windows in a floating_con.
func Floating(children ...*tree.Node) *tree.Node {
	return &tree.Node{ID: id(), Type: tree.TypeFloatingCon, Nodes: children}
}
