package tree_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/wslabel/wslabel/internal/tree"
	"github.com/wslabel/wslabel/internal/tree/treetest"
)

func classes(nodes []*tree.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		class, _ := n.Class()
		out = append(out, class)
	}
	return out
}

func TestLeafContentNodesDocumentOrder(t *testing.T) {
	ws := treetest.Workspace(1, "1",
		treetest.Window("A"),
		treetest.Split(
			treetest.Window("B"),
			treetest.Split(treetest.Window("C")),
		),
		treetest.Window("D"),
	)

	got := classes(tree.LeafContentNodes(ws))
	want := []string{"A", "B", "C", "D"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("leaf order mismatch (-want +got):\n%s", diff)
	}
}

func TestLeafContentNodesEmpty(t *testing.T) {
	if got := tree.LeafContentNodes(treetest.Workspace(1, "1")); len(got) != 0 {
		t.Fatalf("expected no leaves, got %d", len(got))
	}
	if got := tree.LeafContentNodes(nil); len(got) != 0 {
		t.Fatalf("expected no leaves for nil node, got %d", len(got))
	}
}

func TestLeafContentNodesSkipsFloatingAndOtherTypes(t *testing.T) {
	ws := treetest.Workspace(1, "1", treetest.Window("A"))
	ws.FloatingNodes = []*tree.Node{treetest.Floating(treetest.Window("F"))}
	ws.Nodes = append(ws.Nodes, &tree.Node{Type: tree.TypeDockarea})

	if diff := cmp.Diff([]string{"A"}, classes(tree.LeafContentNodes(ws))); diff != "" {
		t.Fatalf("unexpected leaves (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"F"}, classes(tree.FloatingLeafNodes(ws))); diff != "" {
		t.Fatalf("unexpected floating leaves (-want +got):\n%s", diff)
	}
}

func TestWorkspaceNodesAcrossOutputs(t *testing.T) {
	root := treetest.Root(
		treetest.Output("__i3"),
		treetest.Output("DP-1", treetest.Workspace(1, "1"), treetest.Workspace(3, "3")),
		treetest.Output("HDMI-1", treetest.Workspace(2, "2")),
	)

	nodes, err := tree.WorkspaceNodes(root)
	if err != nil {
		t.Fatalf("WorkspaceNodes: %v", err)
	}
	var names []string
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	if diff := cmp.Diff([]string{"1", "3", "2"}, names); diff != "" {
		t.Fatalf("unexpected workspaces (-want +got):\n%s", diff)
	}
}

func TestWorkspaceNodesRejectsNonRoot(t *testing.T) {
	_, err := tree.WorkspaceNodes(treetest.Workspace(1, "1"))
	if !errors.Is(err, tree.ErrInvalidTree) {
		t.Fatalf("expected ErrInvalidTree, got %v", err)
	}
	if _, err := tree.WorkspaceNodes(nil); !errors.Is(err, tree.ErrInvalidTree) {
		t.Fatalf("expected ErrInvalidTree for nil root, got %v", err)
	}
}

func TestDecodeTree(t *testing.T) {
	payload := []byte(`{
		"id": 1, "type": "root", "name": "root",
		"nodes": [{
			"id": 2, "type": "output", "name": "DP-1",
			"nodes": [{
				"id": 3, "type": "con", "name": "content",
				"nodes": [{
					"id": 4, "type": "workspace", "name": "2", "num": 2,
					"nodes": [{"id": 5, "type": "con", "name": "Mozilla Firefox",
						"window_properties": {"class": "Firefox", "instance": "Navigator"},
						"nodes": [], "floating_nodes": []}],
					"floating_nodes": []
				}]
			}]
		}]
	}`)
	root, err := tree.Decode(payload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ws, err := tree.WorkspaceNodes(root)
	if err != nil {
		t.Fatalf("WorkspaceNodes: %v", err)
	}
	if len(ws) != 1 {
		t.Fatalf("expected one workspace, got %d", len(ws))
	}
	if num, ok := ws[0].Number(); !ok || num != 2 {
		t.Fatalf("unexpected number %d (ok=%v)", num, ok)
	}
	leaves := tree.LeafContentNodes(ws[0])
	if diff := cmp.Diff([]string{"Firefox"}, classes(leaves)); diff != "" {
		t.Fatalf("unexpected leaves (-want +got):\n%s", diff)
	}
	if found := tree.Find(root, 5); found == nil || found.Name != "Mozilla Firefox" {
		t.Fatalf("Find(5) = %#v", found)
	}
}

func TestNumberTreatsNonPositiveAsUnnumbered(t *testing.T) {
	for _, num := range []int{0, -1} {
		if _, ok := treetest.Workspace(num, "x").Number(); ok {
			t.Fatalf("num %d should be unnumbered", num)
		}
	}
	if _, ok := (&tree.Node{Type: tree.TypeWorkspace}).Number(); ok {
		t.Fatalf("missing num should be unnumbered")
	}
}

func TestClassFallsBackToAppID(t *testing.T) {
	n := &tree.Node{Type: tree.TypeCon, AppID: "foot"}
	if class, ok := n.Class(); !ok || class != "foot" {
		t.Fatalf("Class() = %q, %v", class, ok)
	}
	if _, ok := (&tree.Node{Type: tree.TypeCon}).Class(); ok {
		t.Fatalf("expected no class for bare con")
	}
}
