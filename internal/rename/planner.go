package rename

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wslabel/wslabel/internal/tree"
)

// Separator joins the workspace number and its label.
const Separator = ": "

// Directive renames one workspace from its name at snapshot time.
type Directive struct {
	WorkspaceID int64  `json:"workspaceId"`
	Num         int    `json:"num"`
	OldName     string `json:"oldName"`
	NewName     string `json:"newName"`
}

// Command renders the directive as a window manager command.
func (d Directive) Command() string {
	return fmt.Sprintf("rename workspace %s to %s", Quote(d.OldName), Quote(d.NewName))
}

func (d Directive) String() string {
	return fmt.Sprintf("%q -> %q", d.OldName, d.NewName)
}

// Planner derives workspace names from a tree snapshot.
type Planner struct {
	Lookup *Lookup
	// IncludeFloating also labels windows floating on a workspace.
	IncludeFloating bool
}

// DeriveLabel returns the distinct labels of the windows inside workspace,
// sorted and joined by a single space.
func (p Planner) DeriveLabel(workspace *tree.Node) string {
	leaves := tree.LeafContentNodes(workspace)
	if p.IncludeFloating {
		leaves = append(leaves, tree.FloatingLeafNodes(workspace)...)
	}
	seen := make(map[string]struct{}, len(leaves))
	labels := make([]string, 0, len(leaves))
	for _, leaf := range leaves {
		class, ok := leaf.Class()
		if !ok {
			continue
		}
		label, ok := p.Lookup.Label(class)
		if !ok || label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return strings.Join(labels, " ")
}

// Name returns the full workspace name for num carrying label.
func Name(num int, label string) string {
	if label == "" {
		return strconv.Itoa(num)
	}
	return strconv.Itoa(num) + Separator + label
}

// Plan returns one directive per numbered workspace whose name changes,
// ordered by workspace number.
func (p Planner) Plan(root *tree.Node) ([]Directive, error) {
	workspaces, err := tree.WorkspaceNodes(root)
	if err != nil {
		return nil, err
	}
	var plan []Directive
	for _, ws := range workspaces {
		num, ok := ws.Number()
		if !ok {
			continue
		}
		newName := Name(num, p.DeriveLabel(ws))
		if newName == ws.Name {
			continue
		}
		plan = append(plan, Directive{
			WorkspaceID: ws.ID,
			Num:         num,
			OldName:     ws.Name,
			NewName:     newName,
		})
	}
	sort.SliceStable(plan, func(i, j int) bool {
		return plan[i].Num < plan[j].Num
	})
	return plan, nil
}

// DeriveLabel computes the label of workspace using lookup.
func DeriveLabel(workspace *tree.Node, lookup *Lookup) string {
	return Planner{Lookup: lookup}.DeriveLabel(workspace)
}

// PlanRenames computes the rename plan for root using lookup.
func PlanRenames(root *tree.Node, lookup *Lookup) ([]Directive, error) {
	return Planner{Lookup: lookup}.Plan(root)
}

// Quote wraps s in double quotes, escaping backslashes and quotes the way
// the i3 command parser expects.
func Quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '"' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	b.WriteByte('"')
	return b.String()
}
