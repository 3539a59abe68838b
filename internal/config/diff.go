package config

import (
	"fmt"
	"sort"
	"strings"
)

// ChangeKind classifies how a window class entry changed.
type ChangeKind string

const (
	ClassAdded      ChangeKind = "added"
	ClassRemoved    ChangeKind = "removed"
	ClassRelabelled ChangeKind = "relabelled"
)

// LabelChange is one window class whose label differs between two configs.
type LabelChange struct {
	Kind  ChangeKind
	Class string
	From  string
	To    string
}

func (c LabelChange) String() string {
	switch c.Kind {
	case ClassAdded:
		return fmt.Sprintf("+ %s: %s", c.Class, c.To)
	case ClassRemoved:
		return fmt.Sprintf("- %s: %s", c.Class, c.From)
	default:
		return fmt.Sprintf("~ %s: %s -> %s", c.Class, c.From, c.To)
	}
}

// DiffLabels lists the classes added, removed or relabelled between two
// tables, ordered by class.
func DiffLabels(previous, current WindowClassMap) []LabelChange {
	var changes []LabelChange
	for class, from := range previous {
		to, ok := current[class]
		switch {
		case !ok:
			changes = append(changes, LabelChange{Kind: ClassRemoved, Class: class, From: from})
		case to != from:
			changes = append(changes, LabelChange{Kind: ClassRelabelled, Class: class, From: from, To: to})
		}
	}
	for class, to := range current {
		if _, ok := previous[class]; !ok {
			changes = append(changes, LabelChange{Kind: ClassAdded, Class: class, To: to})
		}
	}
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].Class < changes[j].Class
	})
	return changes
}

// Diff renders every difference between two decoded configs, one per line.
// It returns an empty string when they are equivalent.
func Diff(previous, current *Config) string {
	if previous == nil {
		previous = &Config{}
	}
	if current == nil {
		current = &Config{}
	}
	var lines []string
	for _, change := range DiffLabels(previous.WindowClass, current.WindowClass) {
		lines = append(lines, change.String())
	}
	if previous.IncludeFloating != current.IncludeFloating {
		lines = append(lines, fmt.Sprintf("~ includeFloating: %t -> %t", previous.IncludeFloating, current.IncludeFloating))
	}
	if previous.CommandTimeout != current.CommandTimeout {
		lines = append(lines, fmt.Sprintf("~ commandTimeout: %s -> %s", previous.CommandTimeout, current.CommandTimeout))
	}
	return strings.Join(lines, "\n")
}
