package rename

import "sort"

// Lookup maps window classes to display labels. It is immutable once
// built and safe to share between concurrent planners.
type Lookup struct {
	labels map[string]string
}

// NewLookup copies entries into a new lookup table.
func NewLookup(entries map[string]string) *Lookup {
	labels := make(map[string]string, len(entries))
	for class, label := range entries {
		labels[class] = label
	}
	return &Lookup{labels: labels}
}

// Label returns the display label for class.
func (l *Lookup) Label(class string) (string, bool) {
	if l == nil {
		return "", false
	}
	label, ok := l.labels[class]
	return label, ok
}

// Len returns the number of entries.
func (l *Lookup) Len() int {
	if l == nil {
		return 0
	}
	return len(l.labels)
}

// Entries returns a copy of the table.
func (l *Lookup) Entries() map[string]string {
	out := make(map[string]string, l.Len())
	if l == nil {
		return out
	}
	for class, label := range l.labels {
		out[class] = label
	}
	return out
}

// Classes returns the known classes in sorted order.
func (l *Lookup) Classes() []string {
	if l == nil {
		return nil
	}
	classes := make([]string, 0, len(l.labels))
	for class := range l.labels {
		classes = append(classes, class)
	}
	sort.Strings(classes)
	return classes
}
