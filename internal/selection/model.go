// Package selection holds the set of chosen scopes and the known part of
// the hierarchy, and keeps the set free of ancestor/descendant pairs.
//
// A Model is not safe for concurrent use; the picker mutates it only from
// its update loop.
package selection

import (
	"github.com/pbaille/scopes/internal/domain"
)

// State is how a node relates to the current selection
type State int

const (
	Free State = iota
	Selected
	AncestorSelected
	DescendantSelected
)

func (s State) String() string {
	switch s {
	case Selected:
		return "selected"
	case AncestorSelected:
		return "ancestor-selected"
	case DescendantSelected:
		return "descendant-selected"
	default:
		return "free"
	}
}

// Change is passed to listeners after each mutation
type Change struct {
	Added   []domain.Ref
	Removed []domain.Ref
}

type known struct {
	node     domain.Node
	children []domain.Ref
}

// Model is the selection set plus the index of discovered nodes
type Model struct {
	nodes     map[domain.Ref]*known
	selected  map[domain.Ref]domain.Selected
	order     []domain.Ref
	listeners []func(Change)
}

// New returns an empty model
func New() *Model {
	return &Model{
		nodes:    make(map[domain.Ref]*known),
		selected: make(map[domain.Ref]domain.Selected),
	}
}

// OnChange registers fn to run after every mutation
func (m *Model) OnChange(fn func(Change)) {
	if fn != nil {
		m.listeners = append(m.listeners, fn)
	}
}

// Register records a node. Re-registering keeps known children and never
// moves a node to another parent; a record without a parent keeps the
// recorded one.
func (m *Model) Register(n domain.Node) {
	ref := n.Ref()
	if k, ok := m.nodes[ref]; ok {
		if k.node.ParentID != "" {
			n.ParentID = k.node.ParentID
		}
		if n.Title == "" {
			n.Title = k.node.Title
		}
		k.node = n
		m.linkToParent(n)
		return
	}
	k := &known{node: n}
	m.nodes[ref] = k
	for r, other := range m.nodes {
		if p, ok := other.node.ParentRef(); ok && p == ref {
			k.children = append(k.children, r)
		}
	}
	m.linkToParent(n)
}

func (m *Model) linkToParent(n domain.Node) {
	parent, ok := n.ParentRef()
	if !ok {
		return
	}
	if pk, ok := m.nodes[parent]; ok && !containsRef(pk.children, n.Ref()) {
		pk.children = append(pk.children, n.Ref())
	}
}

// Observe records the children discovered under parent, in order
func (m *Model) Observe(parent domain.Ref, children []domain.Node) {
	pk, ok := m.nodes[parent]
	if !ok {
		pk = &known{node: domain.Node{ID: parent.ID, Level: parent.Level}}
		m.nodes[parent] = pk
	}
	for _, c := range children {
		c.ParentID = parent.ID
		m.Register(c)
		if p, ok := m.Parent(c.Ref()); ok && p == parent && !containsRef(pk.children, c.Ref()) {
			pk.children = append(pk.children, c.Ref())
		}
	}
}

// Node returns a registered node
func (m *Model) Node(ref domain.Ref) (domain.Node, bool) {
	k, ok := m.nodes[ref]
	if !ok {
		return domain.Node{}, false
	}
	return k.node, true
}

// Children returns the known children of ref
func (m *Model) Children(ref domain.Ref) []domain.Ref {
	k, ok := m.nodes[ref]
	if !ok {
		return nil
	}
	out := make([]domain.Ref, len(k.children))
	copy(out, k.children)
	return out
}

// Parent returns the parent of ref, if known
func (m *Model) Parent(ref domain.Ref) (domain.Ref, bool) {
	k, ok := m.nodes[ref]
	if !ok {
		return domain.Ref{}, false
	}
	return k.node.ParentRef()
}

// Ancestors returns ref's known ancestors, nearest first
func (m *Model) Ancestors(ref domain.Ref) []domain.Ref {
	var out []domain.Ref
	seen := map[domain.Ref]bool{ref: true}
	cur := ref
	for {
		p, ok := m.Parent(cur)
		if !ok || seen[p] {
			return out
		}
		seen[p] = true
		out = append(out, p)
		cur = p
	}
}

// Descendants returns every known descendant of ref, depth first
func (m *Model) Descendants(ref domain.Ref) []domain.Ref {
	var out []domain.Ref
	seen := map[domain.Ref]bool{ref: true}
	var walk func(domain.Ref)
	walk = func(r domain.Ref) {
		k, ok := m.nodes[r]
		if !ok {
			return
		}
		for _, c := range k.children {
			if seen[c] {
				continue
			}
			seen[c] = true
			out = append(out, c)
			walk(c)
		}
	}
	walk(ref)
	return out
}

// Select adds n and evicts every selected ancestor and descendant of n.
// It returns the evicted refs.
func (m *Model) Select(n domain.Node) []domain.Ref {
	m.Register(n)
	ref := n.Ref()

	var evicted []domain.Ref
	for _, r := range m.Ancestors(ref) {
		if m.remove(r) {
			evicted = append(evicted, r)
		}
	}
	for _, r := range m.Descendants(ref) {
		if m.remove(r) {
			evicted = append(evicted, r)
		}
	}

	change := Change{Removed: evicted}
	if _, ok := m.selected[ref]; !ok {
		m.order = append(m.order, ref)
		change.Added = []domain.Ref{ref}
	}
	m.selected[ref] = domain.Selected{ID: n.ID, Level: n.Level, Title: n.Title}

	if len(change.Added) > 0 || len(change.Removed) > 0 {
		m.notify(change)
	}
	return evicted
}

// Deselect removes ref; it reports whether it was selected
func (m *Model) Deselect(ref domain.Ref) bool {
	if !m.remove(ref) {
		return false
	}
	m.notify(Change{Removed: []domain.Ref{ref}})
	return true
}

// Clear empties the selection
func (m *Model) Clear() {
	if len(m.order) == 0 {
		return
	}
	removed := m.order
	m.order = nil
	m.selected = make(map[domain.Ref]domain.Selected)
	m.notify(Change{Removed: removed})
}

func (m *Model) remove(ref domain.Ref) bool {
	if _, ok := m.selected[ref]; !ok {
		return false
	}
	delete(m.selected, ref)
	for i, r := range m.order {
		if r == ref {
			m.order = append(m.order[:i:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

func (m *Model) notify(c Change) {
	for _, fn := range m.listeners {
		fn(c)
	}
}

// IsSelected reports whether ref is in the set
func (m *Model) IsSelected(ref domain.Ref) bool {
	_, ok := m.selected[ref]
	return ok
}

// HasSelectedAncestor reports whether any known ancestor of ref is selected
func (m *Model) HasSelectedAncestor(ref domain.Ref) bool {
	for _, r := range m.Ancestors(ref) {
		if m.IsSelected(r) {
			return true
		}
	}
	return false
}

// HasSelectedDescendant reports whether any known descendant of ref is selected
func (m *Model) HasSelectedDescendant(ref domain.Ref) bool {
	for _, r := range m.Descendants(ref) {
		if m.IsSelected(r) {
			return true
		}
	}
	return false
}

// State classifies ref against the selection
func (m *Model) State(ref domain.Ref) State {
	switch {
	case m.IsSelected(ref):
		return Selected
	case m.HasSelectedAncestor(ref):
		return AncestorSelected
	case m.HasSelectedDescendant(ref):
		return DescendantSelected
	default:
		return Free
	}
}

// Len returns the number of selected scopes
func (m *Model) Len() int {
	return len(m.order)
}

// Selected returns the selection in insertion order
func (m *Model) Selected() []domain.Selected {
	out := make([]domain.Selected, 0, len(m.order))
	for _, r := range m.order {
		out = append(out, m.selected[r])
	}
	return out
}

// Refs returns the selected refs in insertion order
func (m *Model) Refs() []domain.Ref {
	out := make([]domain.Ref, len(m.order))
	copy(out, m.order)
	return out
}

// IDs returns the selected ids in insertion order, as submitted
func (m *Model) IDs() []string {
	out := make([]string, 0, len(m.order))
	for _, r := range m.order {
		out = append(out, r.ID)
	}
	return out
}

func containsRef(refs []domain.Ref, r domain.Ref) bool {
	for _, x := range refs {
		if x == r {
			return true
		}
	}
	return false
}
