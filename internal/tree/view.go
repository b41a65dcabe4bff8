// Package tree is the lazily expanded scope tree. It owns expansion and
// filter state and projects it, together with the selection, into rows.
// Rendering the rows is left to the caller.
package tree

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pbaille/scopes/internal/domain"
	"github.com/pbaille/scopes/internal/hierarchy"
	"github.com/pbaille/scopes/internal/logging"
	"github.com/pbaille/scopes/internal/selection"
)

var (
	ErrUnknownNode   = errors.New("unknown node")
	ErrLeaf          = errors.New("lessons have no children")
	ErrNotSelectable = errors.New("node cannot be selected")
)

// RowKind tells node rows from the placeholders shown under an expanded node
type RowKind int

const (
	RowNode RowKind = iota
	RowLoading
	RowEmpty
	RowError
)

// Row is one line of the flattened tree. Placeholder rows carry the Ref of
// the node they belong to.
type Row struct {
	Kind     RowKind
	Ref      domain.Ref
	Title    string
	Depth    int
	Expanded bool
	Leaf     bool
	State    selection.State
	Match    bool
	Err      error
}

type entry struct {
	node     domain.Node
	children []domain.Ref
	loaded   bool
	loading  bool
	expanded bool
	err      error
}

// View holds the tree state for one picker session
type View struct {
	fetcher hierarchy.Fetcher
	model   *selection.Model
	log     *logging.Logger

	roots   []domain.Ref
	entries map[domain.Ref]*entry

	query   string
	visible map[domain.Ref]bool
	matches map[domain.Ref]bool
}

// New builds a view over the given textbooks
func New(fetcher hierarchy.Fetcher, model *selection.Model, roots []domain.Node) *View {
	v := &View{
		fetcher: fetcher,
		model:   model,
		log:     logging.Nop(),
		entries: make(map[domain.Ref]*entry),
	}
	for _, r := range roots {
		ref := r.Ref()
		if _, ok := v.entries[ref]; ok {
			continue
		}
		v.entries[ref] = &entry{node: r}
		v.roots = append(v.roots, ref)
		model.Register(r)
	}
	return v
}

// SetLogger attaches a logger
func (v *View) SetLogger(l *logging.Logger) {
	if l != nil {
		v.log = l
	}
}

// Model returns the selection model the view reflects
func (v *View) Model() *selection.Model {
	return v.model
}

// Node returns a discovered node
func (v *View) Node(ref domain.Ref) (domain.Node, bool) {
	e, ok := v.entries[ref]
	if !ok {
		return domain.Node{}, false
	}
	return e.node, true
}

// Loaded reports whether ref's children have been fetched
func (v *View) Loaded(ref domain.Ref) bool {
	e, ok := v.entries[ref]
	return ok && e.loaded
}

// Expanded reports whether ref's children are shown
func (v *View) Expanded(ref domain.Ref) bool {
	e, ok := v.entries[ref]
	return ok && e.expanded
}

// Expand fetches and shows ref's children, or toggles them once loaded
func (v *View) Expand(ctx context.Context, ref domain.Ref) error {
	fetch, err := v.BeginExpand(ref)
	if err != nil || !fetch {
		return err
	}
	level, _ := ref.Level.Next()
	nodes, err := v.fetcher.Children(ctx, level, ref.ID)
	v.Complete(ref, nodes, err)
	return err
}

// BeginExpand is the synchronous half of Expand. It returns true when the
// caller must fetch the children and hand them to Complete.
func (v *View) BeginExpand(ref domain.Ref) (bool, error) {
	e, ok := v.entries[ref]
	if !ok {
		return false, fmt.Errorf("expand %s: %w", ref, ErrUnknownNode)
	}
	if ref.Level.IsLeaf() {
		return false, fmt.Errorf("expand %s: %w", ref, ErrLeaf)
	}
	switch {
	case e.loading:
		e.expanded = true
		return false, nil
	case e.loaded:
		e.expanded = !e.expanded
		return false, nil
	}
	e.loading = true
	e.expanded = true
	e.err = nil
	return true, nil
}

// Retry restarts a failed expansion. It returns true when a fetch is needed.
func (v *View) Retry(ref domain.Ref) (bool, error) {
	e, ok := v.entries[ref]
	if !ok {
		return false, fmt.Errorf("retry %s: %w", ref, ErrUnknownNode)
	}
	if e.err == nil {
		return false, nil
	}
	return v.BeginExpand(ref)
}

// Complete applies the result of a fetch started by BeginExpand. A failure
// leaves the node unloaded so a retry fetches again.
func (v *View) Complete(ref domain.Ref, nodes []domain.Node, err error) {
	e, ok := v.entries[ref]
	if !ok {
		return
	}
	e.loading = false
	if err != nil {
		e.err = err
		v.log.Warn("expand failed", "node", ref.String(), "error", err)
		return
	}
	if e.loaded {
		return
	}

	e.loaded = true
	e.err = nil
	e.children = make([]domain.Ref, 0, len(nodes))
	for _, n := range nodes {
		n.ParentID = ref.ID
		cref := n.Ref()
		if _, ok := v.entries[cref]; !ok {
			v.entries[cref] = &entry{node: n}
		}
		e.children = append(e.children, cref)
	}
	v.model.Observe(ref, nodes)
	v.log.Debug("expanded", "node", ref.String(), "children", len(nodes))

	if v.query != "" {
		v.applyFilter()
	}
}

// Collapse hides ref's children and keeps them loaded
func (v *View) Collapse(ref domain.Ref) {
	if e, ok := v.entries[ref]; ok {
		e.expanded = false
	}
}

// CollapseAll hides every subtree
func (v *View) CollapseAll() {
	for _, e := range v.entries {
		e.expanded = false
	}
}

// State is the selection state of ref
func (v *View) State(ref domain.Ref) selection.State {
	return v.model.State(ref)
}

// Select adds ref to the selection. Only free nodes can be selected.
func (v *View) Select(ref domain.Ref) error {
	e, ok := v.entries[ref]
	if !ok {
		return fmt.Errorf("select %s: %w", ref, ErrUnknownNode)
	}
	if st := v.model.State(ref); st != selection.Free {
		return fmt.Errorf("select %s (%s): %w", ref, st, ErrNotSelectable)
	}
	evicted := v.model.Select(e.node)
	if len(evicted) > 0 {
		v.log.Debug("selection evicted", "node", ref.String(), "evicted", len(evicted))
	}
	return nil
}

// Deselect removes ref from the selection
func (v *View) Deselect(ref domain.Ref) bool {
	return v.model.Deselect(ref)
}

// Query returns the active filter
func (v *View) Query() string {
	return v.query
}

// Filter shows the loaded nodes whose title contains query, and their
// ancestors, expanded. Unloaded subtrees are not searched.
func (v *View) Filter(query string) {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		v.ClearFilter()
		return
	}
	v.query = q
	v.applyFilter()
}

// ClearFilter shows every node again and collapses the whole tree
func (v *View) ClearFilter() {
	v.query = ""
	v.visible = nil
	v.matches = nil
	v.CollapseAll()
}

func (v *View) applyFilter() {
	v.visible = make(map[domain.Ref]bool)
	v.matches = make(map[domain.Ref]bool)

	var walk func(ref domain.Ref, ancestors []domain.Ref)
	walk = func(ref domain.Ref, ancestors []domain.Ref) {
		e := v.entries[ref]
		if strings.Contains(strings.ToLower(e.node.Title), v.query) {
			v.matches[ref] = true
			v.visible[ref] = true
			for _, a := range ancestors {
				v.visible[a] = true
				v.entries[a].expanded = true
			}
		}
		if !e.loaded {
			return
		}
		path := append(ancestors[:len(ancestors):len(ancestors)], ref)
		for _, c := range e.children {
			walk(c, path)
		}
	}
	for _, r := range v.roots {
		walk(r, nil)
	}
}

// Rows flattens the visible tree in display order
func (v *View) Rows() []Row {
	var rows []Row
	var emit func(ref domain.Ref, depth int)
	emit = func(ref domain.Ref, depth int) {
		e := v.entries[ref]
		if v.visible != nil && !v.visible[ref] {
			return
		}
		rows = append(rows, Row{
			Kind:     RowNode,
			Ref:      ref,
			Title:    e.node.Title,
			Depth:    depth,
			Expanded: e.expanded,
			Leaf:     ref.Level.IsLeaf(),
			State:    v.model.State(ref),
			Match:    v.matches[ref],
		})
		if !e.expanded {
			return
		}
		switch {
		case e.loading:
			rows = append(rows, Row{Kind: RowLoading, Ref: ref, Title: "Loading...", Depth: depth + 1})
		case e.err != nil:
			rows = append(rows, Row{Kind: RowError, Ref: ref, Title: "Could not load items", Depth: depth + 1, Err: e.err})
		case e.loaded && len(e.children) == 0:
			if v.visible == nil {
				rows = append(rows, Row{Kind: RowEmpty, Ref: ref, Title: "No items available", Depth: depth + 1})
			}
		default:
			for _, c := range e.children {
				emit(c, depth+1)
			}
		}
	}
	for _, r := range v.roots {
		emit(r, 0)
	}
	return rows
}
