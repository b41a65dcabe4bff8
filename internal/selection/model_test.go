package selection

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/scopes/internal/domain"
)

// fixture: A → A1 → {A1a, A1b}, A1a → {L1, L2}; A → A2
func fixture() (*Model, map[string]domain.Node) {
	n := map[string]domain.Node{
		"A":   {ID: "A", Level: domain.Textbook, Title: "Container A"},
		"A1":  {ID: "A1", Level: domain.Unit, Title: "Division A1", ParentID: "A"},
		"A2":  {ID: "A2", Level: domain.Unit, Title: "Division A2", ParentID: "A"},
		"A1a": {ID: "A1a", Level: domain.Chapter, Title: "Subdivision A1a", ParentID: "A1"},
		"A1b": {ID: "A1b", Level: domain.Chapter, Title: "Subdivision A1b", ParentID: "A1"},
		"L1":  {ID: "L1", Level: domain.Lesson, Title: "Lesson 1", ParentID: "A1a"},
		"L2":  {ID: "L2", Level: domain.Lesson, Title: "Lesson 2", ParentID: "A1a"},
	}
	m := New()
	m.Register(n["A"])
	m.Observe(n["A"].Ref(), []domain.Node{n["A1"], n["A2"]})
	m.Observe(n["A1"].Ref(), []domain.Node{n["A1a"], n["A1b"]})
	m.Observe(n["A1a"].Ref(), []domain.Node{n["L1"], n["L2"]})
	return m, n
}

func TestSelectEvictsDescendants(t *testing.T) {
	m, n := fixture()
	m.Select(n["A1a"])
	evicted := m.Select(n["A1"])

	assert.Equal(t, []domain.Ref{n["A1a"].Ref()}, evicted)
	assert.Equal(t, []domain.Ref{n["A1"].Ref()}, m.Refs())
}

func TestSelectEvictsAncestors(t *testing.T) {
	m, n := fixture()
	m.Select(n["A1"])
	evicted := m.Select(n["A1a"])

	assert.Equal(t, []domain.Ref{n["A1"].Ref()}, evicted)
	assert.Equal(t, []domain.Ref{n["A1a"].Ref()}, m.Refs())
}

func TestSelectEvictsAcrossSeveralLevels(t *testing.T) {
	m, n := fixture()
	m.Select(n["L1"])
	m.Select(n["L2"])
	m.Select(n["A1b"])
	m.Select(n["A2"])
	require.Equal(t, 4, m.Len())

	m.Select(n["A"])
	assert.Equal(t, []string{"A"}, m.IDs())
}

func TestSiblingsCoexist(t *testing.T) {
	m, n := fixture()
	m.Select(n["A1a"])
	m.Select(n["A1b"])
	m.Select(n["A2"])
	assert.Equal(t, []string{"A1a", "A1b", "A2"}, m.IDs())
}

func TestStates(t *testing.T) {
	m, n := fixture()
	m.Select(n["A1a"])

	assert.Equal(t, Selected, m.State(n["A1a"].Ref()))
	assert.Equal(t, AncestorSelected, m.State(n["L1"].Ref()))
	assert.Equal(t, DescendantSelected, m.State(n["A1"].Ref()))
	assert.Equal(t, DescendantSelected, m.State(n["A"].Ref()))
	assert.Equal(t, Free, m.State(n["A1b"].Ref()))
	assert.Equal(t, Free, m.State(n["A2"].Ref()))

	assert.True(t, m.HasSelectedAncestor(n["L2"].Ref()))
	assert.True(t, m.HasSelectedDescendant(n["A"].Ref()))
	assert.False(t, m.HasSelectedDescendant(n["A2"].Ref()))
}

func TestDeselect(t *testing.T) {
	m, n := fixture()
	m.Select(n["A1a"])
	assert.True(t, m.Deselect(n["A1a"].Ref()))
	assert.False(t, m.Deselect(n["A1a"].Ref()))
	assert.Equal(t, 0, m.Len())
	assert.Equal(t, Free, m.State(n["A"].Ref()))
}

func TestIdsAreScopedByLevel(t *testing.T) {
	m := New()
	book := domain.Node{ID: "7", Level: domain.Textbook, Title: "Book 7"}
	unit := domain.Node{ID: "7", Level: domain.Unit, Title: "Unit 7", ParentID: "3"}
	m.Select(book)
	m.Select(unit)
	assert.Equal(t, 2, m.Len())
	assert.True(t, m.IsSelected(book.Ref()))
	assert.True(t, m.IsSelected(unit.Ref()))
}

func TestRegisterLinksChildrenSeenBeforeParent(t *testing.T) {
	m := New()
	lesson := domain.Node{ID: "L", Level: domain.Lesson, Title: "L", ParentID: "C"}
	chapter := domain.Node{ID: "C", Level: domain.Chapter, Title: "C", ParentID: "U"}
	m.Select(lesson)
	m.Select(chapter)
	assert.Equal(t, []string{"C"}, m.IDs())
}

func TestSelectWithBareRecordKeepsParentLink(t *testing.T) {
	m := New()
	physics := domain.Node{ID: "1", Level: domain.Textbook, Title: "Physics"}
	m.Register(physics)
	m.Observe(physics.Ref(), []domain.Node{{ID: "7", Level: domain.Unit, Title: "Mechanics"}})
	m.Select(physics)

	evicted := m.Select(domain.Node{ID: "7", Level: domain.Unit, Title: "Mechanics"})
	assert.Equal(t, []domain.Ref{physics.Ref()}, evicted)
	assert.Equal(t, []string{"7"}, m.IDs())

	parent, ok := m.Parent(domain.Ref{Level: domain.Unit, ID: "7"})
	require.True(t, ok)
	assert.Equal(t, physics.Ref(), parent)
}

func TestRegisterDoesNotMoveKnownNodes(t *testing.T) {
	m := New()
	m.Observe(domain.Ref{Level: domain.Textbook, ID: "1"}, []domain.Node{{ID: "7", Level: domain.Unit, Title: "Mechanics"}})
	m.Register(domain.Node{ID: "7", Level: domain.Unit, Title: "Mechanics", ParentID: "2"})

	parent, ok := m.Parent(domain.Ref{Level: domain.Unit, ID: "7"})
	require.True(t, ok)
	assert.Equal(t, "1", parent.ID)
	assert.Empty(t, m.Children(domain.Ref{Level: domain.Textbook, ID: "2"}))
}

func TestListenersSeeEveryMutation(t *testing.T) {
	m, n := fixture()
	var changes []Change
	m.OnChange(func(c Change) { changes = append(changes, c) })

	m.Select(n["A1a"])
	m.Select(n["A1a"])
	m.Select(n["A1"])
	m.Deselect(n["A1"].Ref())
	m.Select(n["A2"])
	m.Clear()

	require.Len(t, changes, 5)
	assert.Equal(t, []domain.Ref{n["A1a"].Ref()}, changes[0].Added)
	assert.Equal(t, []domain.Ref{n["A1"].Ref()}, changes[1].Added)
	assert.Equal(t, []domain.Ref{n["A1a"].Ref()}, changes[1].Removed)
	assert.Equal(t, []domain.Ref{n["A1"].Ref()}, changes[2].Removed)
	assert.Equal(t, []domain.Ref{n["A2"].Ref()}, changes[4].Removed)
}

func TestSelectedKeepsInsertionOrder(t *testing.T) {
	m, n := fixture()
	m.Select(n["A2"])
	m.Select(n["L1"])
	m.Select(n["A1b"])
	got := m.Selected()
	require.Len(t, got, 3)
	assert.Equal(t, "Division A2", got[0].Title)
	assert.Equal(t, domain.Lesson, got[1].Level)
	assert.Equal(t, "A1b", got[2].ID)
}

// buildTree makes a full tree with the given fan-out down to lessons.
func buildTree(m *Model, fanout int) []domain.Node {
	var all []domain.Node
	var grow func(parent domain.Node)
	grow = func(parent domain.Node) {
		next, ok := parent.Level.Next()
		if !ok {
			return
		}
		var kids []domain.Node
		for i := 0; i < fanout; i++ {
			kids = append(kids, domain.Node{
				ID:       parent.ID + "." + string(rune('a'+i)),
				Level:    next,
				Title:    parent.Title + "/" + string(rune('a'+i)),
				ParentID: parent.ID,
			})
		}
		m.Observe(parent.Ref(), kids)
		all = append(all, kids...)
		for _, k := range kids {
			grow(k)
		}
	}
	for i := 0; i < fanout; i++ {
		root := domain.Node{ID: string(rune('A' + i)), Level: domain.Textbook, Title: string(rune('A' + i))}
		m.Register(root)
		all = append(all, root)
		grow(root)
	}
	return all
}

func TestExclusivityHoldsUnderRandomOperations(t *testing.T) {
	m := New()
	all := buildTree(m, 3)
	rng := rand.New(rand.NewSource(42))

	for step := 0; step < 2000; step++ {
		n := all[rng.Intn(len(all))]
		if rng.Intn(4) == 0 {
			m.Deselect(n.Ref())
		} else {
			m.Select(n)
			require.True(t, m.IsSelected(n.Ref()))
		}

		refs := m.Refs()
		for _, r := range refs {
			for _, a := range m.Ancestors(r) {
				require.Falsef(t, m.IsSelected(a), "step %d: %s and its ancestor %s both selected", step, r, a)
			}
			require.Equal(t, Selected, m.State(r))
		}
	}
}
