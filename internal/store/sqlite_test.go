package store

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/scopes/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "scopes.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

const sampleImport = `
textbooks:
  - title: Physics
    children:
      - title: Mechanics
        children:
          - title: Kinematics
            problems: [p1, p2]
            children:
              - title: Velocity
                problems: [p3]
              - title: Acceleration
      - title: Waves
        hidden: true
        problems: [p4]
  - title: Chemistry
    problems: [p5]
`

func TestCreateScopeLevels(t *testing.T) {
	s := newTestStore(t)

	tb, err := s.CreateScope("Physics", nil, 0, true)
	require.NoError(t, err)
	assert.Equal(t, domain.Textbook, tb.Level)
	assert.Equal(t, "textbook-physics", tb.Slug)

	unit, err := s.CreateScope("Mechanics", &tb.ID, 0, true)
	require.NoError(t, err)
	assert.Equal(t, domain.Unit, unit.Level)

	ch, err := s.CreateScope("Kinematics", &unit.ID, 0, true)
	require.NoError(t, err)
	lesson, err := s.CreateScope("Velocity", &ch.ID, 0, true)
	require.NoError(t, err)
	assert.Equal(t, domain.Lesson, lesson.Level)

	_, err = s.CreateScope("Too deep", &lesson.ID, 0, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot have children")

	missing := int64(999)
	_, err = s.CreateScope("Orphan", &missing, 0, true)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSlugsAreUnique(t *testing.T) {
	s := newTestStore(t)
	a, err := s.CreateScope("Physics", nil, 0, true)
	require.NoError(t, err)
	b, err := s.CreateScope("Physics!", nil, 1, true)
	require.NoError(t, err)
	assert.Equal(t, "textbook-physics", a.Slug)
	assert.Equal(t, "textbook-physics-1", b.Slug)
}

func TestImportAndBrowse(t *testing.T) {
	s := newTestStore(t)
	stats, err := s.Import(strings.NewReader(sampleImport))
	require.NoError(t, err)
	assert.Equal(t, 7, stats.Scopes)
	assert.Equal(t, 5, stats.Problems)

	roots, err := s.Roots()
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "Physics", roots[0].Title)
	assert.Equal(t, "Chemistry", roots[1].Title)

	units, err := s.Children(roots[0].ID)
	require.NoError(t, err)
	require.Len(t, units, 1, "hidden scopes are not listed")
	assert.Equal(t, "Mechanics", units[0].Title)

	chapters, err := s.Children(units[0].ID)
	require.NoError(t, err)
	require.Len(t, chapters, 1)
	lessons, err := s.Children(chapters[0].ID)
	require.NoError(t, err)
	require.Len(t, lessons, 2)
	assert.Equal(t, "Velocity", lessons[0].Title)
	assert.Equal(t, "Acceleration", lessons[1].Title)

	empty, err := s.Children(lessons[1].ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = s.Children(12345)
	assert.True(t, errors.Is(err, ErrNotFound))

	crumbs, err := s.Breadcrumbs(lessons[0].ID)
	require.NoError(t, err)
	var titles []string
	for _, c := range crumbs {
		titles = append(titles, c.Title)
	}
	assert.Equal(t, []string{"Physics", "Mechanics", "Kinematics", "Velocity"}, titles)

	node := lessons[0].Node()
	assert.Equal(t, domain.Lesson, node.Level)
	assert.NotEmpty(t, node.ParentID)
}

func TestImportIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Import(strings.NewReader(sampleImport))
	require.NoError(t, err)
	roots, err := s.Roots()
	require.NoError(t, err)
	ids := []int64{roots[0].ID, roots[1].ID}
	before, err := s.ProblemsUnder(ids)
	require.NoError(t, err)

	stats, err := s.Import(strings.NewReader(sampleImport))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scopes)
	assert.Equal(t, 7, stats.Existing)
	assert.Equal(t, 0, stats.Problems)
	assert.Equal(t, 5, stats.Skipped)

	after, err := s.ProblemsUnder(ids)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestReimportUpdatesVisibilityAndOrder(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Import(strings.NewReader(sampleImport))
	require.NoError(t, err)

	changed := `
textbooks:
  - title: Chemistry
  - title: Physics
    children:
      - title: Waves
      - title: Mechanics
        hidden: true
`
	stats, err := s.Import(strings.NewReader(changed))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Scopes)

	roots, err := s.Roots()
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "Chemistry", roots[0].Title)
	assert.Equal(t, "Physics", roots[1].Title)

	units, err := s.Children(roots[1].ID)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, "Waves", units[0].Title)
}

func TestImportRollsBackOnError(t *testing.T) {
	s := newTestStore(t)
	bad := `
textbooks:
  - title: Physics
    children:
      - title: U
        children:
          - title: C
            children:
              - title: L
                children:
                  - title: Nope
`
	_, err := s.Import(strings.NewReader(bad))
	require.Error(t, err)

	roots, err := s.Roots()
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestProblemsUnder(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Import(strings.NewReader(sampleImport))
	require.NoError(t, err)
	roots, err := s.Roots()
	require.NoError(t, err)

	physics, err := s.ProblemsUnder([]int64{roots[0].ID})
	require.NoError(t, err)
	assert.Len(t, physics, 3, "problems under hidden scopes are excluded")

	both, err := s.ProblemsUnder([]int64{roots[0].ID, roots[1].ID})
	require.NoError(t, err)
	assert.Len(t, both, 4)

	none, err := s.ProblemsUnder(nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestExams(t *testing.T) {
	s := newTestStore(t)
	exam := &domain.Exam{
		Title:        "Quiz",
		Mode:         domain.ModeMulti,
		Scopes:       []domain.Ref{{Level: domain.Unit, ID: "3"}},
		ProblemCount: 2,
		ProblemIDs:   []int64{4, 7},
	}
	require.NoError(t, s.CreateExam(exam))
	assert.NotEmpty(t, exam.ID)
	assert.False(t, exam.CreatedAt.IsZero())

	got, err := s.GetExam(exam.ID)
	require.NoError(t, err)
	assert.Equal(t, "Quiz", got.Title)
	assert.Equal(t, domain.ModeMulti, got.Mode)
	assert.Equal(t, exam.Scopes, got.Scopes)
	assert.Equal(t, []int64{4, 7}, got.ProblemIDs)

	list, err := s.ListExams(10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetExam("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}
