package form

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pbaille/scopes/internal/domain"
	"github.com/pbaille/scopes/internal/selection"
)

type cascadeFetcher struct {
	children map[string][]domain.Node
	calls    int
	err      error
}

func (f *cascadeFetcher) Children(_ context.Context, level domain.Level, parentID string) ([]domain.Node, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Node
	for _, n := range f.children[parentID] {
		n.Level = level
		n.ParentID = parentID
		out = append(out, n)
	}
	return out, nil
}

func newCascade() *cascadeFetcher {
	return &cascadeFetcher{children: map[string][]domain.Node{
		"1":  {{ID: "10", Title: "Mechanics"}, {ID: "11", Title: "Waves"}},
		"10": {{ID: "100", Title: "Kinematics"}},
		"11": {},
		"100": {
			{ID: "1000", Title: "Velocity"},
			{ID: "1001", Title: "Acceleration"},
		},
	}}
}

func fieldErr(t *testing.T, err error) string {
	t.Helper()
	var ve *ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
	return ve.Field
}

func TestSingleModeGating(t *testing.T) {
	c := New(selection.New(), nil)
	c.SetMode(domain.ModeSingle)
	c.SetTitle("")
	assert.False(t, c.Enabled())
	assert.Equal(t, FieldTitle, fieldErr(t, c.Err()))

	c.SetTitle("Quiz 1")
	assert.False(t, c.Enabled())
	assert.Equal(t, FieldScopeType, fieldErr(t, c.Err()))

	c.SetTarget(domain.Chapter)
	assert.False(t, c.Enabled())
	assert.Equal(t, FieldScopeID, fieldErr(t, c.Err()))

	c.Pick(domain.Chapter, "42")
	assert.True(t, c.Enabled())

	payload, err := c.Payload()
	require.NoError(t, err)
	assert.Equal(t, "single", payload.Get(FieldMode))
	assert.Equal(t, "Quiz 1", payload.Get(FieldTitle))
	assert.Equal(t, "Chapter", payload.Get(FieldScopeType))
	assert.Equal(t, "42", payload.Get(FieldScopeID))
	assert.Empty(t, payload[FieldScopeIDs])
}

func TestMultiModeGatingWithBounds(t *testing.T) {
	sel := selection.New()
	c := New(sel, nil)
	c.SetBounds(&Bounds{Min: 10, Max: 50})
	c.SetTitle("Quiz 1")
	assert.False(t, c.Enabled())
	assert.Equal(t, FieldScopeIDs, fieldErr(t, c.Err()))

	sel.Select(domain.Node{ID: "7", Level: domain.Unit, Title: "Optics", ParentID: "1"})
	assert.True(t, c.Enabled(), "selection change must revalidate")

	c.SetProblemCount("5")
	assert.False(t, c.Enabled())
	assert.Equal(t, FieldProblemCount, fieldErr(t, c.Err()))

	c.SetProblemCount("20")
	assert.True(t, c.Enabled())

	c.SetProblemCount("twenty")
	assert.False(t, c.Enabled())

	c.SetProblemCount("50")
	assert.True(t, c.Enabled())
	c.SetProblemCount("51")
	assert.False(t, c.Enabled())
}

func TestMultiPayloadKeepsSelectionOrder(t *testing.T) {
	sel := selection.New()
	c := New(sel, nil)
	c.SetTitle("  Mixed  ")
	c.SetBounds(&Bounds{Min: 10, Max: 50})
	c.SetProblemCount("30")
	sel.Select(domain.Node{ID: "9", Level: domain.Lesson, Title: "Ohm", ParentID: "90"})
	sel.Select(domain.Node{ID: "2", Level: domain.Textbook, Title: "Chemistry"})

	payload, err := c.Payload()
	require.NoError(t, err)
	assert.Equal(t, "multi", payload.Get(FieldMode))
	assert.Equal(t, "Mixed", payload.Get(FieldTitle))
	assert.Equal(t, []string{"9", "2"}, payload[FieldScopeIDs])
	assert.Equal(t, []string{"3", "0"}, payload[FieldScopeLevels])
	assert.Equal(t, "30", payload.Get(FieldProblemCount))
	assert.Empty(t, payload.Get(FieldScopeID))
}

func TestEmptyCountIsOptional(t *testing.T) {
	sel := selection.New()
	c := New(sel, nil)
	c.SetBounds(&Bounds{Min: 10, Max: 50})
	c.SetTitle("Quiz")
	sel.Select(domain.Node{ID: "2", Level: domain.Textbook, Title: "Chemistry"})
	assert.True(t, c.Enabled())

	payload, err := c.Payload()
	require.NoError(t, err)
	assert.Empty(t, payload.Get(FieldProblemCount))
}

func TestCascadePicksFirstOptionDownToTarget(t *testing.T) {
	f := newCascade()
	c := New(selection.New(), f)
	c.SetMode(domain.ModeSingle)
	c.SetTitle("Quiz")
	c.SetTarget(domain.Lesson)
	c.SetOptions(domain.Textbook, []domain.Node{{ID: "1", Level: domain.Textbook, Title: "Physics"}})

	require.NoError(t, c.Choose(context.Background(), domain.Textbook, "1"))
	assert.Equal(t, "10", c.Value(domain.Unit))
	assert.Equal(t, "100", c.Value(domain.Chapter))
	assert.Equal(t, "1000", c.Value(domain.Lesson))
	assert.Len(t, c.Options(domain.Lesson), 2)
	assert.True(t, c.Enabled())

	require.NoError(t, c.Choose(context.Background(), domain.Unit, "11"))
	assert.Empty(t, c.Value(domain.Chapter))
	assert.Empty(t, c.Options(domain.Lesson))
	assert.False(t, c.Enabled())
}

func TestCascadeStopsAtTarget(t *testing.T) {
	f := newCascade()
	c := New(selection.New(), f)
	c.SetTarget(domain.Textbook)
	require.NoError(t, c.Choose(context.Background(), domain.Textbook, "1"))
	assert.Equal(t, 0, f.calls)

	c.SetTarget(domain.Unit)
	require.NoError(t, c.Fill(context.Background()))
	assert.Equal(t, "10", c.Value(domain.Unit))
	assert.Equal(t, 1, f.calls)

	c.SetTarget(domain.Textbook)
	assert.Empty(t, c.Value(domain.Unit))
	assert.Equal(t, "1", c.Value(domain.Textbook))
}

func TestCascadeFailureKeepsShallowerChoices(t *testing.T) {
	f := newCascade()
	f.err = errors.New("offline")
	c := New(selection.New(), f)
	c.SetMode(domain.ModeSingle)
	c.SetTitle("Quiz")
	c.SetTarget(domain.Unit)

	err := c.Choose(context.Background(), domain.Textbook, "1")
	require.Error(t, err)
	assert.Equal(t, "1", c.Value(domain.Textbook))
	assert.False(t, c.Enabled())
}

type recordingSubmitter struct {
	got  url.Values
	err  error
	exam *domain.Exam
}

func (r *recordingSubmitter) SubmitExam(_ context.Context, v url.Values) (*domain.Exam, error) {
	r.got = v
	return r.exam, r.err
}

func TestSubmitBlocksOnValidation(t *testing.T) {
	c := New(selection.New(), nil)
	s := &recordingSubmitter{}
	_, err := c.Submit(context.Background(), s)
	require.Error(t, err)
	assert.Nil(t, s.got)
	assert.Equal(t, "Please enter a title", c.Notice())

	c.DismissNotice()
	assert.Empty(t, c.Notice())
}

func TestSubmitPostsPayload(t *testing.T) {
	sel := selection.New()
	c := New(sel, nil)
	c.SetTitle("Quiz")
	sel.Select(domain.Node{ID: "2", Level: domain.Textbook, Title: "Chemistry"})
	s := &recordingSubmitter{exam: &domain.Exam{ID: "e1"}}

	exam, err := c.Submit(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, "e1", exam.ID)
	assert.Equal(t, []string{"2"}, s.got[FieldScopeIDs])
	assert.Empty(t, c.Notice())
}

func TestHTTPSubmitter(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/exams/custom/", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		got = r.PostForm
		if r.PostForm.Get(FieldTitle) == "bad" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "no problems found"})
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(domain.Exam{ID: "abc", Title: r.PostForm.Get(FieldTitle)})
	}))
	defer srv.Close()

	s := &HTTPSubmitter{BaseURL: srv.URL + "/"}
	exam, err := s.SubmitExam(context.Background(), url.Values{FieldTitle: {"Quiz"}, FieldScopeIDs: {"1", "2"}})
	require.NoError(t, err)
	assert.Equal(t, "abc", exam.ID)
	assert.Equal(t, []string{"1", "2"}, got[FieldScopeIDs])

	_, err = s.SubmitExam(context.Background(), url.Values{FieldTitle: {"bad"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no problems found")
}
