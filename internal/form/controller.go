// Package form gates submission of a custom exam. In single mode one scope
// is picked through cascading per-level choices; in multi mode the scopes
// come from the selection model.
package form

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/pbaille/scopes/internal/domain"
	"github.com/pbaille/scopes/internal/hierarchy"
	"github.com/pbaille/scopes/internal/logging"
	"github.com/pbaille/scopes/internal/selection"
)

// Form field names, as posted
const (
	FieldMode         = "mode"
	FieldTitle        = "title"
	FieldScopeType    = "scope_type"
	FieldScopeID      = "scope_id"
	FieldScopeIDs     = "scope_ids"
	FieldScopeLevels  = "scope_levels"
	FieldProblemCount = "problem_count"
)

// ValidationError names the field that blocks submission
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Bounds is the inclusive range of the problem count
type Bounds struct {
	Min int
	Max int
}

// Controller holds the form state
type Controller struct {
	mode   domain.Mode
	title  string
	target domain.Level
	hasTgt bool
	picks  map[domain.Level]string

	options map[domain.Level][]domain.Node

	countRaw string
	bounds   *Bounds

	sel     *selection.Model
	fetcher hierarchy.Fetcher
	log     *logging.Logger

	err    error
	notice string
}

// New creates a controller over a selection model. fetcher feeds the
// single-mode cascade and may be nil when only multi mode is used.
func New(sel *selection.Model, fetcher hierarchy.Fetcher) *Controller {
	c := &Controller{
		mode:    domain.ModeMulti,
		picks:   make(map[domain.Level]string),
		options: make(map[domain.Level][]domain.Node),
		sel:     sel,
		fetcher: fetcher,
		log:     logging.Nop(),
	}
	sel.OnChange(func(selection.Change) { c.revalidate() })
	c.revalidate()
	return c
}

// SetLogger attaches a logger
func (c *Controller) SetLogger(l *logging.Logger) {
	if l != nil {
		c.log = l
	}
}

// Mode returns the active mode
func (c *Controller) Mode() domain.Mode { return c.mode }

// SetMode switches between single and multi scope
func (c *Controller) SetMode(m domain.Mode) {
	c.mode = m
	c.revalidate()
}

// Title returns the current title
func (c *Controller) Title() string { return c.title }

// SetTitle sets the exam title
func (c *Controller) SetTitle(title string) {
	c.title = title
	c.revalidate()
}

// SetBounds declares the problem-count range; nil removes the field
func (c *Controller) SetBounds(b *Bounds) {
	c.bounds = b
	c.revalidate()
}

// ProblemCount returns the raw count field
func (c *Controller) ProblemCount() string { return c.countRaw }

// SetProblemCount sets the raw count field
func (c *Controller) SetProblemCount(raw string) {
	c.countRaw = strings.TrimSpace(raw)
	c.revalidate()
}

// Target returns the single-mode target level
func (c *Controller) Target() (domain.Level, bool) {
	return c.target, c.hasTgt
}

// SetTarget picks the level the single-mode scope is taken from. Choices
// below the target are dropped.
func (c *Controller) SetTarget(l domain.Level) {
	c.target = l
	c.hasTgt = true
	for _, lv := range domain.Levels {
		if lv > l {
			delete(c.picks, lv)
			delete(c.options, lv)
		}
	}
	c.revalidate()
}

// Value returns the choice at level l
func (c *Controller) Value(l domain.Level) string {
	return c.picks[l]
}

// Options returns the choices offered at level l
func (c *Controller) Options(l domain.Level) []domain.Node {
	return c.options[l]
}

// SetOptions replaces the choices at level l; the textbooks are set this way
func (c *Controller) SetOptions(l domain.Level, nodes []domain.Node) {
	c.options[l] = nodes
}

// Pick records a choice at level l and clears every deeper choice
func (c *Controller) Pick(l domain.Level, id string) {
	c.picks[l] = strings.TrimSpace(id)
	for _, lv := range domain.Levels {
		if lv > l {
			delete(c.picks, lv)
			delete(c.options, lv)
		}
	}
	c.revalidate()
}

// Choose records a choice and, down to the target level, loads the next
// level's options and picks the first of each.
func (c *Controller) Choose(ctx context.Context, l domain.Level, id string) error {
	c.Pick(l, id)
	if id == "" || !c.hasTgt || l >= c.target || c.fetcher == nil {
		return nil
	}
	next, ok := l.Next()
	if !ok {
		return nil
	}
	nodes, err := c.fetcher.Children(ctx, next, id)
	if err != nil {
		c.log.Warn("cascade fetch failed", "level", next.Label(), "parent", id, "error", err)
		return err
	}
	c.options[next] = nodes
	if len(nodes) == 0 {
		c.revalidate()
		return nil
	}
	return c.Choose(ctx, next, nodes[0].ID)
}

// Fill continues the cascade from the deepest existing choice down to the
// target, as when the target level is changed after a textbook was chosen.
func (c *Controller) Fill(ctx context.Context) error {
	if !c.hasTgt {
		return nil
	}
	for l := c.target; l >= domain.Textbook; l-- {
		if id := c.picks[l]; id != "" {
			if l == c.target {
				return nil
			}
			return c.Choose(ctx, l, id)
		}
	}
	return nil
}

// Err returns the current validation error, nil when submission is allowed
func (c *Controller) Err() error { return c.err }

// Enabled reports whether submission is allowed
func (c *Controller) Enabled() bool { return c.err == nil }

// Notice returns the transient message of the last blocked submission
func (c *Controller) Notice() string { return c.notice }

// DismissNotice clears the transient message
func (c *Controller) DismissNotice() { c.notice = "" }

// Validate re-checks the form and returns the first blocking problem
func (c *Controller) Validate() error {
	c.revalidate()
	return c.err
}

func (c *Controller) revalidate() {
	c.err = c.check()
}

func (c *Controller) check() error {
	if strings.TrimSpace(c.title) == "" {
		return &ValidationError{Field: FieldTitle, Message: "Please enter a title"}
	}
	switch c.mode {
	case domain.ModeSingle:
		if !c.hasTgt {
			return &ValidationError{Field: FieldScopeType, Message: "Please select a scope type"}
		}
		if c.picks[c.target] == "" {
			return &ValidationError{
				Field:   FieldScopeID,
				Message: fmt.Sprintf("Please select a %s", strings.ToLower(c.target.Label())),
			}
		}
	case domain.ModeMulti:
		if c.sel.Len() == 0 {
			return &ValidationError{Field: FieldScopeIDs, Message: "Please select at least one scope"}
		}
		if _, err := c.count(); err != nil {
			return err
		}
	default:
		return &ValidationError{Field: FieldMode, Message: "Please select a mode"}
	}
	return nil
}

// count parses the problem count; 0 means not set
func (c *Controller) count() (int, error) {
	if c.bounds == nil || c.countRaw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(c.countRaw)
	if err != nil {
		return 0, &ValidationError{Field: FieldProblemCount, Message: "Problem count must be a whole number"}
	}
	if n < c.bounds.Min || n > c.bounds.Max {
		return 0, &ValidationError{
			Field:   FieldProblemCount,
			Message: fmt.Sprintf("Problem count must be between %d and %d", c.bounds.Min, c.bounds.Max),
		}
	}
	return n, nil
}

// Payload names the fields for the active mode, as done right before a
// post. It fails with the validation error when the form is not ready.
func (c *Controller) Payload() (url.Values, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	v := url.Values{}
	v.Set(FieldMode, string(c.mode))
	v.Set(FieldTitle, strings.TrimSpace(c.title))
	switch c.mode {
	case domain.ModeSingle:
		v.Set(FieldScopeType, c.target.Label())
		v.Set(FieldScopeID, c.picks[c.target])
	case domain.ModeMulti:
		for _, r := range c.sel.Refs() {
			v.Add(FieldScopeIDs, r.ID)
			v.Add(FieldScopeLevels, strconv.Itoa(int(r.Level)))
		}
		if n, _ := c.count(); n > 0 {
			v.Set(FieldProblemCount, strconv.Itoa(n))
		}
	}
	return v, nil
}

// Submitter posts a payload and returns the created exam
type Submitter interface {
	SubmitExam(ctx context.Context, payload url.Values) (*domain.Exam, error)
}

// Submit validates and posts the form. A validation failure blocks the
// post and leaves a notice; nothing is retried.
func (c *Controller) Submit(ctx context.Context, s Submitter) (*domain.Exam, error) {
	payload, err := c.Prepare()
	if err != nil {
		return nil, err
	}
	exam, err := s.SubmitExam(ctx, payload)
	return c.Settle(exam, err)
}

// Prepare is the synchronous half of Submit: it returns the payload to post
// or records a notice when validation blocks it.
func (c *Controller) Prepare() (url.Values, error) {
	payload, err := c.Payload()
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			c.notice = ve.Message
		}
		c.log.Info("submission blocked", "field", fieldOf(err))
		return nil, err
	}
	return payload, nil
}

// Settle records the outcome of a post started after Prepare
func (c *Controller) Settle(exam *domain.Exam, err error) (*domain.Exam, error) {
	if err == nil && exam == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		c.notice = "Could not create the exam, please try again"
		return nil, fmt.Errorf("submit exam: %w", err)
	}
	c.notice = ""
	c.log.Info("exam created", "exam", exam.ID, "mode", string(c.mode))
	return exam, nil
}

func fieldOf(err error) string {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Field
	}
	return ""
}
