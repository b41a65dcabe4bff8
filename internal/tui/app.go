// Package tui is the interactive scope picker. The tree, selection and form
// state are only touched from Update; fetches and the final post run as
// commands and come back as messages.
package tui

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pbaille/scopes/internal/domain"
	"github.com/pbaille/scopes/internal/form"
	"github.com/pbaille/scopes/internal/hierarchy"
	"github.com/pbaille/scopes/internal/logging"
	"github.com/pbaille/scopes/internal/selection"
	"github.com/pbaille/scopes/internal/summary"
	"github.com/pbaille/scopes/internal/tree"
)

const defaultDebounce = 300 * time.Millisecond

// focusArea is the pane receiving keys
type focusArea int

const (
	focusTree focusArea = iota
	focusSummary
	focusTitle
	focusCount
	focusSearch
)

type childrenLoadedMsg struct {
	ref   domain.Ref
	nodes []domain.Node
	err   error
}

type searchTickMsg struct {
	seq int
}

type submitDoneMsg struct {
	exam *domain.Exam
	err  error
}

// AppOption customizes App construction
type AppOption func(*App)

// WithLogger attaches a logger to the picker and its components
func WithLogger(l *logging.Logger) AppOption {
	return func(a *App) {
		if l != nil {
			a.log = l
		}
	}
}

// WithDebounce sets the delay between the last search keystroke and filtering
func WithDebounce(d time.Duration) AppOption {
	return func(a *App) {
		if d > 0 {
			a.debounce = d
		}
	}
}

// WithSubmitter sets where ctrl+s posts the form
func WithSubmitter(s form.Submitter) AppOption {
	return func(a *App) { a.submitter = s }
}

// WithBounds declares the problem-count range
func WithBounds(b *form.Bounds) AppOption {
	return func(a *App) { a.bounds = b }
}

// WithMode sets the initial form mode
func WithMode(m domain.Mode) AppOption {
	return func(a *App) { a.mode = m }
}

// App is the picker model
type App struct {
	ctx       context.Context
	fetcher   hierarchy.Fetcher
	submitter form.Submitter
	log       *logging.Logger
	debounce  time.Duration
	bounds    *form.Bounds
	mode      domain.Mode

	sel  *selection.Model
	view *tree.View
	form *form.Controller

	focus        focusArea
	cursor       int
	summaryFocus int

	search    textinput.Model
	searchSeq int
	title     textinput.Model
	count     textinput.Model

	spinner spinner.Model
	loading int

	status     string
	submitting bool
	exam       *domain.Exam

	width  int
	height int
}

// NewApp builds a picker over the given textbooks
func NewApp(ctx context.Context, fetcher hierarchy.Fetcher, roots []domain.Node, opts ...AppOption) *App {
	a := &App{
		ctx:      ctx,
		fetcher:  fetcher,
		log:      logging.Nop(),
		debounce: defaultDebounce,
		mode:     domain.ModeMulti,
		width:    100,
		height:   30,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}

	a.sel = selection.New()
	a.view = tree.New(fetcher, a.sel, roots)
	a.view.SetLogger(a.log.With("component", "tree"))
	a.form = form.New(a.sel, fetcher)
	a.form.SetLogger(a.log.With("component", "form"))
	a.form.SetMode(a.mode)
	a.form.SetBounds(a.bounds)

	a.search = newInput("search scopes", 64)
	a.title = newInput("exam title", 120)
	a.count = newInput("problem count", 4)
	a.spinner = spinner.New(spinner.WithSpinner(spinner.Dot))
	return a
}

func newInput(placeholder string, limit int) textinput.Model {
	in := textinput.New()
	in.Placeholder = placeholder
	in.Prompt = ""
	in.CharLimit = limit
	in.Cursor.SetMode(cursor.CursorStatic)
	return in
}

// Exam returns the exam created by the last successful submit
func (a *App) Exam() *domain.Exam {
	return a.exam
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return nil
}

// Update applies a message to the picker state.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case childrenLoadedMsg:
		a.loading--
		a.view.Complete(msg.ref, msg.nodes, msg.err)
		if msg.err != nil {
			a.status = fmt.Sprintf("Could not load %s, press r to retry", a.titleOf(msg.ref))
		}
		a.clampCursor()
		return a, nil

	case searchTickMsg:
		if msg.seq != a.searchSeq {
			return a, nil
		}
		a.view.Filter(a.search.Value())
		a.cursor = 0
		return a, nil

	case submitDoneMsg:
		a.submitting = false
		exam, err := a.form.Settle(msg.exam, msg.err)
		if err != nil {
			a.log.Warn("submit failed", "error", err)
			a.status = a.form.Notice()
			return a, nil
		}
		a.exam = exam
		a.status = fmt.Sprintf("Created exam %q with %d problems", exam.Title, exam.ProblemCount)
		return a, tea.Quit

	case spinner.TickMsg:
		if a.loading <= 0 && !a.submitting {
			return a, nil
		}
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "ctrl+c":
		return a, tea.Quit
	case "ctrl+s":
		return a, a.submit()
	}

	switch a.focus {
	case focusSearch:
		return a.handleSearchKey(msg)
	case focusTitle, focusCount:
		return a.handleInputKey(msg)
	case focusSummary:
		return a.handleSummaryKey(msg)
	}
	return a.handleTreeKey(msg)
}

func (a *App) handleTreeKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := a.view.Rows()
	switch msg.String() {
	case "q":
		return a, tea.Quit
	case "up", "k":
		if a.cursor > 0 {
			a.cursor--
		}
	case "down", "j":
		if a.cursor < len(rows)-1 {
			a.cursor++
		}
	case "enter", "right", "l":
		return a, a.activate(rows)
	case "left", "h":
		if row, ok := a.currentRow(rows); ok {
			a.view.Collapse(row.Ref)
			a.focusRef(row.Ref)
		}
	case "r":
		if row, ok := a.currentRow(rows); ok {
			return a, a.retry(row.Ref)
		}
	case " ", "space":
		if row, ok := a.currentRow(rows); ok && row.Kind == tree.RowNode {
			a.toggle(row)
		}
	case "/":
		a.focus = focusSearch
		return a, a.search.Focus()
	case "m":
		a.toggleMode()
	case "tab":
		return a, a.nextFocus()
	case "esc":
		a.form.DismissNotice()
		a.status = ""
	}
	return a, nil
}

func (a *App) handleSummaryKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	items := summary.Flatten(summary.Build(a.sel))
	switch msg.String() {
	case "up", "k":
		if a.summaryFocus > 0 {
			a.summaryFocus--
		}
	case "down", "j":
		if a.summaryFocus < len(items)-1 {
			a.summaryFocus++
		}
	case "x", "delete", "backspace":
		if a.summaryFocus < len(items) {
			item := items[a.summaryFocus]
			if summary.Remove(a.sel, item.Ref) {
				a.status = fmt.Sprintf("Removed %s %q", strings.ToLower(item.Type), item.Title)
			}
			if a.summaryFocus >= len(items)-1 && a.summaryFocus > 0 {
				a.summaryFocus--
			}
		}
	case "tab":
		return a, a.nextFocus()
	case "esc":
		a.focus = focusTree
	case "q":
		return a, tea.Quit
	}
	return a, nil
}

func (a *App) handleSearchKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		a.search.Blur()
		a.focus = focusTree
		return a, nil
	case "esc":
		a.search.SetValue("")
		a.search.Blur()
		a.focus = focusTree
		a.searchSeq++
		a.view.ClearFilter()
		a.cursor = 0
		return a, nil
	}

	before := a.search.Value()
	var cmd tea.Cmd
	a.search, cmd = a.search.Update(msg)
	if a.search.Value() == before {
		return a, cmd
	}
	a.searchSeq++
	seq := a.searchSeq
	tick := tea.Tick(a.debounce, func(time.Time) tea.Msg { return searchTickMsg{seq: seq} })
	return a, tea.Batch(cmd, tick)
}

func (a *App) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "tab":
		return a, a.nextFocus()
	case "esc", "enter":
		a.blurInputs()
		a.focus = focusTree
		return a, nil
	}

	var cmd tea.Cmd
	if a.focus == focusTitle {
		a.title, cmd = a.title.Update(msg)
		a.form.SetTitle(a.title.Value())
	} else {
		a.count, cmd = a.count.Update(msg)
		a.form.SetProblemCount(a.count.Value())
	}
	return a, cmd
}

// nextFocus cycles tree, summary, title and count
func (a *App) nextFocus() tea.Cmd {
	a.blurInputs()
	switch a.focus {
	case focusTree:
		a.focus = focusSummary
		a.summaryFocus = 0
	case focusSummary:
		a.focus = focusTitle
		return a.title.Focus()
	case focusTitle:
		if a.form.Mode() == domain.ModeMulti && a.bounds != nil {
			a.focus = focusCount
			return a.count.Focus()
		}
		a.focus = focusTree
	default:
		a.focus = focusTree
	}
	return nil
}

func (a *App) blurInputs() {
	a.title.Blur()
	a.count.Blur()
	a.search.Blur()
}

// activate expands or collapses the node under the cursor, or retries a
// failed placeholder
func (a *App) activate(rows []tree.Row) tea.Cmd {
	row, ok := a.currentRow(rows)
	if !ok {
		return nil
	}
	switch row.Kind {
	case tree.RowError:
		return a.retry(row.Ref)
	case tree.RowNode:
	default:
		return nil
	}
	if row.Leaf {
		return nil
	}
	fetch, err := a.view.BeginExpand(row.Ref)
	if err != nil {
		a.status = err.Error()
		return nil
	}
	if !fetch {
		return nil
	}
	return a.fetchChildren(row.Ref)
}

func (a *App) retry(ref domain.Ref) tea.Cmd {
	fetch, err := a.view.Retry(ref)
	if err != nil {
		a.status = err.Error()
		return nil
	}
	if !fetch {
		return nil
	}
	a.status = ""
	return a.fetchChildren(ref)
}

func (a *App) fetchChildren(ref domain.Ref) tea.Cmd {
	level, _ := ref.Level.Next()
	a.loading++
	ctx, fetcher := a.ctx, a.fetcher
	fetch := func() tea.Msg {
		nodes, err := fetcher.Children(ctx, level, ref.ID)
		return childrenLoadedMsg{ref: ref, nodes: nodes, err: err}
	}
	if a.loading == 1 {
		return tea.Batch(fetch, a.spinner.Tick)
	}
	return fetch
}

// toggle adds or removes the node under the cursor. In single mode it
// picks the node as the one scope of the exam instead.
func (a *App) toggle(row tree.Row) {
	if a.form.Mode() == domain.ModeSingle {
		a.pickSingle(row.Ref)
		return
	}
	switch row.State {
	case selection.Selected:
		a.view.Deselect(row.Ref)
		a.status = fmt.Sprintf("Removed %q", row.Title)
	case selection.AncestorSelected:
		a.status = "Already included by a selected parent"
	case selection.DescendantSelected:
		a.status = "Remove the selected items below it first"
	default:
		if err := a.view.Select(row.Ref); err != nil {
			a.status = err.Error()
			return
		}
		a.status = fmt.Sprintf("Added %s %q", strings.ToLower(row.Ref.Level.Label()), row.Title)
	}
}

func (a *App) pickSingle(ref domain.Ref) {
	a.form.SetTarget(ref.Level)
	path := a.sel.Ancestors(ref)
	for i := len(path) - 1; i >= 0; i-- {
		a.form.Pick(path[i].Level, path[i].ID)
	}
	a.form.Pick(ref.Level, ref.ID)
	a.status = fmt.Sprintf("Exam scope: %s %q", strings.ToLower(ref.Level.Label()), a.titleOf(ref))
}

func (a *App) toggleMode() {
	if a.form.Mode() == domain.ModeMulti {
		a.form.SetMode(domain.ModeSingle)
	} else {
		a.form.SetMode(domain.ModeMulti)
	}
	a.status = "Mode: " + string(a.form.Mode())
}

func (a *App) submit() tea.Cmd {
	if a.submitting {
		return nil
	}
	if a.submitter == nil {
		a.status = "No exam service configured"
		return nil
	}
	payload, err := a.form.Prepare()
	if err != nil {
		a.status = a.form.Notice()
		return nil
	}
	a.submitting = true
	a.status = "Creating exam..."
	ctx, s := a.ctx, a.submitter
	post := func() tea.Msg {
		exam, err := s.SubmitExam(ctx, cloneValues(payload))
		return submitDoneMsg{exam: exam, err: err}
	}
	return tea.Batch(post, a.spinner.Tick)
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

func (a *App) currentRow(rows []tree.Row) (tree.Row, bool) {
	if a.cursor < 0 || a.cursor >= len(rows) {
		return tree.Row{}, false
	}
	return rows[a.cursor], true
}

// focusRef moves the cursor onto ref's row
func (a *App) focusRef(ref domain.Ref) {
	for i, r := range a.view.Rows() {
		if r.Kind == tree.RowNode && r.Ref == ref {
			a.cursor = i
			return
		}
	}
}

func (a *App) clampCursor() {
	n := len(a.view.Rows())
	if a.cursor >= n {
		a.cursor = n - 1
	}
	if a.cursor < 0 {
		a.cursor = 0
	}
}

func (a *App) titleOf(ref domain.Ref) string {
	if n, ok := a.view.Node(ref); ok {
		return n.Title
	}
	return ref.String()
}

// View renders the picker
func (a *App) View() string {
	treeWidth := max(30, a.width*3/5-4)
	sumWidth := max(24, a.width-treeWidth-8)

	header := titleStyle.Render("Scope picker") + hintStyle.Render(fmt.Sprintf("  mode: %s", a.form.Mode()))

	treePane := paneStyle
	if a.focus == focusTree || a.focus == focusSearch {
		treePane = activePane
	}
	sumPane := paneStyle
	if a.focus == focusSummary {
		sumPane = activePane
	}

	focus := -1
	if a.focus == focusSummary {
		focus = a.summaryFocus
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		treePane.Width(treeWidth).Render(a.renderTree(treeWidth)),
		sumPane.Width(sumWidth).Render(summary.Render(summary.Build(a.sel), sumWidth-2, focus)),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		a.renderInput("Search", a.search),
		body,
		a.renderInput("Title", a.title),
		a.renderCount(),
		a.renderStatus(),
		hintStyle.Render("enter expand · space select · r retry · / search · tab focus · m mode · ctrl+s submit · q quit"),
	)
}

func (a *App) renderInput(label string, in textinput.Model) string {
	return labelStyle.Render(label) + in.View()
}

func (a *App) renderCount() string {
	if a.form.Mode() != domain.ModeMulti || a.bounds == nil {
		return ""
	}
	label := fmt.Sprintf("(%d-%d)", a.bounds.Min, a.bounds.Max)
	return a.renderInput("Problems", a.count) + " " + hintStyle.Render(label)
}

func (a *App) renderStatus() string {
	var parts []string
	if a.submitting {
		parts = append(parts, a.spinner.View())
	}
	if a.status != "" {
		parts = append(parts, a.status)
	}
	if err := a.form.Err(); err != nil {
		parts = append(parts, errorStyle.Render(err.Error()))
	} else {
		parts = append(parts, selectedStyle.Render("Ready to submit"))
	}
	return strings.Join(parts, "  ")
}

func (a *App) renderTree(width int) string {
	rows := a.view.Rows()
	if len(rows) == 0 {
		if a.view.Query() != "" {
			return hintStyle.Render("No loaded scope matches")
		}
		return hintStyle.Render("No textbooks available")
	}

	height := max(5, a.height-12)
	start := 0
	if a.cursor >= height {
		start = a.cursor - height + 1
	}
	end := min(len(rows), start+height)

	var sb strings.Builder
	for i := start; i < end; i++ {
		line := a.renderRow(rows[i], width-4)
		if i == a.cursor && a.focus == focusTree {
			line = cursorStyle.Render("> ") + line
		} else {
			line = "  " + line
		}
		sb.WriteString(line)
		if i < end-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

func (a *App) renderRow(r tree.Row, width int) string {
	indent := strings.Repeat("  ", r.Depth)
	switch r.Kind {
	case tree.RowLoading:
		return indent + a.spinner.View() + " " + hintStyle.Render(r.Title)
	case tree.RowError:
		return indent + errorStyle.Render(r.Title+" (r to retry)")
	case tree.RowEmpty:
		return indent + hintStyle.Render(r.Title)
	}

	marker := "▸"
	switch {
	case r.Leaf:
		marker = "•"
	case r.Expanded:
		marker = "▾"
	}

	title := truncate(r.Title, width-len(indent)-8)
	if r.Match {
		title = matchStyle.Render(title)
	}

	switch r.State {
	case selection.Selected:
		return indent + marker + " " + selectedStyle.Render("[x] ") + title
	case selection.AncestorSelected:
		return indent + marker + " " + coveredStyle.Render("[-] "+r.Title)
	case selection.DescendantSelected:
		return indent + marker + " " + coveredStyle.Render("[~] ") + title
	}
	if a.form.Mode() == domain.ModeSingle && a.form.Value(r.Ref.Level) == r.Ref.ID {
		return indent + marker + " " + selectedStyle.Render("(*) ") + title
	}
	return indent + marker + " [ ] " + title
}

func truncate(s string, n int) string {
	if n < 4 {
		n = 4
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}
