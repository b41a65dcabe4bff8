// Package summary projects the selection into removable cards, textbooks
// first and lessons last.
package summary

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/pbaille/scopes/internal/domain"
	"github.com/pbaille/scopes/internal/selection"
)

var (
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	cardStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#555555")).Padding(0, 1)
	focusStyle = cardStyle.BorderForeground(lipgloss.Color("#F7B801"))
	typeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

// Item is one selected scope
type Item struct {
	Ref   domain.Ref
	Type  string
	Title string
}

// Group holds the items of one level, in selection order
type Group struct {
	Level domain.Level
	Items []Item
}

// Build groups the current selection by level
func Build(m *selection.Model) []Group {
	byLevel := make(map[domain.Level][]Item)
	for _, s := range m.Selected() {
		byLevel[s.Level] = append(byLevel[s.Level], Item{
			Ref:   s.Ref(),
			Type:  s.Level.Label(),
			Title: s.Title,
		})
	}
	var groups []Group
	for _, l := range domain.Levels {
		if items := byLevel[l]; len(items) > 0 {
			groups = append(groups, Group{Level: l, Items: items})
		}
	}
	return groups
}

// Flatten lists the items of groups in display order
func Flatten(groups []Group) []Item {
	var out []Item
	for _, g := range groups {
		out = append(out, g.Items...)
	}
	return out
}

// Remove is the action behind a card's remove button
func Remove(m *selection.Model, ref domain.Ref) bool {
	return m.Deselect(ref)
}

// Render draws the cards. focus is the index into Flatten(groups) of the
// highlighted card, or -1.
func Render(groups []Group, width, focus int) string {
	if len(groups) == 0 {
		return hintStyle.Render("No scopes selected yet.")
	}
	if width < 20 {
		width = 20
	}

	var sb strings.Builder
	idx := 0
	for gi, g := range groups {
		if gi > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(headStyle.Render(fmt.Sprintf("%ss (%d)", g.Level.Label(), len(g.Items))))
		sb.WriteString("\n")
		for _, it := range g.Items {
			style := cardStyle
			if idx == focus {
				style = focusStyle
			}
			body := typeStyle.Render(it.Type) + "  " + it.Title + "  " + hintStyle.Render("[x] remove")
			sb.WriteString(style.Width(width - 2).Render(body))
			sb.WriteString("\n")
			idx++
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}
