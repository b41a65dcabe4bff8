package tui

import "github.com/charmbracelet/lipgloss"

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	cursorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F7B801"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#48BB78"))
	coveredStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	matchStyle    = lipgloss.NewStyle().Underline(true)
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#E53E3E"))
	hintStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	paneStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#444444")).Padding(0, 1)
	activePane    = paneStyle.BorderForeground(lipgloss.Color("#5B8DEF"))
	labelStyle    = lipgloss.NewStyle().Width(9).Foreground(lipgloss.Color("#A0AEC0"))
)
