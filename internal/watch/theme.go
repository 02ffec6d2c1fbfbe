// Package watch implements the watch TUI: a read-only terminal
// dashboard attaching to a running broker's /events feed and rendering
// queue depth, in-flight count, and a scrolling lifecycle event log.
package watch

import "github.com/charmbracelet/lipgloss"

// Theme centralizes styling for the watch TUI.
type Theme struct {
	StatusOK       lipgloss.Style
	StatusWarn     lipgloss.Style
	StatusFailed   lipgloss.Style
	Border         lipgloss.Style
	Title          lipgloss.Style
	Dim            lipgloss.Style
	Highlight      lipgloss.Style
	TickerActive   lipgloss.Style
	TickerInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")
	return Theme{
		StatusOK:     lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		StatusWarn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		StatusFailed: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Dim:            lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight:      lipgloss.NewStyle().Foreground(lipgloss.Color("#E5C07B")),
		TickerActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		TickerInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}
