// Copyright (C) 2026 Droidops B.V.
// License: AGPL-3.0-only

package picker

import "github.com/charmbracelet/lipgloss"

var (
	accentColor  = lipgloss.Color("#34D399")
	brightColor  = lipgloss.Color("#ECEDEE")
	successColor = lipgloss.Color("#4ADE80")
	errorColor   = lipgloss.Color("#F87171")
	mutedColor   = lipgloss.Color("#64748B")
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true).
			MarginBottom(1)

	cursorStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)

	nameStyle = lipgloss.NewStyle().
			Foreground(brightColor)

	selectedNameStyle = lipgloss.NewStyle().
				Foreground(accentColor).
				Bold(true)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			MarginTop(1)

	kindBadge = lipgloss.NewStyle().
			Foreground(accentColor).
			Bold(true)
)

func statusDot(online bool) string {
	if online {
		return onlineStyle.Render("●")
	}
	return offlineStyle.Render("○")
}
