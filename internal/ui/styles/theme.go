// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Theme holds the styled components for the application. It detects the
// terminal's background unless the configuration forces a mode.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Width  int
	Height int

	// ==========================================================================
	// HEADER AND STATUS BAR
	// ==========================================================================

	Header      lipgloss.Style
	HeaderTitle lipgloss.Style
	StatusBar   lipgloss.Style
	StatusKey   lipgloss.Style
	StatusDesc  lipgloss.Style
	StatusPhase lipgloss.Style

	// ==========================================================================
	// MESSAGES
	// ==========================================================================

	UserLabel      lipgloss.Style
	AssistantLabel lipgloss.Style
	MessageBody    lipgloss.Style
	Timestamp      lipgloss.Style

	// ==========================================================================
	// ACTION CARDS
	// ==========================================================================

	ActionCard      lipgloss.Style
	ActionTitle     lipgloss.Style
	ActionMessage   lipgloss.Style
	ActionPending   lipgloss.Style
	ActionDone      lipgloss.Style
	ActionCancelled lipgloss.Style

	// ==========================================================================
	// INPUT, SPINNER, ERRORS
	// ==========================================================================

	InputPrompt lipgloss.Style
	Spinner     lipgloss.Style
	ErrorText   lipgloss.Style

	// ==========================================================================
	// HISTORY LIST
	// ==========================================================================

	ListTitle        lipgloss.Style
	ListItem         lipgloss.Style
	ListItemSelected lipgloss.Style
	ListMeta         lipgloss.Style
}

// New builds a theme for the given mode: "dark", "light", or "auto".
func New(mode string) *Theme {
	isDark := false
	switch mode {
	case "dark":
		isDark = true
	case "light":
		isDark = false
	default:
		isDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{
		IsDark:       isDark,
		ColorProfile: termenv.ColorProfile(),
	}

	t.Header = lipgloss.NewStyle().
		Background(SurfaceDim).
		Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().
		Foreground(Indigo).
		Bold(true)

	t.StatusBar = lipgloss.NewStyle().
		Background(SurfaceDim).
		Foreground(TextSecondary).
		Padding(0, 1)
	t.StatusKey = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.StatusDesc = lipgloss.NewStyle().Foreground(TextMuted)
	t.StatusPhase = lipgloss.NewStyle().Foreground(Amber)

	t.UserLabel = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.AssistantLabel = lipgloss.NewStyle().Foreground(Indigo).Bold(true)
	t.MessageBody = lipgloss.NewStyle().Foreground(TextPrimary)
	t.Timestamp = lipgloss.NewStyle().Foreground(TextMuted)

	t.ActionCard = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Amber).
		Padding(0, 1)
	t.ActionTitle = lipgloss.NewStyle().Foreground(Amber).Bold(true)
	t.ActionMessage = lipgloss.NewStyle().Foreground(TextPrimary)
	t.ActionPending = lipgloss.NewStyle().Foreground(Amber)
	t.ActionDone = lipgloss.NewStyle().Foreground(Emerald)
	t.ActionCancelled = lipgloss.NewStyle().Foreground(Rose)

	t.InputPrompt = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.Spinner = lipgloss.NewStyle().Foreground(Indigo)
	t.ErrorText = lipgloss.NewStyle().Foreground(Rose)

	t.ListTitle = lipgloss.NewStyle().Foreground(Indigo).Bold(true)
	t.ListItem = lipgloss.NewStyle().Foreground(TextPrimary)
	t.ListItemSelected = lipgloss.NewStyle().
		Foreground(Cyan).
		Bold(true)
	t.ListMeta = lipgloss.NewStyle().Foreground(TextMuted)

	return t
}

// SetSize records the terminal dimensions for layout calculations.
func (t *Theme) SetSize(width, height int) {
	t.Width = width
	t.Height = height
}

// StatusStyle returns the style for an action status badge.
func (t *Theme) StatusStyle(status string) lipgloss.Style {
	switch status {
	case "cancelled":
		return t.ActionCancelled
	case "completed", "uploaded", "downloaded":
		return t.ActionDone
	default:
		return t.ActionPending
	}
}
