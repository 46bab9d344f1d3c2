package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/warranty-notify/internal/theme"
)

// Layout manages the pop-over's terminal layout dimensions.
type Layout struct {
	Width           int
	Height          int
	HeaderHeight    int
	StatusBarHeight int
	ToastHeight     int
}

// NewLayout creates a Layout with the given terminal dimensions.
// Header and status bar take one line each.
func NewLayout(width, height int) Layout {
	return Layout{
		Width:           width,
		Height:          height,
		HeaderHeight:    1,
		StatusBarHeight: 1,
	}
}

// WithToast reserves room for a toast of the given rendered height.
func (l Layout) WithToast(height int) Layout {
	l.ToastHeight = height
	return l
}

// ContentWidth returns the full available width.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the height left for the list after the header,
// status bar and any toast.
func (l Layout) ContentHeight() int {
	h := l.Height - l.HeaderHeight - l.StatusBarHeight - l.ToastHeight
	if h < 0 {
		return 0
	}
	return h
}

// RenderHeader renders the top bar: a title with an optional badge on
// the left and the connection status on the right.
func (l Layout) RenderHeader(title, badge, status string) string {
	left := theme.HeaderStyle.Render(title)
	if badge != "" {
		left = lipgloss.JoinHorizontal(lipgloss.Top, left, badge)
	}

	gap := l.Width - lipgloss.Width(left) - lipgloss.Width(status)
	if gap < 0 {
		gap = 0
	}

	filler := lipgloss.NewStyle().
		Width(gap).
		Background(theme.HeaderStyle.GetBackground()).
		Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top, left, filler, status)
}

// RenderStatusBar renders the bottom status bar with keyboard hints.
func (l Layout) RenderStatusBar(hints string) string {
	rendered := theme.StatusBarStyle.Render(hints)

	gap := l.Width - lipgloss.Width(rendered)
	if gap < 0 {
		gap = 0
	}

	filler := theme.StatusBarStyle.Render(
		lipgloss.NewStyle().
			Width(gap).
			Background(theme.StatusBarStyle.GetBackground()).
			Render(""),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, rendered, filler)
}

// RenderWithFrame stacks the header, content, an optional toast and the
// status bar.
func (l Layout) RenderWithFrame(header, content, toast, statusBar string) string {
	parts := []string{header, content}
	if toast != "" {
		parts = append(parts, toast)
	}
	parts = append(parts, statusBar)
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}
