package popover

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/theme"
)

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.Title }

// Title returns the notification title for the list.
func (i Item) Title() string { return i.Notification.Title }

// Description returns the notification body.
func (i Item) Description() string { return i.Notification.Message }

// ItemDelegate renders a notification on two lines: a header with the
// unread marker, type and age, and the message below it.
type ItemDelegate struct {
	// now is overridable in tests.
	now func() time.Time
}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 2 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 1 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	fmt.Fprint(w, d.render(it.Notification, index == m.Index(), m.Width()))
}

func (d ItemDelegate) render(n model.Notification, selected bool, width int) string {
	marker := " "
	if n.Unread() {
		marker = theme.UnreadDotStyle.Render("●")
	}

	typeLabel := string(n.Type)
	if typeLabel == "" {
		typeLabel = string(model.TypeSystem)
	}
	typeBadge := theme.TypeStyle(typeLabel).Render(strings.ToUpper(typeLabel))

	age := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(d.timeAgo(n.CreatedAt))

	extras := ""
	if n.Metadata != nil && !n.Metadata.Empty() {
		extras = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Render(fmt.Sprintf(" [%d img, %d video]", len(n.Metadata.Images), len(n.Metadata.Videos)))
	}
	if n.IsCleared {
		extras += theme.DimmedStyle.Render(" (dismissed)")
	}

	header := fmt.Sprintf("%s %s %s%s  %s", marker, typeBadge, n.Title, extras, age)
	body := "  " + truncate(n.Message, width-6)
	if n.Link != "" {
		body += theme.DimmedStyle.Render("  → " + n.Link)
	}

	if !n.Unread() {
		header = theme.DimmedStyle.Render(header)
		body = theme.DimmedStyle.Render(body)
	}

	line := lipgloss.JoinVertical(lipgloss.Left, header, body)
	if selected {
		return theme.SelectedItemStyle.Render(line)
	}
	return theme.ListItemStyle.Render(line)
}

func (d ItemDelegate) timeAgo(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	now := time.Now
	if d.now != nil {
		now = d.now
	}
	return humanize.RelTime(t, now(), "ago", "from now")
}

// truncate shortens s to at most width runes, ending with an ellipsis.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 1 {
		return s
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	return string(r[:width-1]) + "…"
}
