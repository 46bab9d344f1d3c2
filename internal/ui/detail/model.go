// Package detail shows a single notification with its link and media.
package detail

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nhle/warranty-notify/internal/keys"
	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/theme"
	"github.com/nhle/warranty-notify/internal/ui/popover"
)

// BackMsg signals the parent to navigate back to the list view.
type BackMsg struct{}

// Model is the notification detail view component.
type Model struct {
	notification *model.Notification
	viewport     viewport.Model
	keys         *keys.KeyMap
	width        int
	height       int

	now func() time.Time
}

// New creates a new detail view model.
func New(k *keys.KeyMap, width, height int) Model {
	vp := viewport.New(width, height-2)
	vp.Style = lipgloss.NewStyle()

	return Model{
		viewport: vp,
		keys:     k,
		width:    width,
		height:   height,
		now:      time.Now,
	}
}

// Init returns the initial command for the detail view.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the detail view.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if cmd, handled := m.handleKeys(msg); handled {
			return m, cmd
		}
	}

	// Delegate to viewport for scrolling (j/k, up/down, pgup/pgdn)
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	if key.Matches(msg, m.keys.Back) {
		return func() tea.Msg { return BackMsg{} }, true
	}

	n := m.notification
	if n == nil {
		return nil, false
	}

	switch {
	case key.Matches(msg, m.keys.MarkRead):
		if !n.Unread() {
			return nil, true
		}
		return action(popover.ActionMarkRead, n.ID), true

	case key.Matches(msg, m.keys.Dismiss):
		if n.IsCleared {
			return nil, true
		}
		return action(popover.ActionDismiss, n.ID), true

	case key.Matches(msg, m.keys.Restore):
		if !n.IsCleared {
			return nil, true
		}
		return action(popover.ActionRestore, n.ID), true
	}
	return nil, false
}

func action(a popover.Action, id int64) tea.Cmd {
	return func() tea.Msg {
		return popover.ActionMsg{Action: a, ID: id}
	}
}

// View renders the detail view.
func (m Model) View() string {
	if m.notification == nil {
		return lipgloss.NewStyle().
			Width(m.width).
			Height(m.height).
			Align(lipgloss.Center, lipgloss.Center).
			Foreground(theme.ColorGray).
			Render("No notification selected")
	}
	return m.viewport.View()
}

// Current returns the displayed notification.
func (m Model) Current() (model.Notification, bool) {
	if m.notification == nil {
		return model.Notification{}, false
	}
	return *m.notification, true
}

// SetNotification replaces the displayed record and scrolls to the top.
func (m *Model) SetNotification(n model.Notification) {
	m.notification = &n
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoTop()
}

// Refresh updates the displayed record in place, keeping the scroll
// position. A record that no longer exists is left as it was.
func (m *Model) Refresh(records []model.Notification) {
	if m.notification == nil {
		return
	}
	for _, n := range records {
		if n.ID == m.notification.ID {
			m.notification = &n
			m.viewport.SetContent(m.renderContent())
			return
		}
	}
}

// SetSize updates the detail view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.viewport.Width = width
	m.viewport.Height = height - 2
	if m.notification != nil {
		m.viewport.SetContent(m.renderContent())
	}
}

// renderContent builds the full detail content string for the viewport.
func (m Model) renderContent() string {
	n := m.notification
	var sections []string

	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)
	sections = append(sections, titleStyle.Render(n.Title))

	typeBadge := theme.TypeStyle(string(n.Type)).Render(strings.ToUpper(string(n.Type)))
	sections = append(sections,
		lipgloss.JoinHorizontal(lipgloss.Top, typeBadge, "  ", statusBadge(*n)),
		"",
	)

	metaStyle := lipgloss.NewStyle().Foreground(theme.ColorGray)
	valStyle := lipgloss.NewStyle().Foreground(theme.ColorWhite)
	row := func(label, value string) string {
		return fmt.Sprintf("%s %s", metaStyle.Render(fmt.Sprintf("%-9s", label+":")), valStyle.Render(value))
	}

	if !n.CreatedAt.IsZero() {
		created := fmt.Sprintf("%s (%s)",
			n.CreatedAt.Local().Format("2006-01-02 15:04"),
			humanize.RelTime(n.CreatedAt, m.now(), "ago", "from now"))
		sections = append(sections, row("Created", created))
	}
	if n.Link != "" {
		sections = append(sections, row("Link", n.Link))
	}
	if md := n.Metadata; md != nil {
		for _, img := range md.Images {
			sections = append(sections, row("Image", img))
		}
		for _, v := range md.Videos {
			sections = append(sections, row("Video", v))
		}
	}

	sepStyle := lipgloss.NewStyle().Foreground(theme.ColorSubtle)
	separator := sepStyle.Render(strings.Repeat("─", max(min(m.width-4, 80), 0)))
	sections = append(sections, "", separator, "")

	body := n.Message
	if body == "" {
		body = lipgloss.NewStyle().
			Foreground(theme.ColorGray).
			Italic(true).
			Render("No message")
	} else {
		body = lipgloss.NewStyle().Width(max(m.width-2, 20)).Render(body)
	}
	sections = append(sections, body)

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func statusBadge(n model.Notification) string {
	switch {
	case n.IsCleared:
		return theme.DimmedStyle.Render("cleared")
	case n.Unread():
		return theme.UnreadDotStyle.Render("● unread")
	default:
		return theme.DimmedStyle.Render("read")
	}
}
