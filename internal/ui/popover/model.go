// Package popover renders the notification feed and history and turns
// key presses into dispatcher actions.
package popover

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/warranty-notify/internal/keys"
	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/notify"
	"github.com/nhle/warranty-notify/internal/theme"
)

// View selects which collection the pop-over lists.
type View int

const (
	ViewFeed View = iota
	ViewHistory
)

func (v View) String() string {
	if v == ViewHistory {
		return "History"
	}
	return "Notifications"
}

// Action is a user intent the root model forwards to the dispatcher.
type Action int

const (
	ActionMarkRead Action = iota
	ActionMarkAllRead
	ActionDismiss
	ActionRestore
	ActionClearAll
)

// ActionMsg is sent when the user triggers an action on the pop-over.
type ActionMsg struct {
	Action Action
	ID     int64
}

// Model is the pop-over list component.
type Model struct {
	list     list.Model
	keys     *keys.KeyMap
	view     View
	snapshot notify.Snapshot
	width    int
	height   int
}

// New creates an empty pop-over.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height)
	l.Title = ViewFeed.String()
	l.SetShowStatusBar(true)
	l.SetShowHelp(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = theme.HeaderStyle
	l.SetStatusBarItemName("notification", "notifications")

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// SetSnapshot replaces the listed records with the current store state.
// The selection stays on the same record when it still exists.
func (m *Model) SetSnapshot(s notify.Snapshot) tea.Cmd {
	m.snapshot = s
	return m.rebuild()
}

// CurrentView reports which collection is listed.
func (m Model) CurrentView() View {
	return m.view
}

// Selected returns the highlighted record.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

func (m *Model) rebuild() tea.Cmd {
	records := m.snapshot.Active
	if m.view == ViewHistory {
		records = m.snapshot.History
	}

	var selectedID int64
	if n, ok := m.Selected(); ok {
		selectedID = n.ID
	}

	items := make([]list.Item, len(records))
	cursor := -1
	for i, n := range records {
		items[i] = Item{Notification: n}
		if n.ID == selectedID {
			cursor = i
		}
	}

	m.list.Title = m.view.String()
	cmd := m.list.SetItems(items)
	if cursor >= 0 {
		m.list.Select(cursor)
	}
	return cmd
}

// Update handles messages for the pop-over.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		if handled, cmd := m.handleKeys(msg); handled {
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m *Model) handleKeys(msg tea.KeyMsg) (bool, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.ToggleView):
		if m.view == ViewFeed {
			m.view = ViewHistory
		} else {
			m.view = ViewFeed
		}
		m.list.ResetSelected()
		return true, m.rebuild()

	case key.Matches(msg, m.keys.MarkRead):
		n, ok := m.Selected()
		if !ok || !n.Unread() {
			return true, nil
		}
		return true, action(ActionMarkRead, n.ID)

	case key.Matches(msg, m.keys.MarkAllRead):
		if m.snapshot.Unread == 0 {
			return true, nil
		}
		return true, action(ActionMarkAllRead, 0)

	case key.Matches(msg, m.keys.Dismiss):
		n, ok := m.Selected()
		if !ok || m.view != ViewFeed {
			return true, nil
		}
		return true, action(ActionDismiss, n.ID)

	case key.Matches(msg, m.keys.Restore):
		n, ok := m.Selected()
		if !ok || m.view != ViewHistory || !n.IsCleared {
			return true, nil
		}
		return true, action(ActionRestore, n.ID)

	case key.Matches(msg, m.keys.ClearAll):
		if len(m.snapshot.Active) == 0 {
			return true, nil
		}
		return true, action(ActionClearAll, 0)
	}
	return false, nil
}

func action(a Action, id int64) tea.Cmd {
	return func() tea.Msg {
		return ActionMsg{Action: a, ID: id}
	}
}

// View renders the list or an empty-state message.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}
	return m.list.View()
}

func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	if m.view == ViewHistory {
		return style.Render("No notification history.")
	}
	return style.Render("You're all caught up.\n\nPress tab to browse history.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height)
}
