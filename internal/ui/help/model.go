// Package help renders the keyboard reference and the notification
// type legend.
package help

import (
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/warranty-notify/internal/keys"
	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/theme"
)

// groupTitles label the columns of keys.KeyMap.FullHelp in order.
var groupTitles = []string{"Navigate", "Notifications", "Views", "Session"}

var legendTypes = []model.Type{
	model.TypeWarranty, model.TypeGrievance, model.TypeAlert, model.TypeOrder,
	model.TypePOSM, model.TypeProduct, model.TypeScheme, model.TypeSystem,
}

// Model is the help overlay view.
type Model struct {
	keys   *keys.KeyMap
	help   help.Model
	width  int
	height int
}

// New creates a new help view model.
func New(k *keys.KeyMap, width, height int) Model {
	return Model{
		keys:   k,
		help:   help.New(),
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages for the help view.
func (m Model) Update(tea.Msg) (Model, tea.Cmd) {
	return m, nil
}

// View renders the help overlay.
func (m Model) View() string {
	heading := lipgloss.NewStyle().Bold(true).Foreground(theme.ColorWhite)

	sections := []string{heading.MarginBottom(1).Render("Keyboard Shortcuts")}
	for i, group := range m.keys.FullHelp() {
		title := ""
		if i < len(groupTitles) {
			title = groupTitles[i]
		}
		sections = append(sections,
			heading.Render(title),
			m.help.FullHelpView([][]key.Binding{group}),
			"",
		)
	}

	sections = append(sections, heading.Render("Types"), m.legend(), "",
		theme.HelpStyle.Render("● marks unread. Cleared records stay in the history view."))

	return theme.DetailPanelStyle.
		Width(max(m.width-4, 0)).
		Height(max(m.height-4, 0)).
		Render(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m Model) legend() string {
	labels := make([]string, len(legendTypes))
	for i, t := range legendTypes {
		labels[i] = theme.TypeStyle(string(t)).Render(string(t))
	}
	return strings.Join(labels, " ")
}

// SetSize updates the help view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.help.Width = width - 4
}
