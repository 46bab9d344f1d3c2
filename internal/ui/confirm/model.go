// Package confirm is a yes/no prompt for destructive actions.
package confirm

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

// ResultMsg reports the user's answer. Aborting counts as "no".
type ResultMsg struct {
	Confirmed bool
}

// Model wraps a single huh.Confirm.
type Model struct {
	form   *huh.Form
	answer *bool
	width  int
}

// New creates an idle prompt.
func New(width int) Model {
	return Model{answer: new(bool), width: width}
}

// Ask shows the prompt.
func (m *Model) Ask(title, description string) tea.Cmd {
	*m.answer = false
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Description(description).
				Affirmative("Yes").
				Negative("No").
				Value(m.answer),
		),
	).WithWidth(m.formWidth())
	return m.form.Init()
}

// Update handles messages for the prompt.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	switch m.form.State {
	case huh.StateCompleted:
		confirmed := *m.answer
		m.form = nil
		return m, func() tea.Msg { return ResultMsg{Confirmed: confirmed} }
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return ResultMsg{} }
	}
	return m, cmd
}

// View renders the prompt.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}
	return lipgloss.NewStyle().Padding(1, 2).Render(m.form.View())
}

// SetSize updates the prompt width.
func (m *Model) SetSize(width int) {
	m.width = width
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 30 {
		w = 30
	}
	if w > 80 {
		w = 80
	}
	return w
}
