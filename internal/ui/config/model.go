// Package config edits the user-facing settings and writes them back to
// the configuration file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/theme"
)

// SavedMsg reports the outcome of writing the edited configuration.
// Config is the edited copy; it is set even when Err is not nil.
type SavedMsg struct {
	Config *model.AppConfig
	Err    error
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	theme       string
	sound       bool
	pushEnabled bool
	pollSec     string
	timeoutSec  string
}

// Model is the Bubble Tea model for the settings form.
type Model struct {
	form   *huh.Form
	fb     *formBindings
	base   model.AppConfig
	path   string
	saving bool
	width  int
	height int
}

// New creates an idle settings form that saves to path. An empty path
// keeps edits in memory only.
func New(path string, width, height int) Model {
	return Model{
		fb:     &formBindings{},
		path:   path,
		width:  width,
		height: height,
	}
}

// Start loads the current values of cfg into a fresh form.
func (m *Model) Start(cfg *model.AppConfig) tea.Cmd {
	m.base = *cfg
	m.base.Push.IncapableHosts = append([]string(nil), cfg.Push.IncapableHosts...)
	m.fb.theme = cfg.Display.Theme
	m.fb.sound = cfg.Display.Sound
	m.fb.pushEnabled = cfg.Push.Enabled
	m.fb.pollSec = strconv.Itoa(cfg.Sync.PollIntervalSec)
	m.fb.timeoutSec = strconv.Itoa(cfg.API.TimeoutSec)
	m.saving = false
	m.form = m.buildForm()
	return m.form.Init()
}

// Update handles messages for the form.
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
		m.form = nil
		m.saving = true
		return m, save(m.path, m.edited())
	case huh.StateAborted:
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}
	return m, cmd
}

// edited applies the form values to a copy of the starting config.
// Fields were validated by the form, so parse errors cannot occur.
func (m Model) edited() *model.AppConfig {
	cfg := m.base
	cfg.Display.Theme = m.fb.theme
	cfg.Display.Sound = m.fb.sound
	cfg.Push.Enabled = m.fb.pushEnabled
	cfg.Sync.PollIntervalSec, _ = strconv.Atoi(strings.TrimSpace(m.fb.pollSec))
	cfg.API.TimeoutSec, _ = strconv.Atoi(strings.TrimSpace(m.fb.timeoutSec))
	return &cfg
}

func save(path string, cfg *model.AppConfig) tea.Cmd {
	return func() tea.Msg {
		if path == "" {
			return SavedMsg{Config: cfg}
		}
		if err := model.SaveConfig(path, cfg); err != nil {
			return SavedMsg{Config: cfg, Err: fmt.Errorf("saving settings: %w", err)}
		}
		return SavedMsg{Config: cfg}
	}
}

// View renders the form.
func (m Model) View() string {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render("Settings")
	switch {
	case m.saving:
		content += "\n" + lipgloss.NewStyle().Foreground(theme.ColorGray).Render("Saving...")
	case m.form != nil:
		content += "\n" + m.form.View()
	}

	return lipgloss.NewStyle().
		Padding(1, 2).
		Render(content)
}

// SetSize updates the form dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Theme").
				Options(
					huh.NewOption("Follow terminal", "default"),
					huh.NewOption("Dark", "dark"),
					huh.NewOption("Light", "light"),
				).
				Value(&m.fb.theme),
			huh.NewConfirm().
				Title("Ring the bell on new notifications").
				Value(&m.fb.sound),
			huh.NewConfirm().
				Title("Real-time updates").
				Description("Takes effect at the next sign-in.").
				Value(&m.fb.pushEnabled),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Poll interval (seconds)").
				Description("Used while real-time updates are unavailable. 0 disables polling; applies after restart.").
				Value(&m.fb.pollSec).
				Validate(validateSeconds(0, 3600)),
			huh.NewInput().
				Title("Request timeout (seconds)").
				Value(&m.fb.timeoutSec).
				Validate(validateSeconds(1, 120)),
		),
	).WithWidth(m.formWidth())
}

func (m Model) formWidth() int {
	return min(max(m.width-4, 40), 100)
}

func validateSeconds(lo, hi int) func(string) error {
	return func(s string) error {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return errors.New("enter a whole number of seconds")
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}
