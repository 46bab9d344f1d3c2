// Package login asks for the portal address and session token when no
// usable session is stored.
package login

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/warranty-notify/internal/session"
	"github.com/nhle/warranty-notify/internal/theme"
)

// SubmittedMsg is dispatched when the user completes the form.
type SubmittedMsg struct {
	BaseURL string
	Token   string
}

// CancelMsg is dispatched when the user aborts the form.
type CancelMsg struct{}

// formBindings holds form field values on the heap so that huh's Value()
// pointers remain valid across Bubble Tea model copies.
type formBindings struct {
	baseURL string
	token   string
}

// Model is the Bubble Tea model for the sign-in form.
type Model struct {
	form    *huh.Form
	fb      *formBindings
	message string
	width   int
	height  int
}

// New creates an idle sign-in form.
func New(width, height int) Model {
	return Model{
		fb:     &formBindings{},
		width:  width,
		height: height,
	}
}

// Start resets the form with baseURL prefilled. message, when set, is
// shown above the fields (e.g. "Session expired").
func (m *Model) Start(baseURL, message string) tea.Cmd {
	m.fb.baseURL = baseURL
	m.fb.token = ""
	m.message = message
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

	if m.form.State == huh.StateCompleted {
		submitted := SubmittedMsg{
			BaseURL: strings.TrimRight(strings.TrimSpace(m.fb.baseURL), "/"),
			Token:   strings.TrimSpace(m.fb.token),
		}
		m.form = nil
		return m, func() tea.Msg { return submitted }
	}
	if m.form.State == huh.StateAborted {
		m.form = nil
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

// View renders the form.
func (m Model) View() string {
	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	content := titleStyle.Render("Sign in to the warranty portal")
	if m.message != "" {
		content += "\n" + lipgloss.NewStyle().Foreground(theme.ColorYellow).Render(m.message)
	}
	content += "\n" + m.form.View()

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
			huh.NewInput().
				Title("API base URL").
				Description("e.g. https://portal.example.com/api").
				Value(&m.fb.baseURL).
				Validate(validateBaseURL),
			huh.NewInput().
				Title("Session token").
				Description("Copy the auth_token cookie from a signed-in browser.").
				EchoMode(huh.EchoModePassword).
				Value(&m.fb.token).
				Validate(validateToken),
		),
	).WithWidth(m.formWidth())
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

func validateBaseURL(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("API base URL is required")
	}
	if strings.HasPrefix(s, "/") {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("enter an http(s) URL or a path such as /api")
	}
	return nil
}

func validateToken(s string) error {
	sess, err := session.Parse(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if err := sess.Err(time.Now()); err != nil {
		return err
	}
	return nil
}
