package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/warranty-notify/internal/keys"
	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/notify"
	"github.com/nhle/warranty-notify/internal/session"
	appsync "github.com/nhle/warranty-notify/internal/sync"
	"github.com/nhle/warranty-notify/internal/theme"
	"github.com/nhle/warranty-notify/internal/ui"
	configview "github.com/nhle/warranty-notify/internal/ui/config"
	"github.com/nhle/warranty-notify/internal/ui/confirm"
	"github.com/nhle/warranty-notify/internal/ui/detail"
	helpview "github.com/nhle/warranty-notify/internal/ui/help"
	"github.com/nhle/warranty-notify/internal/ui/login"
	"github.com/nhle/warranty-notify/internal/ui/popover"
)

// toastDuration is how long a toast stays on screen.
const toastDuration = 4 * time.Second

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewHelp
	ViewLogin
	ViewConfirm
	ViewDetail
	ViewSettings
)

// TokenStore persists the session token per API base.
type TokenStore interface {
	Get(apiBase string) (string, error)
	Set(apiBase, token string) error
	Delete(apiBase string) error
}

// Deps holds the collaborators of the root model.
type Deps struct {
	Config *model.AppConfig

	// ConfigPath, when set, receives the API base entered at sign-in.
	ConfigPath string

	Service *notify.Service

	// Poller may be nil, which disables periodic refreshes.
	Poller  *appsync.Poller
	Alerter *Alerter
	Tokens  TokenStore
	Logger  *slog.Logger
}

// Internal messages.
type (
	sessionStartedMsg struct{ err error }
	needLoginMsg      struct{ message string }
	changedMsg        struct{}
	toastExpiredMsg   struct{ seq int }
	actionDoneMsg     struct{}
)

// Model is the root Bubble Tea model: it routes views, starts and stops
// the notification session, and renders toasts.
type Model struct {
	ctx  context.Context
	deps Deps
	log  *slog.Logger
	keys *keys.KeyMap

	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	popover      popover.Model
	helpView     helpview.Model
	loginView    login.Model
	confirmView  confirm.Model
	detailView   detail.Model
	settingsView configview.Model

	ready     bool
	signedIn  bool
	toast     *notify.Toast
	toastSeq  int
	statusMsg string

	// pollWaiting is set once a command is blocked on poller results;
	// exactly one such command is kept alive.
	pollWaiting bool
}

// New creates the root model. ctx bounds every call made on the user's
// behalf.
func New(ctx context.Context, deps Deps) Model {
	km := keys.DefaultKeyMap()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	theme.Apply(deps.Config.Display.Theme)

	return Model{
		ctx:          ctx,
		deps:         deps,
		log:          logger.With("component", "app"),
		keys:         km,
		currentView:  ViewList,
		popover:      popover.New(km, 80, 22),
		helpView:     helpview.New(km, 80, 22),
		loginView:    login.New(80, 22),
		confirmView:  confirm.New(80),
		detailView:   detail.New(km, 80, 22),
		settingsView: configview.New(deps.ConfigPath, 80, 22),
	}
}

// Init loads the stored session and subscribes to service updates.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.loadSession(),
		m.waitForChange(),
		m.deps.Alerter.WaitForToast(),
	)
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		m.resize()
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case needLoginMsg:
		m.signedIn = false
		m.previousView = ViewList
		m.currentView = ViewLogin
		return m, m.loginView.Start(m.deps.Config.API.BaseURL, msg.message)

	case sessionStartedMsg:
		if msg.err != nil {
			m.log.Warn("session not started", "err", msg.err)
			return m, needLogin("Sign-in failed: " + msg.err.Error())
		}
		m.signedIn = true
		m.statusMsg = ""
		m.currentView = ViewList
		cmds := []tea.Cmd{m.popover.SetSnapshot(m.deps.Service.Snapshot())}
		if m.deps.Poller != nil {
			wait := m.deps.Poller.Start()
			if !m.pollWaiting && wait != nil {
				m.pollWaiting = true
				cmds = append(cmds, wait)
			}
		}
		return m, tea.Batch(cmds...)

	case login.SubmittedMsg:
		m.currentView = ViewList
		return m, m.signIn(msg)

	case login.CancelMsg:
		m.currentView = ViewList
		if !m.signedIn {
			m.statusMsg = "Not signed in. Press L to sign in."
		}
		return m, nil

	case changedMsg:
		snap := m.deps.Service.Snapshot()
		m.detailView.Refresh(snap.History)
		cmd := m.popover.SetSnapshot(snap)
		return m, tea.Batch(cmd, m.waitForChange())

	case toastMsg:
		t := msg.toast
		m.toast = &t
		m.toastSeq++
		seq := m.toastSeq
		m.resize()
		return m, tea.Batch(
			m.deps.Alerter.WaitForToast(),
			tea.Tick(toastDuration, func(time.Time) tea.Msg { return toastExpiredMsg{seq: seq} }),
		)

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = nil
			m.resize()
		}
		return m, nil

	case appsync.SyncResultMsg:
		if msg.AuthError != nil {
			m.stopSession()
			return m, tea.Batch(needLogin(msg.AuthError.Message), m.deps.Poller.WaitForNextResult())
		}
		if msg.Error != nil && msg.Forced {
			m.statusMsg = "Refresh incomplete; showing last known state."
		} else if msg.Error == nil {
			m.statusMsg = ""
		}
		return m, m.deps.Poller.WaitForNextResult()

	case popover.ActionMsg:
		if msg.Action == popover.ActionClearAll {
			m.previousView = m.currentView
			m.currentView = ViewConfirm
			return m, m.confirmView.Ask(
				"Clear all notifications?",
				"They stay available in history.",
			)
		}
		return m, m.dispatch(msg)

	case confirm.ResultMsg:
		m.currentView = m.previousView
		if !msg.Confirmed {
			return m, nil
		}
		return m, m.dispatch(popover.ActionMsg{Action: popover.ActionClearAll})

	case actionDoneMsg:
		return m, nil

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case configview.SavedMsg:
		m.currentView = ViewList
		m.applySettings(msg.Config)
		if msg.Err != nil {
			m.log.Warn("saving settings", "err", msg.Err)
			m.statusMsg = "Settings applied but not saved: " + msg.Err.Error()
		} else {
			m.statusMsg = "Settings saved."
		}
		return m, nil

	case configview.CancelMsg:
		m.currentView = ViewList
		return m, nil

	case tea.KeyMsg:
		if cmd, handled := m.handleGlobalKeys(msg); handled {
			return m, cmd
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handleGlobalKeys processes keys that are not owned by a form.
func (m *Model) handleGlobalKeys(msg tea.KeyMsg) (tea.Cmd, bool) {
	if msg.String() == "ctrl+c" {
		return m.quit(), true
	}
	if m.currentView == ViewLogin || m.currentView == ViewConfirm || m.currentView == ViewSettings {
		return nil, false
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit(), true

	case key.Matches(msg, m.keys.Help):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return nil, true
		}
		m.previousView = m.currentView
		m.currentView = ViewHelp
		return nil, true

	case key.Matches(msg, m.keys.Back):
		if m.currentView == ViewHelp {
			m.currentView = m.previousView
			return nil, true
		}

	case m.currentView != ViewList:
		return nil, false

	case key.Matches(msg, m.keys.Refresh):
		return m.refresh(), true

	case key.Matches(msg, m.keys.Open):
		return m.open(), true

	case key.Matches(msg, m.keys.Settings):
		m.currentView = ViewSettings
		return m.settingsView.Start(m.deps.Config), true

	case key.Matches(msg, m.keys.Login):
		m.stopSession()
		return needLogin(""), true

	case key.Matches(msg, m.keys.Logout):
		m.stopSession()
		if err := m.deps.Tokens.Delete(m.deps.Config.API.BaseURL); err != nil {
			m.log.Warn("deleting token", "err", err)
		}
		m.statusMsg = "Signed out. Press L to sign in."
		return nil, true
	}

	return nil, false
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		if m.signedIn {
			before := m.popover.CurrentView()
			m.popover, cmd = m.popover.Update(msg)
			if before != popover.ViewHistory && m.popover.CurrentView() == popover.ViewHistory {
				cmd = tea.Batch(cmd, m.refreshHistory())
			}
		}
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewLogin:
		m.loginView, cmd = m.loginView.Update(msg)
	case ViewConfirm:
		m.confirmView, cmd = m.confirmView.Update(msg)
	case ViewDetail:
		m.detailView, cmd = m.detailView.Update(msg)
	case ViewSettings:
		m.settingsView, cmd = m.settingsView.Update(msg)
	}

	return m, cmd
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	snap := m.deps.Service.Snapshot()
	badge := ""
	if snap.Unread > 0 {
		badge = theme.BadgeStyle.Render(fmt.Sprintf("%d", snap.Unread))
	}
	header := m.layout.RenderHeader("Warranty Notifications", badge, m.connectionStatus())

	return m.layout.RenderWithFrame(header, m.renderContent(), m.renderToast(), m.layout.RenderStatusBar(m.keyHints()))
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.popover.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewLogin:
		return m.loginView.View()
	case ViewConfirm:
		return m.confirmView.View()
	case ViewDetail:
		return m.detailView.View()
	case ViewSettings:
		return m.settingsView.View()
	default:
		return ""
	}
}

func (m Model) renderToast() string {
	if m.toast == nil {
		return ""
	}
	text := m.toast.Title
	if m.toast.Description != "" {
		text += "\n" + m.toast.Description
	}
	style := theme.ToastStyle
	if m.toast.Variant == notify.ToastDestructive {
		style = theme.ToastErrorStyle
	}
	return style.Width(m.layout.Width - 2).Render(text)
}

// connectionStatus describes the push channel and the last refresh.
func (m Model) connectionStatus() string {
	if !m.signedIn {
		return theme.PushStateStyle("").Render("signed out")
	}
	state := m.deps.Service.PushState().String()
	status := state
	if m.deps.Poller != nil {
		switch s := m.deps.Poller.Status(); s.State {
		case appsync.SyncRunning:
			status += " · syncing"
		case appsync.SyncError:
			status += " · ⚠ stale"
		}
	}
	return theme.PushStateStyle(state).Render(status)
}

// keyHints returns keyboard shortcut hints for the status bar.
func (m Model) keyHints() string {
	if m.statusMsg != "" && m.currentView == ViewList {
		return m.statusMsg
	}

	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewLogin:
		return "enter submit | esc cancel"
	case ViewConfirm:
		return "←/→ choose | enter confirm"
	case ViewDetail:
		if n, ok := m.detailView.Current(); ok && n.IsCleared {
			return "esc back | u restore | j/k scroll"
		}
		return "esc back | m read | d dismiss | j/k scroll"
	case ViewSettings:
		return "enter next | esc cancel"
	default:
		if m.popover.CurrentView() == popover.ViewHistory {
			return "q quit | ? help | tab feed | o open | u restore | m read | , settings"
		}
		return "q quit | ? help | tab history | o open | m read | A all read | d dismiss | C clear | r refresh"
	}
}

func (m *Model) resize() {
	if !m.ready {
		return
	}
	toastHeight := 0
	if t := m.renderToast(); t != "" {
		toastHeight = lipgloss.Height(t)
	}
	m.layout = m.layout.WithToast(toastHeight)
	w, h := m.layout.ContentWidth(), m.layout.ContentHeight()
	m.popover.SetSize(w, h)
	m.helpView.SetSize(w, h)
	m.loginView.SetSize(w, h)
	m.confirmView.SetSize(w)
	m.detailView.SetSize(w, h)
	m.settingsView.SetSize(w, h)
}

// loadSession reads the stored token and starts the service with it.
func (m Model) loadSession() tea.Cmd {
	base := m.deps.Config.API.BaseURL
	tokens := m.deps.Tokens
	return func() tea.Msg {
		token, err := tokens.Get(base)
		if err != nil {
			if errors.Is(err, session.ErrNoToken) {
				return needLoginMsg{}
			}
			return needLoginMsg{message: "Could not read the stored session: " + err.Error()}
		}
		return m.startSession(token)
	}
}

// signIn stores the submitted token and starts a session with it.
func (m *Model) signIn(msg login.SubmittedMsg) tea.Cmd {
	m.deps.Config.API.BaseURL = msg.BaseURL
	if m.deps.ConfigPath != "" {
		if err := model.SaveConfig(m.deps.ConfigPath, m.deps.Config); err != nil {
			m.log.Warn("saving config", "err", err)
		}
	}
	if err := m.deps.Tokens.Set(msg.BaseURL, msg.Token); err != nil {
		m.log.Warn("storing token", "err", err)
	}
	token := msg.Token
	return func() tea.Msg {
		return m.startSession(token)
	}
}

// startSession runs on a command goroutine.
func (m Model) startSession(token string) tea.Msg {
	sess, err := session.Parse(token)
	if err != nil {
		return needLoginMsg{message: "The stored session is invalid."}
	}
	if errors.Is(sess.Err(time.Now()), session.ErrExpired) {
		return needLoginMsg{message: "Session expired. Sign in again."}
	}
	return sessionStartedMsg{err: m.deps.Service.Start(m.ctx, sess)}
}

func (m *Model) stopSession() {
	if m.deps.Poller != nil {
		m.deps.Poller.Stop()
	}
	m.deps.Service.Stop()
	m.signedIn = false
}

func (m *Model) quit() tea.Cmd {
	m.stopSession()
	return tea.Quit
}

func (m Model) refresh() tea.Cmd {
	if !m.signedIn {
		return nil
	}
	if m.deps.Poller != nil {
		return m.deps.Poller.RefreshNow()
	}
	svc := m.deps.Service
	ctx := m.ctx
	return func() tea.Msg {
		_ = svc.Refresh(ctx)
		return actionDoneMsg{}
	}
}

// open shows the highlighted record and marks it read, the way selecting
// a notification does in the portal.
func (m *Model) open() tea.Cmd {
	if !m.signedIn {
		return nil
	}
	n, ok := m.popover.Selected()
	if !ok {
		return nil
	}
	m.detailView.SetNotification(n)
	m.currentView = ViewDetail
	if !n.Unread() {
		return nil
	}
	return m.dispatch(popover.ActionMsg{Action: popover.ActionMarkRead, ID: n.ID})
}

// applySettings makes the edited settings live. Push and polling changes
// apply to the next session.
func (m *Model) applySettings(cfg *model.AppConfig) {
	*m.deps.Config = *cfg
	theme.Apply(cfg.Display.Theme)
	m.deps.Alerter.SetSound(cfg.Display.Sound)
}

// refreshHistory re-fetches the full history when the user opens it.
func (m Model) refreshHistory() tea.Cmd {
	svc := m.deps.Service
	ctx := m.ctx
	return func() tea.Msg {
		_ = svc.RefreshHistory(ctx)
		return actionDoneMsg{}
	}
}

// dispatch runs a pop-over action against the service.
func (m Model) dispatch(msg popover.ActionMsg) tea.Cmd {
	svc := m.deps.Service
	ctx := m.ctx
	return func() tea.Msg {
		switch msg.Action {
		case popover.ActionMarkRead:
			svc.MarkRead(ctx, msg.ID)
		case popover.ActionMarkAllRead:
			svc.MarkAllRead(ctx)
		case popover.ActionDismiss:
			svc.Dismiss(ctx, msg.ID)
		case popover.ActionRestore:
			svc.Restore(ctx, msg.ID)
		case popover.ActionClearAll:
			svc.ClearAll(ctx)
		}
		return actionDoneMsg{}
	}
}

func (m Model) waitForChange() tea.Cmd {
	changes := m.deps.Service.Changes()
	return func() tea.Msg {
		<-changes
		return changedMsg{}
	}
}

func needLogin(message string) tea.Cmd {
	return func() tea.Msg { return needLoginMsg{message: message} }
}
