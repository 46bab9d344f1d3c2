package app

import (
	"context"
	"io"
	"log/slog"
	gosync "sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/warranty-notify/internal/api"
	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/notify"
	"github.com/nhle/warranty-notify/internal/session"
	appsync "github.com/nhle/warranty-notify/internal/sync"
	"github.com/nhle/warranty-notify/internal/ui/confirm"
	"github.com/nhle/warranty-notify/internal/ui/popover"
)

// stubAPI serves one unread record and counts calls.
type stubAPI struct {
	mu    gosync.Mutex
	calls map[string]int
}

func (a *stubAPI) hit(op string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.calls == nil {
		a.calls = map[string]int{}
	}
	a.calls[op]++
}

func (a *stubAPI) count(op string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[op]
}

func (a *stubAPI) List(context.Context, bool) ([]model.Notification, []api.DecodeWarning, error) {
	a.hit("list")
	return []model.Notification{{ID: 1, Title: "Claim approved", Type: model.TypeWarranty}}, nil, nil
}

func (a *stubAPI) UnreadCount(context.Context) (int, error) { return 1, nil }

func (a *stubAPI) MarkRead(context.Context, int64) error {
	a.hit("markRead")
	return nil
}

func (a *stubAPI) MarkAllRead(context.Context) error {
	a.hit("markAllRead")
	return nil
}

func (a *stubAPI) ClearAll(context.Context) error {
	a.hit("clearAll")
	return nil
}

func (a *stubAPI) Dismiss(context.Context, int64) error {
	a.hit("dismiss")
	return nil
}

func (a *stubAPI) Restore(context.Context, int64) error {
	a.hit("restore")
	return nil
}

// memoryTokens is a TokenStore kept in a map.
type memoryTokens map[string]string

func (t memoryTokens) Get(base string) (string, error) {
	token, ok := t[base]
	if !ok {
		return "", session.ErrNoToken
	}
	return token, nil
}

func (t memoryTokens) Set(base, token string) error {
	t[base] = token
	return nil
}

func (t memoryTokens) Delete(base string) error {
	delete(t, base)
	return nil
}

type fixture struct {
	model  Model
	api    *stubAPI
	svc    *notify.Service
	tokens memoryTokens
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	stub := &stubAPI{}
	svc := notify.NewService(notify.Options{
		NewAPI: func(session.Session) notify.API { return stub },
		Logger: logger,
	})
	poller := appsync.New(svc, time.Hour, logger)
	t.Cleanup(func() {
		poller.Stop()
		svc.Stop()
	})

	cfg := model.DefaultAppConfig()
	tokens := memoryTokens{cfg.API.BaseURL: "opaque-session"}
	m := New(context.Background(), Deps{
		Config:  cfg,
		Service: svc,
		Poller:  poller,
		Alerter: NewAlerter(false, io.Discard),
		Tokens:  tokens,
		Logger:  logger,
	})
	return &fixture{model: m, api: stub, svc: svc, tokens: tokens}
}

func (f *fixture) update(t *testing.T, msg tea.Msg) tea.Cmd {
	t.Helper()
	next, cmd := f.model.Update(msg)
	m, ok := next.(Model)
	require.True(t, ok)
	f.model = m
	return cmd
}

// signIn runs the stored-session load and applies its result.
func (f *fixture) signIn(t *testing.T) {
	t.Helper()
	f.update(t, f.model.loadSession()())
	require.True(t, f.model.signedIn)
	require.True(t, f.svc.Active())
}

func expiredToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"id":  "7",
		"exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("any"))
	require.NoError(t, err)
	return token
}

func confirmResult(ok bool) confirm.ResultMsg {
	return confirm.ResultMsg{Confirmed: ok}
}

func TestLoadSessionWithoutTokenAsksForLogin(t *testing.T) {
	f := newFixture(t)
	delete(f.tokens, f.model.deps.Config.API.BaseURL)

	msg := f.model.loadSession()()
	require.IsType(t, needLoginMsg{}, msg)

	f.update(t, msg)
	assert.Equal(t, ViewLogin, f.model.currentView)
	assert.False(t, f.model.signedIn)
}

func TestLoadSessionStartsService(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	assert.Equal(t, ViewList, f.model.currentView)
	assert.Equal(t, 1, f.svc.Snapshot().Unread)
	assert.Positive(t, f.api.count("list"))
}

func TestExpiredStoredSessionAsksForLogin(t *testing.T) {
	f := newFixture(t)

	msg := f.model.startSession(expiredToken(t))
	login, ok := msg.(needLoginMsg)
	require.True(t, ok)
	assert.Equal(t, "Session expired. Sign in again.", login.message)
	assert.False(t, f.svc.Active())
}

func TestAuthErrorStopsSessionAndShowsLogin(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	cmd := f.update(t, appsync.SyncResultMsg{
		AuthError: &appsync.AuthErrorMsg{Message: "Session expired. Sign in again."},
	})
	assert.False(t, f.model.signedIn)
	assert.False(t, f.svc.Active())
	assert.Empty(t, f.svc.Snapshot().Active)

	require.NotNil(t, cmd)
	batch, ok := cmd().(tea.BatchMsg)
	require.True(t, ok)
	require.NotEmpty(t, batch)

	f.update(t, batch[0]())
	assert.Equal(t, ViewLogin, f.model.currentView)
	assert.Contains(t, f.model.loginView.View(), "Session expired. Sign in again.")
}

func TestSyncErrorOnForcedRefreshSetsStatus(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	f.update(t, appsync.SyncResultMsg{Error: assert.AnError, Forced: true})
	assert.Equal(t, "Refresh incomplete; showing last known state.", f.model.statusMsg)

	f.update(t, appsync.SyncResultMsg{})
	assert.Empty(t, f.model.statusMsg)
	assert.True(t, f.model.signedIn)
}

func TestClearAllAsksFirst(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	f.update(t, popover.ActionMsg{Action: popover.ActionClearAll})
	assert.Equal(t, ViewConfirm, f.model.currentView)

	cmd := f.update(t, confirmResult(false))
	assert.Equal(t, ViewList, f.model.currentView)
	assert.Nil(t, cmd)
	assert.Zero(t, f.api.count("clearAll"))

	f.update(t, popover.ActionMsg{Action: popover.ActionClearAll})
	cmd = f.update(t, confirmResult(true))
	require.NotNil(t, cmd)
	assert.IsType(t, actionDoneMsg{}, cmd())
	assert.Equal(t, 1, f.api.count("clearAll"))
	assert.Empty(t, f.svc.Snapshot().Active)
}

func TestLogoutDeletesToken(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	f.update(t, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("X")})
	assert.False(t, f.model.signedIn)
	assert.False(t, f.svc.Active())
	assert.Empty(t, f.tokens)
	assert.Equal(t, "Signed out. Press L to sign in.", f.model.statusMsg)
}

func TestDispatchMarkRead(t *testing.T) {
	f := newFixture(t)
	f.signIn(t)

	msg := f.model.dispatch(popover.ActionMsg{Action: popover.ActionMarkRead, ID: 1})()
	assert.IsType(t, actionDoneMsg{}, msg)
	assert.Equal(t, 1, f.api.count("markRead"))
	assert.Zero(t, f.svc.Snapshot().Unread)
}
