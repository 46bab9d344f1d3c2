package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/warranty-notify/internal/api"
)

type fakeRefresher struct {
	calls      atomic.Int32
	shouldPoll atomic.Bool
	err        atomic.Value
	block      chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err, ok := f.err.Load().(error); ok {
		return err
	}
	return nil
}

func (f *fakeRefresher) ShouldPoll() bool { return f.shouldPoll.Load() }

func newPoller(t *testing.T, target Refresher, interval time.Duration) *Poller {
	t.Helper()
	p := New(target, interval, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(p.Stop)
	return p
}

func next(t *testing.T, cmd tea.Cmd) SyncResultMsg {
	t.Helper()
	require.NotNil(t, cmd)
	ch := make(chan tea.Msg, 1)
	go func() { ch <- cmd() }()
	select {
	case msg := <-ch:
		res, ok := msg.(SyncResultMsg)
		require.True(t, ok, "unexpected message %T", msg)
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no sync result")
		return SyncResultMsg{}
	}
}

func TestPollerSkipsTicksWhenNotDue(t *testing.T) {
	f := &fakeRefresher{}
	p := newPoller(t, f, 10*time.Millisecond)
	p.Start()

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, f.calls.Load())
	assert.Equal(t, SyncIdle, p.Status().State)
}

func TestPollerRefreshesWhenDue(t *testing.T) {
	f := &fakeRefresher{}
	f.shouldPoll.Store(true)
	p := newPoller(t, f, 10*time.Millisecond)

	res := next(t, p.Start())
	assert.NoError(t, res.Error)
	assert.False(t, res.Forced)

	require.Eventually(t, func() bool {
		return !p.Status().LastSync.IsZero()
	}, time.Second, 5*time.Millisecond)
}

func TestPollerRefreshNowIgnoresShouldPoll(t *testing.T) {
	f := &fakeRefresher{}
	p := newPoller(t, f, time.Hour)
	wait := p.Start()

	assert.Nil(t, p.RefreshNow())
	res := next(t, wait)
	assert.True(t, res.Forced)
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestPollerReportsErrors(t *testing.T) {
	f := &fakeRefresher{}
	f.err.Store(errors.New("backend unreachable"))
	p := newPoller(t, f, time.Hour)
	wait := p.Start()

	p.RefreshNow()
	res := next(t, wait)
	require.Error(t, res.Error)
	assert.Nil(t, res.AuthError)
	assert.Equal(t, SyncError, p.Status().State)
	assert.Equal(t, "error", p.Status().State.String())
}

func TestPollerFlagsAuthErrors(t *testing.T) {
	f := &fakeRefresher{}
	authErr := &api.AuthError{Method: "GET", Path: "/notifications", Message: "Unauthorized"}
	f.err.Store(errors.Join(fmt.Errorf("fetching active feed: %w", authErr)))
	p := newPoller(t, f, time.Hour)
	wait := p.Start()

	p.RefreshNow()
	res := next(t, wait)
	require.NotNil(t, res.AuthError)
	assert.Contains(t, res.AuthError.Message, "sign in again")
}

func TestPollerStopCancelsInFlight(t *testing.T) {
	f := &fakeRefresher{block: make(chan struct{})}
	p := newPoller(t, f, time.Hour)
	p.Start()
	p.RefreshNow()

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		p.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestPollerRestart(t *testing.T) {
	f := &fakeRefresher{}
	p := newPoller(t, f, time.Hour)

	require.NotNil(t, p.Start())
	assert.Nil(t, p.Start(), "already running")
	p.Stop()
	p.Stop()

	wait := p.Start()
	require.NotNil(t, wait)
	p.RefreshNow()
	assert.True(t, next(t, wait).Forced)
}

func TestNewDefaults(t *testing.T) {
	p := New(&fakeRefresher{}, 0, nil)
	assert.Equal(t, DefaultInterval, p.interval)
}
