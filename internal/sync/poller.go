// Package sync runs the periodic refresh that backs up the push channel.
package sync

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/warranty-notify/internal/api"
)

// SyncState represents the current state of the refresh loop.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "syncing"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the state of the most recent refresh.
type SyncStatus struct {
	State    SyncState
	LastSync time.Time
	Error    error
}

// SyncResultMsg is a tea.Msg sent when a refresh completes.
type SyncResultMsg struct {
	Error     error
	AuthError *AuthErrorMsg
	Forced    bool
}

// AuthErrorMsg is a tea.Msg sent when the backend rejects the session token.
type AuthErrorMsg struct {
	Message string
}

// Refresher is the notification service as seen by the poller.
type Refresher interface {
	Refresh(ctx context.Context) error
	// ShouldPoll reports whether a scheduled refresh is worth doing. Forced
	// refreshes ignore it.
	ShouldPoll() bool
}

// DefaultInterval is used when the configured interval is not positive.
const DefaultInterval = 60 * time.Second

// fetchTimeout is the maximum time allowed for a single refresh.
const fetchTimeout = 30 * time.Second

// Poller refreshes a Refresher on an interval and on demand.
type Poller struct {
	target   Refresher
	interval time.Duration
	log      *slog.Logger

	status    SyncStatus
	resultCh  chan SyncResultMsg
	triggerCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	mu        gosync.Mutex
	running   bool
}

// New creates a stopped Poller.
func New(target Refresher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		target:    target,
		interval:  interval,
		log:       logger.With("component", "poller"),
		resultCh:  make(chan SyncResultMsg, 16),
		triggerCh: make(chan struct{}, 1),
	}
}

// Start launches the polling goroutine and returns a tea.Cmd that waits for
// the first result. Starting a running poller returns nil.
func (p *Poller) Start() tea.Cmd {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stopCh, p.done
	p.mu.Unlock()

	go p.loop(stop, done)

	return p.waitForResult()
}

// Stop halts the polling goroutine and waits for an in-flight refresh.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	done := p.done
	p.running = false
	p.mu.Unlock()

	<-done
}

// RefreshNow triggers an immediate refresh regardless of ShouldPoll.
func (p *Poller) RefreshNow() tea.Cmd {
	select {
	case p.triggerCh <- struct{}{}:
	default:
		// A refresh is already queued.
	}
	return nil
}

// Status returns the state of the most recent refresh.
func (p *Poller) Status() SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *Poller) loop(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if !p.target.ShouldPoll() {
				continue
			}
			p.refresh(stop, false)
		case <-p.triggerCh:
			p.refresh(stop, true)
		}
	}
}

// refresh performs one Refresh and publishes the outcome.
func (p *Poller) refresh(stop chan struct{}, forced bool) {
	p.setStatus(SyncRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := p.target.Refresh(ctx)
	if err != nil {
		p.setStatus(SyncError, err)
		p.log.Debug("refresh failed", "forced", forced, "err", err)

		msg := SyncResultMsg{Error: err, Forced: forced}
		var authErr *api.AuthError
		if errors.As(err, &authErr) {
			msg.AuthError = &AuthErrorMsg{
				Message: "Session expired. Press 'L' to sign in again.",
			}
		}
		p.sendResult(msg)
		return
	}

	p.setStatus(SyncIdle, nil)
	p.sendResult(SyncResultMsg{Forced: forced})
}

func (p *Poller) setStatus(state SyncState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status.State = state
	p.status.Error = err
	if state == SyncIdle {
		p.status.LastSync = time.Now()
	}
}

// sendResult sends a SyncResultMsg on the result channel without blocking.
func (p *Poller) sendResult(msg SyncResultMsg) {
	select {
	case p.resultCh <- msg:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}

func (p *Poller) waitForResult() tea.Cmd {
	return func() tea.Msg {
		result, ok := <-p.resultCh
		if !ok {
			return nil
		}
		return result
	}
}

// WaitForNextResult returns a tea.Cmd that waits for the next refresh
// result. Call it after handling each SyncResultMsg.
func (p *Poller) WaitForNextResult() tea.Cmd {
	return p.waitForResult()
}
