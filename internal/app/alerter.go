package app

import (
	"io"
	gosync "sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/warranty-notify/internal/notify"
)

// toastQueueSize bounds toasts waiting to be shown.
const toastQueueSize = 8

// toastMsg carries a toast from the notification service to the UI.
type toastMsg struct {
	toast notify.Toast
}

// Alerter delivers the service's toasts to the Bubble Tea program and
// rings the terminal bell for new notifications.
type Alerter struct {
	toasts chan notify.Toast

	mu    gosync.Mutex
	sound bool
	bell  io.Writer
}

// NewAlerter creates an Alerter. bell receives a BEL character per new
// notification when sound is enabled; it may be nil.
func NewAlerter(sound bool, bell io.Writer) *Alerter {
	return &Alerter{
		toasts: make(chan notify.Toast, toastQueueSize),
		sound:  sound,
		bell:   bell,
	}
}

// Toast queues t without blocking. Toasts beyond the queue are dropped.
func (a *Alerter) Toast(t notify.Toast) {
	select {
	case a.toasts <- t:
	default:
	}
}

// PlaySound rings the bell.
func (a *Alerter) PlaySound() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sound || a.bell == nil {
		return nil
	}
	_, err := io.WriteString(a.bell, "\a")
	return err
}

// SetSound toggles the bell.
func (a *Alerter) SetSound(on bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sound = on
}

// WaitForToast returns a tea.Cmd that waits for the next toast.
func (a *Alerter) WaitForToast() tea.Cmd {
	return func() tea.Msg {
		return toastMsg{toast: <-a.toasts}
	}
}
