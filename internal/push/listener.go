package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	gosync "sync"
	"time"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/nhle/warranty-notify/internal/api"
	"github.com/nhle/warranty-notify/internal/model"
)

// EventNewNotification is the channel event carrying a freshly created
// notification record.
const EventNewNotification = "notification:new"

// State is the connection state of a Listener.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StatePollingOnly
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePollingOnly:
		return "polling-only"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config configures a Listener for one session.
type Config struct {
	// APIBase is the configured REST base; the channel root is derived
	// from it.
	APIBase    string
	PathSuffix string

	// IncapableHosts lists host globs that cannot hold a push connection.
	IncapableHosts []string

	// Disabled forces polling-only mode.
	Disabled bool

	Token string

	// ReconnectAttempts bounds the retries after a failed or dropped
	// connection. ReconnectDelay is the fixed pause between them.
	ReconnectAttempts int
	ReconnectDelay    time.Duration

	// ConnectTimeout bounds one connection attempt. Defaults to 10s.
	ConnectTimeout time.Duration

	// QueueSize bounds the delivery queue. Defaults to 64.
	QueueSize int

	// OnState, when set, is called on every state transition.
	OnState func(State)

	Logger *slog.Logger
}

// Listener keeps the push channel open for the lifetime of a session and
// forwards new notification records on a bounded queue.
type Listener struct {
	cfg   Config
	log   *slog.Logger
	queue chan model.Notification

	mu      gosync.Mutex
	state   State
	sock    *socket.Socket
	done    chan struct{}
	attempt uint64
}

// NewListener creates a stopped listener.
func NewListener(cfg Config) *Listener {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 2 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Listener{
		cfg:   cfg,
		log:   logger.With("component", "push"),
		queue: make(chan model.Notification, cfg.QueueSize),
		state: StateDisconnected,
	}
}

// Notifications returns the delivery queue. It is never closed; readers
// should select on their own context.
func (l *Listener) Notifications() <-chan model.Notification {
	return l.queue
}

// State returns the current connection state.
func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Start probes the backend once and, if it can hold a push connection,
// opens the channel in the background. It never blocks on the network.
// Cancelling ctx has the same effect as Stop.
func (l *Listener) Start(ctx context.Context) {
	l.mu.Lock()
	if l.sock != nil || l.state == StatePollingOnly {
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	if l.cfg.Disabled {
		l.log.Info("push disabled by configuration; polling only")
		l.setState(StatePollingOnly)
		return
	}

	capability := Probe(l.cfg.APIBase, l.cfg.PathSuffix, l.cfg.IncapableHosts)
	if !capability.Capable {
		l.log.Info("push unavailable for this deployment; polling only",
			"reason", capability.Reason)
		l.setState(StatePollingOnly)
		return
	}

	opts := l.options()
	manager := socket.NewManager(channelURL(capability.Root), opts)
	sock := manager.Socket("/", opts)
	done := make(chan struct{})

	l.mu.Lock()
	if l.sock != nil {
		l.mu.Unlock()
		return
	}
	l.attempt++
	attempt := l.attempt
	l.sock = sock
	l.done = done
	l.mu.Unlock()

	l.bind(attempt, manager, sock)
	l.setState(StateConnecting)
	sock.Connect()

	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-done:
		}
	}()
}

// Stop closes the channel. Callbacks still in flight from the closed
// connection are ignored. It is safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	sock := l.sock
	done := l.done
	l.sock = nil
	l.done = nil
	l.attempt++
	l.mu.Unlock()

	if sock != nil {
		sock.Disconnect()
	}
	if done != nil {
		close(done)
	}
	l.setState(StateDisconnected)
}

// options configures websocket-first transport selection with polling as
// the fallback, and a fixed reconnect delay with no jitter.
func (l *Listener) options() *socket.Options {
	delay := float64(l.cfg.ReconnectDelay.Milliseconds())

	opts := socket.DefaultOptions()
	opts.SetTransports(types.NewSet(socket.WebSocket, socket.Polling))
	opts.SetTryAllTransports(true)
	opts.SetAutoConnect(false)
	opts.SetReconnection(true)
	opts.SetReconnectionAttempts(float64(l.cfg.ReconnectAttempts))
	opts.SetReconnectionDelay(delay)
	opts.SetReconnectionDelayMax(delay)
	opts.SetRandomizationFactor(0)
	opts.SetTimeout(l.cfg.ConnectTimeout)
	opts.SetAuth(map[string]any{"token": l.cfg.Token})

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+l.cfg.Token)
	opts.SetExtraHeaders(headers)
	return opts
}

// bind translates channel callbacks into state transitions and queue
// deliveries. Callbacks from an attempt that Stop already closed are
// dropped.
func (l *Listener) bind(attempt uint64, manager *socket.Manager, sock *socket.Socket) {
	live := func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.attempt == attempt
	}

	sock.On("connect", func(...any) {
		if !live() {
			return
		}
		name := ""
		if engine := manager.Engine(); engine != nil && engine.Transport() != nil {
			name = engine.Transport().Name()
		}
		l.log.Info("push channel connected", "transport", name, "sid", sock.Id())
		l.setState(StateConnected)
	})

	sock.On("connect_error", func(args ...any) {
		if !live() {
			return
		}
		err := firstError(args)
		var rejected *socket.ExtendedError
		if errors.As(err, &rejected) {
			l.log.Warn("push handshake rejected; relying on refresh", "err", rejected.Message)
		} else {
			l.log.Warn("push connection failed", "err", err)
		}
		l.setState(StateDisconnected)
	})

	sock.On("disconnect", func(args ...any) {
		if !live() {
			return
		}
		reason := ""
		if len(args) > 0 {
			reason, _ = args[0].(string)
		}
		l.log.Warn("push connection lost", "reason", reason)
		l.setState(StateDisconnected)
	})

	manager.On("reconnect_attempt", func(args ...any) {
		if !live() {
			return
		}
		l.log.Debug("retrying push channel", "attempt", args)
		l.setState(StateConnecting)
	})

	manager.On("reconnect_failed", func(...any) {
		if !live() {
			return
		}
		l.log.Warn("giving up on push channel; relying on refresh",
			"attempts", l.cfg.ReconnectAttempts)
		l.setState(StateDisconnected)
	})

	sock.On(EventNewNotification, func(args ...any) {
		if !live() {
			return
		}
		l.handleEvent(args...)
	})

	sock.OnAny(func(args ...any) {
		if len(args) > 0 && args[0] != EventNewNotification {
			l.log.Debug("ignoring event", "event", args[0])
		}
	})
}

// handleEvent decodes a notification event payload and enqueues the
// record.
func (l *Listener) handleEvent(args ...any) {
	if len(args) == 0 {
		l.log.Warn("notification event without payload")
		return
	}

	raw, err := json.Marshal(args[0])
	if err != nil {
		l.log.Warn("dropping undecodable notification", "err", err)
		return
	}
	var wire api.WireNotification
	if err := json.Unmarshal(raw, &wire); err != nil {
		l.log.Warn("dropping undecodable notification", "err", err)
		return
	}

	n, err := wire.Notification()
	if err != nil {
		l.log.Warn("notification metadata dropped", "id", n.ID, "err", err)
	}

	select {
	case l.queue <- n:
	default:
		l.log.Warn("notification queue full; record left for next refresh", "id", n.ID)
	}
}

func (l *Listener) setState(s State) {
	l.mu.Lock()
	changed := l.state != s
	l.state = s
	l.mu.Unlock()

	if changed && l.cfg.OnState != nil {
		l.cfg.OnState(s)
	}
}

// channelURL maps a websocket-scheme root onto the HTTP scheme the client
// expects; it picks the websocket scheme itself when upgrading.
func channelURL(root string) string {
	switch {
	case strings.HasPrefix(root, "ws://"):
		return "http://" + strings.TrimPrefix(root, "ws://")
	case strings.HasPrefix(root, "wss://"):
		return "https://" + strings.TrimPrefix(root, "wss://")
	}
	return root
}

func firstError(args []any) error {
	for _, a := range args {
		if err, ok := a.(error); ok {
			return err
		}
	}
	if len(args) > 0 {
		return fmt.Errorf("%v", args[0])
	}
	return errors.New("unknown error")
}
