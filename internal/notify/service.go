// Package notify keeps a process-local copy of the user's notifications
// consistent with the portal backend. It combines three inputs:
//
//   - Refresh pulls the active feed, the full history and the unread
//     counter from REST and replaces local state wholesale;
//   - the push listener delivers single new records, merged by id;
//   - user actions are applied locally and sent to the server.
//
// Local optimistic changes that the server later rejects are corrected by
// the next Refresh. Callers that want that to happen promptly run a
// sync.Poller, which refreshes whenever NeedsReconcile reports true.
package notify

import (
	"context"
	"errors"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/nhle/warranty-notify/internal/api"
	"github.com/nhle/warranty-notify/internal/cache"
	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/push"
	"github.com/nhle/warranty-notify/internal/session"
)

// API is the subset of the REST client the service needs.
type API interface {
	List(ctx context.Context, includeCleared bool) ([]model.Notification, []api.DecodeWarning, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkRead(ctx context.Context, id int64) error
	MarkAllRead(ctx context.Context) error
	ClearAll(ctx context.Context) error
	Dismiss(ctx context.Context, id int64) error
	Restore(ctx context.Context, id int64) error
}

// Listener is the push channel as seen by the service.
type Listener interface {
	Start(ctx context.Context)
	Stop()
	State() push.State
	Notifications() <-chan model.Notification
}

// ListenerFactory builds the push listener for a session. onState must be
// passed through to the listener.
type ListenerFactory func(sess session.Session, onState func(push.State)) Listener

// SnapshotCache persists the last authoritative snapshot per user.
type SnapshotCache interface {
	Load(ctx context.Context, userID string) (cache.Entry, bool, error)
	Save(ctx context.Context, userID string, active, history []model.Notification, unread int) error
}

// APIFactory builds the REST endpoints for a session token.
type APIFactory func(sess session.Session) API

// Options holds the collaborators of a Service. Only NewAPI is required.
type Options struct {
	NewAPI      APIFactory
	NewListener ListenerFactory
	Alerter     Alerter
	Cache       SnapshotCache
	Logger      *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service owns the notification Store for one signed-in session at a time.
// Construct it once and hand it to whichever UI layer needs it; Start and
// Stop tie it to the session lifecycle.
type Service struct {
	store       *Store
	newAPI      APIFactory
	newListener ListenerFactory
	alerter     Alerter
	cache       SnapshotCache
	log         *slog.Logger
	now         func() time.Time

	mu       gosync.Mutex
	sess     *session.Session
	api      API
	listener Listener
	cancel   context.CancelFunc
	wg       gosync.WaitGroup

	// generation changes on every Start and Stop. Fetch results are
	// applied only if the generation they started under is still current.
	// Guarded by mu; changed only while applyMu is also held.
	generation uint64

	// Refresh ordering: each call takes a ticket; a slice is only
	// replaced by a result newer than the last one applied to it.
	tickets atomic.Uint64
	applyMu gosync.Mutex
	applied [sliceCount]uint64

	reconcile atomic.Bool
	pushState atomic.Int32
	changes   chan struct{}
}

type slice int

const (
	sliceActive slice = iota
	sliceHistory
	sliceUnread
	sliceCount
)

// ErrNoSession is returned by Start when the session cannot be used.
var ErrNoSession = errors.New("no valid session")

// NewService creates a stopped service.
func NewService(opts Options) *Service {
	s := &Service{
		store:       NewStore(),
		newAPI:      opts.NewAPI,
		newListener: opts.NewListener,
		alerter:     opts.Alerter,
		cache:       opts.Cache,
		log:         opts.Logger,
		now:         opts.Now,
		changes:     make(chan struct{}, 1),
	}
	if s.alerter == nil {
		s.alerter = NopAlerter{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	s.log = s.log.With("component", "notify")
	if s.now == nil {
		s.now = time.Now
	}
	s.pushState.Store(int32(push.StateDisconnected))
	s.store.OnChange(s.signal)
	return s
}

// Store exposes the reconciliation store for reads. Mutate it only through
// the service's methods.
func (s *Service) Store() *Store {
	return s.store
}

// Snapshot returns the current state.
func (s *Service) Snapshot() Snapshot {
	return s.store.Snapshot()
}

// Changes delivers a signal after any state change. Signals are
// coalesced; readers should re-read Snapshot.
func (s *Service) Changes() <-chan struct{} {
	return s.changes
}

// PushState reports the push listener's connection state.
func (s *Service) PushState() push.State {
	return push.State(s.pushState.Load())
}

// NeedsReconcile reports whether an optimistic change may have drifted
// from the server and a Refresh is due.
func (s *Service) NeedsReconcile() bool {
	return s.reconcile.Load()
}

// ShouldPoll reports whether a scheduled refresh is due: push is not
// delivering, or an optimistic change needs reconciling.
func (s *Service) ShouldPoll() bool {
	if !s.Active() {
		return false
	}
	return s.NeedsReconcile() || s.PushState() != push.StateConnected
}

// Active reports whether a session is running.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil
}

// Start begins a session: it loads the cached snapshot, performs the
// first Refresh and opens the push channel. Any running session is
// stopped first. An unusable session clears local state and returns
// ErrNoSession.
func (s *Service) Start(ctx context.Context, sess session.Session) error {
	s.Stop()

	if err := sess.Err(s.now()); err != nil {
		s.log.Info("not starting notifications", "err", err)
		s.store.ClearAll()
		return errors.Join(ErrNoSession, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	client := s.newAPI(sess)

	s.applyMu.Lock()
	s.mu.Lock()
	s.sess = &sess
	s.api = client
	s.cancel = cancel
	s.generation++
	s.mu.Unlock()
	s.applyMu.Unlock()

	s.warmStart(runCtx, sess)
	if err := s.Refresh(runCtx); err != nil {
		s.log.Warn("initial refresh incomplete", "err", err)
	}

	if s.newListener != nil {
		l := s.newListener(sess, s.setPushState)
		s.mu.Lock()
		s.listener = l
		s.mu.Unlock()

		l.Start(runCtx)
		s.wg.Add(1)
		go s.consume(runCtx, l)
	}

	return nil
}

// Stop ends the session: the push channel is closed, background work is
// awaited and local state is cleared so nothing leaks to the next
// identity. It is safe to call more than once.
func (s *Service) Stop() {
	s.applyMu.Lock()
	s.mu.Lock()
	cancel := s.cancel
	l := s.listener
	wasActive := s.sess != nil
	s.cancel = nil
	s.listener = nil
	s.sess = nil
	s.api = nil
	s.generation++
	s.mu.Unlock()
	s.applyMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if l != nil {
		l.Stop()
	}
	s.wg.Wait()

	if wasActive {
		s.reconcile.Store(false)
		s.store.ClearAll()
	}
}

// warmStart seeds the store from the cache. A fresh Refresh follows
// immediately and supersedes it.
func (s *Service) warmStart(ctx context.Context, sess session.Session) {
	if s.cache == nil {
		return
	}
	entry, ok, err := s.cache.Load(ctx, sess.CacheKey())
	if err != nil {
		s.log.Warn("loading cached snapshot", "err", err)
		return
	}
	if !ok {
		return
	}
	s.store.ReplaceAll(entry.Active, entry.History, entry.Unread)
}

// consume drains the push queue into the store.
func (s *Service) consume(ctx context.Context, l Listener) {
	defer s.wg.Done()
	queue := l.Notifications()
	for {
		select {
		case <-ctx.Done():
			return
		case n := <-queue:
			s.deliver(n)
		}
	}
}

// deliver merges a pushed record and alerts the user when it was new.
func (s *Service) deliver(n model.Notification) {
	if !s.store.InsertIfNew(n) {
		s.log.Debug("duplicate push ignored", "id", n.ID)
		return
	}

	s.alerter.Toast(Toast{Title: n.Title, Description: n.Message})
	if err := s.alerter.PlaySound(); err != nil {
		s.log.Debug("notification sound failed", "err", err)
	}
}

func (s *Service) setPushState(st push.State) {
	s.pushState.Store(int32(st))
	s.signal()
}

func (s *Service) signal() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

// current returns the running session and its API, or nils.
func (s *Service) current() (*session.Session, API, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess, s.api, s.generation
}

// live reports whether gen is still the running session. Callers hold
// applyMu so the answer cannot change before they apply.
func (s *Service) live(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil && s.generation == gen
}
