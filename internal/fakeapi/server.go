// Package fakeapi is an in-memory stand-in for the warranty portal's
// notification backend. It serves the REST endpoints under /api and the
// Socket.IO channel under /socket.io/, issues HS256 session tokens, and
// lets callers inject notifications and failures. Tests and the
// notifysim command use it.
package fakeapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	gosync "sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/zishang520/socket.io/v2/socket"

	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/session"
)

// pageLimit caps every list response, as the portal does.
const pageLimit = 50

// Route names one backend endpoint for failure injection and call records.
type Route string

const (
	RouteActive      Route = "list"
	RouteHistory     Route = "history"
	RouteUnreadCount Route = "unread-count"
	RouteMarkRead    Route = "mark-read"
	RouteMarkAllRead Route = "mark-all-read"
	RouteClearAll    Route = "clear-all"
	RouteDismiss     Route = "dismiss"
	RouteRestore     Route = "restore"
)

// Call records one authenticated REST request.
type Call struct {
	Route  Route
	UserID string
	ID     int64
}

// fault is an injected failure. Status 200 means "answer with
// success:false".
type fault struct {
	status int
	delay  time.Duration
}

// Server is the fake backend. Construct it with New and mount Handler on
// an httptest.Server or a real listener.
type Server struct {
	secret         []byte
	log            *slog.Logger
	stringMetadata bool
	pingInterval   time.Duration
	pingTimeout    time.Duration
	noWebsocket    bool

	mu      gosync.Mutex
	nextID  int64
	records map[string][]*model.Notification
	faults  map[Route]fault
	calls   []Call
	now     func() time.Time

	channel *socket.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithSecret sets the HS256 signing secret.
func WithSecret(secret string) Option {
	return func(s *Server) { s.secret = []byte(secret) }
}

// WithLogger sets the server's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithStringMetadata makes REST responses carry metadata as a JSON-encoded
// string, the way rows come out of the portal's database.
func WithStringMetadata() Option {
	return func(s *Server) { s.stringMetadata = true }
}

// WithPing sets the heartbeat interval and timeout advertised to push
// clients.
func WithPing(interval, timeout time.Duration) Option {
	return func(s *Server) {
		s.pingInterval = interval
		s.pingTimeout = timeout
	}
}

// WithoutWebsocket refuses websocket upgrades so clients fall back to
// long-polling.
func WithoutWebsocket() Option {
	return func(s *Server) { s.noWebsocket = true }
}

// WithClock replaces time.Now for created_at stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New creates an empty backend.
func New(opts ...Option) *Server {
	s := &Server{
		secret:       []byte("fakeapi-secret"),
		log:          slog.Default(),
		pingInterval: 25 * time.Second,
		pingTimeout:  20 * time.Second,
		records:      make(map[string][]*model.Notification),
		faults:       make(map[Route]fault),
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "fakeapi")
	s.channel = s.newChannel()
	return s
}

// Handler returns the HTTP handler serving both REST and the push channel.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/api/notifications", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/", s.handleList)
		r.Get("/unread-count", s.handleUnreadCount)
		r.Patch("/read-all", s.handleMarkAllRead)
		r.Patch("/{id}/read", s.handleMarkRead)
		r.Patch("/{id}/restore", s.handleRestore)
		r.Delete("/", s.handleClearAll)
		r.Delete("/{id}", s.handleDismiss)
	})

	channel := s.channel.ServeHandler(nil)
	r.Handle("/socket.io/", channel)
	r.Handle("/socket.io/*", channel)

	return r
}

// IssueToken signs a session token for userID valid for ttl.
func (s *Server) IssueToken(userID, email, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := session.Claims{
		ID:    session.FlexID(userID),
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// verify checks a token's signature and expiry and returns its user id.
func (s *Server) verify(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("token missing")
	}
	claims := &session.Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	if claims.ID != "" {
		return string(claims.ID), nil
	}
	if claims.Subject != "" {
		return claims.Subject, nil
	}
	return "", errors.New("token without user id")
}

// Seed stores n for userID without emitting it. A zero ID is assigned;
// a zero CreatedAt is stamped with the server clock.
func (s *Server) Seed(userID string, n model.Notification) model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(userID, n)
}

// Publish stores n for userID and emits it to the user's connected push
// clients, as the portal does when a notification is created.
func (s *Server) Publish(userID string, n model.Notification) model.Notification {
	s.mu.Lock()
	stored := s.insertLocked(userID, n)
	s.mu.Unlock()

	s.emit(userID, toWire(stored, false))
	return stored
}

// Emit sends n to the user's push clients without storing it, for
// simulating duplicates and out-of-order deliveries.
func (s *Server) Emit(userID string, n model.Notification) {
	s.emit(userID, toWire(n, false))
}

func (s *Server) insertLocked(userID string, n model.Notification) model.Notification {
	if n.ID == 0 {
		s.nextID++
		n.ID = s.nextID
	} else if n.ID > s.nextID {
		s.nextID = n.ID
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC().Truncate(time.Second)
	}
	if n.Type == "" {
		n.Type = model.TypeSystem
	}
	stored := n.Clone()
	s.records[userID] = append(s.records[userID], &stored)
	return stored.Clone()
}

// Records returns everything stored for userID, newest first.
func (s *Server) Records(userID string) []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked(userID, true, 0)
}

// viewLocked returns userID's records newest first, optionally including
// cleared ones, truncated to limit when limit > 0.
func (s *Server) viewLocked(userID string, includeCleared bool, limit int) []model.Notification {
	out := make([]model.Notification, 0, len(s.records[userID]))
	for _, n := range s.records[userID] {
		if n.IsCleared && !includeCleared {
			continue
		}
		out = append(out, n.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].NewerThan(out[j])
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Server) unreadLocked(userID string) int {
	count := 0
	for _, n := range s.records[userID] {
		if !n.IsRead && !n.IsCleared {
			count++
		}
	}
	return count
}

func (s *Server) findLocked(userID string, id int64) *model.Notification {
	for _, n := range s.records[userID] {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// Fail makes every call to route answer with status until Recover. Status
// 200 answers {"success": false}.
func (s *Server) Fail(route Route, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.faults[route]
	f.status = status
	s.faults[route] = f
}

// Delay holds every response of route for d before answering.
func (s *Server) Delay(route Route, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.faults[route]
	f.delay = d
	s.faults[route] = f
}

// Recover removes injected failures and delays from route.
func (s *Server) Recover(route Route) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.faults, route)
}

// Calls returns the REST calls received so far.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// CallCount returns how many times route was called.
func (s *Server) CallCount(route Route) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Route == route {
			n++
		}
	}
	return n
}

func (s *Server) record(route Route, userID string, id int64) fault {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Route: route, UserID: userID, ID: id})
	return s.faults[route]
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid notification id %q", raw)
	}
	return id, nil
}
