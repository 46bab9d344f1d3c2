package fakeapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nhle/warranty-notify/internal/model"
)

type ctxKey string

const userIDKey ctxKey = "user_id"

// authenticate accepts the token from the Authorization header or the
// auth_token cookie.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := s.verify(tokenFromRequest(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"error": "Unauthorized"})
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("auth_token"); err == nil {
		return c.Value
	}
	return ""
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// begin records the call and applies any injected fault. It reports
// false when the response has already been written.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, route Route, id int64) bool {
	f := s.record(route, userFrom(r), id)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-r.Context().Done():
			return false
		}
	}
	switch {
	case f.status == 0:
		return true
	case f.status == http.StatusOK:
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": "injected failure"})
	default:
		writeJSON(w, f.status, map[string]interface{}{"error": "Internal server error"})
	}
	return false
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	includeCleared := r.URL.Query().Get("includeCleared") == "true"
	route := RouteActive
	if includeCleared {
		route = RouteHistory
	}
	if !s.begin(w, r, route, 0) {
		return
	}

	s.mu.Lock()
	records := s.viewLocked(userFrom(r), includeCleared, pageLimit)
	s.mu.Unlock()

	out := make([]map[string]interface{}, 0, len(records))
	for _, n := range records {
		out = append(out, toWire(n, s.stringMetadata))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "notifications": out})
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, RouteUnreadCount, 0) {
		return
	}
	s.mu.Lock()
	count := s.unreadLocked(userFrom(r))
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "count": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	s.mutateOne(w, r, RouteMarkRead, func(n *model.Notification) { n.IsRead = true })
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	s.mutateOne(w, r, RouteDismiss, func(n *model.Notification) { n.IsCleared = true })
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	s.mutateOne(w, r, RouteRestore, func(n *model.Notification) { n.IsCleared = false })
}

// mutateOne applies fn to the caller's record named by the {id} path
// parameter. Unknown ids succeed without effect, as the portal's UPDATE
// does.
func (s *Server) mutateOne(w http.ResponseWriter, r *http.Request, route Route, fn func(*model.Notification)) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	if !s.begin(w, r, route, id) {
		return
	}

	s.mu.Lock()
	if n := s.findLocked(userFrom(r), id); n != nil {
		fn(n)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, RouteMarkAllRead, 0) {
		return
	}
	s.mu.Lock()
	for _, n := range s.records[userFrom(r)] {
		n.IsRead = true
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r, RouteClearAll, 0) {
		return
	}
	s.mu.Lock()
	for _, n := range s.records[userFrom(r)] {
		n.IsCleared = true
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Notifications cleared from view",
	})
}

// toWire renders n the way the portal serializes a database row: flags
// as 0/1, a millisecond UTC timestamp, and a null link when empty.
func toWire(n model.Notification, stringMetadata bool) map[string]interface{} {
	out := map[string]interface{}{
		"id":         n.ID,
		"title":      n.Title,
		"message":    n.Message,
		"type":       string(n.Type),
		"link":       nil,
		"metadata":   nil,
		"is_read":    boolInt(n.IsRead),
		"is_cleared": boolInt(n.IsCleared),
		"created_at": n.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	if n.Link != "" {
		out["link"] = n.Link
	}
	if n.Metadata != nil {
		if stringMetadata {
			b, _ := json.Marshal(n.Metadata)
			out["metadata"] = string(b)
		} else {
			out["metadata"] = n.Metadata
		}
	}
	return out
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
