package notify

import (
	gosync "sync"

	"github.com/nhle/warranty-notify/internal/model"
)

// Snapshot is a consistent copy of the store's state.
type Snapshot struct {
	// Active is the feed without cleared records, newest first.
	Active []model.Notification

	// History includes cleared records, newest first.
	History []model.Notification

	Unread int
}

// Store holds the active feed, the full history and the unread counter.
// Every mutation goes through one of its methods and is atomic with
// respect to the others.
//
// Invariants after every operation: ids are unique within each
// collection, both collections are ordered newest first and the unread
// counter is never negative.
type Store struct {
	mu       gosync.Mutex
	active   []model.Notification
	history  []model.Notification
	unread   int
	onChange func()
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{}
}

// OnChange registers fn to be called, outside the lock, after every
// mutation that changed the state.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// Snapshot returns deep copies of both collections and the counter.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Active:  cloneAll(s.active),
		History: cloneAll(s.history),
		Unread:  s.unread,
	}
}

// UnreadCount returns the locally maintained unread counter.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// InsertIfNew adds a pushed record to both collections. A collection that
// already holds the id is left untouched. The unread counter grows by one
// when the record is unread and was new to the active feed.
func (s *Store) InsertIfNew(n model.Notification) bool {
	s.mu.Lock()
	insertedActive := false
	if !n.IsCleared {
		s.active, insertedActive = insertSorted(s.active, n)
	}
	var insertedHistory bool
	s.history, insertedHistory = insertSorted(s.history, n)
	if insertedActive && n.Unread() {
		s.unread++
	}
	changed := insertedActive || insertedHistory
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return changed
}

// ReplaceAll swaps in server-authoritative state wholesale.
func (s *Store) ReplaceAll(active, history []model.Notification, unread int) {
	s.mu.Lock()
	s.active = normalize(active)
	s.history = normalize(history)
	s.unread = clampUnread(unread)
	s.mu.Unlock()
	s.notify()
}

// ReplaceActive swaps in a fresh active feed only.
func (s *Store) ReplaceActive(active []model.Notification) {
	s.mu.Lock()
	s.active = normalize(active)
	s.mu.Unlock()
	s.notify()
}

// ReplaceHistory swaps in a fresh full history only.
func (s *Store) ReplaceHistory(history []model.Notification) {
	s.mu.Lock()
	s.history = normalize(history)
	s.mu.Unlock()
	s.notify()
}

// SetUnreadCount replaces the counter with the server's value.
func (s *Store) SetUnreadCount(unread int) {
	s.mu.Lock()
	s.unread = clampUnread(unread)
	s.mu.Unlock()
	s.notify()
}

// MarkRead flags the record as read in both collections. The counter
// tracks uncleared records only, so it is decremented when the record was
// unread in the active list or uncleared in history, and never twice for
// the same record.
func (s *Store) MarkRead(id int64) bool {
	s.mu.Lock()
	found := false
	changed := false
	counted := false

	if i := indexOf(s.active, id); i >= 0 {
		found = true
		if s.active[i].Unread() {
			changed = true
			counted = true
			s.active[i].IsRead = true
		}
	}
	if i := indexOf(s.history, id); i >= 0 {
		found = true
		if s.history[i].Unread() {
			changed = true
			counted = counted || !s.history[i].IsCleared
			s.history[i].IsRead = true
		}
	}
	if counted && s.unread > 0 {
		s.unread--
	}
	s.mu.Unlock()

	if changed {
		s.notify()
	}
	return found
}

// MarkAllRead flags every record as read and zeroes the counter.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	for i := range s.active {
		s.active[i].IsRead = true
	}
	for i := range s.history {
		s.history[i].IsRead = true
	}
	s.unread = 0
	s.mu.Unlock()
	s.notify()
}

// RemoveFromActive drops the record from the active feed only; history
// keeps it. Removing an unread record decrements the counter.
func (s *Store) RemoveFromActive(id int64) bool {
	s.mu.Lock()
	i := indexOf(s.active, id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	removed := s.active[i]
	s.active = append(s.active[:i:i], s.active[i+1:]...)
	if removed.Unread() && s.unread > 0 {
		s.unread--
	}
	if j := indexOf(s.history, id); j >= 0 {
		s.history[j].IsCleared = true
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// ClearAll empties both collections and zeroes the counter.
func (s *Store) ClearAll() {
	s.mu.Lock()
	s.active = nil
	s.history = nil
	s.unread = 0
	s.mu.Unlock()
	s.notify()
}

func (s *Store) notify() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func indexOf(ns []model.Notification, id int64) int {
	for i := range ns {
		if ns[i].ID == id {
			return i
		}
	}
	return -1
}

// insertSorted places n at its newest-first position unless the id is
// already present. Pushed records are almost always the newest, so the
// scan usually stops at index 0.
func insertSorted(ns []model.Notification, n model.Notification) ([]model.Notification, bool) {
	if indexOf(ns, n.ID) >= 0 {
		return ns, false
	}
	pos := len(ns)
	for i := range ns {
		if n.NewerThan(ns[i]) {
			pos = i
			break
		}
	}
	out := make([]model.Notification, 0, len(ns)+1)
	out = append(out, ns[:pos]...)
	out = append(out, n.Clone())
	out = append(out, ns[pos:]...)
	return out, true
}

// normalize copies, de-duplicates by id (first occurrence wins) and
// orders a server batch newest first.
func normalize(ns []model.Notification) []model.Notification {
	if len(ns) == 0 {
		return nil
	}
	seen := make(map[int64]bool, len(ns))
	out := make([]model.Notification, 0, len(ns))
	for _, n := range ns {
		if seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		out = append(out, n.Clone())
	}
	model.SortNewestFirst(out)
	return out
}

func cloneAll(ns []model.Notification) []model.Notification {
	if ns == nil {
		return nil
	}
	out := make([]model.Notification, len(ns))
	for i, n := range ns {
		out[i] = n.Clone()
	}
	return out
}

func clampUnread(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
