package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/sourcegraph/conc"

	"github.com/nhle/warranty-notify/internal/model"
)

// Refresh replaces local state with the server's view. The active feed,
// the unread counter and the full history are fetched concurrently; each
// slice that arrives is applied and each that fails is logged and left
// as it was. The returned error is informational only: local state has
// already been updated with whatever succeeded.
//
// Without a running session Refresh clears local state. Results that
// arrive after the session was stopped or replaced are discarded.
func (s *Service) Refresh(ctx context.Context) error {
	sess, client, gen := s.current()
	if sess == nil || client == nil || !sess.Valid(s.now()) {
		s.store.ClearAll()
		return ErrNoSession
	}

	ticket := s.tickets.Add(1)

	var (
		active, history       []model.Notification
		unread                int
		activeErr, historyErr error
		unreadErr             error
	)

	var wg conc.WaitGroup
	wg.Go(func() {
		active, activeErr = s.list(ctx, client, false)
	})
	wg.Go(func() {
		unread, unreadErr = client.UnreadCount(ctx)
	})
	wg.Go(func() {
		history, historyErr = s.list(ctx, client, true)
	})
	wg.Wait()

	s.applyMu.Lock()
	if !s.live(gen) {
		s.applyMu.Unlock()
		s.log.Debug("discarding refresh from an ended session")
		return ErrNoSession
	}
	fresh := func(sl slice, err error) bool {
		if err != nil || ticket < s.applied[sl] {
			return false
		}
		s.applied[sl] = ticket
		return true
	}
	okActive := fresh(sliceActive, activeErr)
	okHistory := fresh(sliceHistory, historyErr)
	okUnread := fresh(sliceUnread, unreadErr)

	complete := okActive && okHistory && okUnread
	switch {
	case complete:
		s.store.ReplaceAll(active, history, unread)
	default:
		if okActive {
			s.store.ReplaceActive(active)
		}
		if okHistory {
			s.store.ReplaceHistory(history)
		}
		if okUnread {
			s.store.SetUnreadCount(unread)
		}
	}
	s.applyMu.Unlock()

	err := errors.Join(
		wrapSlice("active feed", activeErr),
		wrapSlice("unread count", unreadErr),
		wrapSlice("history", historyErr),
	)
	if err != nil {
		s.log.Warn("refresh incomplete", "err", err)
		return err
	}

	if complete {
		s.reconcile.Store(false)
		s.saveSnapshot(ctx, gen)
	}
	return nil
}

// RefreshHistory re-fetches the full history only. Like Refresh, it
// clears local state when the session is missing or expired.
func (s *Service) RefreshHistory(ctx context.Context) error {
	sess, client, gen := s.current()
	if sess == nil || client == nil || !sess.Valid(s.now()) {
		s.store.ClearAll()
		return ErrNoSession
	}
	ticket := s.tickets.Add(1)

	history, err := s.list(ctx, client, true)
	if err != nil {
		s.log.Warn("history refresh failed", "err", err)
		return err
	}

	s.applyMu.Lock()
	if !s.live(gen) {
		s.applyMu.Unlock()
		return ErrNoSession
	}
	if ticket >= s.applied[sliceHistory] {
		s.applied[sliceHistory] = ticket
		s.store.ReplaceHistory(history)
	}
	s.applyMu.Unlock()
	return nil
}

// list fetches one view and logs per-record metadata problems.
func (s *Service) list(ctx context.Context, client API, includeCleared bool) ([]model.Notification, error) {
	records, warnings, err := client.List(ctx, includeCleared)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		s.log.Warn("notification metadata dropped", "id", w.ID, "err", w.Err)
	}
	return records, nil
}

// saveSnapshot writes the current state to the cache unless the session
// that produced it has ended.
func (s *Service) saveSnapshot(ctx context.Context, gen uint64) {
	if s.cache == nil {
		return
	}
	sess, _, now := s.current()
	if sess == nil || now != gen {
		return
	}
	snap := s.store.Snapshot()
	if err := s.cache.Save(ctx, sess.CacheKey(), snap.Active, snap.History, snap.Unread); err != nil {
		s.log.Warn("saving snapshot", "err", err)
	}
}

func wrapSlice(name string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("fetching %s: %w", name, err)
}
