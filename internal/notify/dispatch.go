package notify

import (
	"context"
)

// MarkRead flags one notification as read locally and acknowledges it on
// the server. A failed acknowledgement is logged and the local change is
// kept until the next Refresh.
func (s *Service) MarkRead(ctx context.Context, id int64) {
	_, client, _ := s.current()
	if client == nil {
		return
	}

	s.store.MarkRead(id)
	if err := client.MarkRead(ctx, id); err != nil {
		s.log.Warn("mark read failed", "id", id, "err", err)
		s.reconcile.Store(true)
	}
}

// MarkAllRead flags every notification as read locally and on the
// server. Failure handling matches MarkRead.
func (s *Service) MarkAllRead(ctx context.Context) {
	_, client, _ := s.current()
	if client == nil {
		return
	}

	s.store.MarkAllRead()
	if err := client.MarkAllRead(ctx); err != nil {
		s.log.Warn("mark all read failed", "err", err)
		s.reconcile.Store(true)
	}
}

// ClearAll asks the server to clear every notification and only then
// empties local state. Both outcomes are reported to the user.
func (s *Service) ClearAll(ctx context.Context) {
	_, client, gen := s.current()
	if client == nil {
		return
	}

	if err := client.ClearAll(ctx); err != nil {
		s.log.Error("clear all failed", "err", err)
		s.alerter.Toast(Toast{
			Title:       "Error",
			Description: "Failed to clear notifications.",
			Variant:     ToastDestructive,
		})
		return
	}

	s.store.ClearAll()
	s.saveSnapshot(ctx, gen)
	s.alerter.Toast(Toast{
		Title:       "Notifications cleared",
		Description: "All notifications have been removed.",
	})
}

// Dismiss removes one notification from the active feed locally and on
// the server. History keeps it so it can be restored.
func (s *Service) Dismiss(ctx context.Context, id int64) {
	_, client, _ := s.current()
	if client == nil {
		return
	}

	s.store.RemoveFromActive(id)
	if err := client.Dismiss(ctx, id); err != nil {
		s.log.Warn("dismiss failed", "id", id, "err", err)
		s.reconcile.Store(true)
	}
}

// Restore puts a dismissed notification back into the active feed. The
// record is not rebuilt locally; a full Refresh follows the server call.
func (s *Service) Restore(ctx context.Context, id int64) {
	_, client, _ := s.current()
	if client == nil {
		return
	}

	if err := client.Restore(ctx, id); err != nil {
		s.log.Warn("restore failed", "id", id, "err", err)
		return
	}
	_ = s.Refresh(ctx)
}
