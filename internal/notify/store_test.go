package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/warranty-notify/internal/model"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// record builds a notification created `age` minutes before base.
func record(id int64, age int, read bool) model.Notification {
	return model.Notification{
		ID:        id,
		Title:     "title",
		Message:   "message",
		Type:      model.TypeWarranty,
		IsRead:    read,
		CreatedAt: base.Add(-time.Duration(age) * time.Minute),
	}
}

func ids(ns []model.Notification) []int64 {
	out := make([]int64, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out
}

func find(ns []model.Notification, id int64) (model.Notification, bool) {
	for _, n := range ns {
		if n.ID == id {
			return n, true
		}
	}
	return model.Notification{}, false
}

func assertNewestFirst(t *testing.T, ns []model.Notification) {
	t.Helper()
	for i := 1; i < len(ns); i++ {
		assert.False(t, ns[i].NewerThan(ns[i-1]), "record %d sorts after %d", ns[i].ID, ns[i-1].ID)
	}
}

func TestStoreInsertIfNewIsIdempotent(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(
		[]model.Notification{record(2, 1, false), record(1, 2, true)},
		[]model.Notification{record(2, 1, false), record(1, 2, true)},
		1,
	)
	before := s.Snapshot()

	dup := record(2, 1, false)
	dup.Title = "changed"
	assert.False(t, s.InsertIfNew(dup))

	after := s.Snapshot()
	assert.Equal(t, before, after)
}

func TestStoreInsertKeepsOrder(t *testing.T) {
	s := NewStore()
	for _, n := range []model.Notification{
		record(3, 30, false),
		record(5, 10, false),
		record(1, 50, false),
		record(4, 20, true),
		record(2, 40, false),
	} {
		require.True(t, s.InsertIfNew(n))
	}

	snap := s.Snapshot()
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, ids(snap.Active))
	assert.Equal(t, []int64{5, 4, 3, 2, 1}, ids(snap.History))
	assert.Equal(t, 4, snap.Unread)
	assertNewestFirst(t, snap.Active)
	assertNewestFirst(t, snap.History)
}

func TestStoreInsertSameInstantOrdersByID(t *testing.T) {
	s := NewStore()
	a := record(7, 0, false)
	b := record(8, 0, false)
	s.InsertIfNew(a)
	s.InsertIfNew(b)

	assert.Equal(t, []int64{8, 7}, ids(s.Snapshot().Active))
}

func TestStoreInsertClearedGoesToHistoryOnly(t *testing.T) {
	s := NewStore()
	n := record(9, 0, false)
	n.IsCleared = true

	assert.True(t, s.InsertIfNew(n))

	snap := s.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Equal(t, []int64{9}, ids(snap.History))
	assert.Equal(t, 0, snap.Unread)
}

func TestStoreUnreadNeverNegative(t *testing.T) {
	s := NewStore()
	s.ReplaceAll([]model.Notification{record(1, 0, false)}, nil, 0)

	s.MarkRead(1)
	s.RemoveFromActive(1)
	s.SetUnreadCount(-4)

	assert.Equal(t, 0, s.UnreadCount())
}

func TestStoreMarkReadOnReadRecordKeepsCount(t *testing.T) {
	s := NewStore()
	s.ReplaceAll([]model.Notification{record(1, 0, true), record(2, 1, false)}, nil, 1)

	assert.True(t, s.MarkRead(1))
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreMarkReadUnknownID(t *testing.T) {
	s := NewStore()
	s.ReplaceAll([]model.Notification{record(1, 0, false)}, nil, 1)

	assert.False(t, s.MarkRead(42))
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreMarkAllRead(t *testing.T) {
	s := NewStore()
	all := []model.Notification{record(1, 0, false), record(2, 1, false)}
	s.ReplaceAll(all, all, 2)

	s.MarkAllRead()

	snap := s.Snapshot()
	assert.Equal(t, 0, snap.Unread)
	for _, n := range append(snap.Active, snap.History...) {
		assert.True(t, n.IsRead, "record %d", n.ID)
	}
}

func TestStoreClearAllConverges(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(
		[]model.Notification{record(1, 0, false)},
		[]model.Notification{record(1, 0, false), record(2, 5, true)},
		3,
	)
	s.InsertIfNew(record(3, -1, false))

	s.ClearAll()

	snap := s.Snapshot()
	assert.Empty(t, snap.Active)
	assert.Empty(t, snap.History)
	assert.Equal(t, 0, snap.Unread)
}

func TestStoreReplaceAllNormalizes(t *testing.T) {
	s := NewStore()
	s.ReplaceAll(
		[]model.Notification{record(1, 10, false), record(2, 0, false), record(1, 10, true)},
		nil,
		2,
	)

	snap := s.Snapshot()
	assert.Equal(t, []int64{2, 1}, ids(snap.Active))
	first, _ := find(snap.Active, 1)
	assert.False(t, first.IsRead, "first occurrence wins")
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	n := record(1, 0, false)
	n.Metadata = &model.Metadata{Images: []string{"a.jpg"}}
	s.InsertIfNew(n)

	snap := s.Snapshot()
	snap.Active[0].Title = "mutated"
	snap.Active[0].Metadata.Images[0] = "b.jpg"

	again := s.Snapshot()
	assert.Equal(t, "title", again.Active[0].Title)
	assert.Equal(t, "a.jpg", again.Active[0].Metadata.Images[0])
}

func TestStoreOnChange(t *testing.T) {
	s := NewStore()
	calls := 0
	s.OnChange(func() { calls++ })

	s.InsertIfNew(record(1, 0, false))
	s.InsertIfNew(record(1, 0, false))
	s.MarkRead(1)
	s.MarkRead(1)

	assert.Equal(t, 2, calls)
}

func TestStoreScenarioPushHead(t *testing.T) {
	s := NewStore()
	feed := []model.Notification{record(100, 1, false), record(99, 2, false), record(98, 3, true)}
	s.ReplaceAll(feed, feed, 2)

	s.InsertIfNew(record(101, 0, false))

	snap := s.Snapshot()
	require.Len(t, snap.Active, 4)
	assert.Equal(t, int64(101), snap.Active[0].ID)
	assert.Equal(t, 3, snap.Unread)
}

func TestStoreScenarioMarkReadTwice(t *testing.T) {
	s := NewStore()
	feed := []model.Notification{record(100, 1, false), record(99, 2, false)}
	s.ReplaceAll(feed, feed, 2)

	s.MarkRead(99)
	snap := s.Snapshot()
	assert.Equal(t, 1, snap.Unread)
	n, ok := find(snap.Active, 99)
	require.True(t, ok)
	assert.True(t, n.IsRead)

	s.MarkRead(99)
	snap = s.Snapshot()
	assert.Equal(t, 1, snap.Unread)
	n, _ = find(snap.History, 99)
	assert.True(t, n.IsRead)
}

func TestStoreScenarioRemoveFromActive(t *testing.T) {
	s := NewStore()
	feed := []model.Notification{record(51, 0, true), record(50, 1, false), record(49, 2, false)}
	s.ReplaceAll(feed, feed, 2)

	assert.True(t, s.RemoveFromActive(50))

	snap := s.Snapshot()
	_, inActive := find(snap.Active, 50)
	assert.False(t, inActive)
	h, inHistory := find(snap.History, 50)
	assert.True(t, inHistory)
	assert.True(t, h.IsCleared)
	assert.Equal(t, 1, snap.Unread)

	assert.False(t, s.RemoveFromActive(50))
	assert.Equal(t, 1, s.UnreadCount())
}

func TestStoreMarkReadAfterDismissKeepsCount(t *testing.T) {
	s := NewStore()
	feed := []model.Notification{record(1, 0, false), record(2, 1, false)}
	s.ReplaceAll(feed, feed, 2)

	require.True(t, s.RemoveFromActive(1))
	require.Equal(t, 1, s.UnreadCount())

	changes := 0
	s.OnChange(func() { changes++ })

	assert.True(t, s.MarkRead(1), "still known through history")
	assert.Equal(t, 1, s.UnreadCount())
	assert.Equal(t, 1, changes)

	snap := s.Snapshot()
	h, ok := find(snap.History, 1)
	require.True(t, ok)
	assert.True(t, h.IsRead)
	assert.True(t, h.IsCleared)
	a, ok := find(snap.Active, 2)
	require.True(t, ok)
	assert.False(t, a.IsRead)

	s.MarkRead(2)
	assert.Zero(t, s.UnreadCount())
}
