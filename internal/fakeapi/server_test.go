package fakeapi_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/warranty-notify/internal/api"
	"github.com/nhle/warranty-notify/internal/fakeapi"
	"github.com/nhle/warranty-notify/internal/model"
	"github.com/nhle/warranty-notify/internal/push"
)

const dealer = "7"

var epoch = time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func start(t *testing.T, opts ...fakeapi.Option) (*fakeapi.Server, *httptest.Server, string) {
	t.Helper()
	backend := fakeapi.New(append([]fakeapi.Option{
		fakeapi.WithLogger(discard()),
		fakeapi.WithClock(func() time.Time { return epoch }),
	}, opts...)...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(func() {
		backend.Close()
		srv.Close()
	})
	token, err := backend.IssueToken(dealer, "dealer@example.com", "dealer", time.Hour)
	require.NoError(t, err)
	return backend, srv, token
}

func TestSeedStampsAndRecordsMutations(t *testing.T) {
	backend, srv, token := start(t)
	ctx := context.Background()

	first := backend.Seed(dealer, model.Notification{Title: "first"})
	second := backend.Seed(dealer, model.Notification{Title: "second", Type: model.TypeOrder})
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, model.TypeSystem, first.Type)
	assert.True(t, epoch.Equal(first.CreatedAt))

	client := api.NewClient(srv.URL+"/api", token, api.WithHTTPClient(srv.Client()))
	assert.Equal(t, srv.URL+"/api", client.BaseURL())
	n := api.NewNotifications(client)
	require.NoError(t, n.MarkRead(ctx, first.ID))
	require.NoError(t, n.Dismiss(ctx, second.ID))

	records := backend.Records(dealer)
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID, "same instant sorts by id")
	assert.True(t, records[0].IsCleared)
	assert.True(t, records[1].IsRead)

	assert.Equal(t, []fakeapi.Call{
		{Route: fakeapi.RouteMarkRead, UserID: dealer, ID: first.ID},
		{Route: fakeapi.RouteDismiss, UserID: dealer, ID: second.ID},
	}, backend.Calls())
}

func TestListCapsPage(t *testing.T) {
	backend, srv, token := start(t)
	for i := 0; i < 60; i++ {
		backend.Seed(dealer, model.Notification{Title: "bulk"})
	}

	records, _, err := api.NewNotifications(api.NewClient(srv.URL+"/api", token)).List(context.Background(), true)
	require.NoError(t, err)
	assert.Len(t, records, 50)
	assert.Equal(t, int64(60), records[0].ID)
}

func TestDelayOutlastsClientTimeout(t *testing.T) {
	backend, srv, token := start(t)
	backend.Delay(fakeapi.RouteUnreadCount, 300*time.Millisecond)

	n := api.NewNotifications(api.NewClient(srv.URL+"/api", token, api.WithTimeout(50*time.Millisecond)))
	_, err := n.UnreadCount(context.Background())
	require.Error(t, err)

	backend.Recover(fakeapi.RouteUnreadCount)
	count, err := n.UnreadCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCookieAuthentication(t *testing.T) {
	_, srv, token := start(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/notifications/unread-count", nil)
	require.NoError(t, err)
	req.AddCookie(&http.Cookie{Name: "auth_token", Value: token})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/notifications/unread-count")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEmitDoesNotStore(t *testing.T) {
	backend, srv, token := start(t)

	l := push.NewListener(push.Config{
		APIBase:    srv.URL + "/api",
		PathSuffix: "/api",
		Token:      token,
		Logger:     discard(),
	})
	l.Start(context.Background())
	t.Cleanup(l.Stop)
	require.Eventually(t, func() bool {
		return l.State() == push.StateConnected && backend.Connected(dealer) == 1
	}, 3*time.Second, 10*time.Millisecond)

	backend.Emit(dealer, model.Notification{ID: 99, Title: "replayed", CreatedAt: epoch})

	select {
	case n := <-l.Notifications():
		assert.Equal(t, int64(99), n.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("no notification delivered")
	}
	assert.Empty(t, backend.Records(dealer))
}
