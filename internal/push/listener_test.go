package push

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/warranty-notify/internal/fakeapi"
	"github.com/nhle/warranty-notify/internal/model"
)

const dealer = "42"

type stateRecorder struct {
	mu     gosync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startBackend(t *testing.T, opts ...fakeapi.Option) (*fakeapi.Server, *httptest.Server, string) {
	t.Helper()
	backend := fakeapi.New(append([]fakeapi.Option{fakeapi.WithLogger(discard())}, opts...)...)
	srv := httptest.NewServer(backend.Handler())
	t.Cleanup(func() {
		backend.Close()
		srv.Close()
	})

	token, err := backend.IssueToken(dealer, "dealer@example.com", "dealer", time.Hour)
	require.NoError(t, err)
	return backend, srv, token
}

func startListener(t *testing.T, srv *httptest.Server, token string, rec *stateRecorder, attempts int) *Listener {
	t.Helper()
	l := NewListener(Config{
		APIBase:           srv.URL + "/api",
		PathSuffix:        "/api",
		IncapableHosts:    []string{"*.vercel.app"},
		Token:             token,
		ReconnectAttempts: attempts,
		ReconnectDelay:    20 * time.Millisecond,
		OnState:           rec.record,
		Logger:            discard(),
	})
	l.Start(context.Background())
	t.Cleanup(l.Stop)
	return l
}

func waitConnected(t *testing.T, backend *fakeapi.Server, l *Listener) {
	t.Helper()
	require.Eventually(t, func() bool {
		return l.State() == StateConnected && backend.Connected(dealer) == 1
	}, 3*time.Second, 10*time.Millisecond)
}

func receive(t *testing.T, l *Listener) model.Notification {
	t.Helper()
	select {
	case n := <-l.Notifications():
		return n
	case <-time.After(3 * time.Second):
		t.Fatal("no notification delivered")
		return model.Notification{}
	}
}

func TestListenerWebsocketDelivery(t *testing.T) {
	backend, srv, token := startBackend(t)
	rec := &stateRecorder{}
	l := startListener(t, srv, token, rec, 0)
	waitConnected(t, backend, l)

	sent := backend.Publish(dealer, model.Notification{
		Title:    "Claim #881 approved",
		Message:  "Your warranty claim was approved.",
		Type:     model.TypeWarranty,
		Link:     "/warranty/881",
		Metadata: &model.Metadata{Images: []string{"claim.jpg"}},
	})
	backend.Publish("someone-else", model.Notification{Title: "not for us"})

	got := receive(t, l)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, "Claim #881 approved", got.Title)
	assert.Equal(t, model.TypeWarranty, got.Type)
	assert.Equal(t, "/warranty/881", got.Link)
	assert.False(t, got.IsRead)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, []string{"claim.jpg"}, got.Metadata.Images)
	assert.True(t, sent.CreatedAt.Equal(got.CreatedAt))

	select {
	case extra := <-l.Notifications():
		t.Fatalf("unexpected delivery %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Equal(t, []State{StateConnecting, StateConnected}, rec.all())
}

func TestListenerFallsBackToPolling(t *testing.T) {
	backend, srv, token := startBackend(t, fakeapi.WithoutWebsocket())
	l := startListener(t, srv, token, &stateRecorder{}, 0)
	waitConnected(t, backend, l)

	first := backend.Publish(dealer, model.Notification{Title: "first", Type: model.TypeOrder})
	second := backend.Publish(dealer, model.Notification{Title: "second", Type: model.TypeScheme})

	assert.Equal(t, first.ID, receive(t, l).ID)
	assert.Equal(t, second.ID, receive(t, l).ID)
}

func TestListenerAnswersPings(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []fakeapi.Option
	}{
		{name: "websocket", opts: []fakeapi.Option{fakeapi.WithPing(40*time.Millisecond, 60*time.Millisecond)}},
		{name: "polling", opts: []fakeapi.Option{fakeapi.WithPing(40*time.Millisecond, 60*time.Millisecond), fakeapi.WithoutWebsocket()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			backend, srv, token := startBackend(t, tc.opts...)
			l := startListener(t, srv, token, &stateRecorder{}, 0)
			waitConnected(t, backend, l)

			time.Sleep(300 * time.Millisecond)
			assert.Equal(t, StateConnected, l.State())
			assert.Equal(t, 1, backend.Connected(dealer))

			backend.Publish(dealer, model.Notification{Title: "still here"})
			assert.Equal(t, "still here", receive(t, l).Title)
		})
	}
}

func TestListenerRejectedTokenGivesUp(t *testing.T) {
	backend, srv, _ := startBackend(t)
	rec := &stateRecorder{}
	l := startListener(t, srv, "forged", rec, 3)

	require.Eventually(t, func() bool {
		return len(rec.all()) == 2
	}, 3*time.Second, 10*time.Millisecond)

	// a rejected handshake is not retried; the token will not get better
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []State{StateConnecting, StateDisconnected}, rec.all())
	assert.Equal(t, StateDisconnected, l.State())
	assert.Zero(t, backend.Connected(dealer))
}

func TestListenerRetriesUnreachableBackend(t *testing.T) {
	_, srv, token := startBackend(t)
	srv.Close()

	rec := &stateRecorder{}
	l := startListener(t, srv, token, rec, 2)

	countConnecting := func() int {
		n := 0
		for _, s := range rec.all() {
			if s == StateConnecting {
				n++
			}
		}
		return n
	}
	require.Eventually(t, func() bool {
		return countConnecting() == 3 && l.State() == StateDisconnected
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 3, countConnecting(), "one initial attempt plus two retries")
	assert.Equal(t, StateDisconnected, l.State())
}

func TestListenerStopDisconnects(t *testing.T) {
	backend, srv, token := startBackend(t)
	rec := &stateRecorder{}
	l := startListener(t, srv, token, rec, 3)
	waitConnected(t, backend, l)

	l.Stop()

	assert.Equal(t, StateDisconnected, l.State())
	require.Eventually(t, func() bool {
		return backend.Connected(dealer) == 0
	}, 3*time.Second, 10*time.Millisecond)

	l.Stop()
}

func TestListenerReconnectsAfterServerDrop(t *testing.T) {
	backend, srv, token := startBackend(t)
	rec := &stateRecorder{}
	l := startListener(t, srv, token, rec, 2)
	waitConnected(t, backend, l)

	backend.Drop()

	require.Eventually(t, func() bool {
		connected := 0
		for _, s := range rec.all() {
			if s == StateConnected {
				connected++
			}
		}
		return connected == 2
	}, 3*time.Second, 10*time.Millisecond)
	waitConnected(t, backend, l)

	backend.Publish(dealer, model.Notification{Title: "after reconnect"})
	assert.Equal(t, "after reconnect", receive(t, l).Title)
}

func TestListenerStopsWithContext(t *testing.T) {
	backend, srv, token := startBackend(t)
	ctx, cancel := context.WithCancel(context.Background())
	l := NewListener(Config{
		APIBase:    srv.URL + "/api",
		PathSuffix: "/api",
		Token:      token,
		Logger:     discard(),
	})
	l.Start(ctx)
	t.Cleanup(l.Stop)
	waitConnected(t, backend, l)

	cancel()

	require.Eventually(t, func() bool {
		return l.State() == StateDisconnected && backend.Connected(dealer) == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestListenerPollingOnly(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
	}{
		{name: "disabled", cfg: Config{APIBase: "http://127.0.0.1:1/api", PathSuffix: "/api", Disabled: true}},
		{name: "same-origin proxy", cfg: Config{APIBase: "/api", PathSuffix: "/api"}},
		{name: "serverless host", cfg: Config{APIBase: "https://portal.vercel.app/api", PathSuffix: "/api", IncapableHosts: []string{"*.vercel.app"}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			rec := &stateRecorder{}
			cfg := tc.cfg
			cfg.OnState = rec.record
			cfg.Logger = discard()
			l := NewListener(cfg)

			l.Start(context.Background())
			defer l.Stop()

			assert.Equal(t, StatePollingOnly, l.State())
			assert.Equal(t, []State{StatePollingOnly}, rec.all())

			l.Start(context.Background())
			assert.Len(t, rec.all(), 1)
		})
	}
}

func TestHandleEvent(t *testing.T) {
	l := NewListener(Config{QueueSize: 1, Logger: discard()})

	l.handleEvent()
	l.handleEvent("not an object")
	assert.Empty(t, l.queue)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"id":5,"title":"t","message":"m","type":"posm",
		"metadata":"{broken","is_read":1,"is_cleared":0,"created_at":"2025-01-02 03:04:05"}`), &payload))
	l.handleEvent(payload)
	require.Len(t, l.queue, 1)

	// queue is full; the next record is dropped rather than blocking
	l.handleEvent(map[string]any{"id": 6, "created_at": "2025-01-02T03:04:05Z"})

	n := <-l.queue
	assert.Equal(t, int64(5), n.ID)
	assert.Equal(t, model.TypePOSM, n.Type)
	assert.True(t, n.IsRead)
	assert.Nil(t, n.Metadata)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), n.CreatedAt)
	assert.Empty(t, l.queue)
}

func TestChannelURL(t *testing.T) {
	assert.Equal(t, "http://host:3000", channelURL("ws://host:3000"))
	assert.Equal(t, "https://portal.example.com", channelURL("wss://portal.example.com"))
	assert.Equal(t, "https://portal.example.com", channelURL("https://portal.example.com"))
}
