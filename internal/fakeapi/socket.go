package fakeapi

import (
	"net/http"
	"time"

	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io/v2/socket"
)

// EventNewNotification is emitted to a user's room when a notification is
// created for them.
const EventNewNotification = "notification:new"

func userRoom(userID string) socket.Room {
	return socket.Room("user_" + userID)
}

// newChannel builds the Socket.IO server behind /socket.io/. Clients
// authenticate with the handshake's Authorization header or auth_token
// cookie, falling back to auth.token, and join their user room.
func (s *Server) newChannel() *socket.Server {
	opts := socket.DefaultServerOptions()
	opts.SetPingInterval(s.pingInterval)
	opts.SetPingTimeout(s.pingTimeout)
	opts.SetMaxHttpBufferSize(1_000_000)
	if s.noWebsocket {
		opts.SetTransports(types.NewSet("polling"))
		opts.SetAllowUpgrades(false)
	}

	io := socket.NewServer(nil, opts)

	io.Use(func(client *socket.Socket, next func(*socket.ExtendedError)) {
		token := handshakeToken(client.Handshake())
		if token == "" {
			next(socket.NewExtendedError("Authentication error: Token missing",
				map[string]any{"code": "token_missing"}))
			return
		}
		userID, err := s.verify(token)
		if err != nil {
			next(socket.NewExtendedError("Authentication error: Invalid token",
				map[string]any{"code": "invalid_token"}))
			return
		}
		client.SetData(userID)
		next(nil)
	})

	_ = io.On("connection", func(clients ...any) {
		client := clients[0].(*socket.Socket)
		userID, _ := client.Data().(string)
		client.Join(userRoom(userID))
		s.log.Info("push client connected", "user", userID, "sid", client.Id())

		_ = client.On("disconnect", func(reason ...any) {
			s.log.Debug("push client disconnected", "user", userID, "sid", client.Id(), "reason", reason)
		})
	})

	return io
}

// handshakeToken prefers the request's header or cookie over the auth
// payload.
func handshakeToken(hs *socket.Handshake) string {
	req := &http.Request{Header: http.Header(hs.Headers)}
	if token := tokenFromRequest(req); token != "" {
		return token
	}
	if auth, ok := hs.Auth.(map[string]any); ok {
		if token, ok := auth["token"].(string); ok {
			return token
		}
	}
	return ""
}

// emit sends an event to every socket in userID's room.
func (s *Server) emit(userID string, payload any) {
	if err := s.channel.To(userRoom(userID)).Emit(EventNewNotification, payload); err != nil {
		s.log.Error("emitting event", "user", userID, "err", err)
	}
}

// Connected reports how many push clients are joined for userID.
func (s *Server) Connected(userID string) int {
	ids, err := s.channel.In(userRoom(userID)).AllSockets()
	if err != nil {
		return 0
	}
	return ids.Len()
}

// Drop closes every push connection without stopping the channel, so
// clients see a transport failure and reconnect.
func (s *Server) Drop() {
	s.channel.DisconnectSockets(true)
}

// Close disconnects every push client and shuts the channel down.
func (s *Server) Close() {
	done := make(chan struct{})
	s.channel.Close(func(error) { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		s.log.Warn("push channel close timed out")
	}
}
