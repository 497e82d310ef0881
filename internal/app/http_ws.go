package app

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"huddle/api/internal/realtime"
)

func (s *HTTPServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.corsOrigin == "*" {
		return true
	}
	return strings.EqualFold(origin, s.corsOrigin)
}

// handleWebsocket upgrades an authenticated request and serves topic
// subscriptions until the client goes away. Browsers cannot set headers on
// a websocket handshake, so the token may also come from the query string.
func (s *HTTPServer) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "REALTIME_UNAVAILABLE", "Realtime is not enabled", nil)
		return
	}
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return
	}
	session, ok := s.sessionFromToken(w, r, token)
	if !ok {
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	conn := realtime.NewConnection(session.UserID, ws)
	s.hub.Attach(conn)
	if s.metrics != nil {
		s.metrics.WebsocketOpened()
	}
	defer func() {
		s.hub.Detach(conn)
		conn.Close(websocket.CloseNormalClosure, "")
		if s.metrics != nil {
			s.metrics.WebsocketClosed()
		}
	}()

	ctx := r.Context()
	conn.ReadLoop(func(frame realtime.Frame) {
		switch frame.Type {
		case realtime.FrameSubscribe:
			workspaceID, err := s.service.AuthorizeTopic(ctx, session.UserID, frame.Topic)
			if err != nil {
				_, _, message, _ := mapError(err)
				_ = conn.SendEvent(realtime.Event{Type: realtime.TypeError, Topic: frame.Topic, Error: message})
				return
			}
			s.hub.Subscribe(frame.Topic, workspaceID, conn)
			_ = conn.SendEvent(realtime.Event{Type: realtime.TypeSubscribed, Topic: frame.Topic})
		case realtime.FrameUnsubscribe:
			s.hub.Unsubscribe(frame.Topic, conn)
			_ = conn.SendEvent(realtime.Event{Type: realtime.TypeUnsubscribed, Topic: frame.Topic})
		default:
			_ = conn.SendEvent(realtime.Event{Type: realtime.TypeError, Error: "unknown frame type"})
		}
	})
}
