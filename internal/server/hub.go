package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cp818/scribe/internal/session"
)

const (
	// writeWait bounds one event write to a client.
	writeWait = 10 * time.Second

	// pingPeriod is the keepalive interval for idle feeds.
	pingPeriod = 30 * time.Second

	// pongWait is how long a client may stay silent after a ping.
	pongWait = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// The service binds to operator-controlled interfaces only.
		return true
	},
}

// handleSessionEvents upgrades the connection and streams the session's
// event feed until the client disconnects or the session stops.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, ok := s.manager.GetSession(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		return
	}

	go s.serveEvents(conn, sess)
}

// serveEvents pumps session events to one client. A subscriber that
// falls behind has events dropped upstream; the connection itself is
// closed on any write failure.
func (s *Server) serveEvents(conn *websocket.Conn, sess *session.Session) {
	defer conn.Close()

	sub, cancel := sess.Subscribe()
	defer cancel()

	s.metrics.RecordEventClient(1)
	defer s.metrics.RecordEventClient(-1)

	s.logger.Info("event feed client connected", slog.String("session_id", sess.ID))

	// Reader: clients send nothing meaningful, but reading is required
	// to process control frames and detect disconnects.
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case env, ok := <-sub:
			if !ok {
				// Session stopped or subscriber cancelled.
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				s.logger.Info("event feed closed", slog.String("session_id", sess.ID))
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				s.logger.Debug("event feed write failed",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()))
				return
			}

		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
