package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

// writeWait is the time allowed to write one frame to a stream client.
const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// stream upgrades to a WebSocket, replays every stored message, then sends
// each newly captured message as a JSON text frame. The subscription is
// taken before the snapshot so nothing captured in between is lost; ids
// already replayed are skipped when they arrive on the subscription.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	remote := r.RemoteAddr
	logger := slog.With("remote", remote)

	sub := s.config.Broadcaster.Subscribe()
	defer func() {
		sub.Close()
		if n := sub.Dropped(); n > 0 {
			logger.Warn("stream subscriber dropped messages", "dropped", n)
		}
	}()

	// The client never sends data; reading detects when it goes away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("websocket read error", "error", err)
				}
				return
			}
		}
	}()

	snapshot := s.config.Store.List()
	replayed := make(map[string]struct{}, len(snapshot))
	for _, msg := range snapshot {
		if err := writeFrame(conn, msg); err != nil {
			logger.Warn("failed to send WebSocket message", "error", err)
			return
		}
		replayed[msg.ID] = struct{}{}
	}
	logger.Debug("stream client connected", "replayed", len(snapshot))

	for {
		select {
		case msg, ok := <-sub.C():
			if !ok {
				return
			}
			if _, seen := replayed[msg.ID]; seen {
				delete(replayed, msg.ID)
				continue
			}
			if err := writeFrame(conn, msg); err != nil {
				logger.Warn("failed to send WebSocket message", "error", err)
				return
			}
		case <-gone:
			logger.Debug("stream client disconnected")
			return
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
