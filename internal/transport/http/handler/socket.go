package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-notifications-nosql/internal/application/broadcast"
	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/transport/http/middleware"
	"github.com/gorilla/websocket"
)

// Socket protocol event names.
const (
	socketJoinRooms    = "join-rooms"
	socketJoined       = "joined"
	socketNotification = "notification"
	socketError        = "error"
)

// SocketMessage is one frame of the WebSocket protocol in either direction.
type SocketMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type socketJoinedData struct {
	Channels []string `json:"channels"`
}

type socketErrorData struct {
	Message string `json:"message"`
}

// Socket is the WebSocket transport. After the upgrade the client sends
// {"event":"join-rooms","data":{"userId","role"}}; the identity must match the
// token. The session is enrolled before the next frame is read, then events
// are pushed as {"event":"notification","data":<event>}.
func (h *LiveHandler) Socket(w http.ResponseWriter, r *http.Request) {
	viewer, ok := middleware.ViewerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Debug("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	pongWait := 2*h.cfg.Keepalive + writeWait
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	defer close(done)
	joined := make(chan *broadcast.Session)
	replies := make(chan SocketMessage, 4)
	readErr := h.readSocket(conn, viewer, done, joined, replies)

	var sess *broadcast.Session
	var events <-chan domain.Event
	defer func() {
		if sess != nil {
			sess.Close()
		}
	}()

	ticker := time.NewTicker(h.cfg.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-readErr:
			return
		case s := <-joined:
			sess, events = s, s.Events()
			if err := h.writeSocket(conn, socketJoined, socketJoinedData{Channels: viewer.Channels()}); err != nil {
				return
			}
		case m := <-replies:
			if err := h.writeFrame(conn, m); err != nil {
				return
			}
		case e, open := <-events:
			if !open {
				deadline := time.Now().Add(writeWait)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"), deadline)
				return
			}
			if err := h.writeSocket(conn, socketNotification, e); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, deadline); err != nil {
				// Expected when the peer goes away.
				h.logger.Debug("failed to write ping", "err", err)
				return
			}
		}
	}
}

// readSocket runs the read loop. It enrolls the session itself so a
// join-rooms frame is fully processed before the next frame is read. The
// returned channel is closed when reading stops.
func (h *LiveHandler) readSocket(conn *websocket.Conn, viewer domain.Viewer, done <-chan struct{}, joined chan<- *broadcast.Session, replies chan<- SocketMessage) <-chan struct{} {
	stopped := make(chan struct{})
	reply := func(msg string) {
		data, _ := json.Marshal(socketErrorData{Message: msg})
		select {
		case replies <- SocketMessage{Event: socketError, Data: data}:
		case <-done:
		}
	}
	go func() {
		defer close(stopped)
		enrolled := false
		for {
			var m SocketMessage
			if err := conn.ReadJSON(&m); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("websocket receive error", "user_id", viewer.UserID, "err", err)
				}
				return
			}
			if m.Event != socketJoinRooms {
				reply("unknown event " + m.Event)
				continue
			}
			if enrolled {
				reply("already joined")
				continue
			}
			var claimed domain.Viewer
			if err := json.Unmarshal(m.Data, &claimed); err != nil {
				reply("invalid join-rooms payload")
				continue
			}
			if claimed != viewer {
				reply("join-rooms identity does not match token")
				continue
			}
			sess, err := h.hub.Join(viewer, broadcast.TransportSocket)
			if err != nil {
				reply(err.Error())
				return
			}
			select {
			case joined <- sess:
				enrolled = true
			case <-done:
				sess.Close()
				return
			}
		}
	}()
	return stopped
}

func (h *LiveHandler) writeSocket(conn *websocket.Conn, event string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encode websocket frame", "event", event, "err", err)
		return nil
	}
	return h.writeFrame(conn, SocketMessage{Event: event, Data: data})
}

func (h *LiveHandler) writeFrame(conn *websocket.Conn, m SocketMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(m)
}
