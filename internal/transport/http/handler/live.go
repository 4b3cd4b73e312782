package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-notifications-nosql/internal/application/broadcast"
	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/transport/http/middleware"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// LiveConfig tunes the live transports.
type LiveConfig struct {
	Keepalive      time.Duration // SSE ping and WebSocket ping period
	PollTimeout    time.Duration // hard cap on a long-poll wait
	AllowedOrigins []string      // WebSocket origin check; "*" allows any
}

// LiveHandler serves the three live transports over one shared hub. Every
// transport joins the hub for the authenticated viewer and closes its session
// when the connection ends.
type LiveHandler struct {
	hub      *broadcast.Hub
	cfg      LiveConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func NewLiveHandler(hub *broadcast.Hub, cfg LiveConfig, logger *slog.Logger) *LiveHandler {
	if cfg.Keepalive <= 0 {
		cfg.Keepalive = 25 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &LiveHandler{hub: hub, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *LiveHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 || slices.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(h.cfg.AllowedOrigins, origin)
}

// Stream is the server-sent events transport. Each event is written as
// "id: <event id>\ndata: <json>\n\n"; an "event: ping" frame keeps idle
// proxies from closing the connection.
func (h *LiveHandler) Stream(w http.ResponseWriter, r *http.Request) {
	viewer, ok := middleware.ViewerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	sess, err := h.hub.Join(viewer, broadcast.TransportStream)
	if err != nil {
		httpError(w, err)
		return
	}
	defer sess.Close()

	rc := http.NewResponseController(w)
	// The server's WriteTimeout would otherwise cut the stream.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("could not clear write deadline", "err", err)
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, "retry: 3000\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		return
	}

	ticker := time.NewTicker(h.cfg.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, open := <-sess.Events():
			if !open {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				h.logger.Error("encode live event", "event", e.ID(), "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\ndata: %s\n\n", e.ID(), data); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, "event: ping\ndata: {}\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

// Poll is the long-poll transport. It returns the first event routed to the
// viewer, or an empty response once the wait expires. Only one event is
// surfaced per cycle: anything else routed while the request is open is
// dropped with the session. Clients may shorten the wait with ?timeout=<s>.
func (h *LiveHandler) Poll(w http.ResponseWriter, r *http.Request) {
	viewer, ok := middleware.ViewerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	timeout := h.cfg.PollTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs < 1 {
			writeError(w, http.StatusBadRequest, "timeout must be a positive number of seconds")
			return
		}
		timeout = min(timeout, time.Duration(secs)*time.Second)
	}

	sess, err := h.hub.Join(viewer, broadcast.TransportPoll)
	if err != nil {
		httpError(w, err)
		return
	}
	defer sess.Close()

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Now().Add(timeout + writeWait)); err != nil && !errors.Is(err, http.ErrNotSupported) {
		h.logger.Warn("could not extend write deadline", "err", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.Context().Done():
	case e, open := <-sess.Events():
		if !open {
			httpError(w, domain.ErrUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, PollEnvelope{Notification: e, Received: true})
	case <-timer.C:
		writeJSON(w, http.StatusOK, PollEnvelope{Received: false})
	}
}
