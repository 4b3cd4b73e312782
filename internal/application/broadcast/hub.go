// Package broadcast routes change feed events to live sessions grouped by
// channel (ALL, ROLE_<role>, USER_<userId>).
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-notifications-nosql/internal/application/changefeed"
	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/pkg/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Transport labels used for metrics and logs.
const (
	TransportSocket = "websocket"
	TransportStream = "sse"
	TransportPoll   = "longpoll"
)

const (
	defaultBufferSize = 16
	seenCacheSize     = 256
	dropLogInterval   = 10 * time.Second
)

// Hub is constructed once per process and shared by every live transport.
// Each process observes the change feed on its own: a session connected to
// one process never sees events published only on another.
type Hub struct {
	mu         sync.Mutex
	channels   map[string]map[*Session]struct{}
	sessions   map[*Session]struct{}
	closed     bool
	bufferSize int
	logger     *slog.Logger
}

func NewHub(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize < 1 {
		bufferSize = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		channels:   make(map[string]map[*Session]struct{}),
		sessions:   make(map[*Session]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Join enrolls a new session in the viewer's three channels. Enrollment is
// complete when Join returns, so no event published afterwards is missed.
func (h *Hub) Join(viewer domain.Viewer, transport string) (*Session, error) {
	if viewer.UserID == "" || viewer.Role == "" {
		return nil, fmt.Errorf("userId and role are required: %w", domain.ErrBadRequest)
	}
	seen, err := lru.New[string, struct{}](seenCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Session{
		hub:       h,
		viewer:    viewer,
		transport: transport,
		channels:  viewer.Channels(),
		events:    make(chan domain.Event, h.bufferSize),
		seen:      seen,
		dropLog:   &rate.Sometimes{First: 1, Interval: dropLogInterval},
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, domain.ErrUnavailable
	}
	for _, ch := range s.channels {
		members, ok := h.channels[ch]
		if !ok {
			members = make(map[*Session]struct{})
			h.channels[ch] = members
		}
		members[s] = struct{}{}
	}
	h.sessions[s] = struct{}{}
	metrics.LiveSessions.WithLabelValues(transport).Inc()
	h.logger.Debug("live session joined", "user_id", viewer.UserID, "role", viewer.Role, "transport", transport)
	return s, nil
}

// Publish hands e to every session enrolled in at least one of its channels.
// A session enrolled in several matching channels receives it once. Sessions
// whose buffer is full drop the event.
func (h *Hub) Publish(e domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	targets := make(map[*Session]struct{})
	for _, ch := range e.Channels() {
		for s := range h.channels[ch] {
			targets[s] = struct{}{}
		}
	}
	for s := range targets {
		s.offer(e)
	}
}

// Run routes every feed event until ctx is done or the feed closes, then
// closes the hub so live transports end their connections.
func (h *Hub) Run(ctx context.Context, feed *changefeed.Feed) {
	unsubscribe := feed.Subscribe(h.Publish)
	defer unsubscribe()
	select {
	case <-ctx.Done():
	case <-feed.Done():
		h.logger.Warn("change feed closed, stopping live broadcast")
	}
	h.Close()
}

// Close ends every session and refuses new joins.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for s := range h.sessions {
		h.leaveLocked(s)
	}
}

// Count reports the number of live sessions.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Members reports how many sessions are enrolled in channel.
func (h *Hub) Members(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.channels[channel])
}

func (h *Hub) leave(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(s)
}

func (h *Hub) leaveLocked(s *Session) {
	if _, ok := h.sessions[s]; !ok {
		return
	}
	delete(h.sessions, s)
	for _, ch := range s.channels {
		members := h.channels[ch]
		delete(members, s)
		if len(members) == 0 {
			delete(h.channels, ch)
		}
	}
	close(s.events)
	metrics.LiveSessions.WithLabelValues(s.transport).Dec()
	h.logger.Debug("live session left", "user_id", s.viewer.UserID, "transport", s.transport)
}
