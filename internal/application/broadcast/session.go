package broadcast

import (
	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/pkg/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Session is one live connection enrolled in the hub.
type Session struct {
	hub       *Hub
	viewer    domain.Viewer
	transport string
	channels  []string
	events    chan domain.Event
	seen      *lru.Cache[string, struct{}]
	dropLog   *rate.Sometimes
}

// Events yields routed events. It is closed when the session leaves the hub,
// either through Close or because the hub shut down.
func (s *Session) Events() <-chan domain.Event { return s.events }

func (s *Session) Viewer() domain.Viewer { return s.viewer }

// Close unregisters the session from every channel it joined. Safe to call
// more than once.
func (s *Session) Close() { s.hub.leave(s) }

// offer is called with the hub lock held. Only delivered events are
// remembered, so a replay of a dropped event gets another chance.
func (s *Session) offer(e domain.Event) {
	id := e.ID()
	if id != "" && s.seen.Contains(id) {
		return
	}
	select {
	case s.events <- e:
		if id != "" {
			s.seen.Add(id, struct{}{})
		}
		metrics.LiveDelivered.WithLabelValues(s.transport).Inc()
	default:
		metrics.LiveDropped.WithLabelValues(s.transport).Inc()
		s.dropLog.Do(func() {
			s.hub.logger.Warn("live session buffer full, dropping events", "user_id", s.viewer.UserID, "event", id)
		})
	}
}
