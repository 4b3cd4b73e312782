package client

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/go-notifications-nosql/internal/domain"
)

const defaultMarkTimeout = 10 * time.Second

// Item is the view-model a UI renders.
type Item struct {
	ID        string                  `json:"id"`
	Type      domain.NotificationType `json:"type"`
	Title     string                  `json:"title"`
	Body      string                  `json:"body"`
	CreatedAt time.Time               `json:"createdAt"`
	Read      bool                    `json:"read"`
}

func ItemFromSummary(s *domain.NotificationSummary) Item {
	return Item{ID: s.ID, Type: s.Type, Title: s.Title, Body: s.Body, CreatedAt: s.CreatedAt}
}

// ItemsFromPage converts a list response, keeping its order and read flags.
func ItemsFromPage(p *domain.NotificationPage) []Item {
	out := make([]Item, 0, len(p.Data))
	for _, e := range p.Data {
		if e.Notification == nil {
			continue
		}
		n := e.Notification
		out = append(out, Item{
			ID:        n.NotificationID,
			Type:      n.Type,
			Title:     n.Title,
			Body:      n.Body,
			CreatedAt: n.CreatedAt,
			Read:      e.Read,
		})
	}
	return out
}

// Marker persists a read. *Client implements it.
type Marker interface {
	MarkRead(ctx context.Context, notificationID string) (*domain.ReadReceipt, error)
}

// Cache holds a user's notifications newest-first. Reads are applied locally
// before the server confirms them and a failed confirmation is never rolled
// back; the next SetAll from a full fetch reconciles.
type Cache struct {
	mu     sync.Mutex
	items  []Item
	subs   map[int]func([]Item)
	nextID int

	marker      Marker
	markTimeout time.Duration
	logger      *slog.Logger
	inflight    sync.WaitGroup
}

func NewCache(marker Marker, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		subs:        map[int]func([]Item){},
		marker:      marker,
		markTimeout: defaultMarkTimeout,
		logger:      logger,
	}
}

// SetAll replaces the contents wholesale.
func (c *Cache) SetAll(items []Item) {
	c.mu.Lock()
	c.items = slices.Clone(items)
	c.mu.Unlock()
	c.notify()
}

// AddNotification prepends item as unread. It reports false and changes
// nothing when the id is already cached.
func (c *Cache) AddNotification(item Item) bool {
	c.mu.Lock()
	if c.indexLocked(item.ID) >= 0 {
		c.mu.Unlock()
		return false
	}
	item.Read = false
	c.items = slices.Insert(c.items, 0, item)
	c.mu.Unlock()
	c.notify()
	return true
}

// MarkAsRead flips the item locally and asks the server to record the read in
// the background. Unknown or already-read ids are ignored.
func (c *Cache) MarkAsRead(id string) {
	if !c.setRead(id) {
		return
	}
	if c.marker == nil {
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.markTimeout)
		defer cancel()
		if _, err := c.marker.MarkRead(ctx, id); err != nil {
			c.logger.Warn("mark read failed", "notification_id", id, "error", err)
		}
	}()
}

// Apply folds a live event in. NEW adds the notification; READ marks it
// read locally without calling the server, since the server emitted it.
func (c *Cache) Apply(e domain.Event) {
	switch {
	case e.Type == domain.EventNew && e.Notification != nil:
		c.AddNotification(ItemFromSummary(e.Notification))
	case e.Type == domain.EventRead && e.Receipt != nil:
		c.setRead(e.Receipt.NotificationID)
	}
}

func (c *Cache) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, it := range c.items {
		if !it.Read {
			n++
		}
	}
	return n
}

// Items returns a copy of the cached items, newest first.
func (c *Cache) Items() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

// Subscribe registers fn to receive a snapshot after every change. fn runs on
// the goroutine that made the change.
func (c *Cache) Subscribe(fn func([]Item)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Wait blocks until background mark-read calls have finished.
func (c *Cache) Wait() { c.inflight.Wait() }

func (c *Cache) setRead(id string) bool {
	c.mu.Lock()
	i := c.indexLocked(id)
	if i < 0 || c.items[i].Read {
		c.mu.Unlock()
		return false
	}
	c.items[i].Read = true
	c.mu.Unlock()
	c.notify()
	return true
}

func (c *Cache) indexLocked(id string) int {
	return slices.IndexFunc(c.items, func(it Item) bool { return it.ID == id })
}

func (c *Cache) notify() {
	c.mu.Lock()
	snapshot := slices.Clone(c.items)
	fns := make([]func([]Item), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}
