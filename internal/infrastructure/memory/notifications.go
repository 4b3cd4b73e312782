package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/go-notifications-nosql/internal/domain"
)

// NotificationStore keeps notifications in process memory. It backs
// STORE_DRIVER=memory and the service tests.
type NotificationStore struct {
	mu    sync.RWMutex
	items []*domain.Notification // ascending by id
	byID  map[string]*domain.Notification
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{byID: make(map[string]*domain.Notification)}
}

func (s *NotificationStore) Put(ctx context.Context, n *domain.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[n.NotificationID]; ok {
		return fmt.Errorf("notification %s: %w", n.NotificationID, domain.ErrConflict)
	}
	c := copyNotification(n)
	i, _ := slices.BinarySearchFunc(s.items, c.NotificationID, func(e *domain.Notification, id string) int {
		return strings.Compare(e.NotificationID, id)
	})
	s.items = slices.Insert(s.items, i, c)
	s.byID[c.NotificationID] = c
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, notificationID string) (*domain.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.byID[notificationID]
	if !ok {
		return nil, fmt.Errorf("notification not found: %w", domain.ErrNotFound)
	}
	return copyNotification(n), nil
}

// Each walks a snapshot taken under the read lock, so fn may call back into
// the store.
func (s *NotificationStore) Each(ctx context.Context, fn func(n *domain.Notification) bool) error {
	s.mu.RLock()
	snapshot := slices.Clone(s.items)
	s.mu.RUnlock()
	for i := len(snapshot) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(copyNotification(snapshot[i])) {
			return nil
		}
	}
	return nil
}

func copyNotification(n *domain.Notification) *domain.Notification {
	c := *n
	c.Roles = slices.Clone(n.Roles)
	c.Users = slices.Clone(n.Users)
	c.Meta = maps.Clone(n.Meta)
	return &c
}
