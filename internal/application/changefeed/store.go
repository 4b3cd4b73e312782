package changefeed

import (
	"context"

	"github.com/go-notifications-nosql/internal/domain"
)

// NotificationStore is the subset of the notification store the hook wraps.
type NotificationStore interface {
	Put(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	Each(ctx context.Context, fn func(n *domain.Notification) bool) error
}

// PublishingStore publishes a NEW event after every successful Put. It is the
// change feed for stores that have no native stream.
type PublishingStore struct {
	NotificationStore
	publish func(domain.Event)
}

func NewPublishingStore(store NotificationStore, publish func(domain.Event)) *PublishingStore {
	return &PublishingStore{NotificationStore: store, publish: publish}
}

func (s *PublishingStore) Put(ctx context.Context, n *domain.Notification) error {
	if err := s.NotificationStore.Put(ctx, n); err != nil {
		return err
	}
	s.publish(domain.NewNotificationEvent(n))
	return nil
}
