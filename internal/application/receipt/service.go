package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/pkg/id"
)

// BulkReadEventLimit is the largest MarkAllRead that still publishes one READ
// event per receipt.
const BulkReadEventLimit = 8

// NotificationReader is the read side of the notification store.
type NotificationReader interface {
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	Each(ctx context.Context, fn func(n *domain.Notification) bool) error
}

// Store persists read receipts keyed by (user, notification).
type Store interface {
	// Upsert creates the receipt if absent and otherwise leaves it untouched.
	// created reports whether this call wrote it.
	Upsert(ctx context.Context, userID, notificationID string, readAt time.Time) (r *domain.ReadReceipt, created bool, err error)
	// ReadIDs returns the ids of every notification the user has a receipt for.
	ReadIDs(ctx context.Context, userID string) (map[string]struct{}, error)
	// PutMany writes receipts for a MarkAllRead batch. Receipts racing in
	// through Upsert may be kept or overwritten depending on the store.
	PutMany(ctx context.Context, receipts []domain.ReadReceipt) error
}

// Publisher receives READ events for first reads. Optional.
type Publisher interface {
	Publish(e domain.Event)
}

type Service interface {
	MarkRead(ctx context.Context, userID, notificationID string) (*domain.ReadReceipt, error)
	MarkAllRead(ctx context.Context, viewer domain.Viewer) (int, error)
	UnreadCount(ctx context.Context, viewer domain.Viewer) (*domain.UnreadCount, error)
}

type ServiceDeps struct {
	Notifications NotificationReader
	Receipts      Store
	Publisher     Publisher
	Logger        *slog.Logger
	Now           func() time.Time
}

type service struct {
	notifications NotificationReader
	receipts      Store
	publisher     Publisher
	logger        *slog.Logger
	now           func() time.Time
}

func NewService(deps ServiceDeps) Service {
	s := &service{
		notifications: deps.Notifications,
		receipts:      deps.Receipts,
		publisher:     deps.Publisher,
		logger:        deps.Logger,
		now:           deps.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// MarkRead is idempotent. It fails with ErrNotFound when the notification
// does not exist, so a client holding a stale or mistyped id finds out.
func (s *service) MarkRead(ctx context.Context, userID, notificationID string) (*domain.ReadReceipt, error) {
	if userID == "" {
		return nil, fmt.Errorf("userId is required: %w", domain.ErrBadRequest)
	}
	if err := id.Validate(notificationID); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	if _, err := s.notifications.Get(ctx, notificationID); err != nil {
		return nil, err
	}
	r, created, err := s.receipts.Upsert(ctx, userID, notificationID, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("upsert read receipt: %w", err)
	}
	if created && s.publisher != nil {
		s.publisher.Publish(domain.ReadEvent(*r))
	}
	return r, nil
}

// MarkAllRead snapshots the viewer's audience, subtracts what is already read
// and bulk-inserts the rest. Notifications created after the snapshot stay
// unread. It returns the number of receipts written.
func (s *service) MarkAllRead(ctx context.Context, viewer domain.Viewer) (int, error) {
	if viewer.UserID == "" {
		return 0, fmt.Errorf("userId is required: %w", domain.ErrBadRequest)
	}
	read, err := s.receipts.ReadIDs(ctx, viewer.UserID)
	if err != nil {
		return 0, fmt.Errorf("load read receipts: %w", err)
	}

	now := s.now().UTC()
	var pending []domain.ReadReceipt
	err = s.notifications.Each(ctx, func(n *domain.Notification) bool {
		if !n.Audience.Includes(viewer) {
			return true
		}
		if _, ok := read[n.NotificationID]; !ok {
			pending = append(pending, domain.ReadReceipt{
				UserID:         viewer.UserID,
				NotificationID: n.NotificationID,
				ReadAt:         now,
			})
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("snapshot audience: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if err := s.receipts.PutMany(ctx, pending); err != nil {
		return 0, fmt.Errorf("write read receipts: %w", err)
	}
	s.logger.Info("marked notifications read", "user_id", viewer.UserID, "count", len(pending))
	// A large batch would flood live session buffers; clients catch up on
	// their next list fetch instead.
	if s.publisher != nil && len(pending) <= BulkReadEventLimit {
		for _, r := range pending {
			s.publisher.Publish(domain.ReadEvent(r))
		}
	}
	return len(pending), nil
}

func (s *service) UnreadCount(ctx context.Context, viewer domain.Viewer) (*domain.UnreadCount, error) {
	if viewer.UserID == "" {
		return nil, fmt.Errorf("userId is required: %w", domain.ErrBadRequest)
	}
	read, err := s.receipts.ReadIDs(ctx, viewer.UserID)
	if err != nil {
		return nil, fmt.Errorf("load read receipts: %w", err)
	}
	var out domain.UnreadCount
	err = s.notifications.Each(ctx, func(n *domain.Notification) bool {
		if !n.Audience.Includes(viewer) {
			return true
		}
		out.TotalCount++
		if _, ok := read[n.NotificationID]; !ok {
			out.UnreadCount++
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("count notifications: %w", err)
	}
	return &out, nil
}
