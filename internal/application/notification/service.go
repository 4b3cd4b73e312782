package notification

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/go-notifications-nosql/internal/domain"
	"github.com/go-notifications-nosql/internal/pkg/id"
	"github.com/go-notifications-nosql/internal/pkg/metrics"
	"github.com/go-notifications-nosql/internal/pkg/validate"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// Store is the append-only notification persistence port.
type Store interface {
	Put(ctx context.Context, n *domain.Notification) error
	Get(ctx context.Context, notificationID string) (*domain.Notification, error)
	// Each visits notifications newest-first until fn returns false.
	Each(ctx context.Context, fn func(n *domain.Notification) bool) error
}

// ReceiptReader resolves the viewer's read state for a page of notifications.
type ReceiptReader interface {
	GetMany(ctx context.Context, userID string, notificationIDs []string) (map[string]domain.ReadReceipt, error)
}

type Service interface {
	Create(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error)
	List(ctx context.Context, viewer domain.Viewer, q domain.ListQuery) (*domain.NotificationPage, error)
	Count(ctx context.Context, viewer domain.Viewer, typ domain.NotificationType) (int, error)
}

type service struct {
	store    Store
	receipts ReceiptReader
	now      func() time.Time
}

func NewService(store Store, receipts ReceiptReader) Service {
	return &service{store: store, receipts: receipts, now: time.Now}
}

func (s *service) Create(ctx context.Context, req domain.CreateNotificationRequest) (*domain.Notification, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), domain.ErrBadRequest)
	}
	audience := domain.Audience{AudienceType: req.AudienceType}
	switch req.AudienceType {
	case domain.AudienceRole:
		audience.Roles = uniq(req.Roles)
		if len(audience.Roles) == 0 {
			return nil, fmt.Errorf("roles are required for audience ROLE: %w", domain.ErrBadRequest)
		}
	case domain.AudienceUser:
		audience.Users = uniq(req.Users)
		if len(audience.Users) == 0 {
			return nil, fmt.Errorf("users are required for audience USER: %w", domain.ErrBadRequest)
		}
	}

	n := &domain.Notification{
		NotificationID: id.New(),
		Feed:           domain.FeedPartition,
		Type:           req.Type,
		Title:          req.Title,
		Body:           req.Body,
		Audience:       audience,
		Meta:           req.Meta,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.Put(ctx, n); err != nil {
		return nil, fmt.Errorf("store notification: %w", err)
	}
	metrics.NotificationsCreated.WithLabelValues(string(n.Type)).Inc()
	return n, nil
}

func (s *service) List(ctx context.Context, viewer domain.Viewer, q domain.ListQuery) (*domain.NotificationPage, error) {
	if q.Type != "" && !q.Type.Valid() {
		return nil, fmt.Errorf("unknown notification type %q: %w", q.Type, domain.ErrBadRequest)
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}

	// Pages past what an int can address are empty, not wrapped around.
	skip := math.MaxInt
	if q.Page-1 <= math.MaxInt/q.Limit {
		skip = (q.Page - 1) * q.Limit
	}
	total := 0
	var page []*domain.Notification
	err := s.store.Each(ctx, func(n *domain.Notification) bool {
		if !matches(n, viewer, q.Type) {
			return true
		}
		if total >= skip && len(page) < q.Limit {
			page = append(page, n)
		}
		total++
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}

	ids := make([]string, len(page))
	for i, n := range page {
		ids[i] = n.NotificationID
	}
	reads := map[string]domain.ReadReceipt{}
	if len(ids) > 0 {
		if reads, err = s.receipts.GetMany(ctx, viewer.UserID, ids); err != nil {
			return nil, fmt.Errorf("load read receipts: %w", err)
		}
	}

	data := make([]domain.NotificationWithRead, len(page))
	for i, n := range page {
		data[i] = domain.NotificationWithRead{Notification: n}
		if r, ok := reads[n.NotificationID]; ok {
			readAt := r.ReadAt
			data[i].Read = true
			data[i].ReadAt = &readAt
		}
	}
	return &domain.NotificationPage{
		Data: data,
		Pagination: domain.Pagination{
			Page:  q.Page,
			Limit: q.Limit,
			Total: total,
			Pages: (total + q.Limit - 1) / q.Limit,
		},
	}, nil
}

func (s *service) Count(ctx context.Context, viewer domain.Viewer, typ domain.NotificationType) (int, error) {
	total := 0
	err := s.store.Each(ctx, func(n *domain.Notification) bool {
		if matches(n, viewer, typ) {
			total++
		}
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("count notifications: %w", err)
	}
	return total, nil
}

func matches(n *domain.Notification, viewer domain.Viewer, typ domain.NotificationType) bool {
	if typ != "" && n.Type != typ {
		return false
	}
	return n.Audience.Includes(viewer)
}

// uniq trims and de-duplicates set members, keeping first-seen order.
func uniq(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
