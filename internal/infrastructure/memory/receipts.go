package memory

import (
	"context"
	"sync"
	"time"

	"github.com/go-notifications-nosql/internal/domain"
)

type receiptKey struct {
	userID         string
	notificationID string
}

// ReceiptStore keeps read receipts in process memory.
type ReceiptStore struct {
	mu       sync.Mutex
	receipts map[receiptKey]domain.ReadReceipt
}

func NewReceiptStore() *ReceiptStore {
	return &ReceiptStore{receipts: make(map[receiptKey]domain.ReadReceipt)}
}

func (s *ReceiptStore) Upsert(ctx context.Context, userID, notificationID string, readAt time.Time) (*domain.ReadReceipt, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	k := receiptKey{userID, notificationID}
	if r, ok := s.receipts[k]; ok {
		return &r, false, nil
	}
	r := domain.ReadReceipt{UserID: userID, NotificationID: notificationID, ReadAt: readAt}
	s.receipts[k] = r
	return &r, true, nil
}

func (s *ReceiptStore) GetMany(ctx context.Context, userID string, notificationIDs []string) (map[string]domain.ReadReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]domain.ReadReceipt, len(notificationIDs))
	for _, nid := range notificationIDs {
		if r, ok := s.receipts[receiptKey{userID, nid}]; ok {
			out[nid] = r
		}
	}
	return out, nil
}

func (s *ReceiptStore) ReadIDs(ctx context.Context, userID string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]struct{})
	for k := range s.receipts {
		if k.userID == userID {
			out[k.notificationID] = struct{}{}
		}
	}
	return out, nil
}

// PutMany writes receipts that do not exist yet. A receipt created in the
// meantime by MarkRead keeps its earlier first-read time.
func (s *ReceiptStore) PutMany(ctx context.Context, receipts []domain.ReadReceipt) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range receipts {
		k := receiptKey{r.UserID, r.NotificationID}
		if _, ok := s.receipts[k]; !ok {
			s.receipts[k] = r
		}
	}
	return nil
}

// Len reports the number of stored receipts.
func (s *ReceiptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.receipts)
}
