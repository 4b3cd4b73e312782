package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-notifications-nosql/internal/domain"
)

// Source is the server side a Syncer reads from. *Client implements it.
type Source interface {
	List(ctx context.Context, q domain.ListQuery) (*domain.NotificationPage, error)
	Stream(ctx context.Context, fn func(domain.Event)) error
}

type SyncerConfig struct {
	// Interval between full refetches. Live events can be lost while the
	// stream reconnects; the refetch converges the cache.
	Interval time.Duration
	// Limit is the page size fetched on reconciliation.
	Limit int
	// Backoff between stream reconnects, doubled up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Syncer keeps a Cache current from the live stream plus periodic refetches.
type Syncer struct {
	source Source
	cache  *Cache
	cfg    SyncerConfig
	logger *slog.Logger
}

func NewSyncer(source Source, cache *Cache, cfg SyncerConfig, logger *slog.Logger) *Syncer {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = 30 * cfg.Backoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{source: source, cache: cache, cfg: cfg, logger: logger}
}

// Refresh replaces the cache with the first page from the server.
func (s *Syncer) Refresh(ctx context.Context) error {
	page, err := s.source.List(ctx, domain.ListQuery{Page: 1, Limit: s.cfg.Limit})
	if err != nil {
		return err
	}
	s.cache.SetAll(ItemsFromPage(page))
	return nil
}

// Run blocks until ctx is cancelled. Failed refreshes and dropped streams are
// logged and retried; only an auth failure on the stream stops it.
func (s *Syncer) Run(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("initial refresh failed", "error", err)
	}

	streamErr := make(chan error, 1)
	go func() { streamErr <- s.stream(ctx) }()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			<-streamErr
			return nil
		case err := <-streamErr:
			return err
		case <-ticker.C:
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("refresh failed", "error", err)
			}
		}
	}
}

func (s *Syncer) stream(ctx context.Context) error {
	backoff := s.cfg.Backoff
	for {
		err := s.source.Stream(ctx, s.cache.Apply)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrForbidden) {
			return err
		}
		s.logger.Warn("notification stream dropped", "error", err, "retry_in", backoff)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}
		// A reconnect may have missed events.
		if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("refresh after reconnect failed", "error", err)
		}
		backoff = min(backoff*2, s.cfg.MaxBackoff)
	}
}
