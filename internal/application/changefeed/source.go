package changefeed

import (
	"context"

	"github.com/go-notifications-nosql/internal/pkg/metrics"
)

// RunSource feeds f from src until ctx is cancelled. If src stops with an
// error the failure is logged and counted, and f is closed so subscribers
// stop broadcasting instead of silently falling behind.
func RunSource(ctx context.Context, f *Feed, src Source, name string) error {
	err := src.Run(ctx, f.Publish)
	if err == nil || ctx.Err() != nil {
		return nil
	}
	metrics.FeedErrors.WithLabelValues(name).Inc()
	f.logger.Error("change feed source stopped, closing feed", "source", name, "err", err)
	f.Close()
	return err
}
