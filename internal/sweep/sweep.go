package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/superslots/internal/history"
	"github.com/loykin/superslots/internal/metrics"
	"github.com/loykin/superslots/internal/registry"
)

// Run removes every entry older than threshold regardless of liveness and
// returns how many were removed. It covers waiters that were killed before
// they could deregister. A nil sink or logger is allowed.
func Run(ctx context.Context, s registry.Store, threshold time.Duration, sink history.Sink, log *slog.Logger) (int64, error) {
	if threshold <= 0 {
		return 0, fmt.Errorf("sweep threshold must be positive, got %s", threshold)
	}
	if log == nil {
		log = slog.Default()
	}
	n, err := s.DeleteOlderThan(ctx, threshold)
	if err != nil {
		return 0, err
	}
	metrics.AddSwept(n)
	log.Info("swept stale entries", "removed", n, "older_than", threshold)
	if sink != nil && n > 0 {
		e := history.NewEvent(history.EventSweep)
		e.Count = n
		if err := sink.Send(ctx, e); err != nil {
			log.Warn("history send failed", "event", e.Type, "error", err)
		}
	}
	return n, nil
}
