package session

import (
	"context"
	"log/slog"
	"time"
)

// Reaper periodically deletes invalid and expired sessions.
type Reaper struct {
	store    Store
	interval time.Duration
	logger   *slog.Logger
}

// NewReaper creates a reaper. It does nothing until Run is called.
func NewReaper(store Store, interval time.Duration, logger *slog.Logger) *Reaper {
	return &Reaper{store: store, interval: interval, logger: logger}
}

// Run reaps once immediately and then every interval until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	r.ReapOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReapOnce(ctx)
		}
	}
}

// ReapOnce runs a single DeleteStale pass and returns the number of rows removed.
func (r *Reaper) ReapOnce(ctx context.Context) int64 {
	n, err := r.store.DeleteStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("session reap failed", "error", err)
		}
		return 0
	}
	if n > 0 {
		r.logger.Info("reaped stale sessions", "count", n)
	}
	return n
}
