package catalog

import (
	"context"
	"log/slog"
	"time"

	"marketplace/internal/listing"
)

// Refresher keeps a Cache current by refreshing its scope on an interval and
// after every successful workflow
type Refresher struct {
	cache    *Cache
	interval time.Duration
	outcomes <-chan listing.Outcome
}

// NewRefresher creates a Refresher. A zero interval disables periodic refreshes.
func NewRefresher(cache *Cache, interval time.Duration, outcomes <-chan listing.Outcome) *Refresher {
	return &Refresher{
		cache:    cache,
		interval: interval,
		outcomes: outcomes,
	}
}

// Run refreshes until ctx is cancelled
func (r *Refresher) Run(ctx context.Context) error {
	slog.Info("Starting catalog refresher", "interval", r.interval)

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.refresh(ctx, "startup")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Catalog refresher stopped")
			return ctx.Err()
		case <-tick:
			r.refresh(ctx, "interval")
		case outcome, ok := <-r.outcomes:
			if !ok {
				r.outcomes = nil
				continue
			}
			if outcome.Err != nil {
				continue
			}
			r.refresh(ctx, string(outcome.Record.Kind))
		}
	}
}

func (r *Refresher) refresh(ctx context.Context, reason string) {
	scope := r.cache.Scope()
	partial, err := r.cache.Refresh(ctx, scope)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("Catalog refresh failed", "scope", scope.String(), "reason", reason, "error", err)
		}
		return
	}
	if partial != nil {
		slog.Warn("Catalog refreshed with unresolved entries",
			"scope", scope.String(),
			"reason", reason,
			"unresolved", partial.Count(),
		)
	}
}
