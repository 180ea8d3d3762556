package grants

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes grants that expired more than grace ago and
// records an "expired" audit entry for each. Reads already ignore expired
// grants, so the sweeper only keeps the table small.
type Sweeper struct {
	store     *Store
	interval  time.Duration
	grace     time.Duration
	batchSize int
	logger    *slog.Logger
}

// NewSweeper creates a new Sweeper. A non-positive interval disables it.
func NewSweeper(store *Store, interval, grace time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:     store,
		interval:  interval,
		grace:     grace,
		batchSize: 500,
		logger:    logger,
	}
}

// Run starts the sweeper. It runs until the context is cancelled.
func (w *Sweeper) Run(ctx context.Context) {
	if w.store == nil || w.interval <= 0 {
		w.logger.Info("grant sweeper disabled",
			"hasStore", w.store != nil,
			"interval", w.interval.String())
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("grant sweeper started",
		"interval", w.interval.String(),
		"grace", w.grace.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("grant sweeper stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep performs a single pass, draining expired grants in batches.
// It returns the total number of grants removed.
func (w *Sweeper) Sweep(ctx context.Context) int {
	cutoff := w.store.clock().Add(-w.grace)
	total := 0
	for {
		deleted, err := w.store.DeleteExpired(ctx, cutoff, w.batchSize)
		if err != nil {
			w.logger.Error("grant sweep failed", "error", err)
			return total
		}
		total += deleted
		if deleted < w.batchSize {
			break
		}
	}
	if total > 0 {
		w.logger.Info("grant sweep completed",
			"deleted", total,
			"cutoff", cutoff.Format(time.RFC3339))
	}
	return total
}
