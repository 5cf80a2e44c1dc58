// Package maintenance runs periodic background tasks as Go tickers: pruning
// the observation log and notification history past their retention, and
// promoting freshly discovered plans out of the "new" state.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/ovhwatch/stockwatch/internal/storage"
)

// Store is what the maintenance tasks touch.
type Store interface {
	storage.Pruner
	MarkNewPlansActive(ctx context.Context, cutoff time.Time) (int, error)
}

// Config controls maintenance task intervals. Zero duration disables a task.
type Config struct {
	CleanupInterval  time.Duration // Retention pruning
	PromoteInterval  time.Duration // new -> active plan promotion
	StatusRetention  time.Duration
	HistoryRetention time.Duration
	NewPlanAge       time.Duration
}

// DefaultConfig returns sensible production defaults.
func DefaultConfig() Config {
	return Config{
		CleanupInterval:  6 * time.Hour,
		PromoteInterval:  15 * time.Minute,
		StatusRetention:  30 * 24 * time.Hour,
		HistoryRetention: 90 * 24 * time.Hour,
		NewPlanAge:       time.Hour,
	}
}

// Start launches all configured maintenance tickers. Blocks until ctx is
// cancelled. Intended to be called with `go`.
func Start(ctx context.Context, store Store, cfg Config, logger *slog.Logger) {
	logger.Info("Maintenance tickers started",
		"cleanup", cfg.CleanupInterval,
		"promote", cfg.PromoteInterval,
		"status_retention", cfg.StatusRetention,
		"history_retention", cfg.HistoryRetention)

	tickers := make([]*time.Ticker, 0, 2)
	defer func() {
		for _, t := range tickers {
			t.Stop()
		}
	}()

	if cfg.CleanupInterval > 0 {
		t := time.NewTicker(cfg.CleanupInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { Cleanup(ctx, store, cfg, time.Now(), logger) })
	}

	if cfg.PromoteInterval > 0 {
		t := time.NewTicker(cfg.PromoteInterval)
		tickers = append(tickers, t)
		go runLoop(ctx, t.C, func() { PromoteNewPlans(ctx, store, cfg, time.Now(), logger) })
	}

	<-ctx.Done()
	logger.Info("Maintenance tickers stopped")
}

func runLoop(ctx context.Context, ch <-chan time.Time, fn func()) {
	for {
		select {
		case <-ch:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// --------------------------------------------------------------------------
// Task implementations
// --------------------------------------------------------------------------

// CleanupResult reports rows removed by one Cleanup pass.
type CleanupResult struct {
	Observations int64
	Attempts     int64
}

// Cleanup deletes observations and notification attempts older than their
// retention windows. A zero retention keeps that table forever. Failures are
// logged and the other table is still pruned.
func Cleanup(ctx context.Context, store Store, cfg Config, now time.Time, logger *slog.Logger) CleanupResult {
	var res CleanupResult

	if cfg.StatusRetention > 0 {
		n, err := store.PruneObservations(ctx, now.Add(-cfg.StatusRetention))
		if err != nil {
			logger.Warn("Cleanup: failed to prune observations", "error", err)
		} else if n > 0 {
			res.Observations = n
			logger.Info("Cleanup: pruned observations", "count", n)
		}
	}

	if cfg.HistoryRetention > 0 {
		n, err := store.PruneAttempts(ctx, now.Add(-cfg.HistoryRetention))
		if err != nil {
			logger.Warn("Cleanup: failed to prune notification history", "error", err)
		} else if n > 0 {
			res.Attempts = n
			logger.Info("Cleanup: pruned notification history", "count", n)
		}
	}
	return res
}

// PromoteNewPlans marks plans first seen more than NewPlanAge ago as active.
func PromoteNewPlans(ctx context.Context, store Store, cfg Config, now time.Time, logger *slog.Logger) int {
	age := cfg.NewPlanAge
	if age <= 0 {
		age = time.Hour
	}
	n, err := store.MarkNewPlansActive(ctx, now.Add(-age))
	if err != nil {
		logger.Warn("Promote: failed to mark new plans active", "error", err)
		return 0
	}
	if n > 0 {
		logger.Info("Promote: marked new plans active", "count", n)
	}
	return n
}
