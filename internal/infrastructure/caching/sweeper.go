package caching

import (
	"context"
	"time"

	"github.com/promptwatch/promptwatch-go/internal/infrastructure/observability/logging"
)

// Sweeper periodically purges expired entries from a Store. The store works
// correctly without it; the sweep exists for memory hygiene on long-running
// processes.
type Sweeper struct {
	store    *Store
	interval time.Duration
	verbose  bool
	logger   *logging.ChanneledLogger
}

// NewSweeper creates a sweeper for the given store
func NewSweeper(store *Store, interval time.Duration, verbose bool, logger *logging.ChanneledLogger) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		verbose:  verbose,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is canceled
func (w *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Cache().Info("Cache sweeper started", "interval", w.interval, "verbose", w.verbose)

	for {
		select {
		case <-ctx.Done():
			w.logger.Cache().Info("Cache sweeper stopping")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

func (w *Sweeper) sweep() {
	start := time.Now()
	removed := w.store.InvalidateExpired()

	if removed > 0 {
		w.logger.Cache().Info("Cache sweep finished",
			"removed", removed,
			"remaining", w.store.Len(),
			"duration", time.Since(start))
	} else if w.verbose {
		w.logger.Cache().Debug("Cache sweep completed - no expired entries",
			"entries", w.store.Len(),
			"duration", time.Since(start))
	}
}
