package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourorg/clinicops/internal/observability/metrics"
)

// Purger drops expired entries and reports how many it removed. The
// in-memory revocation store implements it.
type Purger interface {
	Purge() int
}

// CleanupWorker periodically removes expired token revocations so the
// in-memory store does not grow with every logout.
type CleanupWorker struct {
	store    Purger
	logger   *slog.Logger
	interval time.Duration
}

// NewCleanupWorker creates a new cleanup worker
func NewCleanupWorker(store Purger, logger *slog.Logger, interval time.Duration) *CleanupWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CleanupWorker{
		store:    store,
		logger:   logger,
		interval: interval,
	}
}

// Start runs until ctx is cancelled
func (w *CleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("cleanup worker started", slog.Duration("interval", w.interval))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("cleanup worker stopped")
			return
		case <-ticker.C:
			w.RunOnce()
		}
	}
}

// RunOnce performs a single purge pass.
func (w *CleanupWorker) RunOnce() int {
	purged := w.store.Purge()
	metrics.ObservePurged(purged)
	if purged > 0 {
		w.logger.Debug("purged expired revocations", slog.Int("count", purged))
	}
	return purged
}
