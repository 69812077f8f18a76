package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulsepoll/voteguard/internal/store"
)

// SweepManager periodically drops expired entries from the in-memory
// TTL store. Redis expires keys natively, so this only runs when the
// memory backend is selected.
type SweepManager struct {
	store    *store.MemoryStore
	logger   *slog.Logger
	interval time.Duration
	stopCh   chan struct{}
}

// NewSweepManager creates a new sweep manager
func NewSweepManager(memStore *store.MemoryStore, logger *slog.Logger, interval time.Duration) *SweepManager {
	return &SweepManager{
		store:    memStore,
		logger:   logger,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sweep task
func (sm *SweepManager) Start(ctx context.Context) {
	ticker := time.NewTicker(sm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := sm.store.Sweep(); removed > 0 {
				sm.logger.Debug("swept expired store entries", slog.Int("removed", removed))
			}
		case <-sm.stopCh:
			sm.logger.Info("sweep manager stopped")
			return
		case <-ctx.Done():
			sm.logger.Info("sweep manager context cancelled")
			return
		}
	}
}

// Stop signals the sweep manager to stop
func (sm *SweepManager) Stop() {
	close(sm.stopCh)
}
