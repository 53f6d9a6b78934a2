package services

import (
	"context"
	"log/slog"
	"time"

	"ticketline/monitoring"
	"ticketline/store"
)

// SweeperService returns expired reservations to the available pool on a
// fixed period. It is idempotent and self-healing: a missed or failed tick
// only delays release, it can never double-release because the expiry
// predicate is evaluated inside the store's own conditional update.
type SweeperService struct {
	store    store.InventoryStore
	logger   *slog.Logger
	interval time.Duration

	// now is injectable for tests.
	now func() time.Time
}

func NewSweeperService(st store.InventoryStore, interval time.Duration, logger *slog.Logger) *SweeperService {
	return &SweeperService{
		store:    st,
		logger:   logger,
		interval: interval,
		now:      time.Now,
	}
}

// Sweep releases every ticket whose hold has lapsed and returns the count.
func (s *SweeperService) Sweep(ctx context.Context) (int, error) {
	released, err := s.store.ReleaseExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if released > 0 {
		monitoring.TrackSwept(released)
		s.logger.Info("expired reservations released", "count", released)
	}
	return released, nil
}

// Run sweeps on the configured period until the context is cancelled.
// Transient store errors are logged and retried on the next tick.
func (s *SweeperService) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("reservation sweep failed", "error", err)
			}
		}
	}
}
