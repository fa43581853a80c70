package session

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper evicts expired sessions on a fixed period until ctx is
// cancelled. It is the only age-based cleanup in the system; per-request
// paths never scan for stale entries.
func (s *Store) RunSweeper(ctx context.Context, log *slog.Logger) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepExpired(MaxAge); n > 0 {
				log.Info("expired sessions swept", "count", n, "max_age", MaxAge)
			}
		}
	}
}
