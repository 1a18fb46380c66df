package idempotency

import (
	"context"
	"time"
)

// RunCleanup deletes expired records every interval until ctx is cancelled. Each pass
// removes at most batch records.
func RunCleanup(ctx context.Context, store Store, interval time.Duration, batch int, logger Logger) {
	if store == nil || interval <= 0 {
		return
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.CleanupExpired(ctx, now.UTC(), batch)
			if err != nil {
				logger(ctx, "idempotency.cleanup_failed", map[string]any{"error": err.Error()})
				continue
			}
			if removed > 0 {
				logger(ctx, "idempotency.cleanup", map[string]any{"removed": removed})
			}
		}
	}
}
