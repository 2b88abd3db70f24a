package chunkstore

import (
	"context"
	"log/slog"
	"time"
)

// RunSweeper calls store.Sweep every interval, removing uploads idle for
// longer than ttl, until ctx is cancelled.
func RunSweeper(ctx context.Context, store Store, ttl, interval time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			removed, err := store.Sweep(ctx, now.Add(-ttl))
			if err != nil {
				slog.Error("Chunk sweep failed.", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("Expired uploads removed.", "count", removed, "ttl", ttl.String())
			}
		}
	}
}
