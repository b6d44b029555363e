package store

import (
	"context"
	"log/slog"
	"time"
)

const defaultRetentionInterval = 15 * time.Minute

// RunRetentionWorker periodically deletes sessions idle for longer than
// retention. It blocks until ctx is done. A zero retention disables the sweep.
func RunRetentionWorker(ctx context.Context, repo Repository, retention, interval time.Duration) error {
	if retention <= 0 {
		slog.Info("Session retention disabled")
		<-ctx.Done()
		return nil
	}
	if interval <= 0 {
		interval = defaultRetentionInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("Retention worker started", "interval", interval, "retention", retention)

	for {
		select {
		case <-ticker.C:
			sweepExpiredSessions(ctx, repo, retention)
		case <-ctx.Done():
			slog.Info("Retention worker shutting down", "reason", ctx.Err())
			return nil
		}
	}
}

func sweepExpiredSessions(ctx context.Context, repo Repository, retention time.Duration) {
	deleted, err := repo.DeleteSessionsBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		slog.Error("Retention worker failed to delete expired sessions", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("Retention worker removed expired sessions", "count", deleted)
	}
}
