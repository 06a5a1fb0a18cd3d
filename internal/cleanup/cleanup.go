// Package cleanup prunes old journal entries.
package cleanup

import (
	"context"
	"time"

	"github.com/italolelis/drive_relay/internal/logctx"
)

// Pruner deletes finished journal entries older than a cutoff.
type Pruner interface {
	PruneFinished(ctx context.Context, before time.Time) (int64, error)
}

// PruneJournal deletes finished attempts older than retention.
func PruneJournal(ctx context.Context, journal Pruner, retention time.Duration, now time.Time) error {
	logger := logctx.LoggerFromContext(ctx)

	pruned, err := journal.PruneFinished(ctx, now.Add(-retention))
	if err != nil {
		logger.ErrorContext(ctx, "failed to prune journal", "err", err)

		return err
	}

	if pruned > 0 {
		logger.InfoContext(ctx, "pruned journal", "attempts", pruned, "retention", retention.String())
	}

	return nil
}

// Start prunes the journal every interval until ctx is done.
func Start(ctx context.Context, journal Pruner, interval, retention time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case now := <-ticker.C:
				// Errors are logged by PruneJournal; the next tick retries.
				_ = PruneJournal(ctx, journal, retention, now)
			}
		}
	}()
}
