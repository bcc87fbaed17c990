package persistence

import (
	"context"
	"time"

	"vaultrouter/internal/core"

	"github.com/rs/zerolog"
)

// SnapshotSource is the router view the scheduler needs
type SnapshotSource interface {
	Sequence() int64
	Snapshot() core.StateSnapshot
}

// SnapshotStore persists snapshots
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap core.StateSnapshot) error
}

// RunPeriodicSnapshots checks the router every tick and saves a snapshot once
// interval events have passed. A final snapshot is taken on shutdown.
func RunPeriodicSnapshots(ctx context.Context, src SnapshotSource, store SnapshotStore, interval int64, tick time.Duration, logger zerolog.Logger) error {
	last := src.Sequence()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if src.Sequence() == last {
				return nil
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := saveSnapshot(shutdownCtx, src, store); err != nil {
				logger.Error().Err(err).Msg("final snapshot failed")
				return nil
			}
			logger.Info().Msg("final snapshot saved")
			return nil

		case <-ticker.C:
			if !ShouldSnapshot(last, src.Sequence(), interval) {
				continue
			}
			seq, err := saveSnapshot(ctx, src, store)
			if err != nil {
				logger.Warn().Err(err).Msg("periodic snapshot failed")
				continue
			}
			last = seq
			logger.Info().Int64("sequence", seq).Msg("periodic snapshot")
		}
	}
}

func saveSnapshot(ctx context.Context, src SnapshotSource, store SnapshotStore) (int64, error) {
	snap := src.Snapshot()
	return snap.Sequence, store.SaveSnapshot(ctx, snap)
}
