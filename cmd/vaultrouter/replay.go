package main

import (
	"context"
	"fmt"

	"vaultrouter/internal/core"
	"vaultrouter/internal/ingestion"
	"vaultrouter/internal/persistence"

	"github.com/rs/zerolog"
)

const replayPageSize = 1000

type eventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

// chainEnd is the last persisted position the replay has to reach
type chainEnd struct {
	Sequence int64
	Tip      [32]byte
}

// replayJournal rebuilds router state by re-applying every journaled command
// in log order, at the time it first ran. Each command must land on the
// sequence it was logged at, and the rebuilt chain must end at the persisted
// tip. When snap is set, balances are checked at its sequence.
func replayJournal(ctx context.Context, src eventSource, r *core.Router, end chainEnd, snap *persistence.SnapshotData, logger zerolog.Logger) (int, error) {
	replayed := 0
	from := int64(1)
	for {
		rows, err := src.LoadEventsFrom(ctx, from, replayPageSize)
		if err != nil {
			return replayed, fmt.Errorf("load events from %d: %w", from, err)
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			if len(row.Command) == 0 {
				continue
			}
			if next := r.Sequence() + 1; next != row.Sequence {
				return replayed, fmt.Errorf("replay diverged: %s logged at sequence %d, router is at %d",
					row.CommandType, row.Sequence, next)
			}

			cmd, err := ingestion.ParseCommand(row.CommandType, row.Command)
			if err != nil {
				return replayed, fmt.Errorf("sequence %d: %w", row.Sequence, err)
			}
			if err := r.Replay(ctx, cmd, row.Timestamp); err != nil {
				return replayed, fmt.Errorf("replay %s at sequence %d: %w", row.CommandType, row.Sequence, err)
			}
			replayed++

			if snap != nil && r.Sequence() == snap.Sequence {
				if err := verifySnapshot(r.Snapshot(), snap); err != nil {
					return replayed, err
				}
				logger.Info().Int64("sequence", snap.Sequence).Msg("replay matches snapshot")
			}
		}
		from = rows[len(rows)-1].Sequence + 1
	}

	if seq := r.Sequence(); seq != end.Sequence {
		return replayed, fmt.Errorf("replay ended at sequence %d, log ends at %d", seq, end.Sequence)
	}
	if tip := r.ChainTip(); tip != end.Tip {
		return replayed, fmt.Errorf("replay chain tip %x does not match log tip %x", tip, end.Tip)
	}
	return replayed, nil
}

func verifySnapshot(got core.StateSnapshot, want *persistence.SnapshotData) error {
	if len(got.Balances) != len(want.Balances) {
		return fmt.Errorf("snapshot %d: %d balances rebuilt, %d stored", want.Sequence, len(got.Balances), len(want.Balances))
	}
	for account, amount := range want.Balances {
		if got.Balances[account] != amount {
			return fmt.Errorf("snapshot %d: %s rebuilt as %q, stored %q", want.Sequence, account, got.Balances[account], amount)
		}
	}
	return nil
}
