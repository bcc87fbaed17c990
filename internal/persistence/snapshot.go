package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vaultrouter/internal/core"

	"github.com/google/uuid"
)

// SnapshotManager stores periodic copies of router state next to the event
// log and reads the log back for recovery and audits.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the stored form of a core.StateSnapshot
type SnapshotData struct {
	Sequence   int64             `json:"sequence"`
	StateHash  []byte            `json:"state_hash"`
	Balances   map[string]string `json:"balances"`
	Watermarks map[string]string `json:"watermarks"`
	CreatedAt  time.Time         `json:"created_at"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// ShouldSnapshot reports whether enough events passed since the last snapshot
func ShouldSnapshot(lastSnapshot, sequence, interval int64) bool {
	return interval > 0 && sequence-lastSnapshot >= interval
}

// SaveSnapshot persists a snapshot keyed by its sequence
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap core.StateSnapshot) error {
	data, err := json.Marshal(SnapshotData{
		Sequence:   snap.Sequence,
		StateHash:  snap.ChainTip[:],
		Balances:   snap.Balances,
		Watermarks: snap.Watermarks,
		CreatedAt:  snap.TakenAt,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO event_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, created_at)
		VALUES ($1, $2, $3, $4, 1, $5, $6)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $5
	`, uuid.New(), snap.Sequence, string(data), snap.ChainTip[:], len(data), snap.TakenAt)
	return err
}

// LoadLatestSnapshot returns the newest snapshot, or nil when none exists
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	var data []byte
	err := sm.db.QueryRowContext(ctx, `
		SELECT data FROM event_log.snapshots
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// LoadEventsFrom loads events from a given sequence, oldest first
func (sm *SnapshotManager) LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]EventRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, event_id, event_type, aggregate_id,
		       COALESCE(command_type, ''), COALESCE(idempotency_key, ''),
		       payload, command, state_hash, prev_hash, timestamp
		FROM event_log.events
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		if err := rows.Scan(
			&e.Sequence, &e.EventID, &e.EventType, &e.AggregateID,
			&e.CommandType, &e.IdempotencyKey,
			&e.Payload, &e.Command, &e.StateHash, &e.PrevHash, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ChainTip returns the last persisted sequence and its state hash, so a
// restarted router continues the chain. An empty log returns zeroes.
func (sm *SnapshotManager) ChainTip(ctx context.Context) (int64, [32]byte, error) {
	var (
		seq  int64
		hash []byte
		tip  [32]byte
	)
	err := sm.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM event_log.events
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, tip, nil
	}
	if err != nil {
		return 0, tip, fmt.Errorf("load chain tip: %w", err)
	}
	if len(hash) != len(tip) {
		return 0, tip, fmt.Errorf("state hash of sequence %d has %d bytes", seq, len(hash))
	}
	copy(tip[:], hash)
	return seq, tip, nil
}
