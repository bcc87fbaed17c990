package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"vaultrouter/internal/observability"
)

// PostgresIdempotencyChecker is the database tier of command deduplication.
// A command counts as applied once any event it produced is in the log.
type PostgresIdempotencyChecker struct {
	db      *sql.DB
	timeout time.Duration
	metrics *observability.Metrics
}

func NewPostgresIdempotencyChecker(db *sql.DB, metrics *observability.Metrics) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{
		db:      db,
		timeout: 500 * time.Millisecond,
		metrics: metrics,
	}
}

// IsDuplicate checks the event log for an event of the given command
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, commandType, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, pic.timeout)
	defer cancel()

	if pic.metrics != nil {
		start := time.Now()
		defer func() { pic.metrics.DedupTier2Duration.Observe(time.Since(start).Seconds()) }()
	}

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.events
		WHERE command_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, commandType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// RecentKeys returns the newest composite command keys (type:key), for
// warming the in-memory tier on restart
func (pic *PostgresIdempotencyChecker) RecentKeys(ctx context.Context, limit int) ([]string, error) {
	rows, err := pic.db.QueryContext(ctx, `
		SELECT command_type || ':' || idempotency_key
		FROM event_log.events
		WHERE idempotency_key IS NOT NULL
		GROUP BY command_type, idempotency_key
		ORDER BY MAX(sequence) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]string, 0, limit)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
