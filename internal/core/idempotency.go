package core

import (
	"context"
	"fmt"

	"vaultrouter/internal/observability"

	lru "github.com/hashicorp/golang-lru/v2"
)

// IdempotencyChecker implements two-tier command deduplication:
// an in-memory LRU in front of the persisted event log.
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	cache *lru.Cache[string, struct{}]

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics *observability.Metrics
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(ctx context.Context, commandType string, idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker, metrics *observability.Metrics) (*IdempotencyChecker, error) {
	ic := &IdempotencyChecker{
		dbChecker: dbChecker,
		metrics:   metrics,
	}

	cache, err := lru.NewWithEvict[string, struct{}](capacity, func(string, struct{}) {
		if ic.metrics != nil {
			ic.metrics.DedupLRUEvictions.Inc()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("idempotency cache: %w", err)
	}
	ic.cache = cache

	return ic, nil
}

func compositeKey(commandType, idempotencyKey string) string {
	return commandType + ":" + idempotencyKey
}

// IsDuplicate checks if a command has been applied (two-tier lookup).
// A database error is reported to the caller rather than guessed at.
func (ic *IdempotencyChecker) IsDuplicate(ctx context.Context, commandType string, idempotencyKey string) (bool, error) {
	key := compositeKey(commandType, idempotencyKey)

	// Tier 1: LRU check (hot path)
	if ic.cache.Contains(key) {
		ic.recordDuplicate("lru")
		return true, nil
	}

	// Tier 2: Postgres check (cold path)
	if ic.dbChecker == nil {
		return false, nil
	}

	isDup, err := ic.dbChecker.IsDuplicate(ctx, commandType, idempotencyKey)
	if err != nil {
		return false, fmt.Errorf("tier-2 idempotency lookup: %w", err)
	}

	if isDup {
		ic.recordDuplicate("postgres")
		// Cache so we don't hit the DB again
		ic.cache.Add(key, struct{}{})
		return true, nil
	}

	return false, nil
}

// MarkProcessed records a command after it was applied
func (ic *IdempotencyChecker) MarkProcessed(commandType string, idempotencyKey string) {
	ic.cache.Add(compositeKey(commandType, idempotencyKey), struct{}{})
	if ic.metrics != nil {
		ic.metrics.DedupLRUSize.Set(float64(ic.cache.Len()))
	}
}

// Warm loads recently applied composite keys (type:key) on restart, so
// recent duplicates never reach the database tier.
func (ic *IdempotencyChecker) Warm(keys []string) {
	for _, key := range keys {
		ic.cache.Add(key, struct{}{})
	}
}

// Size returns current number of cached keys
func (ic *IdempotencyChecker) Size() int {
	return ic.cache.Len()
}

func (ic *IdempotencyChecker) recordDuplicate(tier string) {
	if ic.metrics != nil {
		ic.metrics.IdempotencyDuplicates.WithLabelValues(tier).Inc()
	}
}
