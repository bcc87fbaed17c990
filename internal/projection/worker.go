package projection

import (
	"context"
	"fmt"
	"time"

	"vaultrouter/internal/core"
	"vaultrouter/internal/observability"
	"vaultrouter/internal/persistence"

	"github.com/rs/zerolog"
)

const partition = "envelopes"

// ProjectionWorker updates projection tables from router output.
// The projection channel drops when full, so the worker tracks the envelope
// sequence and reports gaps; a gapped projection is repaired by Rebuild.
type ProjectionWorker struct {
	store     Store
	inputChan <-chan core.Output
	sequences *core.SequenceValidator
	metrics   *observability.Metrics
	log       zerolog.Logger

	lastSeq int64
	gaps    int
}

func NewProjectionWorker(store Store, inputChan <-chan core.Output, metrics *observability.Metrics, logger zerolog.Logger) *ProjectionWorker {
	return &ProjectionWorker{
		store:     store,
		inputChan: inputChan,
		sequences: core.NewSequenceValidator(),
		metrics:   metrics,
		log:       logger,
	}
}

// Run applies envelopes until the input closes or ctx is done
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	cursor, err := pw.store.Cursor(ctx)
	if err != nil {
		return fmt.Errorf("load projection cursor: %w", err)
	}
	pw.lastSeq = cursor
	pw.sequences.SetExpectedSequence(partition, cursor+1)

	for {
		select {
		case <-ctx.Done():
			return nil

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}
			pw.process(ctx, output)
		}
	}
}

func (pw *ProjectionWorker) process(ctx context.Context, output core.Output) {
	seq := output.Envelope.Sequence
	if seq <= pw.lastSeq {
		return
	}
	if err := pw.sequences.ValidateSequence(partition, seq); err != nil {
		pw.gaps++
		pw.log.Warn().Err(err).Msg("projection gap, rebuild from the event log to repair")
		pw.sequences.SetExpectedSequence(partition, seq+1)
	}

	start := time.Now()
	update, err := Project(output.Envelope)
	if err == nil {
		err = pw.store.Apply(ctx, update)
	}
	if err != nil {
		// Projections are eventually consistent and can be rebuilt
		pw.log.Warn().Err(err).Int64("seq", seq).Msg("projection update failed")
		return
	}
	pw.lastSeq = seq
	if pw.metrics != nil {
		pw.metrics.ProjectionUpdateDur.Observe(time.Since(start).Seconds())
	}
}

// Gaps returns how many sequence gaps the worker has seen
func (pw *ProjectionWorker) Gaps() int {
	return pw.gaps
}

// LastSequence returns the last applied envelope sequence
func (pw *ProjectionWorker) LastSequence() int64 {
	return pw.lastSeq
}

// EventSource pages through the persisted event log
type EventSource interface {
	LoadEventsFrom(ctx context.Context, fromSequence int64, limit int) ([]persistence.EventRow, error)
}

// RebuildProjections empties the store and replays the event log into it.
// Returns the last replayed sequence.
func RebuildProjections(ctx context.Context, store Store, source EventSource, pageSize int, logger zerolog.Logger) (int64, error) {
	if pageSize <= 0 {
		pageSize = 500
	}
	if err := store.Reset(ctx); err != nil {
		return 0, err
	}

	var last int64
	for {
		rows, err := source.LoadEventsFrom(ctx, last+1, pageSize)
		if err != nil {
			return last, fmt.Errorf("load events after %d: %w", last, err)
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return last, err
			}
			update, err := Project(env)
			if err != nil {
				return last, err
			}
			if err := store.Apply(ctx, update); err != nil {
				return last, fmt.Errorf("apply sequence %d: %w", row.Sequence, err)
			}
			last = row.Sequence
		}
		if len(rows) < pageSize {
			break
		}
	}

	logger.Info().Int64("last_sequence", last).Msg("projection rebuild complete")
	return last, nil
}
