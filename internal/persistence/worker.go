package persistence

import (
	"context"
	"errors"
	"time"

	"vaultrouter/internal/core"
	"vaultrouter/internal/observability"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// BatchStore is where the worker flushes batches
type BatchStore interface {
	WriteBatch(ctx context.Context, events []EventRow, journals []JournalRow) error
}

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The router sends to it blocking, so a slow worker stalls the router
// instead of losing events.
type PersistenceWorker struct {
	store        BatchStore
	input        <-chan core.Output
	batchSize    int
	flushTimeout time.Duration
	newBackOff   func() backoff.BackOff
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	store BatchStore,
	input <-chan core.Output,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *PersistenceWorker {
	return &PersistenceWorker{
		store:        store,
		input:        input,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		newBackOff:   defaultBackOff,
		metrics:      metrics,
		log:          logger,
	}
}

// Retries never give up on their own: only shutdown stops them
func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// WithBackOff replaces the retry policy
func (pw *PersistenceWorker) WithBackOff(fn func() backoff.BackOff) *PersistenceWorker {
	pw.newBackOff = fn
	return pw
}

// Run blocks until ctx is cancelled or the input channel closes, flushing
// whatever is buffered on the way out.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	events := make([]EventRow, 0, pw.batchSize)
	var journals []JournalRow

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) error {
		if len(events) == 0 {
			return nil
		}
		if err := pw.flushWithRetry(ctx, events, journals); err != nil {
			return err
		}
		events = events[:0]
		journals = journals[:0]
		return nil
	}
	// Shutdown gets one attempt
	final := func() error {
		if len(events) == 0 {
			return nil
		}
		return pw.flush(context.Background(), events, journals)
	}

	for {
		select {
		case out, ok := <-pw.input:
			if !ok {
				return final()
			}
			events = append(events, NewEventRow(out.Envelope))
			journals = append(journals, NewJournalRows(out)...)
			if pw.metrics != nil {
				pw.metrics.SetChannelMetrics("persist", len(pw.input), cap(pw.input))
			}
			if len(events) >= pw.batchSize {
				if err := flush(ctx); err != nil {
					return err
				}
			}

		case <-timer.C:
			if err := flush(ctx); err != nil {
				return err
			}
			timer.Reset(pw.flushTimeout)

		case <-ctx.Done():
			// Take what the router already handed over
		drain:
			for {
				select {
				case out, ok := <-pw.input:
					if !ok {
						break drain
					}
					events = append(events, NewEventRow(out.Envelope))
					journals = append(journals, NewJournalRows(out)...)
				default:
					break drain
				}
			}
			return final()
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds.
// When ctx ends mid-retry, one last attempt runs without it.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, events []EventRow, journals []JournalRow) error {
	attempt := 0
	op := func() error {
		attempt++
		return pw.flush(ctx, events, journals)
	}
	notify := func(err error, wait time.Duration) {
		if pw.metrics != nil {
			pw.metrics.PersistRetry.Inc()
		}
		pw.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", wait).Int("events", len(events)).Msg("persistence flush failed, retrying")
	}

	err := backoff.RetryNotify(op, backoff.WithContext(pw.newBackOff(), ctx), notify)
	if err == nil {
		if attempt > 1 {
			pw.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
		}
		return nil
	}
	if ctx.Err() == nil {
		return err
	}

	if finalErr := pw.flush(context.Background(), events, journals); finalErr != nil {
		return errors.Join(err, finalErr)
	}
	return nil
}

func (pw *PersistenceWorker) flush(ctx context.Context, events []EventRow, journals []JournalRow) error {
	start := time.Now()

	if err := pw.store.WriteBatch(ctx, events, journals); err != nil {
		if pw.metrics != nil {
			pw.metrics.PersistErrors.WithLabelValues("write_batch").Inc()
		}
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(events)))
		pw.metrics.PersistEventsWritten.Add(float64(len(events)))
		pw.metrics.PersistLastSequence.Set(float64(events[len(events)-1].Sequence))
	}
	pw.log.Debug().Int64("last_seq", events[len(events)-1].Sequence).Int("events", len(events)).Int("journals", len(journals)).Msg("batch persisted")
	return nil
}
