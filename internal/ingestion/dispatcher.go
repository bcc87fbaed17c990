package ingestion

import (
	"context"
	"errors"

	"vaultrouter/internal/core"
	"vaultrouter/internal/fault"
	"vaultrouter/internal/observability"

	"github.com/rs/zerolog"
)

// Submitter applies commands with deduplication
type Submitter interface {
	Submit(ctx context.Context, cmd core.Command) (bool, error)
}

// Outcome of handling one raw command
type Outcome int

const (
	OutcomeApplied Outcome = iota
	OutcomeDuplicate
	OutcomeRejected // permanent, terminated
	OutcomeRetry    // nak'ed for redelivery
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRejected:
		return "rejected"
	case OutcomeRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Dispatcher parses raw commands and submits them one at a time
type Dispatcher struct {
	router  Submitter
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewDispatcher(router Submitter, metrics *observability.Metrics, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{router: router, metrics: metrics, log: logger}
}

// Run handles commands until in is closed or ctx is done
func (d *Dispatcher) Run(ctx context.Context, in <-chan RawCommand) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-in:
			if !ok {
				return nil
			}
			d.Handle(ctx, raw)
		}
	}
}

// Handle parses, submits and acknowledges one raw command.
// Malformed and permanently rejected commands are terminated, retryable
// rejections and infrastructure errors are redelivered.
func (d *Dispatcher) Handle(ctx context.Context, raw RawCommand) Outcome {
	outcome, err := d.handle(ctx, raw)
	if raw.Reply != nil {
		raw.Reply(outcome, err)
	}
	return outcome
}

func (d *Dispatcher) handle(ctx context.Context, raw RawCommand) (Outcome, error) {
	name := CommandName(raw.Subject)
	if d.metrics != nil {
		d.metrics.CommandsReceived.WithLabelValues(name).Inc()
	}

	cmd, err := ParseCommand(name, raw.Data)
	if err != nil {
		if d.metrics != nil {
			d.metrics.CommandParseErrors.WithLabelValues(name).Inc()
		}
		d.log.Warn().Err(err).Str("subject", raw.Subject).Msg("malformed command")
		call(raw.Term)
		return OutcomeRejected, err
	}

	applied, err := d.router.Submit(ctx, cmd)
	switch {
	case err == nil && applied:
		call(raw.Ack)
		return OutcomeApplied, nil
	case err == nil:
		call(raw.Ack)
		return OutcomeDuplicate, nil
	case retry(err):
		d.log.Info().Err(err).Str("command", name).Str("key", cmd.IdempotencyKey()).
			Uint64("delivered", raw.Delivered).Msg("command deferred")
		call(raw.Nak)
		return OutcomeRetry, err
	default:
		d.log.Warn().Err(err).Str("command", name).Str("key", cmd.IdempotencyKey()).
			Str("kind", fault.KindOf(err)).Msg("command rejected")
		call(raw.Term)
		return OutcomeRejected, err
	}
}

// retry reports whether err may clear on redelivery: retryable protocol
// errors and anything outside the protocol taxonomy, such as a database outage
func retry(err error) bool {
	var fe *fault.Error
	if !errors.As(err, &fe) {
		return true
	}
	return fault.Retryable(err)
}

func call(fn func()) {
	if fn != nil {
		fn()
	}
}
