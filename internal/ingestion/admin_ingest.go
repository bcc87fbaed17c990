package ingestion

import (
	"context"
	"errors"
)

var ErrDispatcherStopped = errors.New("command dispatcher stopped")

// AdminIngestService injects operator commands through the same queue as
// NATS commands, so they are applied by the single dispatcher goroutine.
// Meant for manual operations, not throughput.
type AdminIngestService struct {
	queue chan<- RawCommand
}

func NewAdminIngestService(queue chan<- RawCommand) *AdminIngestService {
	return &AdminIngestService{queue: queue}
}

type reply struct {
	outcome Outcome
	err     error
}

// Inject queues the named command and waits for its outcome
func (s *AdminIngestService) Inject(ctx context.Context, name string, body []byte) (Outcome, error) {
	done := make(chan reply, 1)
	raw := RawCommand{
		Subject: "vault.cmd." + name,
		Data:    body,
		Reply: func(o Outcome, err error) {
			done <- reply{outcome: o, err: err}
		},
	}

	select {
	case s.queue <- raw:
	case <-ctx.Done():
		return OutcomeRetry, ctx.Err()
	}

	select {
	case r := <-done:
		return r.outcome, r.err
	case <-ctx.Done():
		return OutcomeRetry, ErrDispatcherStopped
	}
}
