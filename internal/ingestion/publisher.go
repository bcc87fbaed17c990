package ingestion

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"vaultrouter/internal/core"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	EventStream        = "VAULT_EVENTS"
	EventSubjectPrefix = "vault.events."
)

// StreamPublisher is the part of jetstream.JetStream the publisher uses
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes router events to NATS for downstream consumers.
// Subjects follow vault.events.<EventType>.
type OutboundPublisher struct {
	js    StreamPublisher
	input <-chan core.Output
	log   zerolog.Logger
}

// PublishedEvent is the outbound wire form of an event envelope
type PublishedEvent struct {
	Sequence       int64           `json:"sequence"`
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	AggregateID    string          `json:"aggregate_id"`
	CommandType    string          `json:"command_type,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js StreamPublisher, input <-chan core.Output, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:    js,
		input: input,
		log:   logger,
	}
}

// Run publishes until input is closed or ctx is done. Failures are logged
// and skipped: consumers can read the event log directly.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil

		case out, ok := <-op.input:
			if !ok {
				return nil
			}
			if err := op.publish(ctx, out); err != nil {
				op.log.Warn().Err(err).Int64("seq", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.Output) error {
	env := out.Envelope
	data, err := json.Marshal(PublishedEvent{
		Sequence:       env.Sequence,
		EventID:        env.EventID.String(),
		EventType:      env.EventType.String(),
		AggregateID:    env.AggregateID,
		CommandType:    env.CommandType,
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		StateHash:      hex.EncodeToString(env.StateHash[:]),
		Timestamp:      env.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The event id lets the stream drop republished duplicates
	_, err = op.js.Publish(ctx, EventSubjectPrefix+env.EventType.String(), data, jetstream.WithMsgID(env.EventID.String()))
	return err
}
