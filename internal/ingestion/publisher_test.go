package ingestion_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"vaultrouter/internal/core"
	"vaultrouter/internal/event"
	"vaultrouter/internal/ingestion"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	subject string
	data    []byte
}

type fakeStream struct {
	mu   sync.Mutex
	fail bool
	msgs []published
}

func (s *fakeStream) Publish(_ context.Context, subject string, data []byte, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		s.fail = false
		return nil, errors.New("no responders")
	}
	s.msgs = append(s.msgs, published{subject: subject, data: data})
	return &jetstream.PubAck{Stream: ingestion.EventStream}, nil
}

func TestOutboundPublisher_PublishesBySubject(t *testing.T) {
	stream := &fakeStream{fail: true}
	in := make(chan core.Output, 4)
	pub := ingestion.NewOutboundPublisher(stream, in, zerolog.Nop())

	for seq, typ := range []event.EventType{event.EventTypeBatchClosed, event.EventTypeSettlementExecuted} {
		in <- core.Output{Envelope: &event.EventEnvelope{
			Sequence:       int64(seq + 1),
			EventID:        uuid.New(),
			CommandType:    "close_batch",
			IdempotencyKey: "k",
			EventType:      typ,
			AggregateID:    "0xb1",
			Timestamp:      time.Unix(1_700_000_000, 0).UTC(),
			Payload:        []byte(`{"batch_id":"0xb1"}`),
		}}
	}
	close(in)

	require.NoError(t, pub.Run(context.Background()))

	// The first publish failed and was skipped
	require.Len(t, stream.msgs, 1)
	assert.Equal(t, "vault.events.SettlementExecuted", stream.msgs[0].subject)

	var got ingestion.PublishedEvent
	require.NoError(t, json.Unmarshal(stream.msgs[0].data, &got))
	assert.Equal(t, int64(2), got.Sequence)
	assert.Equal(t, "SettlementExecuted", got.EventType)
	assert.Equal(t, "close_batch", got.CommandType)
	assert.JSONEq(t, `{"batch_id":"0xb1"}`, string(got.Payload))
	assert.Len(t, got.StateHash, 64)
}
