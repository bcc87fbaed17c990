package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	CommandStream  = "VAULT_COMMANDS"
	CommandSubject = "vault.cmd.>"
	commandDurable = "vaultrouter-commands"
)

// RawCommand is a command body, not yet parsed. The dispatcher calls
// exactly one of Ack, Nak or Term once it is handled, then Reply.
type RawCommand struct {
	Subject   string
	Data      []byte
	Delivered uint64
	Ack       func()
	Nak       func() // redeliver later
	Term      func() // never redeliver
	Reply     func(Outcome, error)
}

// NATSSubscriber consumes the command stream and queues raw commands for
// the single dispatcher goroutine.
type NATSSubscriber struct {
	js       jetstream.JetStream
	out      chan<- RawCommand
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

func NewNATSSubscriber(js jetstream.JetStream, out chan<- RawCommand, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:  js,
		out: out,
		log: logger,
	}
}

// Subscribe creates the durable command consumer. Explicit ack,
// max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, CommandStream, jetstream.ConsumerConfig{
		Durable:       commandDurable,
		FilterSubject: CommandSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		MaxAckPending: 1024,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", commandDurable, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawCommand{
			Subject: msg.Subject(),
			Data:    msg.Data(),
			Ack:     func() { msg.Ack() },
			Nak:     func() { msg.NakWithDelay(time.Second) },
			Term:    func() { msg.Term() },
		}
		if md, err := msg.Metadata(); err == nil {
			raw.Delivered = md.NumDelivered
		}

		select {
		case ns.out <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", commandDurable, err)
	}

	ns.consumer = cc
	ns.log.Info().Str("subject", CommandSubject).Str("consumer", commandDurable).Msg("subscribed")
	return nil
}

// Stop stops the consumer; queued commands stay in the channel
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.log.Info().Msg("NATS subscriber stopped")
}

// EnsureStreams creates the command and event streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:       CommandStream,
			Subjects:   []string{CommandSubject},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
		{
			Name:       EventStream,
			Subjects:   []string{EventSubjectPrefix + ">"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 10 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("vaultrouter"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
