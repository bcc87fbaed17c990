package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	"vaultrouter/internal/event"
	"vaultrouter/internal/fault"
	"vaultrouter/internal/ledger"
	fpmath "vaultrouter/internal/math"
	"vaultrouter/internal/observability"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
)

// Output is one event leaving the router. The last event of an operation
// carries the journals the operation applied.
type Output struct {
	Envelope *event.EventEnvelope
	Journals []ledger.Journal
}

// RouterOptions wires a Router. Channels left nil are not fed.
type RouterOptions struct {
	Identity      common.Address // must hold settlement-authority
	Minter        common.Address
	ShareDecimals uint8

	Idempotency *IdempotencyChecker
	Metrics     *observability.Metrics
	Logger      zerolog.Logger

	Persist    chan<- Output // blocking send
	Projection chan<- Output // dropped when full
	Publish    chan<- Output // dropped when full
}

// Router is the single entry point of the settlement core. Every mutating
// operation runs under one lock, so components below it are never shared.
type Router struct {
	mu       sync.Mutex
	submitMu sync.Mutex // serialises dedup check and apply of commands

	identity common.Address
	minter   common.Address
	decimals uint8
	auth     access.AuthorizationPort
	cfg      *config.SystemConfig

	ledger     *ledger.BalanceTracker
	validator  *ledger.InvariantValidator
	holders    *HolderRegistry
	adapters   *state.AdapterRegistry
	virtual    *state.VirtualBalanceLedger
	fees       *state.FeeAccrualEngine
	settlement SettlementEngine
	claims     *ClaimResolver

	// assets booked as pull requests by pending unstakes, refunded on cancel
	pullEstimates map[common.Hash]*uint256.Int

	// journals applied by the running operation
	journals []ledger.Journal

	// set while a journaled command is replayed: events are sequenced and
	// hashed at this time but not emitted
	replayAt time.Time

	sequence    int64
	hasher      *ChainHasher
	idempotency *IdempotencyChecker
	reports     *SequenceValidator

	metrics *observability.Metrics
	log     zerolog.Logger

	persistChan    chan<- Output
	projectionChan chan<- Output
	publishChan    chan<- Output
}

func NewRouter(auth access.AuthorizationPort, cfg *config.SystemConfig, opts RouterOptions) (*Router, error) {
	if !auth.Has(opts.Identity, access.CapSettlementAuthority) {
		return nil, fmt.Errorf("%w: %s", ErrMissingIdentity, opts.Identity.Hex())
	}
	if opts.ShareDecimals == 0 {
		opts.ShareDecimals = fpmath.DefaultShareDecimals
	}

	tracker := ledger.NewBalanceTracker()
	holders := NewHolderRegistry()
	adapters := state.NewAdapterRegistry()
	virtual := state.NewVirtualBalanceLedger(adapters)
	fees := state.NewFeeAccrualEngine(auth, cfg, opts.ShareDecimals)
	settlement := NewProposalEngine(opts.Identity, auth, cfg, holders, adapters, virtual, fees, tracker, opts.ShareDecimals)

	idempotency := opts.Idempotency
	if idempotency == nil {
		var err error
		if idempotency, err = NewIdempotencyChecker(100_000, nil, opts.Metrics); err != nil {
			return nil, err
		}
	}

	r := &Router{
		identity:       opts.Identity,
		minter:         opts.Minter,
		decimals:       opts.ShareDecimals,
		auth:           auth,
		cfg:            cfg,
		ledger:         tracker,
		validator:      ledger.NewInvariantValidator(tracker),
		holders:        holders,
		adapters:       adapters,
		virtual:        virtual,
		fees:           fees,
		settlement:     settlement,
		claims:         NewClaimResolver(cfg, holders, settlement, tracker, opts.ShareDecimals),
		pullEstimates:  make(map[common.Hash]*uint256.Int),
		hasher:         NewChainHasher(),
		idempotency:    idempotency,
		reports:        NewSequenceValidator(),
		metrics:        opts.Metrics,
		log:            opts.Logger,
		persistChan:    opts.Persist,
		projectionChan: opts.Projection,
		publishChan:    opts.Publish,
	}
	tracker.Observe(r.recordPosting)
	return r, nil
}

// Identity returns the router's own address
func (r *Router) Identity() common.Address {
	return r.identity
}

// Minter returns the minter holder address
func (r *Router) Minter() common.Address {
	return r.minter
}

// Sequence returns the last assigned event sequence
func (r *Router) Sequence() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// ChainTip returns the hash of the last emitted event
func (r *Router) ChainTip() [32]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasher.GetPrevHash()
}

// Command is an externally submitted operation carrying an idempotency key
type Command interface {
	CommandType() string
	IdempotencyKey() string
	Apply(ctx context.Context, r *Router) error
}

// Wired is implemented by commands that carry the body they were decoded
// from. The body is journaled with the command's first event.
type Wired interface {
	Wire() []byte
}

// Submit applies cmd unless a command with the same type and key was
// already applied. Returns whether it was applied.
func (r *Router) Submit(ctx context.Context, cmd Command) (bool, error) {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	key := cmd.IdempotencyKey()
	if key != "" {
		dup, err := r.idempotency.IsDuplicate(ctx, cmd.CommandType(), key)
		if err != nil {
			return false, err
		}
		if dup {
			r.log.Debug().Str("command", cmd.CommandType()).Str("key", key).Msg("duplicate command skipped")
			return false, nil
		}
	}

	if err := cmd.Apply(withCommand(ctx, cmd), r); err != nil {
		return false, err
	}

	if key != "" {
		r.idempotency.MarkProcessed(cmd.CommandType(), key)
	}
	return true, nil
}

// Replay re-applies a journaled command as of at, the time it first ran.
// Deduplication is bypassed and nothing reaches the sinks; the sequence and
// hash chain advance exactly as they did the first time.
func (r *Router) Replay(ctx context.Context, cmd Command, at time.Time) error {
	r.submitMu.Lock()
	defer r.submitMu.Unlock()

	r.mu.Lock()
	r.replayAt = at
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.replayAt = time.Time{}
		r.mu.Unlock()
	}()

	if err := cmd.Apply(withCommand(ctx, cmd), r); err != nil {
		return err
	}
	if key := cmd.IdempotencyKey(); key != "" {
		r.idempotency.MarkProcessed(cmd.CommandType(), key)
	}
	return nil
}

// run executes op under the router lock and records its outcome
func (r *Router) run(ctx context.Context, op string, fn func() ([]event.Event, error)) error {
	start := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	// One instant per operation
	at := r.replayAt
	if at.IsZero() {
		at = r.cfg.Now()
	}
	r.cfg.Pin(at)
	defer r.cfg.Unpin()

	r.journals = r.journals[:0]
	events, err := fn()
	if err != nil {
		if r.metrics != nil {
			r.metrics.CommandsRejected.WithLabelValues(op, fault.KindOf(err)).Inc()
		}
		r.log.Debug().Err(err).Str("op", op).Msg("operation rejected")
		return err
	}

	r.emit(ctx, events)

	if r.metrics != nil {
		r.metrics.CommandsApplied.WithLabelValues(op).Inc()
		r.metrics.CommandDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		r.metrics.EventSequence.Set(float64(r.sequence))
	}
	return nil
}

// emit seals events into hash-chained envelopes and hands them to the sinks.
// Persistence gets a blocking send, projections and publishing never stall the router.
func (r *Router) emit(ctx context.Context, events []event.Event) {
	tag, _ := ctx.Value(commandCtx{}).(commandTag)
	now := r.cfg.Now()

	for i, evt := range events {
		payload, err := event.Encode(evt)
		if err != nil {
			panic(fmt.Sprintf("FATAL: cannot encode %s: %v", evt.EventType(), err))
		}

		r.sequence++
		envelope := &event.EventEnvelope{
			Sequence:       r.sequence,
			EventID:        uuid.New(),
			CommandType:    tag.commandType,
			IdempotencyKey: tag.key,
			EventType:      evt.EventType(),
			AggregateID:    evt.AggregateID(),
			Timestamp:      now,
			Payload:        payload,
			PrevHash:       r.hasher.GetPrevHash(),
		}
		envelope.StateHash = r.hasher.ComputeHash(envelope.Sequence, payload)

		r.log.Debug().
			Int64("seq", envelope.Sequence).
			Str("type", envelope.EventType.String()).
			Str("aggregate", envelope.AggregateID).
			Msg("event emitted")

		if i == 0 {
			envelope.Command = tag.body
		}

		if !r.replayAt.IsZero() {
			continue
		}

		output := Output{Envelope: envelope}
		if i == len(events)-1 && len(r.journals) > 0 {
			output.Journals = append([]ledger.Journal(nil), r.journals...)
		}
		if r.persistChan != nil {
			r.persistChan <- output
		}
		if r.projectionChan != nil {
			select {
			case r.projectionChan <- output:
			default:
				if r.metrics != nil {
					r.metrics.ProjectionDrops.Inc()
				}
			}
		}
		if r.publishChan != nil {
			select {
			case r.publishChan <- output:
			default:
				if r.metrics != nil {
					r.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

// applyPosting applies a posting whose feasibility was checked under the same lock
func (r *Router) applyPosting(p *ledger.Posting) {
	if err := r.ledger.ApplyPosting(p); err != nil {
		panic(fmt.Sprintf("FATAL: checked posting %s failed: %v", p.EventRef, err))
	}
}

// recordPosting collects every posting applied to the ledger, including
// the ones adapters and receivers apply on the router's behalf
func (r *Router) recordPosting(p *ledger.Posting) {
	r.journals = append(r.journals, p.Journals...)
	if r.metrics != nil {
		for _, j := range p.Journals {
			r.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}
}

// CheckInvariants verifies that every token's supply equals its holdings
func (r *Router) CheckInvariants() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.validator.ValidateSupply()
}

type commandCtx struct{}

type commandTag struct {
	commandType string
	key         string
	body        []byte
}

func withCommand(ctx context.Context, cmd Command) context.Context {
	tag := commandTag{commandType: cmd.CommandType(), key: cmd.IdempotencyKey()}
	if w, ok := cmd.(Wired); ok {
		tag.body = w.Wire()
	}
	return context.WithValue(ctx, commandCtx{}, tag)
}
