package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"vaultrouter/internal/core"
	"vaultrouter/internal/event"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventRow represents a row in event_log.events
type EventRow struct {
	Sequence       int64
	EventID        uuid.UUID
	EventType      string
	AggregateID    string
	CommandType    string
	IdempotencyKey string
	Payload        []byte // JSON-encoded event payload
	Command        []byte // wire form of the command, first event only
	StateHash      []byte
	PrevHash       []byte
	Timestamp      time.Time
}

// JournalRow represents a row in event_log.journal
type JournalRow struct {
	JournalID     uuid.UUID
	PostingID     uuid.UUID
	EventRef      string
	Sequence      int64 // event that closed the operation
	DebitAccount  string
	CreditAccount string
	Token         string
	Amount        decimal.Decimal // numeric(78,0)
	JournalType   string
	Timestamp     int64
}

// NewEventRow flattens an envelope for storage
func NewEventRow(env *event.EventEnvelope) EventRow {
	return EventRow{
		Sequence:       env.Sequence,
		EventID:        env.EventID,
		EventType:      env.EventType.String(),
		AggregateID:    env.AggregateID,
		CommandType:    env.CommandType,
		IdempotencyKey: env.IdempotencyKey,
		Payload:        env.Payload,
		Command:        env.Command,
		StateHash:      env.StateHash[:],
		PrevHash:       env.PrevHash[:],
		Timestamp:      env.Timestamp,
	}
}

// Envelope rebuilds the envelope a stored row was written from
func (e EventRow) Envelope() (*event.EventEnvelope, error) {
	t, ok := event.ParseEventType(e.EventType)
	if !ok {
		return nil, fmt.Errorf("sequence %d: unknown event type %q", e.Sequence, e.EventType)
	}
	if len(e.StateHash) != 32 || len(e.PrevHash) != 32 {
		return nil, fmt.Errorf("sequence %d: malformed hash", e.Sequence)
	}
	env := &event.EventEnvelope{
		Sequence:       e.Sequence,
		EventID:        e.EventID,
		CommandType:    e.CommandType,
		IdempotencyKey: e.IdempotencyKey,
		EventType:      t,
		AggregateID:    e.AggregateID,
		Timestamp:      e.Timestamp,
		Payload:        e.Payload,
		Command:        e.Command,
	}
	copy(env.StateHash[:], e.StateHash)
	copy(env.PrevHash[:], e.PrevHash)
	return env, nil
}

// NewJournalRows flattens the journals an output carries
func NewJournalRows(out core.Output) []JournalRow {
	rows := make([]JournalRow, 0, len(out.Journals))
	for _, j := range out.Journals {
		rows = append(rows, JournalRow{
			JournalID:     j.JournalID,
			PostingID:     j.PostingID,
			EventRef:      j.EventRef,
			Sequence:      out.Envelope.Sequence,
			DebitAccount:  j.DebitAccount.AccountPath(),
			CreditAccount: j.CreditAccount.AccountPath(),
			Token:         j.DebitAccount.Token.Hex(),
			Amount:        decimal.RequireFromString(j.Amount.Dec()),
			JournalType:   j.JournalType.String(),
			Timestamp:     j.Timestamp,
		})
	}
	return rows
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// EventLogWriter writes events and journals to Postgres using multi-row INSERTs
// inside one transaction per batch.
type EventLogWriter struct {
	db *sql.DB
}

func NewEventLogWriter(db *sql.DB) *EventLogWriter {
	return &EventLogWriter{db: db}
}

var eventColumns = []string{
	"sequence", "event_id", "event_type", "aggregate_id", "command_type",
	"idempotency_key", "payload", "command", "state_hash", "prev_hash", "timestamp",
}

var journalColumns = []string{
	"journal_id", "posting_id", "event_ref", "sequence", "debit_account",
	"credit_account", "token", "amount", "journal_type", "timestamp",
}

// WriteBatch writes events and journals atomically
func (w *EventLogWriter) WriteBatch(ctx context.Context, events []EventRow, journals []JournalRow) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := writeEvents(ctx, tx, events); err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	if err := writeJournals(ctx, tx, journals); err != nil {
		return fmt.Errorf("write journals: %w", err)
	}
	return tx.Commit()
}

func writeEvents(ctx context.Context, ex execer, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}
	args := make([]any, 0, len(events)*len(eventColumns))
	for _, e := range events {
		var key, cmd, body *string
		if e.IdempotencyKey != "" {
			key, cmd = &e.IdempotencyKey, &e.CommandType
		}
		if len(e.Command) > 0 {
			s := string(e.Command)
			body = &s
		}
		args = append(args,
			e.Sequence, e.EventID, e.EventType, e.AggregateID, cmd,
			key, string(e.Payload), body, e.StateHash, e.PrevHash, e.Timestamp,
		)
	}
	// Re-delivered batches are idempotent
	query := buildInsert("event_log.events", eventColumns, len(events)) + " ON CONFLICT (sequence) DO NOTHING"
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

func writeJournals(ctx context.Context, ex execer, journals []JournalRow) error {
	if len(journals) == 0 {
		return nil
	}
	args := make([]any, 0, len(journals)*len(journalColumns))
	for _, j := range journals {
		args = append(args,
			j.JournalID, j.PostingID, j.EventRef, j.Sequence, j.DebitAccount,
			j.CreditAccount, j.Token, j.Amount, j.JournalType, j.Timestamp,
		)
	}
	query := buildInsert("event_log.journal", journalColumns, len(journals)) + " ON CONFLICT (journal_id) DO NOTHING"
	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// buildInsert renders a multi-row INSERT with positional placeholders
func buildInsert(table string, columns []string, rows int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range columns {
			if c > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}
