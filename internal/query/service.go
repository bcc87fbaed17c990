package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"vaultrouter/internal/core"
	"vaultrouter/internal/projection"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNoEventLog    = errors.New("event log not configured")
	ErrInvalidCursor = errors.New("invalid cursor")
)

const (
	DefaultLimit = 50
	MaxLimit     = 500
	pageSize     = 1000
	maxReported  = 10
)

// QueryService provides read-only access to the projections, the event log
// and the live router. Projection responses carry as_of_sequence, the last
// envelope the projections applied.
type QueryService struct {
	reader   projection.Reader
	cursor   projection.Store
	router   *core.Router
	events   projection.EventSource
	db       *sql.DB // event_log.journal, nil without postgres
	decimals uint8
}

// Options wires a QueryService. Events and DB may be nil.
type Options struct {
	Projections   projection.Reader
	Cursor        projection.Store
	Router        *core.Router
	Events        projection.EventSource
	DB            *sql.DB
	ShareDecimals uint8
}

func NewQueryService(opts Options) *QueryService {
	return &QueryService{
		reader:   opts.Projections,
		cursor:   opts.Cursor,
		router:   opts.Router,
		events:   opts.Events,
		db:       opts.DB,
		decimals: opts.ShareDecimals,
	}
}

// GetRequest returns a request by its id
func (qs *QueryService) GetRequest(ctx context.Context, id common.Hash) (*RequestResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	row, err := qs.reader.Request(ctx, id.Hex())
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, id.Hex())
	}
	resp := toRequestResponse(*row, asOf)
	return &resp, nil
}

// GetUserRequests returns a user's requests, newest first
func (qs *QueryService) GetUserRequests(ctx context.Context, user common.Address, limit int) ([]RequestResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qs.reader.UserRequests(ctx, user.Hex(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	result := make([]RequestResponse, 0, len(rows))
	for _, row := range rows {
		result = append(result, toRequestResponse(row, asOf))
	}
	return result, nil
}

// GetSettlements returns a holder's executed settlements, newest first
func (qs *QueryService) GetSettlements(ctx context.Context, holder common.Address, limit int) ([]SettlementResponse, error) {
	asOf, err := qs.asOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := qs.reader.Settlements(ctx, holder.Hex(), clampLimit(limit))
	if err != nil {
		return nil, err
	}
	result := make([]SettlementResponse, 0, len(rows))
	for _, st := range rows {
		result = append(result, SettlementResponse{
			ProposalID:   st.ProposalID,
			Holder:       st.Holder,
			Asset:        st.Asset,
			BatchID:      st.BatchID,
			TotalAssets:  st.TotalAssets.String(),
			SharePrice:   st.SharePrice.String(),
			Minted:       st.Minted.String(),
			Reserved:     st.Reserved.String(),
			Fees:         st.Fees.String(),
			Sequence:     st.Sequence,
			SettledAt:    st.SettledAt,
			AsOfSequence: asOf,
		})
	}
	return result, nil
}

// GetBalance returns an account's live available balance of token
func (qs *QueryService) GetBalance(_ context.Context, account, token common.Address) (*BalanceResponse, error) {
	return balanceOf(qs.router, account, token), nil
}

// GetVault returns a vault's live pricing and fee state
func (qs *QueryService) GetVault(_ context.Context, vault, asset common.Address) (*VaultResponse, error) {
	return vaultOf(qs.router, vault, asset, qs.decimals)
}

// GetJournalHistory returns journal lines touching account paths with the
// given prefix, newest first. before, when non-nil, pages below that sequence.
func (qs *QueryService) GetJournalHistory(ctx context.Context, accountPrefix string, limit int, before *int64) ([]JournalHistoryEntry, error) {
	if qs.db == nil {
		return nil, ErrNoEventLog
	}
	if before != nil && *before <= 0 {
		return nil, fmt.Errorf("%w: before=%d", ErrInvalidCursor, *before)
	}

	query := `
		SELECT journal_id, posting_id, event_ref, sequence,
		       debit_account, credit_account, token, amount, journal_type, timestamp
		FROM event_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []any{accountPrefix + "%"}
	argIdx := 2

	if before != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *before)
		argIdx++
	}

	query += " ORDER BY sequence DESC, journal_id"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, clampLimit(limit))

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]JournalHistoryEntry, 0)
	for rows.Next() {
		var (
			e      JournalHistoryEntry
			amount decimal.Decimal
		)
		if err := rows.Scan(
			&e.JournalID, &e.PostingID, &e.EventRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Token, &amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		e.Amount = amount.String()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity replays the persisted hash chain and checks the live
// ledger's supply invariant.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	if qs.events == nil {
		return nil, ErrNoEventLog
	}
	report := &IntegrityReport{}

	var (
		prev     [32]byte
		expected int64 = 1
		first          = true
	)
	for {
		rows, err := qs.events.LoadEventsFrom(ctx, expected, pageSize)
		if err != nil {
			return nil, fmt.Errorf("load events from %d: %w", expected, err)
		}
		for _, row := range rows {
			env, err := row.Envelope()
			if err != nil {
				return nil, err
			}
			if env.Sequence != expected {
				report.MissingSequences = appendCapped(report.MissingSequences, expected)
			}
			if first {
				prev = env.PrevHash
				if env.Sequence == 1 {
					prev = core.GenesisHash()
				}
				first = false
			}
			if env.PrevHash != prev || core.ChainHash(env.PrevHash, env.Sequence, env.Payload) != env.StateHash {
				report.HashChainBreaks = appendCapped(report.HashChainBreaks, env.Sequence)
			}
			prev = env.StateHash
			expected = env.Sequence + 1
			report.EventsChecked++
			report.LastSequence = env.Sequence
		}
		if len(rows) < pageSize {
			break
		}
	}

	if qs.router != nil {
		if err := qs.router.CheckInvariants(); err != nil {
			report.SupplyViolation = err.Error()
		}
		if report.EventsChecked > 0 && qs.router.Sequence() == report.LastSequence {
			report.LiveTipMismatch = qs.router.ChainTip() != prev
		}
	}

	report.IsHealthy = len(report.MissingSequences) == 0 &&
		len(report.HashChainBreaks) == 0 &&
		report.SupplyViolation == "" &&
		!report.LiveTipMismatch
	return report, nil
}

// --- helpers ---

func (qs *QueryService) asOf(ctx context.Context) (int64, error) {
	if qs.cursor == nil {
		return 0, nil
	}
	seq, err := qs.cursor.Cursor(ctx)
	if err != nil {
		return 0, fmt.Errorf("projection cursor: %w", err)
	}
	return seq, nil
}

func toRequestResponse(row projection.RequestRow, asOf int64) RequestResponse {
	resp := RequestResponse{
		RequestID:    row.RequestID,
		Kind:         row.Kind,
		Holder:       row.Holder,
		User:         row.User,
		Recipient:    row.Recipient,
		Asset:        row.Asset,
		Amount:       row.Amount.String(),
		BatchID:      row.BatchID,
		Status:       row.Status,
		UpdatedAt:    row.UpdatedAt,
		AsOfSequence: asOf,
	}
	if row.Shares.Valid {
		s := row.Shares.Decimal.String()
		resp.Shares = &s
	}
	if row.Assets.Valid {
		a := row.Assets.Decimal.String()
		resp.Assets = &a
	}
	return resp
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

func appendCapped(list []int64, seq int64) []int64 {
	if len(list) >= maxReported {
		return list
	}
	return append(list, seq)
}
