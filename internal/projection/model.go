package projection

import (
	"fmt"
	"time"

	"vaultrouter/internal/event"

	"github.com/shopspring/decimal"
)

// RequestRow is one request as the query API serves it
type RequestRow struct {
	RequestID string
	Kind      string
	Holder    string
	User      string
	Recipient string
	Asset     string
	Amount    decimal.Decimal
	BatchID   string
	Status    string
	Shares    decimal.NullDecimal // set once claimed
	Assets    decimal.NullDecimal
	Sequence  int64
	UpdatedAt time.Time
}

// StatusChange moves an existing request to a terminal status
type StatusChange struct {
	RequestID string
	Status    string
	Shares    decimal.NullDecimal
	Assets    decimal.NullDecimal
}

// SettlementRow is one executed settlement
type SettlementRow struct {
	ProposalID  string
	Holder      string
	Asset       string
	BatchID     string
	TotalAssets decimal.Decimal
	SharePrice  decimal.Decimal
	Minted      decimal.Decimal
	Reserved    decimal.Decimal
	Fees        decimal.Decimal
	Sequence    int64
	SettledAt   time.Time
}

// Update is what one envelope changes in the projections. Envelopes the
// projections don't track produce an empty update that only moves the cursor.
type Update struct {
	Sequence   int64
	At         time.Time
	NewRequest *RequestRow
	Status     *StatusChange
	Settlement *SettlementRow
}

// Empty reports whether the update only advances the cursor
func (u Update) Empty() bool {
	return u.NewRequest == nil && u.Status == nil && u.Settlement == nil
}

// Project derives the projection update of an envelope
func Project(env *event.EventEnvelope) (Update, error) {
	u := Update{Sequence: env.Sequence, At: env.Timestamp}

	switch env.EventType {
	case event.EventTypeRequestSubmitted, event.EventTypeRequestCancelled,
		event.EventTypeRequestClaimed, event.EventTypeSettlementExecuted:
	default:
		return u, nil
	}

	evt, err := event.Decode(env.EventType, env.Payload)
	if err != nil {
		return u, fmt.Errorf("sequence %d: %w", env.Sequence, err)
	}

	var d amounts
	switch e := evt.(type) {
	case *event.RequestSubmitted:
		u.NewRequest = &RequestRow{
			RequestID: e.RequestID,
			Kind:      e.Kind,
			Holder:    e.Holder,
			User:      e.User,
			Recipient: e.Recipient,
			Asset:     e.Asset,
			Amount:    d.parse("amount", e.Amount),
			BatchID:   e.BatchID,
			Status:    "pending",
			Sequence:  env.Sequence,
			UpdatedAt: env.Timestamp,
		}
	case *event.RequestCancelled:
		u.Status = &StatusChange{RequestID: e.RequestID, Status: "cancelled"}
	case *event.RequestClaimed:
		u.Status = &StatusChange{
			RequestID: e.RequestID,
			Status:    "claimed",
			Shares:    decimal.NewNullDecimal(d.parse("shares", e.Shares)),
			Assets:    decimal.NewNullDecimal(d.parse("assets", e.Assets)),
		}
	case *event.SettlementExecuted:
		u.Settlement = &SettlementRow{
			ProposalID:  e.ProposalID,
			Holder:      e.Vault,
			Asset:       e.Asset,
			BatchID:     e.BatchID,
			TotalAssets: d.parse("total_assets", e.TotalAssets),
			SharePrice:  d.parse("share_price", e.SharePrice),
			Minted:      d.parse("minted", e.Minted),
			Reserved:    d.parse("reserved", e.Reserved),
			Fees:        d.parse("fees_charged", e.FeesCharged),
			Sequence:    env.Sequence,
			SettledAt:   env.Timestamp,
		}
	}
	if d.err != nil {
		return u, fmt.Errorf("sequence %d: %w", env.Sequence, d.err)
	}
	return u, nil
}

// amounts parses decimal strings, keeping the first error
type amounts struct {
	err error
}

func (a *amounts) parse(field, s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil && a.err == nil {
		a.err = fmt.Errorf("%s: %w", field, err)
	}
	return v
}
