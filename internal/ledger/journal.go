package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// JournalType represents the purpose of a journal entry
type JournalType int32

const (
	JournalTypeDeposit JournalType = iota
	JournalTypeEscrow
	JournalTypeEscrowRelease
	JournalTypeRefund
	JournalTypeMint
	JournalTypeBurn
	JournalTypeReserve
	JournalTypeClaimPayout
	JournalTypeFeePayout
	JournalTypeRescue
	JournalTypeTransfer
)

func (t JournalType) String() string {
	switch t {
	case JournalTypeDeposit:
		return "deposit"
	case JournalTypeEscrow:
		return "escrow"
	case JournalTypeEscrowRelease:
		return "escrow_release"
	case JournalTypeRefund:
		return "refund"
	case JournalTypeMint:
		return "mint"
	case JournalTypeBurn:
		return "burn"
	case JournalTypeReserve:
		return "reserve"
	case JournalTypeClaimPayout:
		return "claim_payout"
	case JournalTypeFeePayout:
		return "fee_payout"
	case JournalTypeRescue:
		return "rescue"
	case JournalTypeTransfer:
		return "transfer"
	default:
		return "unknown"
	}
}

// Journal represents a single double-entry journal entry.
// Amount moves from CreditAccount to DebitAccount.
type Journal struct {
	JournalID     uuid.UUID
	PostingID     uuid.UUID // Groups entries applied atomically
	EventRef      string    // Id of the protocol object that caused the move
	DebitAccount  AccountKey
	CreditAccount AccountKey
	Amount        *uint256.Int // ALWAYS positive
	JournalType   JournalType
	Timestamp     int64 // Unix seconds from the injected clock
}

// Posting represents a set of journal entries applied all-or-nothing
type Posting struct {
	PostingID uuid.UUID
	EventRef  string
	Timestamp int64
	Journals  []Journal
}

// Validate ensures the posting is well-formed.
// Each entry is balanced by construction (one amount, two accounts), so the
// checks here are about shape: positive amounts, matching tokens, no self-moves.
func (p *Posting) Validate() error {
	if len(p.Journals) == 0 {
		return fmt.Errorf("posting %s is empty", p.PostingID)
	}

	for _, j := range p.Journals {
		if j.Amount == nil || j.Amount.IsZero() {
			return fmt.Errorf("journal %s has non-positive amount", j.JournalID)
		}

		if j.PostingID != p.PostingID {
			return fmt.Errorf("journal %s has mismatched posting_id", j.JournalID)
		}

		if j.DebitAccount == j.CreditAccount {
			return fmt.Errorf("journal %s has same debit and credit account", j.JournalID)
		}

		if j.DebitAccount.Token != j.CreditAccount.Token {
			return fmt.Errorf("journal %s moves between different tokens", j.JournalID)
		}

		if j.DebitAccount.IsIssuance() && j.CreditAccount.IsIssuance() {
			return fmt.Errorf("journal %s moves between issuance accounts", j.JournalID)
		}
	}

	return nil
}
