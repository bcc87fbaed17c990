package ledger

import (
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// PostingBuilder assembles the journal entries of one atomic ledger move.
// Zero-amount legs are dropped so callers can add conditional legs unguarded.
type PostingBuilder struct {
	posting *Posting
}

// NewPosting starts a posting referencing the protocol object that caused it
func NewPosting(eventRef string, timestamp int64) *PostingBuilder {
	return &PostingBuilder{
		posting: &Posting{
			PostingID: uuid.New(),
			EventRef:  eventRef,
			Timestamp: timestamp,
			Journals:  make([]Journal, 0, 2),
		},
	}
}

// Move adds a journal moving amount from credit to debit
func (b *PostingBuilder) Move(debit, credit AccountKey, amount *uint256.Int, journalType JournalType) *PostingBuilder {
	if amount == nil || amount.IsZero() {
		return b
	}

	b.posting.Journals = append(b.posting.Journals, Journal{
		JournalID:     uuid.New(),
		PostingID:     b.posting.PostingID,
		EventRef:      b.posting.EventRef,
		DebitAccount:  debit,
		CreditAccount: credit,
		Amount:        amount.Clone(),
		JournalType:   journalType,
		Timestamp:     b.posting.Timestamp,
	})
	return b
}

// Mint creates new supply of to.Token into to.
// Moves funds: issuance → to
func (b *PostingBuilder) Mint(to AccountKey, amount *uint256.Int) *PostingBuilder {
	return b.Move(to, NewIssuanceKey(to.Token), amount, JournalTypeMint)
}

// Burn destroys supply held in from.
// Moves funds: from → issuance
func (b *PostingBuilder) Burn(from AccountKey, amount *uint256.Int) *PostingBuilder {
	return b.Move(NewIssuanceKey(from.Token), from, amount, JournalTypeBurn)
}

// Empty reports whether every leg was dropped
func (b *PostingBuilder) Empty() bool {
	return len(b.posting.Journals) == 0
}

// Build returns the assembled posting
func (b *PostingBuilder) Build() *Posting {
	return b.posting
}
