package query

import "time"

// RequestResponse is one request as served by the query API
type RequestResponse struct {
	RequestID    string    `json:"request_id"`
	Kind         string    `json:"kind"`
	Holder       string    `json:"holder"`
	User         string    `json:"user"`
	Recipient    string    `json:"recipient"`
	Asset        string    `json:"asset"`
	Amount       string    `json:"amount"`
	BatchID      string    `json:"batch_id"`
	Status       string    `json:"status"`
	Shares       *string   `json:"shares,omitempty"` // set once claimed
	Assets       *string   `json:"assets,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// SettlementResponse is one executed settlement
type SettlementResponse struct {
	ProposalID   string    `json:"proposal_id"`
	Holder       string    `json:"holder"`
	Asset        string    `json:"asset"`
	BatchID      string    `json:"batch_id"`
	TotalAssets  string    `json:"total_assets"`
	SharePrice   string    `json:"share_price"`
	Minted       string    `json:"minted"`
	Reserved     string    `json:"reserved"`
	Fees         string    `json:"fees"`
	Sequence     int64     `json:"sequence"`
	SettledAt    time.Time `json:"settled_at"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// JournalHistoryEntry is one journal line touching an account
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	PostingID     string `json:"posting_id"`
	EventRef      string `json:"event_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Token         string `json:"token"`
	Amount        string `json:"amount"`
	JournalType   string `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check
type IntegrityReport struct {
	IsHealthy        bool    `json:"is_healthy"`
	EventsChecked    int     `json:"events_checked"`
	LastSequence     int64   `json:"last_sequence"`
	MissingSequences []int64 `json:"missing_sequences,omitempty"`
	HashChainBreaks  []int64 `json:"hash_chain_breaks,omitempty"`
	SupplyViolation  string  `json:"supply_violation,omitempty"`
	LiveTipMismatch  bool    `json:"live_tip_mismatch,omitempty"`
}
