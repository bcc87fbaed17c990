package event

type RequestSubmitted struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Holder    string `json:"holder"`
	User      string `json:"user"`
	Recipient string `json:"recipient"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	BatchID   string `json:"batch_id"`
}

func (e *RequestSubmitted) EventType() EventType { return EventTypeRequestSubmitted }
func (e *RequestSubmitted) AggregateID() string  { return e.RequestID }

type RequestCancelled struct {
	RequestID string `json:"request_id"`
	User      string `json:"user"`
	Amount    string `json:"amount"`
}

func (e *RequestCancelled) EventType() EventType { return EventTypeRequestCancelled }
func (e *RequestCancelled) AggregateID() string  { return e.RequestID }

// RequestClaimed records the payout of a settled request: Shares moved for
// stake and mint claims, Assets paid for unstake and burn claims.
type RequestClaimed struct {
	RequestID string `json:"request_id"`
	Kind      string `json:"kind"`
	Recipient string `json:"recipient"`
	Shares    string `json:"shares"`
	Assets    string `json:"assets"`
}

func (e *RequestClaimed) EventType() EventType { return EventTypeRequestClaimed }
func (e *RequestClaimed) AggregateID() string  { return e.RequestID }

// VirtualTransfer records a relayer-driven change of virtual balances:
// Op "transfer" moves between holders, Op "pull" only books a pull request.
type VirtualTransfer struct {
	Op      string `json:"op"`
	Source  string `json:"source"`
	Dest    string `json:"dest,omitempty"`
	Asset   string `json:"asset"`
	BatchID string `json:"batch_id"`
	Amount  string `json:"amount"`
}

func (e *VirtualTransfer) EventType() EventType { return EventTypeVirtualTransfer }
func (e *VirtualTransfer) AggregateID() string  { return e.BatchID }

// AssetsDeposited records tokens arriving on the ledger from outside
type AssetsDeposited struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

func (e *AssetsDeposited) EventType() EventType { return EventTypeAssetsDeposited }
func (e *AssetsDeposited) AggregateID() string  { return e.Account }
