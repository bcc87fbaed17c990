package event

// Amounts are carried as base-10 strings so payloads stay exact in JSON.

type VaultRegistered struct {
	Holder            string `json:"holder"`
	Asset             string `json:"asset"`
	ShareToken        string `json:"share_token"`
	Adapter           string `json:"adapter"`
	Minter            bool   `json:"minter"`
	ManagementFeeBps  uint16 `json:"management_fee_bps"`
	PerformanceFeeBps uint16 `json:"performance_fee_bps"`
	HurdleRateBps     uint16 `json:"hurdle_rate_bps"`
	HardHurdle        bool   `json:"hard_hurdle"`
}

func (e *VaultRegistered) EventType() EventType { return EventTypeVaultRegistered }
func (e *VaultRegistered) AggregateID() string  { return e.Holder }

type BatchCreated struct {
	BatchID string `json:"batch_id"`
	Holder  string `json:"holder"`
	Asset   string `json:"asset"`
	Number  uint64 `json:"number"`
}

func (e *BatchCreated) EventType() EventType { return EventTypeBatchCreated }
func (e *BatchCreated) AggregateID() string  { return e.BatchID }

type BatchClosed struct {
	BatchID string `json:"batch_id"`
	Holder  string `json:"holder"`
	Asset   string `json:"asset"`
}

func (e *BatchClosed) EventType() EventType { return EventTypeBatchClosed }
func (e *BatchClosed) AggregateID() string  { return e.BatchID }

type BatchSettled struct {
	BatchID string `json:"batch_id"`
	Holder  string `json:"holder"`
	Asset   string `json:"asset"`
}

func (e *BatchSettled) EventType() EventType { return EventTypeBatchSettled }
func (e *BatchSettled) AggregateID() string  { return e.BatchID }

type ReceiverCreated struct {
	BatchID  string `json:"batch_id"`
	Receiver string `json:"receiver"`
	Asset    string `json:"asset"`
}

func (e *ReceiverCreated) EventType() EventType { return EventTypeReceiverCreated }
func (e *ReceiverCreated) AggregateID() string  { return e.BatchID }

type ReceiverRescued struct {
	BatchID  string `json:"batch_id"`
	Receiver string `json:"receiver"`
	Asset    string `json:"asset"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
}

func (e *ReceiverRescued) EventType() EventType { return EventTypeReceiverRescued }
func (e *ReceiverRescued) AggregateID() string  { return e.BatchID }
