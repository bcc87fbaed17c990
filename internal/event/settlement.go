package event

type TotalAssetsReported struct {
	Holder      string `json:"holder"`
	Asset       string `json:"asset"`
	TotalAssets string `json:"total_assets"`
	Sequence    int64  `json:"report_sequence"`
}

func (e *TotalAssetsReported) EventType() EventType { return EventTypeTotalAssetsReported }
func (e *TotalAssetsReported) AggregateID() string  { return e.Holder }

// SettlementProposed carries the full proposal snapshot
type SettlementProposed struct {
	ProposalID    string `json:"proposal_id"`
	Asset         string `json:"asset"`
	Vault         string `json:"vault"`
	BatchID       string `json:"batch_id"`
	TotalAssets   string `json:"total_assets"`
	Netted        string `json:"netted"` // signed
	Yield         string `json:"yield"`  // signed
	Deposited     string `json:"deposited"`
	Requested     string `json:"requested"`
	ManagementFee string `json:"management_fee"`
	PerfFee       string `json:"performance_fee"`
	ExecuteAfter  int64  `json:"execute_after"`
	ManagementTS  int64  `json:"management_checkpoint"`
	PerformanceTS int64  `json:"performance_checkpoint"`
}

func (e *SettlementProposed) EventType() EventType { return EventTypeSettlementProposed }
func (e *SettlementProposed) AggregateID() string  { return e.ProposalID }

type SettlementExecuted struct {
	ProposalID  string `json:"proposal_id"`
	Vault       string `json:"vault"`
	Asset       string `json:"asset"`
	BatchID     string `json:"batch_id"`
	SharePrice  string `json:"share_price"`
	Minted      string `json:"minted"`
	Reserved    string `json:"reserved"`
	FeesCharged string `json:"fees_charged"`
	TotalAssets string `json:"total_assets"` // adapter total after settlement
}

func (e *SettlementExecuted) EventType() EventType { return EventTypeSettlementExecuted }
func (e *SettlementExecuted) AggregateID() string  { return e.ProposalID }

type SettlementCancelled struct {
	ProposalID string `json:"proposal_id"`
	Vault      string `json:"vault"`
	BatchID    string `json:"batch_id"`
}

func (e *SettlementCancelled) EventType() EventType { return EventTypeSettlementCancelled }
func (e *SettlementCancelled) AggregateID() string  { return e.ProposalID }

type FeesCharged struct {
	Vault         string `json:"vault"`
	BatchID       string `json:"batch_id"`
	Treasury      string `json:"treasury"`
	ManagementFee string `json:"management_fee"`
	PerfFee       string `json:"performance_fee"`
	ManagementTS  int64  `json:"management_checkpoint"`
	PerformanceTS int64  `json:"performance_checkpoint"`
}

func (e *FeesCharged) EventType() EventType { return EventTypeFeesCharged }
func (e *FeesCharged) AggregateID() string  { return e.Vault }

type WatermarkAdvanced struct {
	Vault     string `json:"vault"`
	Watermark string `json:"watermark"`
}

func (e *WatermarkAdvanced) EventType() EventType { return EventTypeWatermarkAdvanced }
func (e *WatermarkAdvanced) AggregateID() string  { return e.Vault }

type PauseChanged struct {
	Module string `json:"module"`
	Paused bool   `json:"paused"`
}

func (e *PauseChanged) EventType() EventType { return EventTypePauseChanged }
func (e *PauseChanged) AggregateID() string  { return e.Module }

type CooldownChanged struct {
	Seconds int64 `json:"seconds"`
}

func (e *CooldownChanged) EventType() EventType { return EventTypeCooldownChanged }
func (e *CooldownChanged) AggregateID() string  { return "cooldown" }

type FeeConfigChanged struct {
	Vault             string `json:"vault"`
	ManagementFeeBps  uint16 `json:"management_fee_bps"`
	PerformanceFeeBps uint16 `json:"performance_fee_bps"`
	HurdleRateBps     uint16 `json:"hurdle_rate_bps"`
	HardHurdle        bool   `json:"hard_hurdle"`
}

func (e *FeeConfigChanged) EventType() EventType { return EventTypeFeeConfigChanged }
func (e *FeeConfigChanged) AggregateID() string  { return e.Vault }
