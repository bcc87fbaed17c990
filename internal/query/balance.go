package query

import (
	"vaultrouter/internal/core"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// BalanceResponse is an account's available balance of one token,
// read from the live router
type BalanceResponse struct {
	Account      string `json:"account"`
	Token        string `json:"token"`
	Balance      string `json:"balance"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// VaultResponse describes a vault's live pricing and fee state
type VaultResponse struct {
	Vault       string `json:"vault"`
	Asset       string `json:"asset"`
	ActiveBatch string `json:"active_batch,omitempty"`
	TotalAssets string `json:"total_assets"`
	SharePrice  string `json:"share_price"`
	SharePriceF string `json:"share_price_decimal"`
	Watermark   string `json:"watermark"`
	PendingFees string `json:"pending_fees"`

	ManagementFeeBps  uint16 `json:"management_fee_bps"`
	PerformanceFeeBps uint16 `json:"performance_fee_bps"`
	HurdleRateBps     uint16 `json:"hurdle_rate_bps"`
	HardHurdle        bool   `json:"hard_hurdle"`

	LastManagementCharged     int64 `json:"last_management_charged"`
	LastPerformanceCharged    int64 `json:"last_performance_charged"`
	NextManagementCheckpoint  int64 `json:"next_management_checkpoint"`
	NextPerformanceCheckpoint int64 `json:"next_performance_checkpoint"`

	AsOfSequence int64 `json:"as_of_sequence"`
}

func balanceOf(r *core.Router, account, token common.Address) *BalanceResponse {
	return &BalanceResponse{
		Account:      account.Hex(),
		Token:        token.Hex(),
		Balance:      r.BalanceOf(account, token).Dec(),
		AsOfSequence: r.Sequence(),
	}
}

func vaultOf(r *core.Router, vault, asset common.Address, decimals uint8) (*VaultResponse, error) {
	total, err := r.TotalAssets(vault, asset)
	if err != nil {
		return nil, err
	}
	price, err := r.SharePrice(vault)
	if err != nil {
		return nil, err
	}
	fs, err := r.FeeState(vault)
	if err != nil {
		return nil, err
	}
	pending, err := r.ComputeLastBatchFees(vault)
	if err != nil {
		return nil, err
	}
	nextMgmt, err := r.NextManagementFeeTimestamp(vault)
	if err != nil {
		return nil, err
	}
	nextPerf, err := r.NextPerformanceFeeTimestamp(vault)
	if err != nil {
		return nil, err
	}

	resp := &VaultResponse{
		Vault:                     vault.Hex(),
		Asset:                     asset.Hex(),
		TotalAssets:               total.Dec(),
		SharePrice:                price.Dec(),
		SharePriceF:               decimal.NewFromBigInt(price.ToBig(), -int32(decimals)).String(),
		Watermark:                 fs.Watermark.Dec(),
		PendingFees:               pending.Total.Dec(),
		ManagementFeeBps:          fs.ManagementFeeBps,
		PerformanceFeeBps:         fs.PerformanceFeeBps,
		HurdleRateBps:             fs.HurdleRateBps,
		HardHurdle:                fs.HardHurdle,
		LastManagementCharged:     fs.LastManagementCharged,
		LastPerformanceCharged:    fs.LastPerformanceCharged,
		NextManagementCheckpoint:  nextMgmt,
		NextPerformanceCheckpoint: nextPerf,
		AsOfSequence:              r.Sequence(),
	}
	if id, err := r.GetBatchID(vault, asset); err == nil {
		resp.ActiveBatch = id.Hex()
	}
	return resp, nil
}
