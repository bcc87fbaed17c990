package ingestion

import (
	"context"
	"time"

	"vaultrouter/internal/config"
	"vaultrouter/internal/core"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Header carries the fields every command has. Callers are authenticated
// upstream; the router only checks their capabilities.
type Header struct {
	ID     uuid.UUID
	Caller common.Address
	Body   []byte // wire form, journaled with the first event
}

func (h Header) IdempotencyKey() string {
	return h.ID.String()
}

func (h Header) Wire() []byte {
	return h.Body
}

type RequestStake struct {
	Header
	Vault     common.Address
	Recipient common.Address
	Amount    *uint256.Int
}

func (c *RequestStake) CommandType() string { return CmdRequestStake }

func (c *RequestStake) Apply(ctx context.Context, r *core.Router) error {
	_, err := r.RequestStake(ctx, c.Caller, c.Vault, c.Recipient, c.Amount)
	return err
}

type RequestUnstake struct {
	Header
	Vault     common.Address
	Recipient common.Address
	Shares    *uint256.Int
}

func (c *RequestUnstake) CommandType() string { return CmdRequestUnstake }

func (c *RequestUnstake) Apply(ctx context.Context, r *core.Router) error {
	_, err := r.RequestUnstake(ctx, c.Caller, c.Vault, c.Recipient, c.Shares)
	return err
}

type RequestMint struct {
	Header
	Asset     common.Address
	Recipient common.Address
	Amount    *uint256.Int
}

func (c *RequestMint) CommandType() string { return CmdRequestMint }

func (c *RequestMint) Apply(ctx context.Context, r *core.Router) error {
	_, err := r.RequestMint(ctx, c.Caller, c.Asset, c.Recipient, c.Amount)
	return err
}

type RequestBurn struct {
	Header
	Asset     common.Address
	Recipient common.Address
	Amount    *uint256.Int
}

func (c *RequestBurn) CommandType() string { return CmdRequestBurn }

func (c *RequestBurn) Apply(ctx context.Context, r *core.Router) error {
	_, err := r.RequestBurn(ctx, c.Caller, c.Asset, c.Recipient, c.Amount)
	return err
}

type CancelRequest struct {
	Header
	Holder    common.Address
	RequestID common.Hash
}

func (c *CancelRequest) CommandType() string { return CmdCancelRequest }

func (c *CancelRequest) Apply(ctx context.Context, r *core.Router) error {
	return r.CancelRequest(ctx, c.Caller, c.Holder, c.RequestID)
}

// ClaimFromVault claims staked shares or unstaked assets, depending on Name
type ClaimFromVault struct {
	Header
	Name      string
	Vault     common.Address
	RequestID common.Hash
}

func (c *ClaimFromVault) CommandType() string { return c.Name }

func (c *ClaimFromVault) Apply(ctx context.Context, r *core.Router) error {
	var err error
	if c.Name == CmdClaimUnstakedAssets {
		_, err = r.ClaimUnstakedAssets(ctx, c.Caller, c.Vault, c.RequestID)
	} else {
		_, err = r.ClaimStakedShares(ctx, c.Caller, c.Vault, c.RequestID)
	}
	return err
}

// ClaimFromMinter claims minted kTokens or burned assets, depending on Name
type ClaimFromMinter struct {
	Header
	Name      string
	RequestID common.Hash
}

func (c *ClaimFromMinter) CommandType() string { return c.Name }

func (c *ClaimFromMinter) Apply(ctx context.Context, r *core.Router) error {
	var err error
	if c.Name == CmdClaimBurnedAssets {
		_, err = r.ClaimBurnedAssets(ctx, c.Caller, c.RequestID)
	} else {
		_, err = r.ClaimMintedTokens(ctx, c.Caller, c.RequestID)
	}
	return err
}

type CreateBatch struct {
	Header
	Holder common.Address
	Asset  common.Address
}

func (c *CreateBatch) CommandType() string { return CmdCreateBatch }

func (c *CreateBatch) Apply(ctx context.Context, r *core.Router) error {
	_, err := r.CreateNewBatch(ctx, c.Caller, c.Holder, c.Asset)
	return err
}

type CloseBatch struct {
	Header
	Holder     common.Address
	BatchID    common.Hash
	CreateNext bool
}

func (c *CloseBatch) CommandType() string { return CmdCloseBatch }

func (c *CloseBatch) Apply(ctx context.Context, r *core.Router) error {
	return r.CloseBatch(ctx, c.Caller, c.Holder, c.BatchID, c.CreateNext)
}

type ProposeSettlement struct {
	Header
	Asset         common.Address
	Holder        common.Address
	BatchID       common.Hash
	TotalAssets   *uint256.Int
	ManagementTS  int64
	PerformanceTS int64
}

func (c *ProposeSettlement) CommandType() string { return CmdProposeSettlement }

func (c *ProposeSettlement) Apply(ctx context.Context, r *core.Router) error {
	_, err := r.ProposeSettlement(ctx, c.Caller, c.Asset, c.Holder, c.BatchID, c.TotalAssets, c.ManagementTS, c.PerformanceTS)
	return err
}

type ExecuteSettlement struct {
	Header
	ProposalID common.Hash
}

func (c *ExecuteSettlement) CommandType() string { return CmdExecuteSettlement }

func (c *ExecuteSettlement) Apply(ctx context.Context, r *core.Router) error {
	_, err := r.ExecuteSettlement(ctx, c.Caller, c.ProposalID)
	return err
}

type CancelProposal struct {
	Header
	ProposalID common.Hash
}

func (c *CancelProposal) CommandType() string { return CmdCancelProposal }

func (c *CancelProposal) Apply(ctx context.Context, r *core.Router) error {
	return r.CancelProposal(ctx, c.Caller, c.ProposalID)
}

type ReportTotalAssets struct {
	Header
	Holder      common.Address
	Asset       common.Address
	Sequence    int64
	TotalAssets *uint256.Int
}

func (c *ReportTotalAssets) CommandType() string { return CmdReportTotalAssets }

func (c *ReportTotalAssets) Apply(ctx context.Context, r *core.Router) error {
	_, err := r.ReportTotalAssets(ctx, c.Caller, c.Holder, c.Asset, c.Sequence, c.TotalAssets)
	return err
}

type RequestPull struct {
	Header
	Holder common.Address
	Asset  common.Address
	Amount *uint256.Int
}

func (c *RequestPull) CommandType() string { return CmdRequestPull }

func (c *RequestPull) Apply(ctx context.Context, r *core.Router) error {
	return r.RequestPull(ctx, c.Caller, c.Holder, c.Asset, c.Amount)
}

type TransferVirtual struct {
	Header
	Source common.Address
	Dest   common.Address
	Asset  common.Address
	Amount *uint256.Int
}

func (c *TransferVirtual) CommandType() string { return CmdTransferVirtual }

func (c *TransferVirtual) Apply(ctx context.Context, r *core.Router) error {
	return r.TransferVirtual(ctx, c.Caller, c.Source, c.Dest, c.Asset, c.Amount)
}

// Deposit credits tokens that reached the custody address on chain
type Deposit struct {
	Header
	Account common.Address
	Asset   common.Address
	Amount  *uint256.Int
}

func (c *Deposit) CommandType() string { return CmdDeposit }

func (c *Deposit) Apply(ctx context.Context, r *core.Router) error {
	return r.Deposit(ctx, c.Caller, c.Account, c.Asset, c.Amount)
}

type SetPaused struct {
	Header
	Module config.Module
	Paused bool
}

func (c *SetPaused) CommandType() string { return CmdSetPaused }

func (c *SetPaused) Apply(ctx context.Context, r *core.Router) error {
	return r.SetPaused(ctx, c.Caller, c.Module, c.Paused)
}

type SetCooldown struct {
	Header
	Seconds int64
}

func (c *SetCooldown) CommandType() string { return CmdSetCooldown }

func (c *SetCooldown) Apply(ctx context.Context, r *core.Router) error {
	return r.SetSettlementCooldown(ctx, c.Caller, time.Duration(c.Seconds)*time.Second)
}

// SetFee changes one fee parameter of a vault, selected by Name
type SetFee struct {
	Header
	Name  string
	Vault common.Address
	Bps   uint16
	Hard  bool
}

func (c *SetFee) CommandType() string { return c.Name }

func (c *SetFee) Apply(ctx context.Context, r *core.Router) error {
	switch c.Name {
	case CmdSetManagementFee:
		return r.SetManagementFee(ctx, c.Caller, c.Vault, c.Bps)
	case CmdSetPerformanceFee:
		return r.SetPerformanceFee(ctx, c.Caller, c.Vault, c.Bps)
	default:
		return r.SetHurdleRate(ctx, c.Caller, c.Vault, c.Bps, c.Hard)
	}
}

// RegisterVault adds a vault backed by a ledger adapter
type RegisterVault struct {
	Header
	Vault    common.Address
	Asset    common.Address
	Adapter  common.Address
	Treasury common.Address
	Fees     state.FeeConfig
}

func (c *RegisterVault) CommandType() string { return CmdRegisterVault }

func (c *RegisterVault) Apply(ctx context.Context, r *core.Router) error {
	return r.RegisterVault(ctx, c.Caller, core.VaultParams{
		Vault:    c.Vault,
		Asset:    c.Asset,
		Adapter:  r.NewMemoryAdapter(c.Adapter),
		Treasury: c.Treasury,
		Fees:     c.Fees,
	})
}

type RegisterMinterAsset struct {
	Header
	Asset   common.Address
	KToken  common.Address
	Adapter common.Address
}

func (c *RegisterMinterAsset) CommandType() string { return CmdRegisterMinterAsset }

func (c *RegisterMinterAsset) Apply(ctx context.Context, r *core.Router) error {
	return r.RegisterMinterAsset(ctx, c.Caller, c.Asset, c.KToken, r.NewMemoryAdapter(c.Adapter))
}

type RescueReceiver struct {
	Header
	BatchID common.Hash
	Asset   common.Address
	To      common.Address
	Amount  *uint256.Int
}

func (c *RescueReceiver) CommandType() string { return CmdRescueReceiver }

func (c *RescueReceiver) Apply(ctx context.Context, r *core.Router) error {
	return r.RescueReceiverAssets(ctx, c.Caller, c.BatchID, c.Asset, c.To, c.Amount)
}
