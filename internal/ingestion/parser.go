package ingestion

import (
	"encoding/json"
	"fmt"
	"strings"

	"vaultrouter/internal/config"
	"vaultrouter/internal/core"
	"vaultrouter/internal/fault"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

var (
	ErrUnknownCommand   = fault.New(fault.ErrValidation, "UnknownCommand")
	ErrMalformedCommand = fault.New(fault.ErrValidation, "MalformedCommand")
)

// Command names, also the last token of the vault.cmd.<name> subject
const (
	CmdRequestStake        = "request_stake"
	CmdRequestUnstake      = "request_unstake"
	CmdRequestMint         = "request_mint"
	CmdRequestBurn         = "request_burn"
	CmdCancelRequest       = "cancel_request"
	CmdClaimStakedShares   = "claim_staked_shares"
	CmdClaimUnstakedAssets = "claim_unstaked_assets"
	CmdClaimMintedTokens   = "claim_minted_tokens"
	CmdClaimBurnedAssets   = "claim_burned_assets"
	CmdCreateBatch         = "create_batch"
	CmdCloseBatch          = "close_batch"
	CmdProposeSettlement   = "propose_settlement"
	CmdExecuteSettlement   = "execute_settlement"
	CmdCancelProposal      = "cancel_proposal"
	CmdReportTotalAssets   = "report_total_assets"
	CmdRequestPull         = "request_pull"
	CmdTransferVirtual     = "transfer_virtual"
	CmdDeposit             = "deposit"
	CmdSetPaused           = "set_paused"
	CmdSetCooldown         = "set_cooldown"
	CmdSetManagementFee    = "set_management_fee"
	CmdSetPerformanceFee   = "set_performance_fee"
	CmdSetHurdleRate       = "set_hurdle_rate"
	CmdRescueReceiver      = "rescue_receiver_assets"
	CmdRegisterVault       = "register_vault"
	CmdRegisterMinterAsset = "register_minter_asset"
)

// --- JSON wire format ---
// One flat struct covers every command; each command reads the fields it needs.
// Amounts are decimal strings in base units, ids and addresses are 0x-hex.

type commandJSON struct {
	CommandID string `json:"command_id"`
	Caller    string `json:"caller"`

	Vault     string `json:"vault"`
	Asset     string `json:"asset"`
	Holder    string `json:"holder"`
	Recipient string `json:"recipient"`
	Account   string `json:"account"`
	Source    string `json:"source"`
	Dest      string `json:"dest"`
	To        string `json:"to"`
	Adapter   string `json:"adapter"`
	Treasury  string `json:"treasury"`
	KToken    string `json:"ktoken"`

	Amount      string `json:"amount"`
	Shares      string `json:"shares"`
	TotalAssets string `json:"total_assets"`

	RequestID  string `json:"request_id"`
	BatchID    string `json:"batch_id"`
	ProposalID string `json:"proposal_id"`

	CreateNext    bool   `json:"create_next"`
	ManagementTS  int64  `json:"management_ts"`
	PerformanceTS int64  `json:"performance_ts"`
	Sequence      int64  `json:"sequence"`
	Module        string `json:"module"`
	Paused        bool   `json:"paused"`
	Seconds       int64  `json:"seconds"`
	Bps           uint16 `json:"bps"`
	Hard          bool   `json:"hard"`

	ManagementBps  uint16 `json:"management_bps"`
	PerformanceBps uint16 `json:"performance_bps"`
	HurdleBps      uint16 `json:"hurdle_bps"`
}

// CommandName extracts the command name from a vault.cmd.<name> subject
func CommandName(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 {
		return subject[i+1:]
	}
	return subject
}

// ParseCommand decodes the JSON body of the named command
func ParseCommand(name string, data []byte) (core.Command, error) {
	var j commandJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCommand, name, err)
	}

	f := &fields{}
	h := Header{
		ID:     f.uuid("command_id", j.CommandID),
		Caller: f.address("caller", j.Caller),
		Body:   append([]byte(nil), data...),
	}

	var cmd core.Command
	switch name {
	case CmdRequestStake:
		cmd = &RequestStake{Header: h,
			Vault:     f.address("vault", j.Vault),
			Recipient: f.address("recipient", j.Recipient),
			Amount:    f.amount("amount", j.Amount),
		}
	case CmdRequestUnstake:
		cmd = &RequestUnstake{Header: h,
			Vault:     f.address("vault", j.Vault),
			Recipient: f.address("recipient", j.Recipient),
			Shares:    f.amount("shares", j.Shares),
		}
	case CmdRequestMint:
		cmd = &RequestMint{Header: h,
			Asset:     f.address("asset", j.Asset),
			Recipient: f.address("recipient", j.Recipient),
			Amount:    f.amount("amount", j.Amount),
		}
	case CmdRequestBurn:
		cmd = &RequestBurn{Header: h,
			Asset:     f.address("asset", j.Asset),
			Recipient: f.address("recipient", j.Recipient),
			Amount:    f.amount("amount", j.Amount),
		}
	case CmdCancelRequest:
		cmd = &CancelRequest{Header: h,
			Holder:    f.address("holder", j.Holder),
			RequestID: f.hash("request_id", j.RequestID),
		}
	case CmdClaimStakedShares, CmdClaimUnstakedAssets:
		cmd = &ClaimFromVault{Header: h,
			Name:      name,
			Vault:     f.address("vault", j.Vault),
			RequestID: f.hash("request_id", j.RequestID),
		}
	case CmdClaimMintedTokens, CmdClaimBurnedAssets:
		cmd = &ClaimFromMinter{Header: h,
			Name:      name,
			RequestID: f.hash("request_id", j.RequestID),
		}
	case CmdCreateBatch:
		cmd = &CreateBatch{Header: h,
			Holder: f.address("holder", j.Holder),
			Asset:  f.address("asset", j.Asset),
		}
	case CmdCloseBatch:
		cmd = &CloseBatch{Header: h,
			Holder:     f.address("holder", j.Holder),
			BatchID:    f.hash("batch_id", j.BatchID),
			CreateNext: j.CreateNext,
		}
	case CmdProposeSettlement:
		cmd = &ProposeSettlement{Header: h,
			Asset:         f.address("asset", j.Asset),
			Holder:        f.address("holder", j.Holder),
			BatchID:       f.hash("batch_id", j.BatchID),
			TotalAssets:   f.amount("total_assets", j.TotalAssets),
			ManagementTS:  j.ManagementTS,
			PerformanceTS: j.PerformanceTS,
		}
	case CmdExecuteSettlement:
		cmd = &ExecuteSettlement{Header: h, ProposalID: f.hash("proposal_id", j.ProposalID)}
	case CmdCancelProposal:
		cmd = &CancelProposal{Header: h, ProposalID: f.hash("proposal_id", j.ProposalID)}
	case CmdReportTotalAssets:
		cmd = &ReportTotalAssets{Header: h,
			Holder:      f.address("holder", j.Holder),
			Asset:       f.address("asset", j.Asset),
			Sequence:    j.Sequence,
			TotalAssets: f.amount("total_assets", j.TotalAssets),
		}
	case CmdRequestPull:
		cmd = &RequestPull{Header: h,
			Holder: f.address("holder", j.Holder),
			Asset:  f.address("asset", j.Asset),
			Amount: f.amount("amount", j.Amount),
		}
	case CmdTransferVirtual:
		cmd = &TransferVirtual{Header: h,
			Source: f.address("source", j.Source),
			Dest:   f.address("dest", j.Dest),
			Asset:  f.address("asset", j.Asset),
			Amount: f.amount("amount", j.Amount),
		}
	case CmdDeposit:
		cmd = &Deposit{Header: h,
			Account: f.address("account", j.Account),
			Asset:   f.address("asset", j.Asset),
			Amount:  f.amount("amount", j.Amount),
		}
	case CmdSetPaused:
		cmd = &SetPaused{Header: h, Module: f.module(j.Module), Paused: j.Paused}
	case CmdSetCooldown:
		if j.Seconds < 0 {
			f.fail("seconds", "negative")
		}
		cmd = &SetCooldown{Header: h, Seconds: j.Seconds}
	case CmdSetManagementFee, CmdSetPerformanceFee, CmdSetHurdleRate:
		cmd = &SetFee{Header: h,
			Name:  name,
			Vault: f.address("vault", j.Vault),
			Bps:   j.Bps,
			Hard:  j.Hard,
		}
	case CmdRescueReceiver:
		cmd = &RescueReceiver{Header: h,
			BatchID: f.hash("batch_id", j.BatchID),
			Asset:   f.address("asset", j.Asset),
			To:      f.address("to", j.To),
			Amount:  f.amount("amount", j.Amount),
		}
	case CmdRegisterVault:
		cmd = &RegisterVault{Header: h,
			Vault:    f.address("vault", j.Vault),
			Asset:    f.address("asset", j.Asset),
			Adapter:  f.address("adapter", j.Adapter),
			Treasury: f.address("treasury", j.Treasury),
			Fees: state.FeeConfig{
				ManagementFeeBps:  j.ManagementBps,
				PerformanceFeeBps: j.PerformanceBps,
				HurdleRateBps:     j.HurdleBps,
				HardHurdle:        j.Hard,
			},
		}
	case CmdRegisterMinterAsset:
		cmd = &RegisterMinterAsset{Header: h,
			Asset:   f.address("asset", j.Asset),
			KToken:  f.address("ktoken", j.KToken),
			Adapter: f.address("adapter", j.Adapter),
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	if f.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedCommand, name, f.err)
	}
	return cmd, nil
}

// fields converts wire strings, keeping the first error
type fields struct {
	err error
}

func (f *fields) fail(field, reason string) {
	if f.err == nil {
		f.err = fmt.Errorf("%s: %s", field, reason)
	}
}

func (f *fields) uuid(field, s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		f.fail(field, err.Error())
	}
	return id
}

func (f *fields) address(field, s string) common.Address {
	if !common.IsHexAddress(s) {
		f.fail(field, fmt.Sprintf("invalid address %q", s))
		return common.Address{}
	}
	return common.HexToAddress(s)
}

func (f *fields) hash(field, s string) common.Hash {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != common.HashLength {
		f.fail(field, fmt.Sprintf("invalid 32-byte id %q", s))
		return common.Hash{}
	}
	return common.BytesToHash(b)
}

func (f *fields) amount(field, s string) *uint256.Int {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		f.fail(field, fmt.Sprintf("invalid amount %q", s))
		return nil
	}
	return v
}

func (f *fields) module(s string) config.Module {
	switch m := config.Module(s); m {
	case config.ModuleGlobal, config.ModuleRouter, config.ModuleMinter, config.ModuleVault, config.ModuleSettlement:
		return m
	}
	f.fail("module", fmt.Sprintf("unknown module %q", s))
	return ""
}
