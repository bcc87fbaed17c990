package core

import (
	"fmt"

	"vaultrouter/internal/config"
	"vaultrouter/internal/ledger"
	fpmath "vaultrouter/internal/math"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ClaimResult is what a claim moved: Shares for stake and mint claims
// (shares or kTokens transferred) and unstake/burn claims (burned),
// Assets for unstake and burn claims.
type ClaimResult struct {
	Request *state.Request
	Shares  *uint256.Int
	Assets  *uint256.Int
}

// ClaimResolver pays out settled requests at their batch's settlement price.
// A request is paid at most once: all checks run before the status flips.
type ClaimResolver struct {
	cfg         *config.SystemConfig
	holders     *HolderRegistry
	settlements SettlementEngine
	ledger      *ledger.BalanceTracker
	decimals    uint8
}

func NewClaimResolver(
	cfg *config.SystemConfig,
	holders *HolderRegistry,
	settlements SettlementEngine,
	tracker *ledger.BalanceTracker,
	decimals uint8,
) *ClaimResolver {
	return &ClaimResolver{
		cfg:         cfg,
		holders:     holders,
		settlements: settlements,
		ledger:      tracker,
		decimals:    decimals,
	}
}

// ClaimStakedShares transfers the shares minted for a stake request
func (c *ClaimResolver) ClaimStakedShares(caller, vault common.Address, requestID common.Hash) (*ClaimResult, error) {
	return c.claim(caller, vault, requestID, state.RequestStake)
}

// ClaimUnstakedAssets burns the escrowed shares and pays their assets
func (c *ClaimResolver) ClaimUnstakedAssets(caller, vault common.Address, requestID common.Hash) (*ClaimResult, error) {
	return c.claim(caller, vault, requestID, state.RequestUnstake)
}

// ClaimMintedTokens transfers the kTokens minted for a mint request
func (c *ClaimResolver) ClaimMintedTokens(caller, minter common.Address, requestID common.Hash) (*ClaimResult, error) {
	return c.claim(caller, minter, requestID, state.RequestMint)
}

// ClaimBurnedAssets burns the escrowed kTokens and pays the batch receiver's assets
func (c *ClaimResolver) ClaimBurnedAssets(caller, minter common.Address, requestID common.Hash) (*ClaimResult, error) {
	return c.claim(caller, minter, requestID, state.RequestBurn)
}

func (c *ClaimResolver) claim(caller, holderAddr common.Address, id common.Hash, kind state.RequestKind) (*ClaimResult, error) {
	module := config.ModuleVault
	if kind.IsMinterSide() {
		module = config.ModuleMinter
	}
	if err := c.cfg.RequireNotPaused(config.ModuleRouter); err != nil {
		return nil, err
	}
	if err := c.cfg.RequireNotPaused(module); err != nil {
		return nil, err
	}

	holder, err := c.holders.Get(holderAddr)
	if err != nil {
		return nil, err
	}
	req, err := holder.Requests.CheckClaim(id, caller, kind)
	if err != nil {
		return nil, err
	}
	s, ok := c.settlements.Settlement(req.BatchID)
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", ErrSettlementNotFound, req.BatchID.Hex())
	}

	result := &ClaimResult{Shares: new(uint256.Int), Assets: new(uint256.Int)}
	posting := ledger.NewPosting("claim:"+id.Hex(), c.cfg.Now().Unix())
	var receiver *state.BatchReceiver

	switch kind {
	case state.RequestStake:
		if result.Shares, err = fpmath.ConvertToShares(req.Amount, s.SharePrice, c.decimals); err != nil {
			return nil, err
		}
		posting.Move(
			ledger.NewAccountKey(req.Recipient, s.ShareToken),
			ledger.NewAccountKey(holder.Address, s.ShareToken),
			result.Shares,
			ledger.JournalTypeClaimPayout,
		)

	case state.RequestUnstake:
		if result.Assets, err = fpmath.ConvertToAssets(req.Amount, s.SharePrice, c.decimals); err != nil {
			return nil, err
		}
		result.Shares = req.Amount.Clone()
		posting.
			Burn(ledger.NewEscrowKey(holder.Address, s.ShareToken, true), result.Shares).
			Move(
				ledger.NewAccountKey(req.Recipient, req.Asset),
				ledger.NewEscrowKey(holder.Address, req.Asset, true),
				result.Assets,
				ledger.JournalTypeClaimPayout,
			)

	case state.RequestMint:
		result.Shares = req.Amount.Clone()
		posting.Move(
			ledger.NewAccountKey(req.Recipient, s.ShareToken),
			ledger.NewAccountKey(holder.Address, s.ShareToken),
			result.Shares,
			ledger.JournalTypeClaimPayout,
		)

	case state.RequestBurn:
		if receiver, ok = holder.Receiver(req.BatchID); !ok {
			return nil, fmt.Errorf("%w: no receiver for batch %s", ErrSettlementNotFound, req.BatchID.Hex())
		}
		result.Shares = req.Amount.Clone()
		result.Assets = req.Amount.Clone()
		if receiver.Balance(req.Asset).Lt(result.Assets) {
			return nil, fmt.Errorf("%w: receiver %s holds %s, owes %s",
				ledger.ErrInsufficientBalance, receiver.Address().Hex(), receiver.Balance(req.Asset).Dec(), result.Assets.Dec())
		}
		posting.Burn(ledger.NewEscrowKey(holder.Address, s.ShareToken, true), result.Shares)
	}

	if !posting.Empty() {
		if err := c.ledger.CheckPosting(posting.Build()); err != nil {
			return nil, err
		}
	}

	claimed, err := holder.Requests.Claim(id, caller, kind)
	if err != nil {
		return nil, err
	}
	result.Request = claimed

	if !posting.Empty() {
		must(c.ledger.ApplyPosting(posting.Build()))
	}
	if receiver != nil {
		must(receiver.PullAssets(holder.Address, req.Recipient, result.Assets))
	}

	return result, nil
}
