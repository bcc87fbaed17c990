package core

import (
	"fmt"
	"math/big"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	"vaultrouter/internal/ledger"
	fpmath "vaultrouter/internal/math"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// SettlementEngine turns relayer-reported adapter totals into settled batches
// after a guardian-cancellable cooldown.
type SettlementEngine interface {
	Propose(caller, asset, holder common.Address, batchID common.Hash, totalAssets *uint256.Int, managementTS, performanceTS int64) (*SettlementProposal, error)
	CanExecute(id common.Hash) (bool, string)
	Execute(id common.Hash) (*Settlement, error)
	Cancel(caller common.Address, id common.Hash) (*SettlementProposal, error)
	Proposal(id common.Hash) (*SettlementProposal, bool)
	Settlement(batchID common.Hash) (*Settlement, bool)
}

// SettlementProposal snapshots everything execution will apply.
// Deposited is in assets, Withdrawn in shares (vault) or kTokens (minter).
type SettlementProposal struct {
	ID      common.Hash
	Nonce   uint64
	Holder  common.Address
	Kind    HolderKind
	Asset   common.Address
	BatchID common.Hash

	TotalAssets     *uint256.Int // reported by the relayer, includes Deposited
	PreviousTotal   *uint256.Int // adapter total when proposed
	Netted          *big.Int     // TotalAssets - PreviousTotal
	Yield           *big.Int     // Netted - Window.Deposited
	Deposited       *uint256.Int
	Withdrawn       *uint256.Int
	Window          state.VirtualBalanceEntry
	EffectiveSupply *uint256.Int

	Fees        state.Fees // accrued as of proposal
	ChargedFees state.Fees // the part whose checkpoint is advanced on execution
	SharePrice  *uint256.Int
	Minted      *uint256.Int // shares or kTokens created for deposit claims
	Reserved    *uint256.Int // assets set aside for withdrawal claims

	ManagementCheckpoint  int64 // 0 leaves the management checkpoint untouched
	PerformanceCheckpoint int64 // 0 leaves the performance checkpoint untouched
	ProposedAt            int64
	ExecuteAfter          int64
}

// Settlement is the per-batch record claims are resolved against
type Settlement struct {
	BatchID    common.Hash
	ProposalID common.Hash
	Holder     common.Address
	Kind       HolderKind
	Asset      common.Address
	ShareToken common.Address

	TotalAssets       *uint256.Int
	SharePrice        *uint256.Int
	Minted            *uint256.Int
	Reserved          *uint256.Int
	Fees              state.Fees
	Window            state.VirtualBalanceEntry
	Receiver          common.Address // minter burn batches only
	WatermarkAdvanced bool
	SettledAt         int64
}

type proposalKey struct {
	Asset   common.Address
	Holder  common.Address
	BatchID common.Hash
}

// ProposalEngine is the in-memory SettlementEngine.
// Not thread-safe, only accessed from the serialised router.
type ProposalEngine struct {
	identity common.Address // router identity, holds settlement-authority
	auth     access.AuthorizationPort
	cfg      *config.SystemConfig
	holders  *HolderRegistry
	adapters *state.AdapterRegistry
	virtual  *state.VirtualBalanceLedger
	fees     *state.FeeAccrualEngine
	ledger   *ledger.BalanceTracker
	decimals uint8

	nonce       uint64
	proposals   map[common.Hash]*SettlementProposal
	byKey       map[proposalKey]common.Hash
	settlements map[common.Hash]*Settlement
}

func NewProposalEngine(
	identity common.Address,
	auth access.AuthorizationPort,
	cfg *config.SystemConfig,
	holders *HolderRegistry,
	adapters *state.AdapterRegistry,
	virtual *state.VirtualBalanceLedger,
	fees *state.FeeAccrualEngine,
	tracker *ledger.BalanceTracker,
	decimals uint8,
) *ProposalEngine {
	return &ProposalEngine{
		identity:    identity,
		auth:        auth,
		cfg:         cfg,
		holders:     holders,
		adapters:    adapters,
		virtual:     virtual,
		fees:        fees,
		ledger:      tracker,
		decimals:    decimals,
		proposals:   make(map[common.Hash]*SettlementProposal),
		byKey:       make(map[proposalKey]common.Hash),
		settlements: make(map[common.Hash]*Settlement),
	}
}

// Propose snapshots a closed batch against the reported total assets and
// schedules it for execution once the cooldown has passed.
func (e *ProposalEngine) Propose(
	caller, asset, holderAddr common.Address,
	batchID common.Hash,
	totalAssets *uint256.Int,
	managementTS, performanceTS int64,
) (*SettlementProposal, error) {
	if err := e.cfg.RequireNotPaused(config.ModuleSettlement); err != nil {
		return nil, err
	}
	if err := e.auth.Require(caller, access.CapRelayer); err != nil {
		return nil, err
	}
	if totalAssets == nil {
		return nil, fmt.Errorf("%w: missing total assets", ErrInvalidTotalAssets)
	}

	key := proposalKey{Asset: asset, Holder: holderAddr, BatchID: batchID}
	if id, ok := e.byKey[key]; ok {
		return nil, fmt.Errorf("%w: %s already proposed as %s", ErrBatchIdProposed, batchID.Hex(), id.Hex())
	}

	holder, err := e.holders.Get(holderAddr)
	if err != nil {
		return nil, err
	}
	batch, ok := holder.Batches.Batch(batchID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown id %s", state.ErrBatchNotValid, batchID.Hex())
	}
	switch batch.Status {
	case state.BatchOpen:
		return nil, fmt.Errorf("%w: %s", state.ErrBatchNotClosed, batchID.Hex())
	case state.BatchSettled:
		return nil, fmt.Errorf("%w: %s", state.ErrBatchSettled, batchID.Hex())
	}
	if batch.Asset != asset {
		return nil, fmt.Errorf("%w: batch %s settles %s", ErrAssetMismatch, batchID.Hex(), batch.Asset.Hex())
	}

	if holder.Kind == HolderVault {
		if managementTS != 0 {
			if err := e.fees.CheckManagementCheckpoint(holderAddr, managementTS); err != nil {
				return nil, err
			}
		}
		if performanceTS != 0 {
			if err := e.fees.CheckPerformanceCheckpoint(holderAddr, performanceTS); err != nil {
				return nil, err
			}
		}
	}

	adapter, err := e.adapters.Adapter(holderAddr, asset)
	if err != nil {
		return nil, err
	}

	now := e.cfg.Now().Unix()
	p := &SettlementProposal{
		Holder:                holderAddr,
		Kind:                  holder.Kind,
		Asset:                 asset,
		BatchID:               batchID,
		TotalAssets:           totalAssets.Clone(),
		PreviousTotal:         adapter.TotalAssets(asset),
		Window:                e.virtual.Entry(holderAddr, asset, batchID),
		ManagementCheckpoint:  managementTS,
		PerformanceCheckpoint: performanceTS,
		ProposedAt:            now,
		ExecuteAfter:          now + int64(e.cfg.SettlementCooldown().Seconds()),
	}
	p.Netted = fpmath.SignedDelta(p.TotalAssets, p.PreviousTotal)
	p.Yield = new(big.Int).Sub(p.Netted, p.Window.Deposited.ToBig())

	if err := e.price(p, holder); err != nil {
		return nil, err
	}
	if err := e.checkAdapterMint(p, adapter); err != nil {
		return nil, err
	}

	e.nonce++
	p.Nonce = e.nonce
	p.ID = state.ProposalID(asset, holderAddr, batchID, p.Nonce)

	e.proposals[p.ID] = p
	e.byKey[key] = p.ID

	return cloneProposal(p), nil
}

// price fills the deposit/withdrawal totals, fees, share price and the
// amounts minted and reserved by execution.
func (e *ProposalEngine) price(p *SettlementProposal, holder *Holder) error {
	depositKind, withdrawKind := state.RequestStake, state.RequestUnstake
	if holder.Kind == HolderMinter {
		depositKind, withdrawKind = state.RequestMint, state.RequestBurn
	}
	p.Deposited = holder.Requests.BatchTotal(p.BatchID, depositKind)
	p.Withdrawn = holder.Requests.BatchTotal(p.BatchID, withdrawKind)

	if p.TotalAssets.Lt(p.Deposited) {
		return fmt.Errorf("%w: %s reported, %s deposited this batch",
			ErrInvalidTotalAssets, p.TotalAssets.Dec(), p.Deposited.Dec())
	}

	if holder.Kind == HolderMinter {
		// kTokens are backed one to one
		if p.TotalAssets.Lt(p.Withdrawn) {
			return fmt.Errorf("%w: %s reported, %s burned this batch",
				ErrInvalidTotalAssets, p.TotalAssets.Dec(), p.Withdrawn.Dec())
		}
		p.EffectiveSupply = new(uint256.Int)
		p.Fees = state.ZeroFees()
		p.ChargedFees = state.ZeroFees()
		p.SharePrice = fpmath.Unit(e.decimals)
		p.Minted = p.Deposited.Clone()
		p.Reserved = p.Withdrawn.Clone()
		return nil
	}

	p.EffectiveSupply = e.effectiveSupply(holder.Address)
	base := new(uint256.Int).Sub(p.TotalAssets, p.Deposited)

	fees, err := e.fees.ComputeLastBatchFees(holder.Address, base, p.EffectiveSupply)
	if err != nil {
		return err
	}
	p.Fees = fees
	p.ChargedFees = state.ZeroFees()
	if p.ManagementCheckpoint != 0 {
		p.ChargedFees.Management = fees.Management.Clone()
	}
	if p.PerformanceCheckpoint != 0 {
		p.ChargedFees.Performance = fees.Performance.Clone()
	}
	p.ChargedFees.Total = new(uint256.Int).Add(p.ChargedFees.Management, p.ChargedFees.Performance)

	net := fpmath.SaturatingSub(base, p.ChargedFees.Total)
	if net.IsZero() && !p.EffectiveSupply.IsZero() && !p.Deposited.IsZero() {
		return fmt.Errorf("%w: %s shares back no assets", ErrZeroSharePrice, p.EffectiveSupply.Dec())
	}

	if p.SharePrice, err = fpmath.SharePrice(net, p.EffectiveSupply, e.decimals); err != nil {
		return fmt.Errorf("%w: %s over %s shares: %v", ErrInvalidTotalAssets, net.Dec(), p.EffectiveSupply.Dec(), err)
	}
	p.Minted = new(uint256.Int)
	if !p.Deposited.IsZero() {
		if p.Minted, err = fpmath.ConvertToShares(p.Deposited, p.SharePrice, e.decimals); err != nil {
			return fmt.Errorf("mint amount: %w", err)
		}
	}
	if p.Reserved, err = fpmath.ConvertToAssets(p.Withdrawn, p.SharePrice, e.decimals); err != nil {
		return fmt.Errorf("reserve amount: %w", err)
	}
	return nil
}

// effectiveSupply is the share supply still backed by adapter assets:
// shares of settled, unclaimed unstakes already have their assets set aside.
func (e *ProposalEngine) effectiveSupply(vault common.Address) *uint256.Int {
	settled := e.ledger.GetBalance(ledger.NewEscrowKey(vault, vault, true))
	return fpmath.SaturatingSub(e.ledger.TotalSupply(vault), settled)
}

// CanExecute reports whether Execute would pass its proposal and cooldown checks
func (e *ProposalEngine) CanExecute(id common.Hash) (bool, string) {
	p, ok := e.proposals[id]
	if !ok {
		return false, ReasonProposalNotFound
	}
	if e.cfg.Now().Unix() < p.ExecuteAfter {
		return false, ReasonCooldownNotPassed
	}
	return true, ""
}

// Execute applies a proposal whose cooldown has passed. Every check runs
// before any state changes: records first, then asset movements.
func (e *ProposalEngine) Execute(id common.Hash) (*Settlement, error) {
	if err := e.cfg.RequireNotPaused(config.ModuleSettlement); err != nil {
		return nil, err
	}
	p, ok := e.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id.Hex())
	}
	now := e.cfg.Now().Unix()
	if now < p.ExecuteAfter {
		return nil, fmt.Errorf("%w: %s executable at %d", ErrCooldownNotPassed, id.Hex(), p.ExecuteAfter)
	}

	holder, err := e.holders.Get(p.Holder)
	if err != nil {
		return nil, err
	}
	adapter, err := e.adapters.Adapter(p.Holder, p.Asset)
	if err != nil {
		return nil, err
	}
	shareToken, err := holder.ShareToken(p.Asset)
	if err != nil {
		return nil, err
	}
	if err := e.checkFresh(p, holder, adapter); err != nil {
		return nil, err
	}

	var receiver *state.BatchReceiver
	if holder.Kind == HolderMinter && !p.Reserved.IsZero() {
		if receiver, ok = holder.Receiver(p.BatchID); !ok {
			return nil, fmt.Errorf("%w: no receiver for burn batch %s", ErrProposalStale, p.BatchID.Hex())
		}
	}

	ref := "settlement:" + id.Hex()
	tokens := ledger.NewPosting(ref, now).
		Mint(ledger.NewAccountKey(p.Holder, shareToken), p.Minted).
		Move(
			ledger.NewEscrowKey(p.Holder, shareToken, true),
			ledger.NewEscrowKey(p.Holder, shareToken, false),
			p.Withdrawn,
			ledger.JournalTypeEscrowRelease,
		)
	if !tokens.Empty() {
		if err := e.ledger.CheckPosting(tokens.Build()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProposalStale, err)
		}
	}
	escrowedAssets := ledger.NewEscrowKey(p.Holder, p.Asset, false)
	if e.ledger.GetBalance(escrowedAssets).Lt(p.Deposited) {
		return nil, fmt.Errorf("%w: escrow holds less than %s deposited", ErrProposalStale, p.Deposited.Dec())
	}

	// Records
	delete(e.proposals, id)
	delete(e.byKey, proposalKey{Asset: p.Asset, Holder: p.Holder, BatchID: p.BatchID})

	must(holder.Batches.SettleBatch(e.identity, p.BatchID))
	if p.ManagementCheckpoint != 0 {
		must(e.fees.NotifyManagementFeesCharged(e.identity, p.Holder, p.ManagementCheckpoint))
	}
	if p.PerformanceCheckpoint != 0 {
		must(e.fees.NotifyPerformanceFeesCharged(e.identity, p.Holder, p.PerformanceCheckpoint))
	}
	window, err := e.virtual.SettlementReconcile(p.Holder, p.Asset, p.BatchID, p.Window.Deposited, p.Window.Requested)
	must(err)

	// Watermark moves only with a performance checkpoint
	advanced := false
	if holder.Kind == HolderVault && p.PerformanceCheckpoint != 0 {
		advanced, err = e.fees.AdvanceWatermark(e.identity, p.Holder, p.SharePrice)
		must(err)
	}

	s := &Settlement{
		BatchID:           p.BatchID,
		ProposalID:        id,
		Holder:            p.Holder,
		Kind:              p.Kind,
		Asset:             p.Asset,
		ShareToken:        shareToken,
		TotalAssets:       p.TotalAssets.Clone(),
		SharePrice:        p.SharePrice.Clone(),
		Minted:            p.Minted.Clone(),
		Reserved:          p.Reserved.Clone(),
		Fees:              p.ChargedFees,
		Window:            window,
		WatermarkAdvanced: advanced,
		SettledAt:         now,
	}
	if receiver != nil {
		s.Receiver = receiver.Address()
	}
	e.settlements[p.BatchID] = s

	// Asset movements
	must(adapter.Deposit(e.identity, escrowedAssets, p.Deposited))
	must(adapter.SetTotalAssets(e.identity, p.Asset, p.TotalAssets))
	must(adapter.Pull(e.identity, p.Asset, ledger.NewAccountKey(holder.Treasury, p.Asset), p.ChargedFees.Total, ledger.JournalTypeFeePayout))
	if receiver != nil {
		must(adapter.Pull(e.identity, p.Asset, receiver.Account(), p.Reserved, ledger.JournalTypeReserve))
		receiver.Fund(p.Reserved)
	} else {
		must(adapter.Pull(e.identity, p.Asset, ledger.NewEscrowKey(p.Holder, p.Asset, true), p.Reserved, ledger.JournalTypeReserve))
	}
	if !tokens.Empty() {
		must(e.ledger.ApplyPosting(tokens.Build()))
	}

	return cloneSettlement(s), nil
}

// checkFresh rejects proposals whose snapshot no longer matches live state
func (e *ProposalEngine) checkFresh(p *SettlementProposal, holder *Holder, adapter state.Adapter) error {
	if holder.Batches.IsSettled(p.BatchID) {
		return fmt.Errorf("%w: %s", state.ErrBatchSettled, p.BatchID.Hex())
	}
	if current := adapter.TotalAssets(p.Asset); !current.Eq(p.PreviousTotal) {
		return fmt.Errorf("%w: adapter total moved from %s to %s", ErrProposalStale, p.PreviousTotal.Dec(), current.Dec())
	}
	if holder.Kind == HolderVault {
		if supply := e.effectiveSupply(p.Holder); !supply.Eq(p.EffectiveSupply) {
			return fmt.Errorf("%w: effective supply moved from %s to %s", ErrProposalStale, p.EffectiveSupply.Dec(), supply.Dec())
		}
		if p.ManagementCheckpoint != 0 {
			if err := e.fees.CheckManagementCheckpoint(p.Holder, p.ManagementCheckpoint); err != nil {
				return err
			}
		}
		if p.PerformanceCheckpoint != 0 {
			if err := e.fees.CheckPerformanceCheckpoint(p.Holder, p.PerformanceCheckpoint); err != nil {
				return err
			}
		}
	}

	window := e.virtual.Entry(p.Holder, p.Asset, p.BatchID)
	if window.Deposited.Lt(p.Window.Deposited) || window.Requested.Lt(p.Window.Requested) {
		return fmt.Errorf("%w: virtual window shrank", ErrProposalStale)
	}
	return e.checkAdapterMint(p, adapter)
}

// checkAdapterMint dry-runs the yield execution realises in the adapter.
// After the deposit moves in, the adapter holds PreviousTotal + Deposited;
// anything reported above that is minted into the asset's supply.
func (e *ProposalEngine) checkAdapterMint(p *SettlementProposal, adapter state.Adapter) error {
	held, overflow := new(uint256.Int).AddOverflow(p.PreviousTotal, p.Deposited)
	if overflow || !p.TotalAssets.Gt(held) {
		return nil
	}
	gain := new(uint256.Int).Sub(p.TotalAssets, held)
	mint := ledger.NewPosting("settlement:check", 0).
		Mint(ledger.NewAccountKey(adapter.Address(), p.Asset), gain).
		Build()
	if err := e.ledger.CheckPosting(mint); err != nil {
		return fmt.Errorf("%w: %s reported: %v", ErrInvalidTotalAssets, p.TotalAssets.Dec(), err)
	}
	return nil
}

// Cancel drops an outstanding proposal so the batch can be proposed afresh
func (e *ProposalEngine) Cancel(caller common.Address, id common.Hash) (*SettlementProposal, error) {
	if err := e.auth.Require(caller, access.CapGuardian); err != nil {
		return nil, err
	}
	p, ok := e.proposals[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProposalNotFound, id.Hex())
	}

	delete(e.proposals, id)
	delete(e.byKey, proposalKey{Asset: p.Asset, Holder: p.Holder, BatchID: p.BatchID})
	return cloneProposal(p), nil
}

func (e *ProposalEngine) Proposal(id common.Hash) (*SettlementProposal, bool) {
	p, ok := e.proposals[id]
	if !ok {
		return nil, false
	}
	return cloneProposal(p), true
}

func (e *ProposalEngine) Settlement(batchID common.Hash) (*Settlement, bool) {
	s, ok := e.settlements[batchID]
	if !ok {
		return nil, false
	}
	return cloneSettlement(s), true
}

// must guards asset movements whose preconditions were all checked upfront
func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("FATAL: settlement diverged after checks: %v", err))
	}
}

func cloneProposal(p *SettlementProposal) *SettlementProposal {
	c := *p
	c.Netted = new(big.Int).Set(p.Netted)
	c.Yield = new(big.Int).Set(p.Yield)
	return &c
}

func cloneSettlement(s *Settlement) *Settlement {
	c := *s
	return &c
}
