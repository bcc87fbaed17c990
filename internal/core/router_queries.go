package core

import (
	"time"

	"vaultrouter/internal/config"
	"vaultrouter/internal/ledger"
	fpmath "vaultrouter/internal/math"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// sharePrice is the vault's live net price: adapter assets per effective share
func (r *Router) sharePrice(vault, asset common.Address) (*uint256.Int, error) {
	settled := r.ledger.GetBalance(ledger.NewEscrowKey(vault, vault, true))
	supply := fpmath.SaturatingSub(r.ledger.TotalSupply(vault), settled)
	return fpmath.SharePrice(r.adapterTotal(vault, asset), supply, r.decimals)
}

func (r *Router) adapterTotal(holder, asset common.Address) *uint256.Int {
	total, err := r.adapters.TotalAssets(holder, asset)
	if err != nil {
		return new(uint256.Int)
	}
	return total
}

// SharePrice returns the live share price of vault
func (r *Router) SharePrice(vault common.Address) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, err := r.holders.Get(vault)
	if err != nil {
		return nil, err
	}
	if holder.Kind != HolderVault {
		return fpmath.Unit(r.decimals), nil
	}
	return r.sharePrice(vault, holder.Assets()[0])
}

// TotalAssets returns the adapter-reported total of holder's asset
func (r *Router) TotalAssets(holder, asset common.Address) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.adapters.TotalAssets(holder, asset)
}

// BalanceOf returns account's available balance of token
func (r *Router) BalanceOf(account, token common.Address) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.BalanceOf(account, token)
}

// EscrowBalance returns holder's escrowed balance of token
func (r *Router) EscrowBalance(holder, token common.Address, settled bool) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.GetBalance(ledger.NewEscrowKey(holder, token, settled))
}

// TotalSupply returns the outstanding supply of token
func (r *Router) TotalSupply(token common.Address) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.TotalSupply(token)
}

// GetBatchID returns the open batch of holder for asset, or the id the next one will get
func (r *Router) GetBatchID(holderAddr, asset common.Address) (common.Hash, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, err := r.holders.Get(holderAddr)
	if err != nil {
		return common.Hash{}, err
	}
	return holder.Batches.GetBatchID(asset), nil
}

// Batch returns a copy of a batch record
func (r *Router) Batch(holderAddr common.Address, id common.Hash) (state.Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, err := r.holders.Get(holderAddr)
	if err != nil {
		return state.Batch{}, false
	}
	return holder.Batches.Batch(id)
}

// Request returns a copy of a request record
func (r *Router) Request(holderAddr common.Address, id common.Hash) (*state.Request, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, err := r.holders.Get(holderAddr)
	if err != nil {
		return nil, false
	}
	return holder.Requests.Request(id)
}

// UserRequests returns the ids user submitted to holder, oldest first
func (r *Router) UserRequests(holderAddr, user common.Address) []common.Hash {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, err := r.holders.Get(holderAddr)
	if err != nil {
		return nil
	}
	return holder.Requests.UserRequests(user)
}

// Proposal returns a copy of an outstanding proposal
func (r *Router) Proposal(id common.Hash) (*SettlementProposal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settlement.Proposal(id)
}

// Settlement returns the settlement record of a batch
func (r *Router) Settlement(batchID common.Hash) (*Settlement, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settlement.Settlement(batchID)
}

// Receiver returns the address and pending amount of a burn batch receiver
func (r *Router) Receiver(batchID common.Hash) (common.Address, *uint256.Int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, err := r.holders.Get(r.minter)
	if err != nil {
		return common.Address{}, nil, false
	}
	receiver, ok := holder.Receiver(batchID)
	if !ok {
		return common.Address{}, nil, false
	}
	return receiver.Address(), receiver.Pending(), true
}

// VirtualBalance returns holder's virtual window for batchID
func (r *Router) VirtualBalance(holder, asset common.Address, batchID common.Hash) state.VirtualBalanceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.virtual.Entry(holder, asset, batchID)
}

// OutstandingPulls returns holder's requested but unsettled pulls of asset
func (r *Router) OutstandingPulls(holder, asset common.Address) *uint256.Int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.virtual.Outstanding(holder, asset)
}

// ComputeLastBatchFees previews the fees vault would owe on its live totals
func (r *Router) ComputeLastBatchFees(vault common.Address) (state.Fees, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	holder, err := r.holders.Get(vault)
	if err != nil {
		return state.Fees{}, err
	}
	if holder.Kind != HolderVault {
		return state.ZeroFees(), nil
	}
	settled := r.ledger.GetBalance(ledger.NewEscrowKey(vault, vault, true))
	supply := fpmath.SaturatingSub(r.ledger.TotalSupply(vault), settled)
	return r.fees.ComputeLastBatchFees(vault, r.adapterTotal(vault, holder.Assets()[0]), supply)
}

// FeeState returns a vault's fee configuration, watermark and checkpoints
func (r *Router) FeeState(vault common.Address) (state.FeeState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fees.State(vault)
}

// NextManagementFeeTimestamp returns the next month end after the last management charge
func (r *Router) NextManagementFeeTimestamp(vault common.Address) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fees.NextManagementFeeTimestamp(vault)
}

// NextPerformanceFeeTimestamp returns the next quarter end after the last performance charge
func (r *Router) NextPerformanceFeeTimestamp(vault common.Address) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.fees.NextPerformanceFeeTimestamp(vault)
}

// IsPaused reports whether module (or everything) is paused
func (r *Router) IsPaused(module config.Module) bool {
	return r.cfg.IsPaused(module)
}

// SettlementCooldown returns the delay applied to new proposals
func (r *Router) SettlementCooldown() time.Duration {
	return r.cfg.SettlementCooldown()
}

// StateSnapshot is a point-in-time copy of the router's balances and chain position
type StateSnapshot struct {
	Sequence   int64
	ChainTip   [32]byte
	Balances   map[string]string // account path to amount
	Watermarks map[string]string // vault to watermark price
	TakenAt    time.Time
}

// Snapshot copies the ledger and fee watermarks at the current sequence
func (r *Router) Snapshot() StateSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := StateSnapshot{
		Sequence:   r.sequence,
		ChainTip:   r.hasher.GetPrevHash(),
		Balances:   make(map[string]string),
		Watermarks: make(map[string]string),
		TakenAt:    r.cfg.Now(),
	}
	for key, balance := range r.ledger.Snapshot() {
		snap.Balances[key.AccountPath()] = balance.Dec()
	}
	for _, holder := range r.holders.All() {
		if holder.Kind != HolderVault {
			continue
		}
		if wm, err := r.fees.Watermark(holder.Address); err == nil {
			snap.Watermarks[holder.Address.Hex()] = wm.Dec()
		}
	}
	return snap
}
