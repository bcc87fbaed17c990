package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TotalAssetsReader exposes the adapter-reported total assets of a holder.
// It is the solvency ceiling for pull requests.
type TotalAssetsReader interface {
	TotalAssets(holder, asset common.Address) (*uint256.Int, error)
}

// VirtualBalanceEntry accumulates one settlement window of a holder
type VirtualBalanceEntry struct {
	Deposited *uint256.Int
	Requested *uint256.Int
}

func newEntry() *VirtualBalanceEntry {
	return &VirtualBalanceEntry{
		Deposited: new(uint256.Int),
		Requested: new(uint256.Int),
	}
}

func (e *VirtualBalanceEntry) clone() VirtualBalanceEntry {
	return VirtualBalanceEntry{
		Deposited: e.Deposited.Clone(),
		Requested: e.Requested.Clone(),
	}
}

func (e *VirtualBalanceEntry) isZero() bool {
	return e.Deposited.IsZero() && e.Requested.IsZero()
}

type entryKey struct {
	Holder  common.Address
	Asset   common.Address
	BatchID common.Hash
}

type holderAssetKey struct {
	Holder common.Address
	Asset  common.Address
}

// VirtualBalanceLedger gates pulls against not-yet-settled capital.
// Not thread-safe, only accessed from the serialised router.
type VirtualBalanceLedger struct {
	ceiling     TotalAssetsReader
	entries     map[entryKey]*VirtualBalanceEntry
	outstanding map[holderAssetKey]*uint256.Int
}

func NewVirtualBalanceLedger(ceiling TotalAssetsReader) *VirtualBalanceLedger {
	return &VirtualBalanceLedger{
		ceiling:     ceiling,
		entries:     make(map[entryKey]*VirtualBalanceEntry),
		outstanding: make(map[holderAssetKey]*uint256.Int),
	}
}

// RecordPush increases the deposited accumulator of the window
func (vb *VirtualBalanceLedger) RecordPush(holder, asset common.Address, batchID common.Hash, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}

	entry := vb.entry(holder, asset, batchID)
	deposited, overflow := new(uint256.Int).AddOverflow(entry.Deposited, amount)
	if overflow {
		return ErrAmountOverflow
	}

	entry.Deposited = deposited
	vb.store(holder, asset, batchID, entry)
	return nil
}

// RevertPush removes a previously recorded push (request cancellation)
func (vb *VirtualBalanceLedger) RevertPush(holder, asset common.Address, batchID common.Hash, amount *uint256.Int) error {
	entry := vb.entry(holder, asset, batchID)
	if entry.Deposited.Lt(amount) {
		return fmt.Errorf("%w: deposited %s, reverting %s", ErrReconcileExceedsBalance, entry.Deposited.Dec(), amount.Dec())
	}

	entry.Deposited = new(uint256.Int).Sub(entry.Deposited, amount)
	vb.store(holder, asset, batchID, entry)
	return nil
}

// RecordPullRequest increases the requested accumulator when the holder's
// cumulative outstanding pulls stay within its adapter-reported total assets.
func (vb *VirtualBalanceLedger) RecordPullRequest(holder, asset common.Address, batchID common.Hash, amount *uint256.Int) error {
	next, err := vb.checkPull(holder, asset, amount)
	if err != nil {
		return err
	}

	entry := vb.entry(holder, asset, batchID)
	entry.Requested = new(uint256.Int).Add(entry.Requested, amount)
	vb.store(holder, asset, batchID, entry)
	vb.outstanding[holderAssetKey{Holder: holder, Asset: asset}] = next
	return nil
}

// RevertPullRequest removes a previously recorded pull (request cancellation)
func (vb *VirtualBalanceLedger) RevertPullRequest(holder, asset common.Address, batchID common.Hash, amount *uint256.Int) error {
	entry := vb.entry(holder, asset, batchID)
	if entry.Requested.Lt(amount) {
		return fmt.Errorf("%w: requested %s, reverting %s", ErrReconcileExceedsBalance, entry.Requested.Dec(), amount.Dec())
	}

	entry.Requested = new(uint256.Int).Sub(entry.Requested, amount)
	vb.store(holder, asset, batchID, entry)
	vb.release(holder, asset, amount)
	return nil
}

// RecordTransfer checks a pull on source's window and records a push on
// dest's window. Either both sides change or neither does.
func (vb *VirtualBalanceLedger) RecordTransfer(
	source, dest, asset common.Address,
	sourceBatch, destBatch common.Hash,
	amount *uint256.Int,
) error {
	if source == dest {
		return fmt.Errorf("%w: transfer to self", ErrValidation)
	}

	next, err := vb.checkPull(source, asset, amount)
	if err != nil {
		return err
	}

	destEntry := vb.entry(dest, asset, destBatch)
	deposited, overflow := new(uint256.Int).AddOverflow(destEntry.Deposited, amount)
	if overflow {
		return ErrAmountOverflow
	}

	srcEntry := vb.entry(source, asset, sourceBatch)
	srcEntry.Requested = new(uint256.Int).Add(srcEntry.Requested, amount)
	vb.store(source, asset, sourceBatch, srcEntry)
	vb.outstanding[holderAssetKey{Holder: source, Asset: asset}] = next

	destEntry.Deposited = deposited
	vb.store(dest, asset, destBatch, destEntry)
	return nil
}

// SettlementReconcile clears the window by the amounts settled against it
// and returns what was cleared. Called only by settlement execution.
func (vb *VirtualBalanceLedger) SettlementReconcile(
	holder, asset common.Address,
	batchID common.Hash,
	deposited, requested *uint256.Int,
) (VirtualBalanceEntry, error) {
	entry := vb.entry(holder, asset, batchID)
	if entry.Deposited.Lt(deposited) || entry.Requested.Lt(requested) {
		return VirtualBalanceEntry{}, fmt.Errorf("%w: window holds %s/%s, settling %s/%s",
			ErrReconcileExceedsBalance,
			entry.Deposited.Dec(), entry.Requested.Dec(),
			deposited.Dec(), requested.Dec())
	}

	entry.Deposited = new(uint256.Int).Sub(entry.Deposited, deposited)
	entry.Requested = new(uint256.Int).Sub(entry.Requested, requested)
	vb.store(holder, asset, batchID, entry)
	vb.release(holder, asset, requested)

	return VirtualBalanceEntry{
		Deposited: deposited.Clone(),
		Requested: requested.Clone(),
	}, nil
}

// Entry returns a copy of the window accumulators (zero when absent)
func (vb *VirtualBalanceLedger) Entry(holder, asset common.Address, batchID common.Hash) VirtualBalanceEntry {
	return vb.entry(holder, asset, batchID).clone()
}

// Outstanding returns the cumulative requested pulls of holder across all open windows
func (vb *VirtualBalanceLedger) Outstanding(holder, asset common.Address) *uint256.Int {
	if v, ok := vb.outstanding[holderAssetKey{Holder: holder, Asset: asset}]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// checkPull returns the holder's outstanding total after adding amount,
// failing when it would exceed the adapter-reported total assets.
func (vb *VirtualBalanceLedger) checkPull(holder, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, ErrZeroAmount
	}

	ceiling, err := vb.ceiling.TotalAssets(holder, asset)
	if err != nil {
		return nil, err
	}

	next, overflow := new(uint256.Int).AddOverflow(vb.Outstanding(holder, asset), amount)
	if overflow || next.Gt(ceiling) {
		return nil, fmt.Errorf("%w: %s would have %s outstanding against %s",
			ErrInsufficientVirtualBalance, holder.Hex(), next.Dec(), ceiling.Dec())
	}

	return next, nil
}

func (vb *VirtualBalanceLedger) release(holder, asset common.Address, amount *uint256.Int) {
	key := holderAssetKey{Holder: holder, Asset: asset}
	remaining := new(uint256.Int).Sub(vb.Outstanding(holder, asset), amount)
	if remaining.IsZero() {
		delete(vb.outstanding, key)
		return
	}
	vb.outstanding[key] = remaining
}

// entry returns a working copy of the window, never the stored pointer
func (vb *VirtualBalanceLedger) entry(holder, asset common.Address, batchID common.Hash) *VirtualBalanceEntry {
	if e, ok := vb.entries[entryKey{Holder: holder, Asset: asset, BatchID: batchID}]; ok {
		c := e.clone()
		return &c
	}
	return newEntry()
}

func (vb *VirtualBalanceLedger) store(holder, asset common.Address, batchID common.Hash, e *VirtualBalanceEntry) {
	key := entryKey{Holder: holder, Asset: asset, BatchID: batchID}
	if e.isZero() {
		delete(vb.entries, key)
		return
	}
	vb.entries[key] = e
}
