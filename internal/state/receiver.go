package state

import (
	"fmt"

	"vaultrouter/internal/access"
	"vaultrouter/internal/ledger"
	fpmath "vaultrouter/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BatchReceiver escrows the assets a settled burn batch owes its requesters.
// Only the minter pulls from it; an admin may rescue stray tokens.
type BatchReceiver struct {
	address common.Address
	batchID common.Hash
	asset   common.Address
	minter  common.Address
	auth    access.AuthorizationPort
	ledger  *ledger.BalanceTracker

	pending *uint256.Int // still owed to burn claims
}

func NewBatchReceiver(
	batchID common.Hash,
	asset, minter common.Address,
	auth access.AuthorizationPort,
	tracker *ledger.BalanceTracker,
) *BatchReceiver {
	return &BatchReceiver{
		address: ReceiverAddress(batchID),
		batchID: batchID,
		asset:   asset,
		minter:  minter,
		auth:    auth,
		ledger:  tracker,
		pending: new(uint256.Int),
	}
}

func (r *BatchReceiver) Address() common.Address {
	return r.address
}

func (r *BatchReceiver) BatchID() common.Hash {
	return r.batchID
}

func (r *BatchReceiver) Asset() common.Address {
	return r.asset
}

// Pending returns the amount still owed to burn claims
func (r *BatchReceiver) Pending() *uint256.Int {
	return r.pending.Clone()
}

// Balance returns the receiver's ledger balance of asset
func (r *BatchReceiver) Balance(asset common.Address) *uint256.Int {
	return r.ledger.BalanceOf(r.address, asset)
}

// Account is the ledger account settlement funds the receiver through
func (r *BatchReceiver) Account() ledger.AccountKey {
	return ledger.NewAccountKey(r.address, r.asset)
}

// Fund records that amount arrived for pending claims
func (r *BatchReceiver) Fund(amount *uint256.Int) {
	r.pending = new(uint256.Int).Add(r.pending, amount)
}

// PullAssets pays amount of the batch asset to the recipient's account
func (r *BatchReceiver) PullAssets(caller, to common.Address, amount *uint256.Int) error {
	if caller != r.minter {
		return fmt.Errorf("%w: %s", ErrOnlyMinter, caller.Hex())
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}

	posting := ledger.NewPosting("receiver:"+r.batchID.Hex(), 0).
		Move(ledger.NewAccountKey(to, r.asset), r.Account(), amount, ledger.JournalTypeClaimPayout).
		Build()
	if err := r.ledger.ApplyPosting(posting); err != nil {
		return err
	}

	r.pending = fpmath.SaturatingSub(r.pending, amount)
	return nil
}

// RescueAssets moves stray tokens out of the receiver. The batch asset may
// only be rescued once no claim is pending against it.
func (r *BatchReceiver) RescueAssets(caller, asset, to common.Address, amount *uint256.Int) error {
	if err := r.auth.Require(caller, access.CapAdmin); err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if asset == r.asset && !r.pending.IsZero() {
		return fmt.Errorf("%w: %s still owes %s", ErrAssetNotRescuable, r.address.Hex(), r.pending.Dec())
	}

	return r.ledger.ApplyPosting(ledger.NewPosting("rescue:"+r.batchID.Hex(), 0).
		Move(ledger.NewAccountKey(to, asset), ledger.NewAccountKey(r.address, asset), amount, ledger.JournalTypeRescue).
		Build())
}
