package state

import (
	"fmt"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"

	"github.com/ethereum/go-ethereum/common"
)

// BatchStatus only moves forward: Open → Closed → Settled
type BatchStatus uint8

const (
	BatchOpen BatchStatus = iota
	BatchClosed
	BatchSettled
)

func (s BatchStatus) String() string {
	switch s {
	case BatchOpen:
		return "open"
	case BatchClosed:
		return "closed"
	case BatchSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Batch is one settlement epoch of one asset for one holder
type Batch struct {
	ID       common.Hash
	Holder   common.Address
	Asset    common.Address
	Number   uint64
	Status   BatchStatus
	Receiver common.Address // zero until the first burn request (minter side)

	CreatedAt int64
	ClosedAt  int64
	SettledAt int64
}

// IsClosed reports whether the batch has left the Open state
func (b *Batch) IsClosed() bool {
	return b.Status != BatchOpen
}

// BatchLedger owns the batches of a single holder (a vault or the minter).
// Not thread-safe, only accessed from the serialised router.
type BatchLedger struct {
	holder common.Address
	auth   access.AuthorizationPort
	clock  config.Clock

	batches map[common.Hash]*Batch
	active  map[common.Address]common.Hash // asset -> open batch id
	counter map[common.Address]uint64      // asset -> last issued number
}

func NewBatchLedger(holder common.Address, auth access.AuthorizationPort, clock config.Clock) *BatchLedger {
	return &BatchLedger{
		holder:  holder,
		auth:    auth,
		clock:   clock,
		batches: make(map[common.Hash]*Batch),
		active:  make(map[common.Address]common.Hash),
		counter: make(map[common.Address]uint64),
	}
}

// Holder returns the address this ledger issues batches for
func (bl *BatchLedger) Holder() common.Address {
	return bl.holder
}

// GetBatchID returns the open batch id for asset, or the id the next batch
// will get when none is open. Never mutates.
func (bl *BatchLedger) GetBatchID(asset common.Address) common.Hash {
	if id, ok := bl.active[asset]; ok {
		return id
	}
	return BatchID(bl.holder, asset, bl.counter[asset]+1)
}

// CreateNewBatch opens the next batch for asset. An already open batch is
// closed first, so the ledger rolls forward instead of failing.
func (bl *BatchLedger) CreateNewBatch(caller, asset common.Address) (common.Hash, error) {
	if err := bl.auth.Require(caller, access.CapRelayer); err != nil {
		return common.Hash{}, err
	}
	if asset == (common.Address{}) {
		return common.Hash{}, ErrZeroAddress
	}

	if id, ok := bl.active[asset]; ok {
		bl.close(bl.batches[id])
	}

	return bl.open(asset), nil
}

// CloseBatch transitions id from Open to Closed, optionally opening the
// next batch in the same step.
func (bl *BatchLedger) CloseBatch(caller common.Address, id common.Hash, createNext bool) error {
	if err := bl.auth.Require(caller, access.CapRelayer); err != nil {
		return err
	}

	batch, err := bl.lookup(id)
	if err != nil {
		return err
	}
	if batch.Status != BatchOpen {
		return fmt.Errorf("%w: %s is %s", ErrBatchClosed, id.Hex(), batch.Status)
	}

	bl.close(batch)
	if createNext {
		bl.open(batch.Asset)
	}

	return nil
}

// SettleBatch transitions id from Closed to Settled exactly once
func (bl *BatchLedger) SettleBatch(caller common.Address, id common.Hash) error {
	if err := bl.auth.Require(caller, access.CapSettlementAuthority); err != nil {
		return err
	}

	batch, err := bl.lookup(id)
	if err != nil {
		return err
	}

	switch batch.Status {
	case BatchOpen:
		return fmt.Errorf("%w: %s", ErrBatchNotClosed, id.Hex())
	case BatchSettled:
		return fmt.Errorf("%w: %s", ErrBatchSettled, id.Hex())
	}

	batch.Status = BatchSettled
	batch.SettledAt = bl.clock.Now().Unix()
	return nil
}

// HasActiveBatch reports whether asset has an Open batch
func (bl *BatchLedger) HasActiveBatch(asset common.Address) bool {
	_, ok := bl.active[asset]
	return ok
}

// ActiveBatch returns the open batch id for asset
func (bl *BatchLedger) ActiveBatch(asset common.Address) (common.Hash, error) {
	id, ok := bl.active[asset]
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: asset %s", ErrNoActiveBatch, asset.Hex())
	}
	return id, nil
}

// IsClosed reports whether id exists and is no longer Open
func (bl *BatchLedger) IsClosed(id common.Hash) bool {
	batch, ok := bl.batches[id]
	return ok && batch.IsClosed()
}

// IsSettled reports whether id exists and is Settled
func (bl *BatchLedger) IsSettled(id common.Hash) bool {
	batch, ok := bl.batches[id]
	return ok && batch.Status == BatchSettled
}

// Batch returns a copy of the batch record
func (bl *BatchLedger) Batch(id common.Hash) (Batch, bool) {
	batch, ok := bl.batches[id]
	if !ok {
		return Batch{}, false
	}
	return *batch, true
}

// LastNumber returns the highest batch number issued for asset
func (bl *BatchLedger) LastNumber(asset common.Address) uint64 {
	return bl.counter[asset]
}

// EnsureReceiver assigns the batch its escrow receiver address on first use.
// created is false when the receiver already existed.
func (bl *BatchLedger) EnsureReceiver(id common.Hash) (receiver common.Address, created bool, err error) {
	batch, err := bl.lookup(id)
	if err != nil {
		return common.Address{}, false, err
	}

	if batch.Receiver != (common.Address{}) {
		return batch.Receiver, false, nil
	}

	batch.Receiver = ReceiverAddress(id)
	return batch.Receiver, true, nil
}

func (bl *BatchLedger) lookup(id common.Hash) (*Batch, error) {
	if id == (common.Hash{}) {
		return nil, fmt.Errorf("%w: zero id", ErrBatchNotValid)
	}
	batch, ok := bl.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: unknown id %s", ErrBatchNotValid, id.Hex())
	}
	return batch, nil
}

func (bl *BatchLedger) open(asset common.Address) common.Hash {
	number := bl.counter[asset] + 1
	id := BatchID(bl.holder, asset, number)

	bl.counter[asset] = number
	bl.batches[id] = &Batch{
		ID:        id,
		Holder:    bl.holder,
		Asset:     asset,
		Number:    number,
		Status:    BatchOpen,
		CreatedAt: bl.clock.Now().Unix(),
	}
	bl.active[asset] = id

	return id
}

func (bl *BatchLedger) close(batch *Batch) {
	batch.Status = BatchClosed
	batch.ClosedAt = bl.clock.Now().Unix()
	delete(bl.active, batch.Asset)
}
