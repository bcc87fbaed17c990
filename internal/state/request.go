package state

import (
	"fmt"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// RequestKind distinguishes vault-side (stake/unstake) from minter-side
// (mint/burn) requests and deposits from withdrawals.
type RequestKind uint8

const (
	RequestStake RequestKind = iota
	RequestUnstake
	RequestMint
	RequestBurn
)

func (k RequestKind) String() string {
	switch k {
	case RequestStake:
		return "stake"
	case RequestUnstake:
		return "unstake"
	case RequestMint:
		return "mint"
	case RequestBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// IsDeposit reports whether the request pushes assets into the holder
func (k RequestKind) IsDeposit() bool {
	return k == RequestStake || k == RequestMint
}

// IsMinterSide reports whether the request belongs to the custodial minter
func (k RequestKind) IsMinterSide() bool {
	return k == RequestMint || k == RequestBurn
}

type RequestStatus uint8

const (
	RequestPending RequestStatus = iota
	RequestClaimed
	RequestCancelled
)

func (s RequestStatus) String() string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestClaimed:
		return "claimed"
	case RequestCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Request is a user intent queued into a batch.
// Amount is in assets for deposits and in shares (or kTokens) for withdrawals.
type Request struct {
	ID        common.Hash
	Kind      RequestKind
	Holder    common.Address
	User      common.Address // payer and beneficiary
	Recipient common.Address // payout destination
	Asset     common.Address
	Amount    *uint256.Int
	BatchID   common.Hash
	Status    RequestStatus

	RequestedAt int64
	ResolvedAt  int64
}

func (r *Request) clone() *Request {
	c := *r
	c.Amount = r.Amount.Clone()
	return &c
}

type batchKindKey struct {
	BatchID common.Hash
	Kind    RequestKind
}

// RequestStore owns the requests of one holder.
// Not thread-safe, only accessed from the serialised router.
type RequestStore struct {
	holder    common.Address
	custodial bool // minter side: claims are made by the minter on the user's behalf
	auth      access.AuthorizationPort
	batches   *BatchLedger
	clock     config.Clock

	requests map[common.Hash]*Request
	byUser   map[common.Address][]common.Hash
	totals   map[batchKindKey]*uint256.Int
	nonce    uint64
}

// NewRequestStore creates the vault-side store (stake/unstake, self-claimed)
func NewRequestStore(batches *BatchLedger, auth access.AuthorizationPort, clock config.Clock) *RequestStore {
	return newRequestStore(batches, auth, clock, false)
}

// NewCustodialRequestStore creates the minter-side store (mint/burn, claimed by the minter)
func NewCustodialRequestStore(batches *BatchLedger, auth access.AuthorizationPort, clock config.Clock) *RequestStore {
	return newRequestStore(batches, auth, clock, true)
}

func newRequestStore(batches *BatchLedger, auth access.AuthorizationPort, clock config.Clock, custodial bool) *RequestStore {
	return &RequestStore{
		holder:    batches.Holder(),
		custodial: custodial,
		auth:      auth,
		batches:   batches,
		clock:     clock,
		requests:  make(map[common.Hash]*Request),
		byUser:    make(map[common.Address][]common.Hash),
		totals:    make(map[batchKindKey]*uint256.Int),
	}
}

// Submit records a Pending request against an Open batch
func (rs *RequestStore) Submit(
	kind RequestKind,
	user common.Address,
	recipient common.Address,
	amount *uint256.Int,
	batchID common.Hash,
) (common.Hash, error) {
	if amount == nil || amount.IsZero() {
		return common.Hash{}, ErrZeroAmount
	}
	if user == (common.Address{}) || recipient == (common.Address{}) {
		return common.Hash{}, ErrZeroAddress
	}
	if kind.IsMinterSide() != rs.custodial {
		return common.Hash{}, fmt.Errorf("%w: %s request on %s", ErrRequestKindMismatch, kind, rs.holder.Hex())
	}

	batch, ok := rs.batches.Batch(batchID)
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: unknown id %s", ErrBatchNotValid, batchID.Hex())
	}
	if batch.Status != BatchOpen {
		return common.Hash{}, fmt.Errorf("%w: %s is %s", ErrBatchClosed, batchID.Hex(), batch.Status)
	}

	key := batchKindKey{BatchID: batchID, Kind: kind}
	total := rs.BatchTotal(batchID, kind)
	if _, overflow := total.AddOverflow(total, amount); overflow {
		return common.Hash{}, ErrAmountOverflow
	}

	rs.nonce++
	id := RequestID(rs.holder, user, batchID, rs.nonce)

	rs.requests[id] = &Request{
		ID:          id,
		Kind:        kind,
		Holder:      rs.holder,
		User:        user,
		Recipient:   recipient,
		Asset:       batch.Asset,
		Amount:      amount.Clone(),
		BatchID:     batchID,
		Status:      RequestPending,
		RequestedAt: rs.clock.Now().Unix(),
	}
	rs.byUser[user] = append(rs.byUser[user], id)
	rs.totals[key] = total

	return id, nil
}

// CheckClaim runs every claim precondition without changing state
func (rs *RequestStore) CheckClaim(id common.Hash, caller common.Address, kind RequestKind) (*Request, error) {
	req, ok := rs.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id.Hex())
	}
	if req.Kind != kind {
		return nil, fmt.Errorf("%w: %s is a %s request", ErrRequestKindMismatch, id.Hex(), req.Kind)
	}
	if req.Status != RequestPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrRequestNotPending, id.Hex(), req.Status)
	}
	if !rs.isBeneficiary(req, caller) {
		return nil, fmt.Errorf("%w: %s for %s", ErrNotBeneficiary, caller.Hex(), id.Hex())
	}
	if !rs.batches.IsSettled(req.BatchID) {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotSettled, req.BatchID.Hex())
	}

	return req.clone(), nil
}

// Claim flips a settled Pending request to Claimed exactly once and returns
// it so the caller can move the settled amount.
func (rs *RequestStore) Claim(id common.Hash, caller common.Address, kind RequestKind) (*Request, error) {
	if _, err := rs.CheckClaim(id, caller, kind); err != nil {
		return nil, err
	}

	req := rs.requests[id]
	req.Status = RequestClaimed
	req.ResolvedAt = rs.clock.Now().Unix()

	return req.clone(), nil
}

// Cancel withdraws a Pending request while its batch is still Open.
// Only the user who submitted it may cancel.
func (rs *RequestStore) Cancel(id common.Hash, caller common.Address) (*Request, error) {
	req, ok := rs.requests[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, id.Hex())
	}
	if req.Status != RequestPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrRequestNotPending, id.Hex(), req.Status)
	}
	if caller != req.User {
		return nil, fmt.Errorf("%w: %s for %s", ErrNotBeneficiary, caller.Hex(), id.Hex())
	}

	batch, _ := rs.batches.Batch(req.BatchID)
	if batch.Status != BatchOpen {
		return nil, fmt.Errorf("%w: %s is %s", ErrBatchClosed, req.BatchID.Hex(), batch.Status)
	}

	key := batchKindKey{BatchID: req.BatchID, Kind: req.Kind}
	rs.totals[key] = new(uint256.Int).Sub(rs.totals[key], req.Amount)

	req.Status = RequestCancelled
	req.ResolvedAt = rs.clock.Now().Unix()

	return req.clone(), nil
}

// Request returns a copy of the request record
func (rs *RequestStore) Request(id common.Hash) (*Request, bool) {
	req, ok := rs.requests[id]
	if !ok {
		return nil, false
	}
	return req.clone(), true
}

// UserRequests returns the ids submitted by user in submission order
func (rs *RequestStore) UserRequests(user common.Address) []common.Hash {
	ids := rs.byUser[user]
	out := make([]common.Hash, len(ids))
	copy(out, ids)
	return out
}

// BatchTotal returns the sum of non-cancelled request amounts of kind in batchID
func (rs *RequestStore) BatchTotal(batchID common.Hash, kind RequestKind) *uint256.Int {
	if total, ok := rs.totals[batchKindKey{BatchID: batchID, Kind: kind}]; ok {
		return total.Clone()
	}
	return new(uint256.Int)
}

func (rs *RequestStore) isBeneficiary(req *Request, caller common.Address) bool {
	if !rs.custodial {
		return caller == req.User
	}
	return caller == rs.holder || rs.auth.Has(caller, access.CapMinterCustodian)
}
