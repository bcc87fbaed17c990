package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeHolder AccountScope = iota
	AccountScopeIssuance
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// Freely transferable balance
	SubTypeAvailable AccountSubType = iota

	// Shares locked by a request whose batch has not settled yet
	SubTypeEscrowPending

	// Shares locked by a settled request, burned when the request is claimed
	SubTypeEscrowSettled
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Holder  common.Address
	Token   common.Address
	SubType AccountSubType
}

// NewAccountKey creates a key for a holder's available balance
func NewAccountKey(holder, token common.Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeHolder,
		Holder:  holder,
		Token:   token,
		SubType: SubTypeAvailable,
	}
}

// NewEscrowKey creates a key for a holder's escrowed balance
func NewEscrowKey(holder, token common.Address, settled bool) AccountKey {
	subType := SubTypeEscrowPending
	if settled {
		subType = SubTypeEscrowSettled
	}
	return AccountKey{
		Scope:   AccountScopeHolder,
		Holder:  holder,
		Token:   token,
		SubType: subType,
	}
}

// NewIssuanceKey creates the boundary account that mints and burns draw against.
// Its balance is the token's total supply.
func NewIssuanceKey(token common.Address) AccountKey {
	return AccountKey{
		Scope: AccountScopeIssuance,
		Token: token,
	}
}

// IsIssuance reports whether the key is a token's issuance account
func (k AccountKey) IsIssuance() bool {
	return k.Scope == AccountScopeIssuance
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeHolder:
		return fmt.Sprintf("holder:%s:%s:%s", k.Holder.Hex(), k.Token.Hex(), k.subTypeName())
	case AccountScopeIssuance:
		return fmt.Sprintf("issuance:%s", k.Token.Hex())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeAvailable:
		return "available"
	case SubTypeEscrowPending:
		return "escrow_pending"
	case SubTypeEscrowSettled:
		return "escrow_settled"
	default:
		return "unknown"
	}
}
