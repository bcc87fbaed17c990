package access

import (
	"fmt"
	"sync"

	"vaultrouter/internal/fault"

	"github.com/ethereum/go-ethereum/common"
)

// Capability names an operator role checked by mutating operations
type Capability string

const (
	CapAdmin               Capability = "admin"
	CapRelayer             Capability = "relayer"
	CapGuardian            Capability = "guardian"
	CapEmergencyAdmin      Capability = "emergency-admin"
	CapSettlementAuthority Capability = "settlement-authority"
	CapMinterCustodian     Capability = "minter-custodian"
)

var ErrMissingCapability = fault.New(fault.ErrUnauthorized, "MissingCapability")

// AuthorizationPort is the only view components have of the role system
type AuthorizationPort interface {
	Has(caller common.Address, capability Capability) bool
	Require(caller common.Address, capability Capability) error
}

// Registry is an in-memory AuthorizationPort keyed by address
type Registry struct {
	mu     sync.RWMutex
	grants map[common.Address]map[Capability]bool
}

func NewRegistry() *Registry {
	return &Registry{
		grants: make(map[common.Address]map[Capability]bool),
	}
}

// Grant assigns capabilities without a caller check (bootstrap only)
func (r *Registry) Grant(account common.Address, capabilities ...Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.grants[account]
	if !ok {
		set = make(map[Capability]bool)
		r.grants[account] = set
	}
	for _, c := range capabilities {
		set[c] = true
	}
}

// GrantRole assigns a capability on behalf of an admin
func (r *Registry) GrantRole(caller, account common.Address, capability Capability) error {
	if err := r.Require(caller, CapAdmin); err != nil {
		return err
	}
	r.Grant(account, capability)
	return nil
}

// RevokeRole removes a capability on behalf of an admin
func (r *Registry) RevokeRole(caller, account common.Address, capability Capability) error {
	if err := r.Require(caller, CapAdmin); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.grants[account], capability)
	return nil
}

func (r *Registry) Has(caller common.Address, capability Capability) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.grants[caller][capability]
}

func (r *Registry) Require(caller common.Address, capability Capability) error {
	if !r.Has(caller, capability) {
		return fmt.Errorf("%w: %s lacks %s", ErrMissingCapability, caller.Hex(), capability)
	}
	return nil
}
