package state

import (
	"fmt"

	"vaultrouter/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Adapter is the custodian that deploys a holder's assets into a strategy.
// Every mutating call is restricted to the router identity.
type Adapter interface {
	Address() common.Address
	TotalAssets(asset common.Address) *uint256.Int
	SetTotalAssets(caller, asset common.Address, amount *uint256.Int) error
	Deposit(caller common.Address, from ledger.AccountKey, amount *uint256.Int) error
	Pull(caller common.Address, asset common.Address, to ledger.AccountKey, amount *uint256.Int, purpose ledger.JournalType) error
}

// MemoryAdapter keeps its assets in the token ledger under its own address.
// Reported total assets always equal its ledger balance: SetTotalAssets
// realises strategy yield or loss by minting or burning the difference.
type MemoryAdapter struct {
	address common.Address
	router  common.Address
	ledger  *ledger.BalanceTracker
}

func NewMemoryAdapter(address, router common.Address, tracker *ledger.BalanceTracker) *MemoryAdapter {
	return &MemoryAdapter{
		address: address,
		router:  router,
		ledger:  tracker,
	}
}

func (a *MemoryAdapter) Address() common.Address {
	return a.address
}

func (a *MemoryAdapter) TotalAssets(asset common.Address) *uint256.Int {
	return a.ledger.BalanceOf(a.address, asset)
}

func (a *MemoryAdapter) SetTotalAssets(caller, asset common.Address, amount *uint256.Int) error {
	if err := a.onlyRouter(caller); err != nil {
		return err
	}

	key := ledger.NewAccountKey(a.address, asset)
	current := a.ledger.GetBalance(key)
	ref := "adapter:" + a.address.Hex()

	switch current.Cmp(amount) {
	case -1:
		gain := new(uint256.Int).Sub(amount, current)
		return a.ledger.ApplyPosting(ledger.NewPosting(ref, 0).Mint(key, gain).Build())
	case 1:
		loss := new(uint256.Int).Sub(current, amount)
		return a.ledger.ApplyPosting(ledger.NewPosting(ref, 0).Burn(key, loss).Build())
	}
	return nil
}

func (a *MemoryAdapter) Deposit(caller common.Address, from ledger.AccountKey, amount *uint256.Int) error {
	if err := a.onlyRouter(caller); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}

	to := ledger.NewAccountKey(a.address, from.Token)
	return a.ledger.ApplyPosting(ledger.NewPosting("adapter:"+a.address.Hex(), 0).
		Move(to, from, amount, ledger.JournalTypeDeposit).Build())
}

// Pull moves assets out of the adapter, journaled as purpose
func (a *MemoryAdapter) Pull(caller, asset common.Address, to ledger.AccountKey, amount *uint256.Int, purpose ledger.JournalType) error {
	if err := a.onlyRouter(caller); err != nil {
		return err
	}
	if amount.IsZero() {
		return nil
	}
	if to.Token != asset {
		return fmt.Errorf("%w: pull of %s into %s account", ErrValidation, asset.Hex(), to.Token.Hex())
	}

	from := ledger.NewAccountKey(a.address, asset)
	return a.ledger.ApplyPosting(ledger.NewPosting("adapter:"+a.address.Hex(), 0).
		Move(to, from, amount, purpose).Build())
}

func (a *MemoryAdapter) onlyRouter(caller common.Address) error {
	if caller != a.router {
		return fmt.Errorf("%w: %s", ErrOnlyRouter, caller.Hex())
	}
	return nil
}

// AdapterRegistry maps (holder, asset) to the adapter holding that capital.
// It is the TotalAssetsReader behind virtual balance checks.
type AdapterRegistry struct {
	adapters map[holderAssetKey]Adapter
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		adapters: make(map[holderAssetKey]Adapter),
	}
}

// Register binds an adapter to holder and asset once
func (r *AdapterRegistry) Register(holder, asset common.Address, adapter Adapter) error {
	key := holderAssetKey{Holder: holder, Asset: asset}
	if _, ok := r.adapters[key]; ok {
		return fmt.Errorf("%w: %s/%s", ErrAdapterRegistered, holder.Hex(), asset.Hex())
	}
	r.adapters[key] = adapter
	return nil
}

// Adapter returns the adapter bound to holder and asset
func (r *AdapterRegistry) Adapter(holder, asset common.Address) (Adapter, error) {
	adapter, ok := r.adapters[holderAssetKey{Holder: holder, Asset: asset}]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrAdapterNotRegistered, holder.Hex(), asset.Hex())
	}
	return adapter, nil
}

func (r *AdapterRegistry) TotalAssets(holder, asset common.Address) (*uint256.Int, error) {
	adapter, err := r.Adapter(holder, asset)
	if err != nil {
		return nil, err
	}
	return adapter.TotalAssets(asset), nil
}
