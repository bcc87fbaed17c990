package core

import (
	"fmt"

	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

type HolderKind uint8

const (
	HolderVault HolderKind = iota
	HolderMinter
)

func (k HolderKind) String() string {
	if k == HolderMinter {
		return "minter"
	}
	return "vault"
}

// Holder is a vault or the minter together with the batch and request
// state it owns. A vault settles one asset and its share token is the vault
// address itself; the minter settles many assets, each with its own kToken
// priced one to one.
type Holder struct {
	Address  common.Address
	Kind     HolderKind
	Treasury common.Address // fee recipient, vaults only

	Batches  *state.BatchLedger
	Requests *state.RequestStore

	shareTokens map[common.Address]common.Address    // asset -> share token
	receivers   map[common.Hash]*state.BatchReceiver // batch -> receiver, minter only
}

// ShareToken returns the token minted against asset
func (h *Holder) ShareToken(asset common.Address) (common.Address, error) {
	token, ok := h.shareTokens[asset]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s does not settle %s", ErrUnknownAsset, h.Address.Hex(), asset.Hex())
	}
	return token, nil
}

// Assets returns every asset the holder settles
func (h *Holder) Assets() []common.Address {
	assets := make([]common.Address, 0, len(h.shareTokens))
	for asset := range h.shareTokens {
		assets = append(assets, asset)
	}
	return assets
}

// Receiver returns the batch receiver of a burn batch
func (h *Holder) Receiver(batchID common.Hash) (*state.BatchReceiver, bool) {
	r, ok := h.receivers[batchID]
	return r, ok
}

// HolderRegistry indexes holders by address.
// Not thread-safe, only accessed from the serialised router.
type HolderRegistry struct {
	holders map[common.Address]*Holder
}

func NewHolderRegistry() *HolderRegistry {
	return &HolderRegistry{
		holders: make(map[common.Address]*Holder),
	}
}

func (r *HolderRegistry) add(h *Holder) error {
	if _, ok := r.holders[h.Address]; ok {
		return fmt.Errorf("%w: %s", ErrHolderRegistered, h.Address.Hex())
	}
	r.holders[h.Address] = h
	return nil
}

// Get returns the holder registered at address
func (r *HolderRegistry) Get(address common.Address) (*Holder, error) {
	h, ok := r.holders[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHolderNotFound, address.Hex())
	}
	return h, nil
}

// All returns every registered holder
func (r *HolderRegistry) All() []*Holder {
	out := make([]*Holder, 0, len(r.holders))
	for _, h := range r.holders {
		out = append(out, h)
	}
	return out
}
