package core

import (
	"context"
	"fmt"
	"time"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	"vaultrouter/internal/event"
	"vaultrouter/internal/ledger"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// VaultParams describes a vault at registration. The vault address doubles
// as its share token.
type VaultParams struct {
	Vault    common.Address
	Asset    common.Address
	Adapter  state.Adapter
	Treasury common.Address
	Fees     state.FeeConfig
}

// NewMemoryAdapter returns a ledger-backed adapter the router may drive
func (r *Router) NewMemoryAdapter(address common.Address) *state.MemoryAdapter {
	return state.NewMemoryAdapter(address, r.identity, r.ledger)
}

// RegisterVault adds a vault with its adapter and fee configuration
func (r *Router) RegisterVault(ctx context.Context, caller common.Address, p VaultParams) error {
	return r.run(ctx, "register_vault", func() ([]event.Event, error) {
		if err := r.auth.Require(caller, access.CapAdmin); err != nil {
			return nil, err
		}
		if p.Vault == (common.Address{}) || p.Asset == (common.Address{}) || p.Treasury == (common.Address{}) {
			return nil, state.ErrZeroAddress
		}
		if p.Adapter == nil {
			return nil, fmt.Errorf("%w: vault %s has no adapter", state.ErrAdapterNotRegistered, p.Vault.Hex())
		}
		if p.Vault == r.minter {
			return nil, fmt.Errorf("%w: %s is the minter", ErrHolderRegistered, p.Vault.Hex())
		}
		if _, err := r.holders.Get(p.Vault); err == nil {
			return nil, fmt.Errorf("%w: %s", ErrHolderRegistered, p.Vault.Hex())
		}
		if err := r.fees.RegisterVault(p.Vault, p.Fees); err != nil {
			return nil, err
		}

		batches := state.NewBatchLedger(p.Vault, r.auth, r.cfg)
		holder := &Holder{
			Address:     p.Vault,
			Kind:        HolderVault,
			Treasury:    p.Treasury,
			Batches:     batches,
			Requests:    state.NewRequestStore(batches, r.auth, r.cfg),
			shareTokens: map[common.Address]common.Address{p.Asset: p.Vault},
		}
		if err := r.holders.add(holder); err != nil {
			return nil, err
		}
		if err := r.adapters.Register(p.Vault, p.Asset, p.Adapter); err != nil {
			return nil, err
		}

		r.log.Info().Str("vault", p.Vault.Hex()).Str("asset", p.Asset.Hex()).Msg("vault registered")
		return []event.Event{&event.VaultRegistered{
			Holder:            p.Vault.Hex(),
			Asset:             p.Asset.Hex(),
			ShareToken:        p.Vault.Hex(),
			Adapter:           p.Adapter.Address().Hex(),
			ManagementFeeBps:  p.Fees.ManagementFeeBps,
			PerformanceFeeBps: p.Fees.PerformanceFeeBps,
			HurdleRateBps:     p.Fees.HurdleRateBps,
			HardHurdle:        p.Fees.HardHurdle,
		}}, nil
	})
}

// RegisterMinterAsset lets the minter accept asset, issuing kToken one to one
func (r *Router) RegisterMinterAsset(ctx context.Context, caller, asset, kToken common.Address, adapter state.Adapter) error {
	return r.run(ctx, "register_minter_asset", func() ([]event.Event, error) {
		if err := r.auth.Require(caller, access.CapAdmin); err != nil {
			return nil, err
		}
		if r.minter == (common.Address{}) || asset == (common.Address{}) || kToken == (common.Address{}) {
			return nil, state.ErrZeroAddress
		}
		if adapter == nil {
			return nil, fmt.Errorf("%w: minter asset %s has no adapter", state.ErrAdapterNotRegistered, asset.Hex())
		}

		holder, err := r.holders.Get(r.minter)
		if err != nil {
			batches := state.NewBatchLedger(r.minter, r.auth, r.cfg)
			holder = &Holder{
				Address:     r.minter,
				Kind:        HolderMinter,
				Batches:     batches,
				Requests:    state.NewCustodialRequestStore(batches, r.auth, r.cfg),
				shareTokens: make(map[common.Address]common.Address),
				receivers:   make(map[common.Hash]*state.BatchReceiver),
			}
			if err := r.holders.add(holder); err != nil {
				return nil, err
			}
		}
		if _, ok := holder.shareTokens[asset]; ok {
			return nil, fmt.Errorf("%w: minter already settles %s", state.ErrAdapterRegistered, asset.Hex())
		}
		if err := r.adapters.Register(r.minter, asset, adapter); err != nil {
			return nil, err
		}
		holder.shareTokens[asset] = kToken

		r.log.Info().Str("asset", asset.Hex()).Str("ktoken", kToken.Hex()).Msg("minter asset registered")
		return []event.Event{&event.VaultRegistered{
			Holder:     r.minter.Hex(),
			Asset:      asset.Hex(),
			ShareToken: kToken.Hex(),
			Adapter:    adapter.Address().Hex(),
			Minter:     true,
		}}, nil
	})
}

// Deposit credits tokens that arrived from outside the ledger
func (r *Router) Deposit(ctx context.Context, caller, account, asset common.Address, amount *uint256.Int) error {
	return r.run(ctx, "deposit", func() ([]event.Event, error) {
		if err := r.cfg.RequireNotPaused(config.ModuleRouter); err != nil {
			return nil, err
		}
		if err := r.auth.Require(caller, access.CapRelayer); err != nil {
			return nil, err
		}
		if amount == nil || amount.IsZero() {
			return nil, state.ErrZeroAmount
		}
		if account == (common.Address{}) || asset == (common.Address{}) {
			return nil, state.ErrZeroAddress
		}

		posting := ledger.NewPosting("deposit:"+account.Hex(), r.cfg.Now().Unix()).
			Mint(ledger.NewAccountKey(account, asset), amount).
			Build()
		if err := r.ledger.CheckPosting(posting); err != nil {
			return nil, err
		}
		r.applyPosting(posting)

		return []event.Event{&event.AssetsDeposited{
			Account: account.Hex(),
			Asset:   asset.Hex(),
			Amount:  amount.Dec(),
		}}, nil
	})
}

// SetPaused flips the pause flag of one module
func (r *Router) SetPaused(ctx context.Context, caller common.Address, module config.Module, paused bool) error {
	return r.run(ctx, "set_paused", func() ([]event.Event, error) {
		if err := r.cfg.SetPaused(caller, module, paused); err != nil {
			return nil, err
		}
		r.log.Warn().Str("module", string(module)).Bool("paused", paused).Msg("pause changed")
		return []event.Event{&event.PauseChanged{Module: string(module), Paused: paused}}, nil
	})
}

// SetSettlementCooldown changes the delay between proposal and execution
func (r *Router) SetSettlementCooldown(ctx context.Context, caller common.Address, cooldown time.Duration) error {
	return r.run(ctx, "set_cooldown", func() ([]event.Event, error) {
		if err := r.cfg.SetSettlementCooldown(caller, cooldown); err != nil {
			return nil, err
		}
		return []event.Event{&event.CooldownChanged{Seconds: int64(cooldown.Seconds())}}, nil
	})
}

// SetManagementFee changes a vault's annual management fee
func (r *Router) SetManagementFee(ctx context.Context, caller, vault common.Address, bps uint16) error {
	return r.configureFees(ctx, "set_management_fee", vault, func() error {
		return r.fees.SetManagementFee(caller, vault, bps)
	})
}

// SetPerformanceFee changes a vault's performance fee
func (r *Router) SetPerformanceFee(ctx context.Context, caller, vault common.Address, bps uint16) error {
	return r.configureFees(ctx, "set_performance_fee", vault, func() error {
		return r.fees.SetPerformanceFee(caller, vault, bps)
	})
}

// SetHurdleRate changes a vault's annual hurdle and whether it is hard
func (r *Router) SetHurdleRate(ctx context.Context, caller, vault common.Address, bps uint16, hard bool) error {
	return r.configureFees(ctx, "set_hurdle_rate", vault, func() error {
		return r.fees.SetHurdleRate(caller, vault, bps, hard)
	})
}

func (r *Router) configureFees(ctx context.Context, op string, vault common.Address, apply func() error) error {
	return r.run(ctx, op, func() ([]event.Event, error) {
		if err := apply(); err != nil {
			return nil, err
		}
		fs, err := r.fees.State(vault)
		if err != nil {
			return nil, err
		}
		return []event.Event{&event.FeeConfigChanged{
			Vault:             vault.Hex(),
			ManagementFeeBps:  fs.ManagementFeeBps,
			PerformanceFeeBps: fs.PerformanceFeeBps,
			HurdleRateBps:     fs.HurdleRateBps,
			HardHurdle:        fs.HardHurdle,
		}}, nil
	})
}

// RescueReceiverAssets moves stray tokens out of a burn batch receiver
func (r *Router) RescueReceiverAssets(ctx context.Context, caller common.Address, batchID common.Hash, asset, to common.Address, amount *uint256.Int) error {
	return r.run(ctx, "rescue_receiver_assets", func() ([]event.Event, error) {
		holder, err := r.holders.Get(r.minter)
		if err != nil {
			return nil, err
		}
		receiver, ok := holder.Receiver(batchID)
		if !ok {
			return nil, fmt.Errorf("%w: no receiver for batch %s", state.ErrBatchNotValid, batchID.Hex())
		}
		if err := receiver.RescueAssets(caller, asset, to, amount); err != nil {
			return nil, err
		}
		r.log.Warn().Str("receiver", receiver.Address().Hex()).Str("amount", amount.Dec()).Msg("receiver assets rescued")
		return []event.Event{&event.ReceiverRescued{
			BatchID:  batchID.Hex(),
			Receiver: receiver.Address().Hex(),
			Asset:    asset.Hex(),
			To:       to.Hex(),
			Amount:   amount.Dec(),
		}}, nil
	})
}
