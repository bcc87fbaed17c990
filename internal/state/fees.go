package state

import (
	"fmt"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	fpmath "vaultrouter/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// FeeConfig holds the rates of one vault, in basis points
type FeeConfig struct {
	ManagementFeeBps  uint16
	PerformanceFeeBps uint16
	HurdleRateBps     uint16 // annualised
	HardHurdle        bool   // charge only the profit above the hurdle
}

func (c FeeConfig) validate() error {
	for _, bps := range []uint16{c.ManagementFeeBps, c.PerformanceFeeBps, c.HurdleRateBps} {
		if bps > fpmath.BpsDenominator {
			return fmt.Errorf("%w: %d bps", ErrInvalidFee, bps)
		}
	}
	return nil
}

// FeeState is the fee bookkeeping of one vault
type FeeState struct {
	Vault common.Address
	FeeConfig

	Watermark              *uint256.Int // highest net share price seen, never decreases
	LastManagementCharged  int64
	LastPerformanceCharged int64
}

// Fees is the result of a fee computation. Total is always the sum of the parts.
type Fees struct {
	Management  *uint256.Int
	Performance *uint256.Int
	Total       *uint256.Int
}

// ZeroFees returns an all-zero fee result
func ZeroFees() Fees {
	return Fees{
		Management:  new(uint256.Int),
		Performance: new(uint256.Int),
		Total:       new(uint256.Int),
	}
}

// FeeAccrualEngine computes management and performance fees lazily at
// settlement time and owns the watermark and fee checkpoints of every vault.
// Not thread-safe, only accessed from the serialised router.
type FeeAccrualEngine struct {
	auth     access.AuthorizationPort
	clock    config.Clock
	decimals uint8
	vaults   map[common.Address]*FeeState
}

func NewFeeAccrualEngine(auth access.AuthorizationPort, clock config.Clock, shareDecimals uint8) *FeeAccrualEngine {
	return &FeeAccrualEngine{
		auth:     auth,
		clock:    clock,
		decimals: shareDecimals,
		vaults:   make(map[common.Address]*FeeState),
	}
}

// RegisterVault starts fee tracking for vault. Checkpoints start now and the
// watermark at a share price of one.
func (fe *FeeAccrualEngine) RegisterVault(vault common.Address, cfg FeeConfig) error {
	if _, ok := fe.vaults[vault]; ok {
		return fmt.Errorf("%w: %s", ErrVaultRegistered, vault.Hex())
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	now := fe.clock.Now().Unix()
	fe.vaults[vault] = &FeeState{
		Vault:                  vault,
		FeeConfig:              cfg,
		Watermark:              fpmath.Unit(fe.decimals),
		LastManagementCharged:  now,
		LastPerformanceCharged: now,
	}
	return nil
}

// State returns a copy of the vault's fee state
func (fe *FeeAccrualEngine) State(vault common.Address) (FeeState, error) {
	fs, err := fe.lookup(vault)
	if err != nil {
		return FeeState{}, err
	}
	c := *fs
	c.Watermark = fs.Watermark.Clone()
	return c, nil
}

func (fe *FeeAccrualEngine) SetManagementFee(caller, vault common.Address, bps uint16) error {
	return fe.configure(caller, vault, func(c *FeeConfig) { c.ManagementFeeBps = bps })
}

func (fe *FeeAccrualEngine) SetPerformanceFee(caller, vault common.Address, bps uint16) error {
	return fe.configure(caller, vault, func(c *FeeConfig) { c.PerformanceFeeBps = bps })
}

func (fe *FeeAccrualEngine) SetHurdleRate(caller, vault common.Address, bps uint16, hard bool) error {
	return fe.configure(caller, vault, func(c *FeeConfig) {
		c.HurdleRateBps = bps
		c.HardHurdle = hard
	})
}

func (fe *FeeAccrualEngine) configure(caller, vault common.Address, apply func(*FeeConfig)) error {
	if err := fe.auth.Require(caller, access.CapAdmin); err != nil {
		return err
	}
	fs, err := fe.lookup(vault)
	if err != nil {
		return err
	}

	next := fs.FeeConfig
	apply(&next)
	if err := next.validate(); err != nil {
		return err
	}

	fs.FeeConfig = next
	return nil
}

// ComputeLastBatchFees returns the fees accrued since the vault's checkpoints
// on totalAssets held for totalSupply shares, as of now.
func (fe *FeeAccrualEngine) ComputeLastBatchFees(vault common.Address, totalAssets, totalSupply *uint256.Int) (Fees, error) {
	fs, err := fe.lookup(vault)
	if err != nil {
		return Fees{}, err
	}
	return fe.computeAt(fs, totalAssets, totalSupply, fe.clock.Now().Unix())
}

func (fe *FeeAccrualEngine) computeAt(fs *FeeState, totalAssets, totalSupply *uint256.Int, now int64) (Fees, error) {
	fees := ZeroFees()
	yearBps := uint256.NewInt(fpmath.SecondsPerYear * fpmath.BpsDenominator)

	// Management: totalAssets * bps * elapsed / (year * 10000)
	if elapsed := now - fs.LastManagementCharged; elapsed > 0 && fs.ManagementFeeBps > 0 {
		rate := new(uint256.Int).Mul(uint256.NewInt(uint64(fs.ManagementFeeBps)), uint256.NewInt(uint64(elapsed)))
		mgmt, err := fpmath.MulDiv(totalAssets, rate, yearBps, fpmath.RoundDown)
		if err != nil {
			return Fees{}, fmt.Errorf("management fee: %w", err)
		}
		if mgmt.Gt(totalAssets) {
			mgmt = totalAssets.Clone()
		}
		fees.Management = mgmt
	}

	afterManagement := new(uint256.Int).Sub(totalAssets, fees.Management)

	perf, err := fe.performanceFee(fs, afterManagement, totalSupply, now)
	if err != nil {
		return Fees{}, err
	}
	fees.Performance = perf

	fees.Total = new(uint256.Int).Add(fees.Management, fees.Performance)
	return fees, nil
}

// performanceFee charges perfBps on profit above the watermark reference,
// subject to the hurdle. No shares, no profit.
func (fe *FeeAccrualEngine) performanceFee(fs *FeeState, assets, supply *uint256.Int, now int64) (*uint256.Int, error) {
	zero := new(uint256.Int)
	if fs.PerformanceFeeBps == 0 || supply.IsZero() {
		return zero, nil
	}

	price, err := fpmath.SharePrice(assets, supply, fe.decimals)
	if err != nil {
		return nil, fmt.Errorf("share price: %w", err)
	}
	if !price.Gt(fs.Watermark) {
		return zero, nil
	}

	reference, err := fpmath.MulDiv(supply, fs.Watermark, fpmath.Unit(fe.decimals), fpmath.RoundDown)
	if err != nil {
		return nil, fmt.Errorf("watermark reference: %w", err)
	}
	profit := fpmath.SaturatingSub(assets, reference)

	hurdle := new(uint256.Int)
	if elapsed := now - fs.LastPerformanceCharged; elapsed > 0 && fs.HurdleRateBps > 0 {
		rate := new(uint256.Int).Mul(uint256.NewInt(uint64(fs.HurdleRateBps)), uint256.NewInt(uint64(elapsed)))
		hurdle, err = fpmath.MulDiv(reference, rate, uint256.NewInt(fpmath.SecondsPerYear*fpmath.BpsDenominator), fpmath.RoundDown)
		if err != nil {
			return nil, fmt.Errorf("hurdle: %w", err)
		}
	}

	if !profit.Gt(hurdle) {
		return zero, nil
	}

	base := profit
	if fs.HardHurdle {
		base = new(uint256.Int).Sub(profit, hurdle)
	}

	return fpmath.ApplyBps(base, fs.PerformanceFeeBps), nil
}

// CheckManagementCheckpoint validates ts as the next management checkpoint
func (fe *FeeAccrualEngine) CheckManagementCheckpoint(vault common.Address, ts int64) error {
	fs, err := fe.lookup(vault)
	if err != nil {
		return err
	}
	return fe.checkCheckpoint(fs.LastManagementCharged, ts)
}

// CheckPerformanceCheckpoint validates ts as the next performance checkpoint
func (fe *FeeAccrualEngine) CheckPerformanceCheckpoint(vault common.Address, ts int64) error {
	fs, err := fe.lookup(vault)
	if err != nil {
		return err
	}
	return fe.checkCheckpoint(fs.LastPerformanceCharged, ts)
}

func (fe *FeeAccrualEngine) checkCheckpoint(last, ts int64) error {
	if ts < last {
		return fmt.Errorf("%w: %d before last checkpoint %d", ErrInvalidTimestamp, ts, last)
	}
	if now := fe.clock.Now().Unix(); ts > now {
		return fmt.Errorf("%w: %d is in the future (now %d)", ErrInvalidTimestamp, ts, now)
	}
	return nil
}

// NotifyManagementFeesCharged moves the management checkpoint forward to ts
func (fe *FeeAccrualEngine) NotifyManagementFeesCharged(caller, vault common.Address, ts int64) error {
	if err := fe.auth.Require(caller, access.CapSettlementAuthority); err != nil {
		return err
	}
	if err := fe.CheckManagementCheckpoint(vault, ts); err != nil {
		return err
	}
	fe.vaults[vault].LastManagementCharged = ts
	return nil
}

// NotifyPerformanceFeesCharged moves the performance checkpoint forward to ts
func (fe *FeeAccrualEngine) NotifyPerformanceFeesCharged(caller, vault common.Address, ts int64) error {
	if err := fe.auth.Require(caller, access.CapSettlementAuthority); err != nil {
		return err
	}
	if err := fe.CheckPerformanceCheckpoint(vault, ts); err != nil {
		return err
	}
	fe.vaults[vault].LastPerformanceCharged = ts
	return nil
}

// AdvanceWatermark raises the watermark to price when price is higher.
// Returns whether it moved.
func (fe *FeeAccrualEngine) AdvanceWatermark(caller, vault common.Address, price *uint256.Int) (bool, error) {
	if err := fe.auth.Require(caller, access.CapSettlementAuthority); err != nil {
		return false, err
	}
	fs, err := fe.lookup(vault)
	if err != nil {
		return false, err
	}

	if !price.Gt(fs.Watermark) {
		return false, nil
	}
	fs.Watermark = price.Clone()
	return true, nil
}

// Watermark returns the vault's current share price watermark
func (fe *FeeAccrualEngine) Watermark(vault common.Address) (*uint256.Int, error) {
	fs, err := fe.lookup(vault)
	if err != nil {
		return nil, err
	}
	return fs.Watermark.Clone(), nil
}

func (fe *FeeAccrualEngine) NextManagementFeeTimestamp(vault common.Address) (int64, error) {
	fs, err := fe.lookup(vault)
	if err != nil {
		return 0, err
	}
	return NextMonthEnd(fs.LastManagementCharged), nil
}

func (fe *FeeAccrualEngine) NextPerformanceFeeTimestamp(vault common.Address) (int64, error) {
	fs, err := fe.lookup(vault)
	if err != nil {
		return 0, err
	}
	return NextQuarterEnd(fs.LastPerformanceCharged), nil
}

func (fe *FeeAccrualEngine) lookup(vault common.Address) (*FeeState, error) {
	fs, ok := fe.vaults[vault]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVaultNotFound, vault.Hex())
	}
	return fs, nil
}
