package state_test

import (
	"testing"
	"time"

	"vaultrouter/internal/config"
	fpmath "vaultrouter/internal/math"
	"vaultrouter/internal/state"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const year = fpmath.SecondsPerYear * time.Second

func newFees(t *testing.T, cfg state.FeeConfig) (*state.FeeAccrualEngine, *config.ManualClock) {
	t.Helper()
	clock := newClock()
	fe := state.NewFeeAccrualEngine(newAuth(), clock, fpmath.DefaultShareDecimals)
	require.NoError(t, fe.RegisterVault(vault, cfg))
	return fe, clock
}

func u(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func assertFees(t *testing.T, fees state.Fees, management, performance uint64) {
	t.Helper()
	assert.Equal(t, management, fees.Management.Uint64(), "management")
	assert.Equal(t, performance, fees.Performance.Uint64(), "performance")
	assert.Equal(t, management+performance, fees.Total.Uint64(), "total")
}

// ============================================================================
// Test: Management fee
// ============================================================================

func TestFees_OnePercentForOneYear(t *testing.T) {
	fe, clock := newFees(t, state.FeeConfig{ManagementFeeBps: 100, PerformanceFeeBps: 2_000})
	clock.Advance(year)

	fees, err := fe.ComputeLastBatchFees(vault, u(1_000_000), u(1_000_000))
	require.NoError(t, err)
	assertFees(t, fees, 10_000, 0)
}

func TestFees_ZeroElapsedIsZeroManagement(t *testing.T) {
	fe, _ := newFees(t, state.FeeConfig{ManagementFeeBps: 200})

	fees, err := fe.ComputeLastBatchFees(vault, u(1_000_000), u(1_000_000))
	require.NoError(t, err)
	assertFees(t, fees, 0, 0)
}

func TestFees_ManagementRoundsDown(t *testing.T) {
	fe, clock := newFees(t, state.FeeConfig{ManagementFeeBps: 100})
	clock.Advance(24 * time.Hour)

	// 1_000_000 * 100 * 86400 / (31_536_000 * 10_000) = 27.39...
	fees, err := fe.ComputeLastBatchFees(vault, u(1_000_000), u(1_000_000))
	require.NoError(t, err)
	assertFees(t, fees, 27, 0)
}

// ============================================================================
// Test: Performance fee, hurdle and watermark
// ============================================================================

func TestFees_PerformanceHurdle(t *testing.T) {
	tests := []struct {
		name   string
		hard   bool
		assets uint64
		want   uint64
	}{
		{"soft hurdle charges whole profit", false, 1_100_000, 20_000},
		{"hard hurdle charges excess only", true, 1_100_000, 10_000},
		{"soft below hurdle", false, 1_040_000, 0},
		{"hard below hurdle", true, 1_040_000, 0},
		{"soft exactly at hurdle", false, 1_050_000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fe, clock := newFees(t, state.FeeConfig{
				PerformanceFeeBps: 2_000,
				HurdleRateBps:     500,
				HardHurdle:        tt.hard,
			})
			clock.Advance(year)

			fees, err := fe.ComputeLastBatchFees(vault, u(tt.assets), u(1_000_000))
			require.NoError(t, err)
			assertFees(t, fees, 0, tt.want)
		})
	}
}

func TestFees_NoPerformanceBelowWatermark(t *testing.T) {
	fe, clock := newFees(t, state.FeeConfig{PerformanceFeeBps: 2_000})
	clock.Advance(year)

	high := new(uint256.Int).Mul(u(12), fpmath.Unit(17)) // 1.2
	moved, err := fe.AdvanceWatermark(authority, vault, high)
	require.NoError(t, err)
	require.True(t, moved)

	fees, err := fe.ComputeLastBatchFees(vault, u(1_100_000), u(1_000_000))
	require.NoError(t, err)
	assertFees(t, fees, 0, 0)
}

func TestFees_NoPerformanceWithoutShares(t *testing.T) {
	fe, clock := newFees(t, state.FeeConfig{PerformanceFeeBps: 2_000})
	clock.Advance(year)

	fees, err := fe.ComputeLastBatchFees(vault, u(1_000), u(0))
	require.NoError(t, err)
	assertFees(t, fees, 0, 0)
}

func TestFees_PerformanceAfterManagement(t *testing.T) {
	fe, clock := newFees(t, state.FeeConfig{ManagementFeeBps: 100, PerformanceFeeBps: 1_000})
	clock.Advance(year)

	// mgmt = 12_000; after = 1_188_000; profit = 188_000; perf = 18_800
	fees, err := fe.ComputeLastBatchFees(vault, u(1_200_000), u(1_000_000))
	require.NoError(t, err)
	assertFees(t, fees, 12_000, 18_800)
}

func TestFees_WatermarkNeverDecreases(t *testing.T) {
	fe, _ := newFees(t, state.FeeConfig{})
	unit := fpmath.Unit(fpmath.DefaultShareDecimals)

	prices := []*uint256.Int{
		new(uint256.Int).Add(unit, u(10)),
		new(uint256.Int).Sub(unit, u(10)),
		new(uint256.Int).Add(unit, u(5)),
		new(uint256.Int).Add(unit, u(50)),
	}

	before, err := fe.Watermark(vault)
	require.NoError(t, err)
	for _, p := range prices {
		_, err := fe.AdvanceWatermark(authority, vault, p)
		require.NoError(t, err)

		after, err := fe.Watermark(vault)
		require.NoError(t, err)
		assert.False(t, after.Lt(before))
		before = after
	}
	assert.Equal(t, new(uint256.Int).Add(unit, u(50)), before)

	_, err = fe.AdvanceWatermark(relayer, vault, new(uint256.Int).Mul(unit, u(2)))
	require.ErrorIs(t, err, state.ErrUnauthorized)
}

// ============================================================================
// Test: Checkpoints and configuration
// ============================================================================

func TestFees_NotifyCheckpoints(t *testing.T) {
	fe, clock := newFees(t, state.FeeConfig{ManagementFeeBps: 100})
	clock.Advance(time.Hour)
	now := clock.Now().Unix()

	require.ErrorIs(t, fe.NotifyManagementFeesCharged(relayer, vault, now), state.ErrUnauthorized)
	require.ErrorIs(t, fe.NotifyManagementFeesCharged(authority, vault, now+1), state.ErrInvalidTimestamp)
	require.ErrorIs(t, fe.NotifyManagementFeesCharged(authority, vault, genesis.Unix()-1), state.ErrInvalidTimestamp)

	require.NoError(t, fe.NotifyManagementFeesCharged(authority, vault, now))
	require.ErrorIs(t, fe.NotifyManagementFeesCharged(authority, vault, now-1), state.ErrInvalidTimestamp)
	require.NoError(t, fe.NotifyPerformanceFeesCharged(authority, vault, now))

	fs, err := fe.State(vault)
	require.NoError(t, err)
	assert.Equal(t, now, fs.LastManagementCharged)
	assert.Equal(t, now, fs.LastPerformanceCharged)

	// Accrual restarts from the checkpoint
	fees, err := fe.ComputeLastBatchFees(vault, u(1_000_000), u(1_000_000))
	require.NoError(t, err)
	assert.True(t, fees.Management.IsZero())
}

func TestFees_Configuration(t *testing.T) {
	fe, _ := newFees(t, state.FeeConfig{})

	require.ErrorIs(t, fe.SetManagementFee(relayer, vault, 100), state.ErrUnauthorized)
	require.ErrorIs(t, fe.SetPerformanceFee(admin, vault, 10_001), state.ErrInvalidFee)
	require.ErrorIs(t, fe.SetManagementFee(admin, minter, 100), state.ErrVaultNotFound)

	require.NoError(t, fe.SetManagementFee(admin, vault, 150))
	require.NoError(t, fe.SetHurdleRate(admin, vault, 400, true))

	fs, err := fe.State(vault)
	require.NoError(t, err)
	assert.Equal(t, uint16(150), fs.ManagementFeeBps)
	assert.Equal(t, uint16(400), fs.HurdleRateBps)
	assert.True(t, fs.HardHurdle)

	require.ErrorIs(t, fe.RegisterVault(vault, state.FeeConfig{}), state.ErrVaultRegistered)
}

// ============================================================================
// Test: Fee calendar
// ============================================================================

func TestFeeCalendar(t *testing.T) {
	at := func(y int, m time.Month, d, h, mi, s int) int64 {
		return time.Date(y, m, d, h, mi, s, 0, time.UTC).Unix()
	}

	tests := []struct {
		name    string
		from    int64
		month   int64
		quarter int64
	}{
		{"mid january", at(2025, 1, 15, 12, 0, 0), at(2025, 1, 31, 23, 59, 59), at(2025, 3, 31, 23, 59, 59)},
		{"on month end", at(2025, 1, 31, 23, 59, 59), at(2025, 2, 28, 23, 59, 59), at(2025, 3, 31, 23, 59, 59)},
		{"on quarter end", at(2025, 6, 30, 23, 59, 59), at(2025, 7, 31, 23, 59, 59), at(2025, 9, 30, 23, 59, 59)},
		{"year rollover", at(2025, 12, 31, 23, 59, 59), at(2026, 1, 31, 23, 59, 59), at(2026, 3, 31, 23, 59, 59)},
		{"leap february", at(2024, 2, 10, 0, 0, 0), at(2024, 2, 29, 23, 59, 59), at(2024, 3, 31, 23, 59, 59)},
		{"first second of quarter", at(2025, 10, 1, 0, 0, 0), at(2025, 10, 31, 23, 59, 59), at(2025, 12, 31, 23, 59, 59)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.month, state.NextMonthEnd(tt.from))
			assert.Equal(t, tt.quarter, state.NextQuarterEnd(tt.from))
		})
	}
}

func TestFees_NextTimestampsFollowCheckpoints(t *testing.T) {
	fe, _ := newFees(t, state.FeeConfig{})

	mgmt, err := fe.NextManagementFeeTimestamp(vault)
	require.NoError(t, err)
	perf, err := fe.NextPerformanceFeeTimestamp(vault)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2025, 1, 31, 23, 59, 59, 0, time.UTC).Unix(), mgmt)
	assert.Equal(t, time.Date(2025, 3, 31, 23, 59, 59, 0, time.UTC).Unix(), perf)
}
