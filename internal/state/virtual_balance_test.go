package state_test

import (
	"testing"

	"vaultrouter/internal/ledger"
	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	router      = common.HexToAddress("0x7777")
	vaultAdapt  = common.HexToAddress("0x3000")
	otherVault  = common.HexToAddress("0x1001")
	otherAdapt  = common.HexToAddress("0x3001")
	batchWindow = common.HexToHash("0xb1")
	otherWindow = common.HexToHash("0xb2")
)

type vbFixture struct {
	tracker  *ledger.BalanceTracker
	adapters *state.AdapterRegistry
	adapter  *state.MemoryAdapter
	vb       *state.VirtualBalanceLedger
}

func newVirtualBalances(t *testing.T) *vbFixture {
	t.Helper()
	tracker := ledger.NewBalanceTracker()
	adapters := state.NewAdapterRegistry()

	adapter := state.NewMemoryAdapter(vaultAdapt, router, tracker)
	require.NoError(t, adapters.Register(vault, usdc, adapter))
	require.NoError(t, adapters.Register(otherVault, usdc, state.NewMemoryAdapter(otherAdapt, router, tracker)))

	return &vbFixture{
		tracker:  tracker,
		adapters: adapters,
		adapter:  adapter,
		vb:       state.NewVirtualBalanceLedger(adapters),
	}
}

// ============================================================================
// Test: Solvency guard
// ============================================================================

func TestVirtualBalance_PullRequiresAdapterAssets(t *testing.T) {
	f := newVirtualBalances(t)
	require.NoError(t, f.adapter.SetTotalAssets(router, usdc, uint256.NewInt(999)))

	err := f.vb.RecordPullRequest(vault, usdc, batchWindow, uint256.NewInt(1_000))
	require.ErrorIs(t, err, state.ErrInsufficientVirtualBalance)
	require.ErrorIs(t, err, state.ErrSolvency)
	assert.True(t, f.vb.Entry(vault, usdc, batchWindow).Requested.IsZero())

	require.NoError(t, f.adapter.SetTotalAssets(router, usdc, uint256.NewInt(1_000)))
	require.NoError(t, f.vb.RecordPullRequest(vault, usdc, batchWindow, uint256.NewInt(1_000)))
	assert.Equal(t, uint64(1_000), f.vb.Entry(vault, usdc, batchWindow).Requested.Uint64())
}

func TestVirtualBalance_PullsAreCumulative(t *testing.T) {
	f := newVirtualBalances(t)
	require.NoError(t, f.adapter.SetTotalAssets(router, usdc, uint256.NewInt(100)))

	other := common.HexToHash("0xb2")
	require.NoError(t, f.vb.RecordPullRequest(vault, usdc, batchWindow, uint256.NewInt(60)))
	require.NoError(t, f.vb.RecordPullRequest(vault, usdc, other, uint256.NewInt(40)))
	require.ErrorIs(t, f.vb.RecordPullRequest(vault, usdc, other, uint256.NewInt(1)), state.ErrInsufficientVirtualBalance)

	assert.Equal(t, uint64(100), f.vb.Outstanding(vault, usdc).Uint64())
	assert.False(t, f.vb.Outstanding(vault, usdc).Gt(f.adapter.TotalAssets(usdc)))
}

func TestVirtualBalance_UnknownAdapter(t *testing.T) {
	f := newVirtualBalances(t)
	err := f.vb.RecordPullRequest(vault, weth, batchWindow, uint256.NewInt(1))
	require.ErrorIs(t, err, state.ErrAdapterNotRegistered)
}

// ============================================================================
// Test: Push / transfer / reconcile
// ============================================================================

func TestVirtualBalance_PushAccumulates(t *testing.T) {
	f := newVirtualBalances(t)
	require.NoError(t, f.vb.RecordPush(vault, usdc, batchWindow, uint256.NewInt(500)))
	require.NoError(t, f.vb.RecordPush(vault, usdc, batchWindow, uint256.NewInt(750)))
	require.ErrorIs(t, f.vb.RecordPush(vault, usdc, batchWindow, uint256.NewInt(0)), state.ErrZeroAmount)

	assert.Equal(t, uint64(1_250), f.vb.Entry(vault, usdc, batchWindow).Deposited.Uint64())

	huge := new(uint256.Int).SetAllOne()
	require.ErrorIs(t, f.vb.RecordPush(vault, usdc, batchWindow, huge), state.ErrAmountOverflow)
	assert.Equal(t, uint64(1_250), f.vb.Entry(vault, usdc, batchWindow).Deposited.Uint64())
}

func TestVirtualBalance_TransferIsAtomic(t *testing.T) {
	f := newVirtualBalances(t)
	require.NoError(t, f.adapter.SetTotalAssets(router, usdc, uint256.NewInt(300)))

	err := f.vb.RecordTransfer(vault, otherVault, usdc, batchWindow, otherWindow, uint256.NewInt(301))
	require.ErrorIs(t, err, state.ErrInsufficientVirtualBalance)
	assert.True(t, f.vb.Entry(vault, usdc, batchWindow).Requested.IsZero())
	assert.True(t, f.vb.Entry(otherVault, usdc, otherWindow).Deposited.IsZero())

	require.NoError(t, f.vb.RecordTransfer(vault, otherVault, usdc, batchWindow, otherWindow, uint256.NewInt(300)))
	assert.Equal(t, uint64(300), f.vb.Entry(vault, usdc, batchWindow).Requested.Uint64())
	assert.Equal(t, uint64(300), f.vb.Entry(otherVault, usdc, otherWindow).Deposited.Uint64())
}

func TestVirtualBalance_Reconcile(t *testing.T) {
	f := newVirtualBalances(t)
	require.NoError(t, f.adapter.SetTotalAssets(router, usdc, uint256.NewInt(1_000)))
	require.NoError(t, f.vb.RecordPush(vault, usdc, batchWindow, uint256.NewInt(400)))
	require.NoError(t, f.vb.RecordPullRequest(vault, usdc, batchWindow, uint256.NewInt(200)))

	_, err := f.vb.SettlementReconcile(vault, usdc, batchWindow, uint256.NewInt(401), uint256.NewInt(0))
	require.ErrorIs(t, err, state.ErrReconcileExceedsBalance)

	cleared, err := f.vb.SettlementReconcile(vault, usdc, batchWindow, uint256.NewInt(400), uint256.NewInt(200))
	require.NoError(t, err)
	assert.Equal(t, uint64(400), cleared.Deposited.Uint64())
	assert.Equal(t, uint64(200), cleared.Requested.Uint64())

	entry := f.vb.Entry(vault, usdc, batchWindow)
	assert.True(t, entry.Deposited.IsZero())
	assert.True(t, entry.Requested.IsZero())
	assert.True(t, f.vb.Outstanding(vault, usdc).IsZero())
}

func TestVirtualBalance_RevertPullReleasesOutstanding(t *testing.T) {
	f := newVirtualBalances(t)
	require.NoError(t, f.adapter.SetTotalAssets(router, usdc, uint256.NewInt(10)))
	require.NoError(t, f.vb.RecordPullRequest(vault, usdc, batchWindow, uint256.NewInt(10)))

	require.NoError(t, f.vb.RevertPullRequest(vault, usdc, batchWindow, uint256.NewInt(10)))
	assert.True(t, f.vb.Outstanding(vault, usdc).IsZero())
	require.NoError(t, f.vb.RecordPullRequest(vault, usdc, batchWindow, uint256.NewInt(10)))
}

// ============================================================================
// Test: Adapter and receiver
// ============================================================================

func TestMemoryAdapter_OnlyRouter(t *testing.T) {
	f := newVirtualBalances(t)

	require.ErrorIs(t, f.adapter.SetTotalAssets(stranger, usdc, uint256.NewInt(1)), state.ErrOnlyRouter)
	require.ErrorIs(t, f.adapter.Pull(stranger, usdc, ledger.NewAccountKey(alice, usdc), uint256.NewInt(1), ledger.JournalTypeReserve), state.ErrOnlyRouter)
}

func TestMemoryAdapter_SetTotalAssetsRealisesYieldAndLoss(t *testing.T) {
	f := newVirtualBalances(t)

	require.NoError(t, f.adapter.SetTotalAssets(router, usdc, uint256.NewInt(1_000)))
	assert.Equal(t, uint64(1_000), f.adapter.TotalAssets(usdc).Uint64())

	require.NoError(t, f.adapter.SetTotalAssets(router, usdc, uint256.NewInt(900)))
	assert.Equal(t, uint64(900), f.adapter.TotalAssets(usdc).Uint64())
	assert.Equal(t, uint64(900), f.tracker.TotalSupply(usdc).Uint64())

	require.NoError(t, f.adapter.Pull(router, usdc, ledger.NewAccountKey(alice, usdc), uint256.NewInt(100), ledger.JournalTypeReserve))
	assert.Equal(t, uint64(800), f.adapter.TotalAssets(usdc).Uint64())
	assert.Equal(t, uint64(100), f.tracker.BalanceOf(alice, usdc).Uint64())
}

func TestAdapterRegistry_RegisterOnce(t *testing.T) {
	f := newVirtualBalances(t)
	err := f.adapters.Register(vault, usdc, f.adapter)
	require.ErrorIs(t, err, state.ErrAdapterRegistered)
}

func TestBatchReceiver_PullAndRescue(t *testing.T) {
	tracker := ledger.NewBalanceTracker()
	batchID := state.BatchID(minter, usdc, 1)
	rcv := state.NewBatchReceiver(batchID, usdc, minter, newAuth(), tracker)

	require.NoError(t, tracker.Credit(rcv.Account(), uint256.NewInt(100), "fund", 0))
	rcv.Fund(uint256.NewInt(100))
	require.NoError(t, tracker.Credit(ledger.NewAccountKey(rcv.Address(), weth), uint256.NewInt(5), "stray", 0))

	require.ErrorIs(t, rcv.PullAssets(alice, alice, uint256.NewInt(1)), state.ErrOnlyMinter)

	// Batch asset is locked while claims are pending, other assets are not
	require.ErrorIs(t, rcv.RescueAssets(admin, usdc, admin, uint256.NewInt(1)), state.ErrAssetNotRescuable)
	require.ErrorIs(t, rcv.RescueAssets(stranger, weth, stranger, uint256.NewInt(5)), state.ErrUnauthorized)
	require.NoError(t, rcv.RescueAssets(admin, weth, admin, uint256.NewInt(5)))
	assert.Equal(t, uint64(5), tracker.BalanceOf(admin, weth).Uint64())

	require.NoError(t, rcv.PullAssets(minter, alice, uint256.NewInt(100)))
	assert.Equal(t, uint64(100), tracker.BalanceOf(alice, usdc).Uint64())
	assert.True(t, rcv.Pending().IsZero())

	require.NoError(t, tracker.Credit(rcv.Account(), uint256.NewInt(3), "dust", 0))
	require.NoError(t, rcv.RescueAssets(admin, usdc, admin, uint256.NewInt(3)))
}
