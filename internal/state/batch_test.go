package state_test

import (
	"testing"

	"vaultrouter/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test: BatchLedger lifecycle
// ============================================================================

func TestBatchLedger_GetBatchIDIsPure(t *testing.T) {
	bl := state.NewBatchLedger(vault, newAuth(), newClock())

	next := bl.GetBatchID(usdc)
	assert.Equal(t, state.BatchID(vault, usdc, 1), next)
	assert.Equal(t, next, bl.GetBatchID(usdc))
	assert.False(t, bl.HasActiveBatch(usdc))

	id, err := bl.CreateNewBatch(relayer, usdc)
	require.NoError(t, err)
	assert.Equal(t, next, id)
	assert.Equal(t, id, bl.GetBatchID(usdc))
}

func TestBatchLedger_CreateRequiresRelayer(t *testing.T) {
	bl := state.NewBatchLedger(vault, newAuth(), newClock())

	_, err := bl.CreateNewBatch(stranger, usdc)
	require.ErrorIs(t, err, state.ErrUnauthorized)
	assert.False(t, bl.HasActiveBatch(usdc))
}

func TestBatchLedger_CreateRollsForward(t *testing.T) {
	bl := state.NewBatchLedger(vault, newAuth(), newClock())

	first, err := bl.CreateNewBatch(relayer, usdc)
	require.NoError(t, err)
	second, err := bl.CreateNewBatch(relayer, usdc)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.True(t, bl.IsClosed(first))
	assert.False(t, bl.IsClosed(second))
	assert.Equal(t, uint64(2), bl.LastNumber(usdc))
}

func TestBatchLedger_CloseWithNext(t *testing.T) {
	bl := state.NewBatchLedger(vault, newAuth(), newClock())
	id, err := bl.CreateNewBatch(relayer, usdc)
	require.NoError(t, err)

	require.NoError(t, bl.CloseBatch(relayer, id, true))

	assert.True(t, bl.IsClosed(id))
	assert.True(t, bl.HasActiveBatch(usdc))
	assert.Equal(t, state.BatchID(vault, usdc, 2), bl.GetBatchID(usdc))
}

func TestBatchLedger_CloseGuards(t *testing.T) {
	bl := state.NewBatchLedger(vault, newAuth(), newClock())
	id, err := bl.CreateNewBatch(relayer, usdc)
	require.NoError(t, err)

	require.ErrorIs(t, bl.CloseBatch(relayer, common.Hash{}, false), state.ErrBatchNotValid)
	require.ErrorIs(t, bl.CloseBatch(relayer, common.HexToHash("0x1234"), false), state.ErrBatchNotValid)
	require.ErrorIs(t, bl.CloseBatch(stranger, id, false), state.ErrUnauthorized)

	require.NoError(t, bl.CloseBatch(relayer, id, false))
	require.ErrorIs(t, bl.CloseBatch(relayer, id, false), state.ErrBatchClosed)
	assert.False(t, bl.HasActiveBatch(usdc))
}

func TestBatchLedger_SettleGuards(t *testing.T) {
	bl := state.NewBatchLedger(vault, newAuth(), newClock())
	id, err := bl.CreateNewBatch(relayer, usdc)
	require.NoError(t, err)

	require.ErrorIs(t, bl.SettleBatch(authority, id), state.ErrBatchNotClosed)
	require.NoError(t, bl.CloseBatch(relayer, id, false))
	require.ErrorIs(t, bl.SettleBatch(relayer, id), state.ErrUnauthorized)

	require.NoError(t, bl.SettleBatch(authority, id))
	assert.True(t, bl.IsSettled(id))
	assert.True(t, bl.IsClosed(id))

	require.ErrorIs(t, bl.SettleBatch(authority, id), state.ErrBatchSettled)
}

func TestBatchLedger_Monotonic(t *testing.T) {
	bl := state.NewBatchLedger(vault, newAuth(), newClock())

	var last uint64
	for i := 0; i < 10; i++ {
		var id common.Hash
		var err error
		if i%2 == 0 {
			id, err = bl.CreateNewBatch(relayer, usdc)
			require.NoError(t, err)
		} else {
			current := bl.GetBatchID(usdc)
			require.NoError(t, bl.CloseBatch(relayer, current, true))
			id = bl.GetBatchID(usdc)
		}

		batch, ok := bl.Batch(id)
		require.True(t, ok)
		assert.Greater(t, batch.Number, last)
		last = batch.Number
	}

	// Only the latest batch is open
	for n := uint64(1); n < last; n++ {
		assert.True(t, bl.IsClosed(state.BatchID(vault, usdc, n)))
	}
	assert.False(t, bl.IsClosed(state.BatchID(vault, usdc, last)))
}

func TestBatchLedger_AssetsAreIndependent(t *testing.T) {
	bl := state.NewBatchLedger(minter, newAuth(), newClock())

	a, err := bl.CreateNewBatch(relayer, usdc)
	require.NoError(t, err)
	b, err := bl.CreateNewBatch(relayer, weth)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.False(t, bl.IsClosed(a))
	assert.False(t, bl.IsClosed(b))
}

func TestBatchLedger_EnsureReceiverOnce(t *testing.T) {
	bl := state.NewBatchLedger(minter, newAuth(), newClock())
	id, err := bl.CreateNewBatch(relayer, usdc)
	require.NoError(t, err)

	addr, created, err := bl.EnsureReceiver(id)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, state.ReceiverAddress(id), addr)

	again, created, err := bl.EnsureReceiver(id)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, addr, again)

	batch, _ := bl.Batch(id)
	assert.Equal(t, addr, batch.Receiver)
}

func TestIDs_Distinct(t *testing.T) {
	assert.NotEqual(t, state.BatchID(vault, usdc, 1), state.BatchID(minter, usdc, 1))
	assert.NotEqual(t, state.BatchID(vault, usdc, 1), state.BatchID(vault, usdc, 2))

	batch := state.BatchID(vault, usdc, 1)
	assert.NotEqual(t, state.RequestID(vault, alice, batch, 1), state.RequestID(vault, alice, batch, 2))
	assert.NotEqual(t, state.ProposalID(usdc, vault, batch, 1), state.ProposalID(usdc, vault, batch, 2))
}
