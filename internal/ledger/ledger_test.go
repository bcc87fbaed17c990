package ledger_test

import (
	"testing"

	"vaultrouter/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	token = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

// ============================================================================
// Test: AccountKey
// ============================================================================

func TestAccountKey_HolderPath(t *testing.T) {
	key := ledger.NewAccountKey(alice, token)
	assert.Equal(t, "holder:"+alice.Hex()+":"+token.Hex()+":available", key.AccountPath())
}

func TestAccountKey_EscrowPath(t *testing.T) {
	assert.Contains(t, ledger.NewEscrowKey(alice, token, false).AccountPath(), "escrow_pending")
	assert.Contains(t, ledger.NewEscrowKey(alice, token, true).AccountPath(), "escrow_settled")
}

func TestAccountKey_IssuancePath(t *testing.T) {
	key := ledger.NewIssuanceKey(token)
	assert.True(t, key.IsIssuance())
	assert.Equal(t, "issuance:"+token.Hex(), key.AccountPath())
}

// ============================================================================
// Test: BalanceTracker
// ============================================================================

func TestBalanceTracker_InitialBalanceZero(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	assert.True(t, bt.BalanceOf(alice, token).IsZero())
	assert.True(t, bt.TotalSupply(token).IsZero())
}

func TestBalanceTracker_MintTransferBurn(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	aliceKey := ledger.NewAccountKey(alice, token)
	bobKey := ledger.NewAccountKey(bob, token)

	require.NoError(t, bt.ApplyPosting(ledger.NewPosting("mint", 1).
		Mint(aliceKey, uint256.NewInt(1_000)).Build()))
	assert.Equal(t, uint64(1_000), bt.TotalSupply(token).Uint64())

	require.NoError(t, bt.ApplyPosting(ledger.NewPosting("xfer", 2).
		Move(bobKey, aliceKey, uint256.NewInt(400), ledger.JournalTypeTransfer).Build()))
	assert.Equal(t, uint64(600), bt.BalanceOf(alice, token).Uint64())
	assert.Equal(t, uint64(400), bt.BalanceOf(bob, token).Uint64())
	assert.Equal(t, uint64(1_000), bt.TotalSupply(token).Uint64())

	require.NoError(t, bt.ApplyPosting(ledger.NewPosting("burn", 3).
		Burn(bobKey, uint256.NewInt(400)).Build()))
	assert.Equal(t, uint64(600), bt.TotalSupply(token).Uint64())
	assert.True(t, bt.BalanceOf(bob, token).IsZero())

	require.NoError(t, ledger.NewInvariantValidator(bt).ValidateSupply())
}

func TestBalanceTracker_PostingIsAtomic(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	aliceKey := ledger.NewAccountKey(alice, token)
	bobKey := ledger.NewAccountKey(bob, token)
	require.NoError(t, bt.Credit(aliceKey, uint256.NewInt(100), "seed", 0))

	// First leg fits, second does not: nothing may be applied
	posting := ledger.NewPosting("two-legs", 1).
		Move(bobKey, aliceKey, uint256.NewInt(60), ledger.JournalTypeTransfer).
		Move(bobKey, aliceKey, uint256.NewInt(60), ledger.JournalTypeTransfer).
		Build()

	err := bt.ApplyPosting(posting)
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
	assert.Equal(t, uint64(100), bt.BalanceOf(alice, token).Uint64())
	assert.True(t, bt.BalanceOf(bob, token).IsZero())
}

func TestBalanceTracker_BurnMoreThanSupplyFails(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	aliceKey := ledger.NewAccountKey(alice, token)
	require.NoError(t, bt.Credit(aliceKey, uint256.NewInt(10), "seed", 0))

	err := bt.ApplyPosting(ledger.NewPosting("burn", 1).Burn(aliceKey, uint256.NewInt(11)).Build())
	require.ErrorIs(t, err, ledger.ErrInsufficientBalance)
}

// ============================================================================
// Test: Posting
// ============================================================================

func TestPosting_DropsZeroLegs(t *testing.T) {
	b := ledger.NewPosting("ref", 1).Mint(ledger.NewAccountKey(alice, token), uint256.NewInt(0))
	assert.True(t, b.Empty())
	require.Error(t, b.Build().Validate())
}

func TestPosting_RejectsSelfMove(t *testing.T) {
	key := ledger.NewAccountKey(alice, token)
	p := ledger.NewPosting("ref", 1).Move(key, key, uint256.NewInt(1), ledger.JournalTypeTransfer).Build()
	require.Error(t, p.Validate())
}

func TestPosting_RejectsCrossTokenMove(t *testing.T) {
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	p := ledger.NewPosting("ref", 1).Move(
		ledger.NewAccountKey(alice, token),
		ledger.NewAccountKey(bob, other),
		uint256.NewInt(1),
		ledger.JournalTypeTransfer,
	).Build()
	require.Error(t, p.Validate())
}

func TestBalanceTracker_CheckPostingDoesNotApply(t *testing.T) {
	bt := ledger.NewBalanceTracker()
	aliceKey := ledger.NewAccountKey(alice, token)
	bobKey := ledger.NewAccountKey(bob, token)
	require.NoError(t, bt.Credit(aliceKey, uint256.NewInt(50), "seed", 0))

	ok := ledger.NewPosting("fits", 1).Move(bobKey, aliceKey, uint256.NewInt(50), ledger.JournalTypeTransfer).Build()
	require.NoError(t, bt.CheckPosting(ok))
	assert.Equal(t, uint64(50), bt.BalanceOf(alice, token).Uint64())

	tooBig := ledger.NewPosting("too-big", 1).Move(bobKey, aliceKey, uint256.NewInt(51), ledger.JournalTypeTransfer).Build()
	require.ErrorIs(t, bt.CheckPosting(tooBig), ledger.ErrInsufficientBalance)
}
