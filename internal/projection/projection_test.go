package projection_test

import (
	"context"
	"testing"
	"time"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	"vaultrouter/internal/core"
	"vaultrouter/internal/persistence"
	"vaultrouter/internal/projection"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	admin    = common.HexToAddress("0xad")
	relayer  = common.HexToAddress("0xee")
	routerID = common.HexToAddress("0x5e")
	vault    = common.HexToAddress("0x1000")
	minter   = common.HexToAddress("0x2000")
	usdc     = common.HexToAddress("0xa0")
	alice    = common.HexToAddress("0x01")
)

// scenario runs stake, settle and claim and returns every output in order
func scenario(t *testing.T) []core.Output {
	t.Helper()
	ctx := context.Background()

	auth := access.NewRegistry()
	auth.Grant(admin, access.CapAdmin)
	auth.Grant(relayer, access.CapRelayer)
	auth.Grant(routerID, access.CapSettlementAuthority)

	clock := config.NewManualClock(time.Date(2025, time.June, 2, 9, 0, 0, 0, time.UTC))
	out := make(chan core.Output, 256)
	r, err := core.NewRouter(auth, config.NewSystemConfig(auth, clock), core.RouterOptions{
		Identity:   routerID,
		Minter:     minter,
		Logger:     zerolog.Nop(),
		Projection: out,
	})
	require.NoError(t, err)

	require.NoError(t, r.SetSettlementCooldown(ctx, admin, 0))
	require.NoError(t, r.RegisterVault(ctx, admin, core.VaultParams{
		Vault:    vault,
		Asset:    usdc,
		Adapter:  r.NewMemoryAdapter(common.HexToAddress("0x1001")),
		Treasury: common.HexToAddress("0x3000"),
	}))
	batchID, err := r.CreateNewBatch(ctx, relayer, vault, usdc)
	require.NoError(t, err)
	require.NoError(t, r.Deposit(ctx, relayer, alice, usdc, uint256.NewInt(10_000)))

	stakeID, err := r.RequestStake(ctx, alice, vault, alice, uint256.NewInt(1000))
	require.NoError(t, err)
	cancelID, err := r.RequestStake(ctx, alice, vault, alice, uint256.NewInt(300))
	require.NoError(t, err)
	require.NoError(t, r.CancelRequest(ctx, alice, vault, cancelID))

	require.NoError(t, r.CloseBatch(ctx, relayer, vault, batchID, true))
	proposal, err := r.ProposeSettlement(ctx, relayer, usdc, vault, batchID, uint256.NewInt(1000), 0, 0)
	require.NoError(t, err)
	_, err = r.ExecuteSettlement(ctx, relayer, proposal)
	require.NoError(t, err)
	_, err = r.ClaimStakedShares(ctx, alice, vault, stakeID)
	require.NoError(t, err)

	close(out)
	var outputs []core.Output
	for o := range out {
		outputs = append(outputs, o)
	}
	return outputs
}

func runWorker(t *testing.T, store projection.Store, outputs []core.Output) *projection.ProjectionWorker {
	t.Helper()
	in := make(chan core.Output, len(outputs))
	for _, o := range outputs {
		in <- o
	}
	close(in)

	w := projection.NewProjectionWorker(store, in, nil, zerolog.Nop())
	require.NoError(t, w.Run(context.Background()))
	return w
}

func TestProjectionWorker_TracksRequestsAndSettlements(t *testing.T) {
	outputs := scenario(t)
	store := projection.NewMemoryStore()
	w := runWorker(t, store, outputs)
	ctx := context.Background()

	assert.Zero(t, w.Gaps())
	last := outputs[len(outputs)-1].Envelope.Sequence
	assert.Equal(t, last, w.LastSequence())
	cursor, err := store.Cursor(ctx)
	require.NoError(t, err)
	assert.Equal(t, last, cursor)

	requests, err := store.UserRequests(ctx, alice.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, requests, 2)

	cancelled, claimed := requests[0], requests[1]
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.Equal(t, "300", cancelled.Amount.String())
	assert.Equal(t, "claimed", claimed.Status)
	assert.Equal(t, "stake", claimed.Kind)
	require.True(t, claimed.Shares.Valid)
	assert.Equal(t, "1000", claimed.Shares.Decimal.String())

	settlements, err := store.Settlements(ctx, vault.Hex(), 10)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, "1000", settlements[0].Minted.String())
	assert.Equal(t, "1000000000000000000", settlements[0].SharePrice.String())

	limited, err := store.UserRequests(ctx, alice.Hex(), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestProjectionWorker_ReportsGaps(t *testing.T) {
	outputs := scenario(t)
	// Drop one envelope, as a full projection channel would
	dropped := append(append([]core.Output(nil), outputs[:3]...), outputs[4:]...)

	w := runWorker(t, projection.NewMemoryStore(), dropped)
	assert.Equal(t, 1, w.Gaps())
	assert.Equal(t, outputs[len(outputs)-1].Envelope.Sequence, w.LastSequence())
}

func TestProjectionWorker_SkipsAppliedSequences(t *testing.T) {
	outputs := scenario(t)
	store := projection.NewMemoryStore()
	runWorker(t, store, outputs)

	// Redelivery after a restart is ignored
	w := runWorker(t, store, outputs)
	assert.Zero(t, w.Gaps())

	requests, err := store.UserRequests(context.Background(), alice.Hex(), 10)
	require.NoError(t, err)
	assert.Len(t, requests, 2)
}

type logSource []persistence.EventRow

func (l logSource) LoadEventsFrom(_ context.Context, from int64, limit int) ([]persistence.EventRow, error) {
	var out []persistence.EventRow
	for _, row := range l {
		if row.Sequence >= from && len(out) < limit {
			out = append(out, row)
		}
	}
	return out, nil
}

func TestRebuildProjections_ReplaysEventLog(t *testing.T) {
	outputs := scenario(t)
	var log logSource
	for _, o := range outputs {
		log = append(log, persistence.NewEventRow(o.Envelope))
	}

	store := projection.NewMemoryStore()
	require.NoError(t, store.Apply(context.Background(), projection.Update{Sequence: 999}))

	last, err := projection.RebuildProjections(context.Background(), store, log, 3, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, outputs[len(outputs)-1].Envelope.Sequence, last)

	cursor, err := store.Cursor(context.Background())
	require.NoError(t, err)
	assert.Equal(t, last, cursor)

	settlements, err := store.Settlements(context.Background(), vault.Hex(), 10)
	require.NoError(t, err)
	assert.Len(t, settlements, 1)
}
