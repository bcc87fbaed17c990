package query_test

import (
	"context"
	"testing"
	"time"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	"vaultrouter/internal/core"
	"vaultrouter/internal/persistence"
	"vaultrouter/internal/projection"
	"vaultrouter/internal/query"
	"vaultrouter/internal/state"

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

type eventLog []persistence.EventRow

func (l eventLog) LoadEventsFrom(_ context.Context, from int64, limit int) ([]persistence.EventRow, error) {
	var out []persistence.EventRow
	for _, row := range l {
		if row.Sequence >= from && len(out) < limit {
			out = append(out, row)
		}
	}
	return out, nil
}

type fixture struct {
	router  *core.Router
	store   *projection.MemoryStore
	log     eventLog
	stakeID common.Hash
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	auth := access.NewRegistry()
	auth.Grant(admin, access.CapAdmin)
	auth.Grant(relayer, access.CapRelayer)
	auth.Grant(routerID, access.CapSettlementAuthority)

	clock := config.NewManualClock(time.Date(2025, time.July, 1, 0, 0, 0, 0, time.UTC))
	out := make(chan core.Output, 256)
	r, err := core.NewRouter(auth, config.NewSystemConfig(auth, clock), core.RouterOptions{
		Identity: routerID,
		Minter:   minter,
		Logger:   zerolog.Nop(),
		Persist:  out,
	})
	require.NoError(t, err)

	require.NoError(t, r.SetSettlementCooldown(ctx, admin, 0))
	require.NoError(t, r.RegisterVault(ctx, admin, core.VaultParams{
		Vault:    vault,
		Asset:    usdc,
		Adapter:  r.NewMemoryAdapter(common.HexToAddress("0x1001")),
		Treasury: common.HexToAddress("0x3000"),
		Fees:     state.FeeConfig{ManagementFeeBps: 200, PerformanceFeeBps: 2000},
	}))
	batchID, err := r.CreateNewBatch(ctx, relayer, vault, usdc)
	require.NoError(t, err)
	require.NoError(t, r.Deposit(ctx, relayer, alice, usdc, uint256.NewInt(10_000)))
	stakeID, err := r.RequestStake(ctx, alice, vault, alice, uint256.NewInt(1000))
	require.NoError(t, err)
	require.NoError(t, r.CloseBatch(ctx, relayer, vault, batchID, true))
	proposal, err := r.ProposeSettlement(ctx, relayer, usdc, vault, batchID, uint256.NewInt(1000), 0, 0)
	require.NoError(t, err)
	_, err = r.ExecuteSettlement(ctx, relayer, proposal)
	require.NoError(t, err)

	close(out)
	f := &fixture{router: r, store: projection.NewMemoryStore(), stakeID: stakeID}
	for o := range out {
		f.log = append(f.log, persistence.NewEventRow(o.Envelope))
		update, err := projection.Project(o.Envelope)
		require.NoError(t, err)
		require.NoError(t, f.store.Apply(ctx, update))
	}
	return f
}

func (f *fixture) service(events projection.EventSource) *query.QueryService {
	return query.NewQueryService(query.Options{
		Projections:   f.store,
		Cursor:        f.store,
		Router:        f.router,
		Events:        events,
		ShareDecimals: 18,
	})
}

func TestQuery_Requests(t *testing.T) {
	f := newFixture(t)
	qs := f.service(f.log)
	ctx := context.Background()

	req, err := qs.GetRequest(ctx, f.stakeID)
	require.NoError(t, err)
	assert.Equal(t, "pending", req.Status)
	assert.Equal(t, "1000", req.Amount)
	assert.Nil(t, req.Shares)
	assert.Equal(t, f.router.Sequence(), req.AsOfSequence)

	_, err = qs.GetRequest(ctx, common.HexToHash("0xdead"))
	assert.ErrorIs(t, err, query.ErrNotFound)

	list, err := qs.GetUserRequests(ctx, alice, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, f.stakeID.Hex(), list[0].RequestID)
}

func TestQuery_SettlementsAndVault(t *testing.T) {
	f := newFixture(t)
	qs := f.service(f.log)
	ctx := context.Background()

	settlements, err := qs.GetSettlements(ctx, vault, 10)
	require.NoError(t, err)
	require.Len(t, settlements, 1)
	assert.Equal(t, "1000", settlements[0].Minted)

	v, err := qs.GetVault(ctx, vault, usdc)
	require.NoError(t, err)
	assert.Equal(t, "1000", v.TotalAssets)
	assert.Equal(t, "1000000000000000000", v.SharePrice)
	assert.Equal(t, "1", v.SharePriceF)
	assert.Equal(t, uint16(200), v.ManagementFeeBps)
	assert.NotEmpty(t, v.ActiveBatch)

	bal, err := qs.GetBalance(ctx, alice, usdc)
	require.NoError(t, err)
	assert.Equal(t, "9000", bal.Balance)
}

func TestQuery_JournalHistoryNeedsEventLog(t *testing.T) {
	f := newFixture(t)
	_, err := f.service(f.log).GetJournalHistory(context.Background(), "account:", 10, nil)
	assert.ErrorIs(t, err, query.ErrNoEventLog)
}

func TestVerifyIntegrity_Healthy(t *testing.T) {
	f := newFixture(t)
	report, err := f.service(f.log).VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.IsHealthy, "%+v", report)
	assert.Equal(t, len(f.log), report.EventsChecked)
	assert.Equal(t, f.router.Sequence(), report.LastSequence)
}

func TestVerifyIntegrity_DetectsTampering(t *testing.T) {
	f := newFixture(t)

	tampered := append(eventLog(nil), f.log...)
	tampered[2].Payload = []byte(`{"amount":"1"}`)

	report, err := f.service(tampered).VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int64{tampered[2].Sequence}, report.HashChainBreaks)
}

func TestVerifyIntegrity_DetectsMissingEvents(t *testing.T) {
	f := newFixture(t)

	missing := append(append(eventLog(nil), f.log[:3]...), f.log[4:]...)

	report, err := f.service(missing).VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.False(t, report.IsHealthy)
	assert.Equal(t, []int64{f.log[3].Sequence}, report.MissingSequences)
	// The event after the hole no longer links to its predecessor
	assert.Equal(t, []int64{f.log[4].Sequence}, report.HashChainBreaks)
}
