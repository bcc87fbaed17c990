package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	"vaultrouter/internal/core"
	"vaultrouter/internal/ingestion"
	"vaultrouter/internal/observability"
	"vaultrouter/internal/projection"
	"vaultrouter/internal/query"
	"vaultrouter/internal/server"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
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

type env struct {
	srv    *httptest.Server
	health *observability.HealthChecker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	auth := access.NewRegistry()
	auth.Grant(admin, access.CapAdmin)
	auth.Grant(relayer, access.CapRelayer)
	auth.Grant(routerID, access.CapSettlementAuthority)

	clock := config.NewManualClock(time.Date(2025, time.August, 4, 0, 0, 0, 0, time.UTC))
	r, err := core.NewRouter(auth, config.NewSystemConfig(auth, clock), core.RouterOptions{
		Identity: routerID,
		Minter:   minter,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	require.NoError(t, r.RegisterVault(ctx, admin, core.VaultParams{
		Vault:    vault,
		Asset:    usdc,
		Adapter:  r.NewMemoryAdapter(common.HexToAddress("0x1001")),
		Treasury: common.HexToAddress("0x3000"),
	}))
	require.NoError(t, r.Deposit(ctx, relayer, alice, usdc, uint256.NewInt(5000)))

	queue := make(chan ingestion.RawCommand)
	go ingestion.NewDispatcher(r, nil, zerolog.Nop()).Run(ctx, queue)

	store := projection.NewMemoryStore()
	reg := prometheus.NewRegistry()
	health := observability.NewHealthChecker()
	h := server.NewHandler(server.Deps{
		Query: query.NewQueryService(query.Options{
			Projections:   store,
			Cursor:        store,
			Router:        r,
			ShareDecimals: 18,
		}),
		Ingest:   ingestion.NewAdminIngestService(queue),
		Health:   health,
		Metrics:  observability.NewMetrics(reg),
		Gatherer: reg,
		Logger:   zerolog.Nop(),
	})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &env{srv: srv, health: health}
}

func (e *env) get(t *testing.T, path string) (int, string) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func (e *env) post(t *testing.T, path string, v any) (int, map[string]string) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(string(data)))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func deposit(id uuid.UUID, caller common.Address, amount string) map[string]any {
	return map[string]any{
		"command_id": id.String(),
		"caller":     caller.Hex(),
		"account":    alice.Hex(),
		"asset":      usdc.Hex(),
		"amount":     amount,
	}
}

func TestHandler_HealthProbes(t *testing.T) {
	e := newEnv(t)

	status, _ := e.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, status)

	status, _ = e.get(t, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, status)

	e.health.SetReady(true)
	status, _ = e.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, status)
}

func TestHandler_CommandsChangeBalances(t *testing.T) {
	e := newEnv(t)
	balancePath := "/v1/balances/" + alice.Hex() + "/" + usdc.Hex()

	status, body := e.get(t, balancePath)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `"balance":"5000"`)

	id := uuid.New()
	status, out := e.post(t, "/v1/commands/deposit", deposit(id, relayer, "250"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "applied", out["outcome"])

	status, out = e.post(t, "/v1/commands/deposit", deposit(id, relayer, "250"))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "duplicate", out["outcome"])

	_, body = e.get(t, balancePath)
	assert.Contains(t, body, `"balance":"5250"`)
}

func TestHandler_CommandRejections(t *testing.T) {
	e := newEnv(t)

	status, out := e.post(t, "/v1/commands/deposit", deposit(uuid.New(), alice, "1"))
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "rejected", out["outcome"])
	assert.Equal(t, "unauthorized", out["kind"])

	status, out = e.post(t, "/v1/commands/deposit", deposit(uuid.New(), relayer, "-3"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", out["kind"])

	status, _ = e.post(t, "/v1/commands/launch_rockets", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHandler_QueryErrors(t *testing.T) {
	e := newEnv(t)

	cases := []struct {
		path   string
		status int
	}{
		{"/v1/requests/0x1234", http.StatusBadRequest},
		{"/v1/requests/" + common.HexToHash("0xbeef").Hex(), http.StatusNotFound},
		{"/v1/users/not-an-address/requests", http.StatusBadRequest},
		{"/v1/users/" + alice.Hex() + "/requests?limit=x", http.StatusBadRequest},
		{"/v1/vaults/" + minter.Hex() + "/" + usdc.Hex(), http.StatusNotFound},
		{"/v1/journals?prefix=account:", http.StatusNotImplemented},
		{"/v1/admin/integrity", http.StatusNotImplemented},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			status, _ := e.get(t, tc.path)
			assert.Equal(t, tc.status, status)
		})
	}
}

func TestHandler_VaultAndMetrics(t *testing.T) {
	e := newEnv(t)

	status, body := e.get(t, "/v1/vaults/"+vault.Hex()+"/"+usdc.Hex())
	require.Equal(t, http.StatusOK, status)
	var v query.VaultResponse
	require.NoError(t, json.Unmarshal([]byte(body), &v))
	assert.Equal(t, vault.Hex(), v.Vault)
	assert.Equal(t, "1000000000000000000", v.SharePrice)

	status, body = e.get(t, "/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `vault_query_requests_total{endpoint="vault",status="200"} 1`)
}
