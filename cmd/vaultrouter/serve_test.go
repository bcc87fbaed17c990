package main

import (
	"context"
	"testing"
	"time"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"
	"vaultrouter/internal/core"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.ServiceConfig {
	return &config.ServiceConfig{
		RouterIdentity:     "0x00000000000000000000000000000000000000a1",
		BootstrapAdmin:     "0x00000000000000000000000000000000000000ad",
		Minter:             "0x0000000000000000000000000000000000002000",
		ShareDecimals:      18,
		SettlementCooldown: time.Minute,
		Vaults: []config.VaultConfig{{
			Address:          "0x0000000000000000000000000000000000001000",
			Asset:            "0x00000000000000000000000000000000000000c0",
			Adapter:          "0x0000000000000000000000000000000000001001",
			Treasury:         "0x0000000000000000000000000000000000003000",
			ManagementFeeBps: 150,
		}},
		MinterAssets: []config.MinterAsset{{
			Asset:   "0x00000000000000000000000000000000000000c0",
			KToken:  "0x00000000000000000000000000000000000000c1",
			Adapter: "0x0000000000000000000000000000000000002001",
		}},
		Operators: []config.OperatorConfig{{
			Address:      "0x00000000000000000000000000000000000000ee",
			Capabilities: []string{"relayer", "guardian"},
		}},
	}
}

func TestBuildAuthorization(t *testing.T) {
	cfg := testConfig()
	auth, err := buildAuthorization(cfg)
	require.NoError(t, err)

	relayer := common.HexToAddress("0xee")
	assert.True(t, auth.Has(relayer, access.CapRelayer))
	assert.True(t, auth.Has(relayer, access.CapGuardian))
	assert.False(t, auth.Has(relayer, access.CapAdmin))
	assert.True(t, auth.Has(common.HexToAddress(cfg.BootstrapAdmin), access.CapEmergencyAdmin))
	assert.True(t, auth.Has(common.HexToAddress(cfg.RouterIdentity), access.CapSettlementAuthority))

	cfg.Operators[0].Capabilities = []string{"superuser"}
	_, err = buildAuthorization(cfg)
	assert.ErrorContains(t, err, "unknown capability")
}

func TestBootstrap_RegistersTopology(t *testing.T) {
	cfg := testConfig()
	auth, err := buildAuthorization(cfg)
	require.NoError(t, err)

	clock := config.NewManualClock(time.Date(2025, time.May, 1, 0, 0, 0, 0, time.UTC))
	sys := config.NewSystemConfig(auth, clock)
	r, err := core.NewRouter(auth, sys, core.RouterOptions{
		Identity: common.HexToAddress(cfg.RouterIdentity),
		Minter:   common.HexToAddress(cfg.Minter),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, bootstrap(context.Background(), r, cfg))

	vault := common.HexToAddress(cfg.Vaults[0].Address)
	fs, err := r.FeeState(vault)
	require.NoError(t, err)
	assert.Equal(t, uint16(150), fs.ManagementFeeBps)
	assert.Equal(t, time.Minute, sys.SettlementCooldown())

	_, err = r.TotalAssets(common.HexToAddress(cfg.Minter), common.HexToAddress(cfg.MinterAssets[0].Asset))
	assert.NoError(t, err)
}

func TestBootstrap_NeedsAdminForTopology(t *testing.T) {
	cfg := testConfig()
	cfg.BootstrapAdmin = ""
	auth, err := buildAuthorization(cfg)
	require.NoError(t, err)

	r, err := core.NewRouter(auth, config.NewSystemConfig(auth, config.SystemClock{}), core.RouterOptions{
		Identity: common.HexToAddress(cfg.RouterIdentity),
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	assert.ErrorContains(t, bootstrap(context.Background(), r, cfg), "bootstrap_admin")
}
