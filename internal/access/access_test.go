package access_test

import (
	"testing"

	"vaultrouter/internal/access"
	"vaultrouter/internal/fault"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RequireAndGrant(t *testing.T) {
	admin := common.HexToAddress("0x01")
	relayer := common.HexToAddress("0x02")

	reg := access.NewRegistry()
	reg.Grant(admin, access.CapAdmin)

	err := reg.Require(relayer, access.CapRelayer)
	require.ErrorIs(t, err, fault.ErrUnauthorized)

	require.NoError(t, reg.GrantRole(admin, relayer, access.CapRelayer))
	require.NoError(t, reg.Require(relayer, access.CapRelayer))

	// Non-admins cannot grant
	require.ErrorIs(t, reg.GrantRole(relayer, relayer, access.CapAdmin), fault.ErrUnauthorized)

	require.NoError(t, reg.RevokeRole(admin, relayer, access.CapRelayer))
	assert.False(t, reg.Has(relayer, access.CapRelayer))
}
