package state_test

import (
	"time"

	"vaultrouter/internal/access"
	"vaultrouter/internal/config"

	"github.com/ethereum/go-ethereum/common"
)

var (
	admin     = common.HexToAddress("0xad")
	relayer   = common.HexToAddress("0xee")
	authority = common.HexToAddress("0x5e")
	custodian = common.HexToAddress("0xc0")
	stranger  = common.HexToAddress("0x99")

	vault  = common.HexToAddress("0x1000")
	minter = common.HexToAddress("0x2000")
	usdc   = common.HexToAddress("0xa0")
	weth   = common.HexToAddress("0xa1")

	alice = common.HexToAddress("0x01")
	bob   = common.HexToAddress("0x02")
)

var genesis = time.Date(2025, time.January, 15, 12, 0, 0, 0, time.UTC)

func newAuth() *access.Registry {
	reg := access.NewRegistry()
	reg.Grant(admin, access.CapAdmin)
	reg.Grant(relayer, access.CapRelayer)
	reg.Grant(authority, access.CapSettlementAuthority)
	reg.Grant(custodian, access.CapMinterCustodian)
	return reg
}

func newClock() *config.ManualClock {
	return config.NewManualClock(genesis)
}
