package ledger

import (
	"fmt"

	"vaultrouter/internal/fault"
)

var ErrInsufficientBalance = fault.New(fault.ErrSolvency, "InsufficientBalance")

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateSupply verifies that for every token the issuance account equals
// the sum of all holder balances
func (v *InvariantValidator) ValidateSupply() error {
	for _, token := range v.tracker.Tokens() {
		supply := v.tracker.TotalSupply(token)
		circulating := v.tracker.ComputeCirculating(token)
		if !supply.Eq(circulating) {
			return fmt.Errorf("supply of %s is %s but holders own %s",
				token.Hex(), supply.Dec(), circulating.Dec())
		}
	}

	return nil
}
