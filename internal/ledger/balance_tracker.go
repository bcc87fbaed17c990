package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory token balances.
// Issuance accounts hold a token's total supply: crediting them mints,
// debiting them burns.
// Not thread-safe, only accessed from the serialised router.
type BalanceTracker struct {
	balances map[AccountKey]*uint256.Int
	observer func(*Posting)
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*uint256.Int),
	}
}

// ApplyPosting validates and applies all journals of a posting atomically.
// On any insufficient balance nothing is applied.
func (bt *BalanceTracker) ApplyPosting(p *Posting) error {
	staged, err := bt.stage(p)
	if err != nil {
		return err
	}

	for key, v := range staged {
		if v.IsZero() {
			delete(bt.balances, key)
			continue
		}
		bt.balances[key] = v
	}

	if bt.observer != nil {
		bt.observer(p)
	}
	return nil
}

// Observe registers fn to receive every applied posting
func (bt *BalanceTracker) Observe(fn func(*Posting)) {
	bt.observer = fn
}

// CheckPosting reports whether p would apply, without changing any balance
func (bt *BalanceTracker) CheckPosting(p *Posting) error {
	_, err := bt.stage(p)
	return err
}

// stage computes the post-posting balances of every touched account on copies
func (bt *BalanceTracker) stage(p *Posting) (map[AccountKey]*uint256.Int, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid posting: %w", err)
	}

	staged := make(map[AccountKey]*uint256.Int)
	get := func(key AccountKey) *uint256.Int {
		if v, ok := staged[key]; ok {
			return v
		}
		v := bt.GetBalance(key)
		staged[key] = v
		return v
	}

	for _, j := range p.Journals {
		if j.DebitAccount.IsIssuance() {
			// Burn: supply shrinks
			if err := sub(get(j.DebitAccount), j.Amount, j.DebitAccount); err != nil {
				return nil, err
			}
		} else if _, overflow := get(j.DebitAccount).AddOverflow(get(j.DebitAccount), j.Amount); overflow {
			return nil, fmt.Errorf("account %s overflows", j.DebitAccount.AccountPath())
		}

		if j.CreditAccount.IsIssuance() {
			// Mint: supply grows
			if _, overflow := get(j.CreditAccount).AddOverflow(get(j.CreditAccount), j.Amount); overflow {
				return nil, fmt.Errorf("supply of %s overflows", j.CreditAccount.Token.Hex())
			}
		} else if err := sub(get(j.CreditAccount), j.Amount, j.CreditAccount); err != nil {
			return nil, err
		}
	}

	return staged, nil
}

func sub(balance, amount *uint256.Int, key AccountKey) error {
	if balance.Lt(amount) {
		return fmt.Errorf("%w: account %s has %s, needs %s",
			ErrInsufficientBalance, key.AccountPath(), balance.Dec(), amount.Dec())
	}
	balance.Sub(balance, amount)
	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	if v, ok := bt.balances[key]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}

// BalanceOf returns a holder's available balance of token
func (bt *BalanceTracker) BalanceOf(holder, token common.Address) *uint256.Int {
	return bt.GetBalance(NewAccountKey(holder, token))
}

// TotalSupply returns the outstanding supply of token
func (bt *BalanceTracker) TotalSupply(token common.Address) *uint256.Int {
	return bt.GetBalance(NewIssuanceKey(token))
}

// Credit seeds an account from the token's issuance account.
// Used by adapters and tests to model assets arriving from outside the ledger.
func (bt *BalanceTracker) Credit(to AccountKey, amount *uint256.Int, eventRef string, timestamp int64) error {
	return bt.ApplyPosting(NewPosting(eventRef, timestamp).Mint(to, amount).Build())
}

// ComputeCirculating sums all holder balances of token
func (bt *BalanceTracker) ComputeCirculating(token common.Address) *uint256.Int {
	total := new(uint256.Int)
	for key, balance := range bt.balances {
		if key.Token == token && !key.IsIssuance() {
			total.Add(total, balance)
		}
	}
	return total
}

// Tokens returns every token with a non-zero supply
func (bt *BalanceTracker) Tokens() []common.Address {
	tokens := make([]common.Address, 0)
	for key := range bt.balances {
		if key.IsIssuance() {
			tokens = append(tokens, key.Token)
		}
	}
	return tokens
}

// Snapshot returns a copy of all balances (for state hashing)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*uint256.Int {
	snapshot := make(map[AccountKey]*uint256.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = v.Clone()
	}
	return snapshot
}
