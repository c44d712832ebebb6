// Package shares keeps fungible vault-share balances, supply and allowances.
package shares

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/mathutil"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient share balance")
	ErrInsufficientAllowance = errors.New("insufficient share allowance")
)

type allowanceKey struct {
	owner, spender asset.Address
}

// Ledger is the share bookkeeping of one vault. Only the vault mints and
// burns; holders may transfer and approve.
type Ledger struct {
	balances   map[asset.Address]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	supply     *uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		balances:   make(map[asset.Address]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		supply:     new(uint256.Int),
	}
}

func (l *Ledger) BalanceOf(owner asset.Address) *uint256.Int {
	if b, ok := l.balances[owner]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

func (l *Ledger) TotalSupply() *uint256.Int {
	return l.supply.Clone()
}

// Mint creates shares for to. Supply is bounded by the asset supply it tracks,
// so the sum cannot overflow in practice; Mint still refuses to wrap.
func (l *Ledger) Mint(to asset.Address, amount *uint256.Int) error {
	if _, overflow := new(uint256.Int).AddOverflow(l.supply, amount); overflow {
		return mathutil.ErrOverflow
	}
	l.supply.Add(l.supply, amount)
	bal := l.slot(to)
	bal.Add(bal, amount)
	return nil
}

// Burn destroys shares held by from.
func (l *Ledger) Burn(from asset.Address, amount *uint256.Int) error {
	bal := l.slot(from)
	if bal.Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s holds %s, burning %s", from, bal.Dec(), amount.Dec())
	}
	bal.Sub(bal, amount)
	l.supply.Sub(l.supply, amount)
	if bal.IsZero() {
		delete(l.balances, from)
	}
	return nil
}

// Transfer moves shares between holders.
func (l *Ledger) Transfer(from, to asset.Address, amount *uint256.Int) error {
	bal := l.slot(from)
	if bal.Lt(amount) {
		return errors.Wrapf(ErrInsufficientBalance, "%s holds %s, sending %s", from, bal.Dec(), amount.Dec())
	}
	if amount.IsZero() || from == to {
		return nil
	}
	bal.Sub(bal, amount)
	if bal.IsZero() {
		delete(l.balances, from)
	}
	dst := l.slot(to)
	dst.Add(dst, amount)
	return nil
}

// Approve sets spender's allowance over owner's shares.
func (l *Ledger) Approve(owner, spender asset.Address, amount *uint256.Int) {
	k := allowanceKey{owner, spender}
	if amount.IsZero() {
		delete(l.allowances, k)
		return
	}
	l.allowances[k] = amount.Clone()
}

func (l *Ledger) Allowance(owner, spender asset.Address) *uint256.Int {
	if a, ok := l.allowances[allowanceKey{owner, spender}]; ok {
		return a.Clone()
	}
	return new(uint256.Int)
}

// CheckAllowance reports whether spender may move amount of owner's shares
// without changing anything.
func (l *Ledger) CheckAllowance(owner, spender asset.Address, amount *uint256.Int) error {
	if owner == spender {
		return nil
	}
	a := l.Allowance(owner, spender)
	if mathutil.IsMax(a) || !a.Lt(amount) {
		return nil
	}
	return errors.Wrapf(ErrInsufficientAllowance, "%s may spend %s of %s, needs %s", spender, a.Dec(), owner, amount.Dec())
}

// SpendAllowance decrements spender's allowance. The maximum value is an
// infinite approval and is never decremented.
func (l *Ledger) SpendAllowance(owner, spender asset.Address, amount *uint256.Int) error {
	if err := l.CheckAllowance(owner, spender, amount); err != nil {
		return err
	}
	if owner == spender {
		return nil
	}
	k := allowanceKey{owner, spender}
	a, ok := l.allowances[k]
	if !ok || mathutil.IsMax(a) {
		return nil
	}
	a.Sub(a, amount)
	if a.IsZero() {
		delete(l.allowances, k)
	}
	return nil
}

func (l *Ledger) slot(owner asset.Address) *uint256.Int {
	b, ok := l.balances[owner]
	if !ok {
		b = new(uint256.Int)
		l.balances[owner] = b
	}
	return b
}
