// Package asset models the underlying fungible asset a vault accepts.
package asset

import (
	"bytes"
	"slices"
	"sync"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSupplyOverflow    = errors.New("token supply overflow")
)

// Token is the standard fungible-asset surface the vault depends on. Transfer
// is all-or-nothing: on error no balance changes.
type Token interface {
	ID() string
	BalanceOf(owner Address) *uint256.Int
	Transfer(from, to Address, amount *uint256.Int) error
}

// Ledger is an in-memory Token with an issuer-side Mint and Burn. Yield and
// slashing in local deployments are modelled by minting to or burning from a
// strategy's address.
type Ledger struct {
	id       string
	balances map[Address]*uint256.Int
	supply   *uint256.Int
	mu       sync.RWMutex
}

// NewLedger creates an empty token ledger.
func NewLedger(id string) *Ledger {
	return &Ledger{
		id:       id,
		balances: make(map[Address]*uint256.Int),
		supply:   new(uint256.Int),
	}
}

func (l *Ledger) ID() string { return l.id }

func (l *Ledger) BalanceOf(owner Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if b, ok := l.balances[owner]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// TotalSupply returns the amount minted minus the amount burnt.
func (l *Ledger) TotalSupply() *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.supply.Clone()
}

func (l *Ledger) Transfer(from, to Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount.IsZero() || from == to {
		return nil
	}
	fromBal := l.balanceLocked(from)
	if fromBal.Lt(amount) {
		return errors.Wrapf(ErrInsufficientFunds, "%s has %s, needs %s", from, fromBal.Dec(), amount.Dec())
	}
	fromBal.Sub(fromBal, amount)
	toBal := l.balanceLocked(to)
	toBal.Add(toBal, amount)
	return nil
}

// Mint credits amount to owner out of thin air.
func (l *Ledger) Mint(owner Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, overflow := new(uint256.Int).AddOverflow(l.supply, amount); overflow {
		return ErrSupplyOverflow
	}
	l.supply.Add(l.supply, amount)
	bal := l.balanceLocked(owner)
	bal.Add(bal, amount)
	return nil
}

// Burn destroys amount from owner.
func (l *Ledger) Burn(owner Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(owner)
	if bal.Lt(amount) {
		return errors.Wrapf(ErrInsufficientFunds, "burn %s from %s", amount.Dec(), owner)
	}
	bal.Sub(bal, amount)
	l.supply.Sub(l.supply, amount)
	return nil
}

func (l *Ledger) balanceLocked(owner Address) *uint256.Int {
	b, ok := l.balances[owner]
	if !ok {
		b = new(uint256.Int)
		l.balances[owner] = b
	}
	return b
}

// Holding is one balance of a ledger dump.
type Holding struct {
	Owner  Address      `json:"owner"`
	Amount *uint256.Int `json:"amount"`
}

// Holdings returns every non-zero balance ordered by owner.
func (l *Ledger) Holdings() []Holding {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Holding, 0, len(l.balances))
	for owner, b := range l.balances {
		if !b.IsZero() {
			out = append(out, Holding{Owner: owner, Amount: b.Clone()})
		}
	}
	slices.SortFunc(out, func(a, b Holding) int { return bytes.Compare(a.Owner[:], b.Owner[:]) })
	return out
}

// Load replaces the ledger content and recomputes the supply.
func (l *Ledger) Load(holdings []Holding) error {
	balances := make(map[Address]*uint256.Int, len(holdings))
	supply := new(uint256.Int)
	for _, h := range holdings {
		if h.Amount == nil {
			continue
		}
		if _, overflow := supply.AddOverflow(supply, h.Amount); overflow {
			return ErrSupplyOverflow
		}
		if b, ok := balances[h.Owner]; ok {
			b.Add(b, h.Amount)
		} else {
			balances[h.Owner] = h.Amount.Clone()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = balances
	l.supply = supply
	return nil
}
