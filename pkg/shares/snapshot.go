package shares

import (
	"bytes"
	"slices"

	"github.com/holiman/uint256"

	"github.com/luxfi/roundvault/pkg/asset"
)

type Balance struct {
	Owner  asset.Address `json:"owner"`
	Shares *uint256.Int  `json:"shares"`
}

type Approval struct {
	Owner   asset.Address `json:"owner"`
	Spender asset.Address `json:"spender"`
	Amount  *uint256.Int  `json:"amount"`
}

// Snapshot is the serialisable content of a Ledger.
type Snapshot struct {
	Balances  []Balance  `json:"balances"`
	Approvals []Approval `json:"approvals,omitempty"`
}

// Snapshot returns the ledger content ordered by owner, then spender.
func (l *Ledger) Snapshot() Snapshot {
	s := Snapshot{Balances: make([]Balance, 0, len(l.balances))}
	for owner, b := range l.balances {
		if b.IsZero() {
			continue
		}
		s.Balances = append(s.Balances, Balance{Owner: owner, Shares: b.Clone()})
	}
	for k, a := range l.allowances {
		s.Approvals = append(s.Approvals, Approval{Owner: k.owner, Spender: k.spender, Amount: a.Clone()})
	}
	slices.SortFunc(s.Balances, func(a, b Balance) int {
		return bytes.Compare(a.Owner[:], b.Owner[:])
	})
	slices.SortFunc(s.Approvals, func(a, b Approval) int {
		if c := bytes.Compare(a.Owner[:], b.Owner[:]); c != 0 {
			return c
		}
		return bytes.Compare(a.Spender[:], b.Spender[:])
	})
	return s
}

// Restore replaces the ledger content; supply is recomputed from balances.
func (l *Ledger) Restore(s Snapshot) error {
	fresh := NewLedger()
	for _, b := range s.Balances {
		if err := fresh.Mint(b.Owner, b.Shares); err != nil {
			return err
		}
	}
	for _, a := range s.Approvals {
		fresh.Approve(a.Owner, a.Spender, a.Amount)
	}
	*l = *fresh
	return nil
}
