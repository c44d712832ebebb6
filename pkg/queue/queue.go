// Package queue holds deposits that are waiting for the next round boundary
// to be converted into shares.
package queue

import (
	"github.com/holiman/uint256"

	"github.com/luxfi/roundvault/pkg/asset"
)

// Entry is a pending deposit. The zero Entry is the out-of-range sentinel.
type Entry struct {
	Owner  asset.Address `json:"owner"`
	Amount *uint256.Int  `json:"amount"`
}

// DepositQueue is an indexed arena of entries with one live entry per owner.
// Removal swaps the victim with the last slot and pops, so iteration order is
// insertion order only until the first removal.
//
// The queue never fails; business rules are enforced by the vault.
type DepositQueue struct {
	entries []Entry
	index   map[asset.Address]int
	total   *uint256.Int
}

// New returns an empty queue.
func New() *DepositQueue {
	return &DepositQueue{
		index: make(map[asset.Address]int),
		total: new(uint256.Int),
	}
}

// Push adds amount to owner's entry, appending a new entry if owner has none.
func (q *DepositQueue) Push(owner asset.Address, amount *uint256.Int) {
	if i, ok := q.index[owner]; ok {
		q.entries[i].Amount.Add(q.entries[i].Amount, amount)
	} else {
		q.index[owner] = len(q.entries)
		q.entries = append(q.entries, Entry{Owner: owner, Amount: amount.Clone()})
	}
	q.total.Add(q.total, amount)
}

// Get returns a copy of the entry at i, or the zero Entry when i is out of range.
func (q *DepositQueue) Get(i int) Entry {
	if i < 0 || i >= len(q.entries) {
		return Entry{Amount: new(uint256.Int)}
	}
	e := q.entries[i]
	return Entry{Owner: e.Owner, Amount: e.Amount.Clone()}
}

// Remove deletes the entries in [start, end). Slots are vacated from the top
// of the range down so every swapped-in entry comes from outside the range.
func (q *DepositQueue) Remove(start, end int) {
	if start < 0 {
		start = 0
	}
	if end > len(q.entries) {
		end = len(q.entries)
	}
	for i := end - 1; i >= start; i-- {
		q.removeAt(i)
	}
}

// RemoveOwner deletes owner's entry and returns its amount (zero if absent).
func (q *DepositQueue) RemoveOwner(owner asset.Address) *uint256.Int {
	i, ok := q.index[owner]
	if !ok {
		return new(uint256.Int)
	}
	amount := q.entries[i].Amount.Clone()
	q.removeAt(i)
	return amount
}

func (q *DepositQueue) removeAt(i int) {
	victim := q.entries[i]
	last := len(q.entries) - 1
	if i != last {
		q.entries[i] = q.entries[last]
		q.index[q.entries[i].Owner] = i
	}
	q.entries[last] = Entry{}
	q.entries = q.entries[:last]
	delete(q.index, victim.Owner)
	q.total.Sub(q.total, victim.Amount)
}

// BalanceOf returns owner's queued amount.
func (q *DepositQueue) BalanceOf(owner asset.Address) *uint256.Int {
	if i, ok := q.index[owner]; ok {
		return q.entries[i].Amount.Clone()
	}
	return new(uint256.Int)
}

// Contains reports whether owner has a live entry.
func (q *DepositQueue) Contains(owner asset.Address) bool {
	_, ok := q.index[owner]
	return ok
}

// TotalDeposited is the sum of all live entries.
func (q *DepositQueue) TotalDeposited() *uint256.Int {
	return q.total.Clone()
}

func (q *DepositQueue) Size() int {
	return len(q.entries)
}

// Entries returns a deep copy of the live entries in slot order.
func (q *DepositQueue) Entries() []Entry {
	out := make([]Entry, len(q.entries))
	for i, e := range q.entries {
		out[i] = Entry{Owner: e.Owner, Amount: e.Amount.Clone()}
	}
	return out
}

// Load replaces the queue content, merging duplicate owners.
func (q *DepositQueue) Load(entries []Entry) {
	q.entries = q.entries[:0]
	q.index = make(map[asset.Address]int, len(entries))
	q.total = new(uint256.Int)
	for _, e := range entries {
		q.Push(e.Owner, e.Amount)
	}
}
