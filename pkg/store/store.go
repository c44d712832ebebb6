// Package store checkpoints vault state in a luxfi/database so a host can
// restart without losing queued deposits, share balances or the round.
package store

import (
	"encoding/json"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/vault"
)

// ErrNotFound is returned when nothing was saved under a key.
var ErrNotFound = database.ErrNotFound

var (
	vaultPrefix  = []byte("vault")
	ledgerPrefix = []byte("ledger")
	spentPrefix  = []byte("checkpoint-spent")
)

// CapBook is the cap bookkeeping a checkpoint carries along with the vaults.
// *registry.Registry implements it.
type CapBook interface {
	Spent(vault asset.Address) (*uint256.Int, error)
	SetSpent(vault asset.Address, v *uint256.Int) error
}

// Store keeps one JSON snapshot per vault and one holdings dump per token.
type Store struct {
	db      database.Database
	vaults  database.Database
	ledgers database.Database
	spent   database.Database
	caps    CapBook
	logger  log.Logger
}

func New(db database.Database, logger log.Logger) *Store {
	if logger == nil {
		logger = log.Root().New("module", "store")
	}
	return &Store{
		db:      db,
		vaults:  prefixdb.New(vaultPrefix, db),
		ledgers: prefixdb.New(ledgerPrefix, db),
		spent:   prefixdb.New(spentPrefix, db),
		logger:  logger,
	}
}

// TrackCaps makes checkpoints record each vault's spent cap from caps and
// Recover put it back.
func (st *Store) TrackCaps(caps CapBook) {
	st.caps = caps
}

// key is the underlying database key of k inside the prefixdb area prefix.
func key(prefix, k []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(k))
	return append(append(out, prefix...), k...)
}

// Save writes s for addr.
func (st *Store) Save(addr asset.Address, s vault.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode snapshot")
	}
	if err := st.vaults.Put(addr[:], b); err != nil {
		return errors.Wrapf(err, "save vault %s", addr)
	}
	return nil
}

// Load reads the snapshot saved for addr.
func (st *Store) Load(addr asset.Address) (vault.Snapshot, error) {
	var s vault.Snapshot
	b, err := st.vaults.Get(addr[:])
	if err != nil {
		return s, errors.Wrapf(err, "load vault %s", addr)
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return s, errors.Wrapf(err, "decode vault %s", addr)
	}
	return s, nil
}

func (st *Store) Delete(addr asset.Address) error {
	return st.vaults.Delete(addr[:])
}

// Vaults lists every vault with a saved snapshot in key order.
func (st *Store) Vaults() ([]asset.Address, error) {
	it := st.vaults.NewIterator()
	defer it.Release()

	var out []asset.Address
	for it.Next() {
		var a asset.Address
		if len(it.Key()) != len(a) {
			continue
		}
		copy(a[:], it.Key())
		out = append(out, a)
	}
	return out, errors.Wrap(it.Error(), "iterate vaults")
}

// SaveLedger dumps the holdings of an in-memory token.
func (st *Store) SaveLedger(l *asset.Ledger) error {
	b, err := json.Marshal(l.Holdings())
	if err != nil {
		return errors.Wrap(err, "encode holdings")
	}
	return errors.Wrapf(st.ledgers.Put([]byte(l.ID()), b), "save ledger %s", l.ID())
}

// LoadLedger replaces l's holdings with the saved dump.
func (st *Store) LoadLedger(l *asset.Ledger) error {
	b, err := st.ledgers.Get([]byte(l.ID()))
	if err != nil {
		return errors.Wrapf(err, "load ledger %s", l.ID())
	}
	var holdings []asset.Holding
	if err := json.Unmarshal(b, &holdings); err != nil {
		return errors.Wrapf(err, "decode ledger %s", l.ID())
	}
	return l.Load(holdings)
}

// Checkpoint saves the tokens, every engine and, when tracked, the spent caps
// in a single batch on the underlying database, so a crash leaves either the
// previous checkpoint or this one.
func (st *Store) Checkpoint(ledgers []*asset.Ledger, engines []*vault.Engine) error {
	b := st.db.NewBatch()
	for _, l := range ledgers {
		holdings, err := json.Marshal(l.Holdings())
		if err != nil {
			return errors.Wrap(err, "encode holdings")
		}
		if err := b.Put(key(ledgerPrefix, []byte(l.ID())), holdings); err != nil {
			return err
		}
	}
	for _, e := range engines {
		snapshot, err := json.Marshal(e.Snapshot())
		if err != nil {
			return errors.Wrap(err, "encode snapshot")
		}
		addr := e.Address()
		if err := b.Put(key(vaultPrefix, addr[:]), snapshot); err != nil {
			return err
		}
		if st.caps == nil {
			continue
		}
		spent, err := st.caps.Spent(addr)
		if err != nil {
			return errors.Wrapf(err, "spent cap of %s", addr)
		}
		v := spent.Bytes32()
		if err := b.Put(key(spentPrefix, addr[:]), v[:]); err != nil {
			return err
		}
	}
	if err := b.Write(); err != nil {
		return errors.Wrap(err, "write checkpoint")
	}
	st.logger.Debug("checkpoint written", "ledgers", len(ledgers), "vaults", len(engines))
	return nil
}

// Recover restores every engine and token that has saved state. Engines and
// tokens without a saved entry are left as they are. It returns how many
// engines were restored.
func (st *Store) Recover(ledgers []*asset.Ledger, engines []*vault.Engine) (int, error) {
	for _, l := range ledgers {
		if err := st.LoadLedger(l); err != nil && !errors.Is(err, ErrNotFound) {
			return 0, err
		}
	}
	n := 0
	for _, e := range engines {
		s, err := st.Load(e.Address())
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		if err := e.Restore(s); err != nil {
			return n, errors.Wrapf(err, "restore vault %s", e.Address())
		}
		if err := st.recoverSpent(e.Address()); err != nil {
			return n, err
		}
		n++
	}
	st.logger.Info("state recovered", "vaults", n)
	return n, nil
}

// recoverSpent rewinds the vault's spent cap to the checkpointed value, which
// matches the restored queue and shares.
func (st *Store) recoverSpent(addr asset.Address) error {
	if st.caps == nil {
		return nil
	}
	v, err := st.spent.Get(addr[:])
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "load spent cap of %s", addr)
	}
	return errors.Wrapf(st.caps.SetSpent(addr, new(uint256.Int).SetBytes(v)), "restore spent cap of %s", addr)
}
