package registry

import (
	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/mathutil"
)

// SetCap sets the maximum aggregate principal vault accepts.
func (r *Registry) SetCap(vault asset.Address, limit *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b := limit.Bytes32()
	if err := r.caps.Put(vault[:], b[:]); err != nil {
		return errors.Wrapf(err, "set cap for %s", vault)
	}
	r.logger.Info("cap set", "vault", vault.Hex(), "limit", limit.Dec())
	return nil
}

// Cap returns the vault's limit; an unset cap is unlimited.
func (r *Registry) Cap(vault asset.Address) (*uint256.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readAmount(r.caps, vault, mathutil.Max())
}

// Spent returns the principal currently counted against the cap.
func (r *Registry) Spent(vault asset.Address) (*uint256.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.readAmount(r.spent, vault, new(uint256.Int))
}

// SetSpent overwrites the principal counted against the cap, as when state is
// recovered from a checkpoint.
func (r *Registry) SetSpent(vault asset.Address, v *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writeAmount(r.spent, vault, v)
}

// AvailableCap is cap minus spent, floored at zero.
func (r *Registry) AvailableCap(vault asset.Address) (*uint256.Int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.availableLocked(vault)
}

// ConsumeCap counts amount against the vault's cap.
func (r *Registry) ConsumeCap(vault asset.Address, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	avail, err := r.availableLocked(vault)
	if err != nil {
		return err
	}
	if avail.Lt(amount) {
		return errors.Wrapf(ErrCapExceeded, "%s available, %s requested", avail.Dec(), amount.Dec())
	}
	spent, err := r.readAmount(r.spent, vault, new(uint256.Int))
	if err != nil {
		return err
	}
	spent.Add(spent, amount)
	return r.writeAmount(r.spent, vault, spent)
}

// RestoreCap releases amount of headroom, never below zero spent.
func (r *Registry) RestoreCap(vault asset.Address, amount *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	spent, err := r.readAmount(r.spent, vault, new(uint256.Int))
	if err != nil {
		return err
	}
	return r.writeAmount(r.spent, vault, mathutil.SaturatingSub(spent, amount))
}

func (r *Registry) availableLocked(vault asset.Address) (*uint256.Int, error) {
	limit, err := r.readAmount(r.caps, vault, mathutil.Max())
	if err != nil {
		return nil, err
	}
	spent, err := r.readAmount(r.spent, vault, new(uint256.Int))
	if err != nil {
		return nil, err
	}
	return mathutil.SaturatingSub(limit, spent), nil
}

func (r *Registry) readAmount(db database.Database, vault asset.Address, def *uint256.Int) (*uint256.Int, error) {
	v, err := db.Get(vault[:])
	if errors.Is(err, database.ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", vault)
	}
	return new(uint256.Int).SetBytes(v), nil
}

func (r *Registry) writeAmount(db database.Database, vault asset.Address, v *uint256.Int) error {
	b := v.Bytes32()
	if err := db.Put(vault[:], b[:]); err != nil {
		return errors.Wrapf(err, "write %s", vault)
	}
	return nil
}
