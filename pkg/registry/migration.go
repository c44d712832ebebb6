package registry

import (
	"github.com/luxfi/database"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
)

func migrationKey(from, to asset.Address) []byte {
	k := make([]byte, 0, 2*asset.AddressLength)
	k = append(k, from[:]...)
	return append(k, to[:]...)
}

// AllowMigration adds or removes the from→to route.
func (r *Registry) AllowMigration(from, to asset.Address, allowed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var err error
	if allowed {
		err = r.migrations.Put(migrationKey(from, to), []byte{1})
	} else {
		err = r.migrations.Delete(migrationKey(from, to))
	}
	if err != nil {
		return errors.Wrapf(err, "migration %s -> %s", from, to)
	}
	r.logger.Info("migration route updated", "from", from.Hex(), "to", to.Hex(), "allowed", allowed)
	return nil
}

// IsVaultAllowed reports whether positions in from may migrate into to.
func (r *Registry) IsVaultAllowed(from, to asset.Address) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ok, err := r.migrations.Has(migrationKey(from, to))
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return false, errors.Wrap(err, "migration allow-list")
	}
	return ok, nil
}
