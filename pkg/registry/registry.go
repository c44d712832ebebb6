// Package registry is the parameter and permission store consulted by vaults:
// per-vault parameters with global fallbacks, deposit caps, and the migration
// allow-list. Everything is persisted in a luxfi/database.
package registry

import (
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/database/prefixdb"
	"github.com/luxfi/log"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/mathutil"
)

var (
	ErrParameterNotSet = errors.New("parameter not set")
	ErrInvalidValue    = errors.New("invalid parameter value")
	ErrCapExceeded     = errors.New("cap exceeded")
)

var (
	paramPrefix     = []byte("param")
	capPrefix       = []byte("cap")
	spentPrefix     = []byte("spent")
	migrationPrefix = []byte("migration")
)

// global is the scope of parameters shared by every vault.
var global = asset.Address{}

// Registry is safe for concurrent use.
type Registry struct {
	params     database.Database
	caps       database.Database
	spent      database.Database
	migrations database.Database
	logger     log.Logger
	mu         sync.RWMutex
}

// New opens a registry over db.
func New(db database.Database, logger log.Logger) *Registry {
	if logger == nil {
		logger = log.Root().New("module", "registry")
	}
	return &Registry{
		params:     prefixdb.New(paramPrefix, db),
		caps:       prefixdb.New(capPrefix, db),
		spent:      prefixdb.New(spentPrefix, db),
		migrations: prefixdb.New(migrationPrefix, db),
		logger:     logger,
	}
}

func paramKey(scope asset.Address, key string) []byte {
	return append(scope[:len(scope):len(scope)], key...)
}

// SetParameter stores a vault-scoped value.
func (r *Registry) SetParameter(vault asset.Address, key, value string) error {
	if err := validate(key, value); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.params.Put(paramKey(vault, key), []byte(value)); err != nil {
		return errors.Wrapf(err, "set %s for %s", key, vault)
	}
	r.logger.Debug("parameter set", "vault", vault.Hex(), "key", key, "value", value)
	return nil
}

// SetGlobalParameter stores a value shared by all vaults.
func (r *Registry) SetGlobalParameter(key, value string) error {
	return r.SetParameter(global, key, value)
}

// Parameter returns the vault value, falling back to the global value.
func (r *Registry) Parameter(vault asset.Address, key string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, scope := range []asset.Address{vault, global} {
		v, err := r.params.Get(paramKey(scope, key))
		if err == nil {
			return string(v), nil
		}
		if !errors.Is(err, database.ErrNotFound) {
			return "", errors.Wrapf(err, "get %s", key)
		}
	}
	return "", errors.Wrap(ErrParameterNotSet, key)
}

// GlobalParameter returns the value shared by all vaults.
func (r *Registry) GlobalParameter(key string) (string, error) {
	return r.Parameter(global, key)
}

func (r *Registry) uintParam(vault asset.Address, key string, def uint64) (uint64, error) {
	v, err := r.Parameter(vault, key)
	if errors.Is(err, ErrParameterNotSet) {
		return def, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidValue, "%s=%q", key, v)
	}
	return n, nil
}

func (r *Registry) addressParam(vault asset.Address, key string) (asset.Address, error) {
	v, err := r.Parameter(vault, key)
	if err != nil {
		return asset.Address{}, err
	}
	a, err := asset.ParseAddress(v)
	if err != nil {
		return asset.Address{}, errors.Wrapf(ErrInvalidValue, "%s=%q", key, v)
	}
	return a, nil
}

// Controller is the only account allowed to drive round transitions.
func (r *Registry) Controller(vault asset.Address) (asset.Address, error) {
	return r.addressParam(vault, KeyController)
}

// FeeRecipient receives withdrawal fees. Unset means fees stay unset and the
// vault refuses to charge them.
func (r *Registry) FeeRecipient(vault asset.Address) (asset.Address, error) {
	return r.addressParam(vault, KeyFeeRecipient)
}

func (r *Registry) WithdrawalFeeBps(vault asset.Address) (uint64, error) {
	return r.uintParam(vault, KeyWithdrawalFeeBps, DefaultWithdrawalFeeBps)
}

func (r *Registry) InvestRatioBps(vault asset.Address) (uint64, error) {
	return r.uintParam(vault, KeyInvestRatioBps, DefaultInvestRatioBps)
}

func (r *Registry) MinInitialRatioBps(vault asset.Address) (uint64, error) {
	return r.uintParam(vault, KeyMinInitialRatioBps, DefaultMinInitialRatioBps)
}

func (r *Registry) MinInitialAssets(vault asset.Address) (*uint256.Int, error) {
	return r.amountParam(vault, KeyMinInitialAssets, DefaultMinInitialAssets)
}

// LockedShares is how many of a vault's first shares are minted to no one.
func (r *Registry) LockedShares(vault asset.Address) (*uint256.Int, error) {
	return r.amountParam(vault, KeyLockedShares, DefaultLockedShares)
}

func (r *Registry) amountParam(vault asset.Address, key string, def uint64) (*uint256.Int, error) {
	v, err := r.Parameter(vault, key)
	if errors.Is(err, ErrParameterNotSet) {
		return uint256.NewInt(def), nil
	}
	if err != nil {
		return nil, err
	}
	n, err := uint256.FromDecimal(v)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidValue, "%s=%q", key, v)
	}
	return n, nil
}

func (r *Registry) StartRoundGrace(vault asset.Address) (time.Duration, error) {
	v, err := r.Parameter(vault, KeyStartRoundGrace)
	if errors.Is(err, ErrParameterNotSet) {
		return DefaultStartRoundGrace, nil
	}
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidValue, "%s=%q", KeyStartRoundGrace, v)
	}
	return d, nil
}

func validate(key, value string) error {
	switch key {
	case KeyController, KeyFeeRecipient:
		if _, err := asset.ParseAddress(value); err != nil {
			return errors.Wrapf(ErrInvalidValue, "%s: %v", key, err)
		}
	case KeyWithdrawalFeeBps:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil || n > MaxWithdrawalFeeBps {
			return errors.Wrapf(ErrInvalidValue, "%s=%q (max %d)", key, value, MaxWithdrawalFeeBps)
		}
	case KeyInvestRatioBps:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil || n > mathutil.BPS {
			return errors.Wrapf(ErrInvalidValue, "%s=%q (max %d)", key, value, mathutil.BPS)
		}
	case KeyMinInitialRatioBps:
		if _, err := strconv.ParseUint(value, 10, 64); err != nil {
			return errors.Wrapf(ErrInvalidValue, "%s=%q", key, value)
		}
	case KeyMinInitialAssets, KeyLockedShares:
		if _, err := uint256.FromDecimal(value); err != nil {
			return errors.Wrapf(ErrInvalidValue, "%s=%q", key, value)
		}
	case KeyStartRoundGrace:
		if _, err := time.ParseDuration(value); err != nil {
			return errors.Wrapf(ErrInvalidValue, "%s=%q", key, value)
		}
	}
	return nil
}
