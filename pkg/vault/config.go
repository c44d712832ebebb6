package vault

import (
	"time"

	"github.com/holiman/uint256"

	"github.com/luxfi/roundvault/pkg/asset"
)

// Config is the parameter and permission store a vault consults. Cap
// bookkeeping lives there too; the vault only reports consumption.
// *registry.Registry implements it.
type Config interface {
	Controller(vault asset.Address) (asset.Address, error)
	FeeRecipient(vault asset.Address) (asset.Address, error)
	WithdrawalFeeBps(vault asset.Address) (uint64, error)
	InvestRatioBps(vault asset.Address) (uint64, error)
	MinInitialAssets(vault asset.Address) (*uint256.Int, error)
	MinInitialRatioBps(vault asset.Address) (uint64, error)
	LockedShares(vault asset.Address) (*uint256.Int, error)
	StartRoundGrace(vault asset.Address) (time.Duration, error)

	AvailableCap(vault asset.Address) (*uint256.Int, error)
	ConsumeCap(vault asset.Address, amount *uint256.Int) error
	RestoreCap(vault asset.Address, amount *uint256.Int) error

	IsVaultAllowed(from, to asset.Address) (bool, error)
}
