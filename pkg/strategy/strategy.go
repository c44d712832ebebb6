// Package strategy defines the yield source a vault hands idle capital to at
// round boundaries.
package strategy

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/luxfi/log"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/mathutil"
)

// Strategy deploys a vault's capital. Implementations move funds between
// the vault's address and their own custody through the asset Token.
type Strategy interface {
	// Invest pulls amount from the vault.
	Invest(ctx context.Context, amount *uint256.Int) error
	// Divest returns up to amount to the vault and reports what was returned.
	Divest(ctx context.Context, amount *uint256.Int) (*uint256.Int, error)
	TotalManagedAssets() *uint256.Int
}

// Reserve keeps invested funds at its own address. Yield and losses show up
// as changes to that balance made outside the vault (premiums minted in,
// slashing burnt out).
type Reserve struct {
	token   asset.Token
	vault   asset.Address
	address asset.Address
	logger  log.Logger
}

// NewReserve creates a reserve custodying funds for vault at address.
func NewReserve(token asset.Token, vault, address asset.Address, logger log.Logger) *Reserve {
	if logger == nil {
		logger = log.Root().New("module", "strategy")
	}
	return &Reserve{
		token:   token,
		vault:   vault,
		address: address,
		logger:  logger,
	}
}

func (r *Reserve) Address() asset.Address { return r.address }

func (r *Reserve) Invest(ctx context.Context, amount *uint256.Int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.token.Transfer(r.vault, r.address, amount); err != nil {
		return errors.Wrap(err, "invest")
	}
	r.logger.Debug("invested", "vault", r.vault.Hex(), "amount", amount.Dec())
	return nil
}

func (r *Reserve) Divest(ctx context.Context, amount *uint256.Int) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	actual := mathutil.Min(amount, r.TotalManagedAssets())
	if err := r.token.Transfer(r.address, r.vault, actual); err != nil {
		return nil, errors.Wrap(err, "divest")
	}
	r.logger.Debug("divested", "vault", r.vault.Hex(), "requested", amount.Dec(), "actual", actual.Dec())
	return actual, nil
}

func (r *Reserve) TotalManagedAssets() *uint256.Int {
	return r.token.BalanceOf(r.address)
}
