package vault

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
)

// Migrate moves caller's whole position to target: shares are redeemed net of
// the withdrawal fee, queued deposits are carried as they are, and the sum is
// queued in target for caller. Both vaults must be Open and the move must be
// allow-listed for the same underlying asset. It returns the amount queued in
// target.
func (e *Engine) Migrate(caller asset.Address, target *Engine) (moved *uint256.Int, err error) {
	if target == nil || target == e {
		return nil, ErrMigrationNotAllowed
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave(&err)

	if err := e.requireOpen(); err != nil {
		return nil, err
	}
	if caller.IsZero() {
		return nil, errors.Wrap(ErrZeroAddress, "caller")
	}
	if target.round.State != Open {
		return nil, errors.Wrap(ErrForbiddenWhileProcessingDeposits, "target vault")
	}
	allowed, err := e.config.IsVaultAllowed(e.address, target.address)
	if err != nil {
		return nil, errors.Wrap(err, "migration allow-list")
	}
	if !allowed {
		return nil, errors.Wrapf(ErrMigrationNotAllowed, "%s -> %s", e.address, target.address)
	}
	if e.token.ID() != target.token.ID() {
		return nil, errors.Wrapf(ErrMigrationNotAllowed, "asset %s != %s", e.token.ID(), target.token.ID())
	}

	held := e.shares.BalanceOf(caller)
	idle := e.queue.BalanceOf(caller)
	q := Quote{Shares: held, Gross: new(uint256.Int), Fee: new(uint256.Int), Net: new(uint256.Int)}
	if !held.IsZero() {
		if q, err = e.PreviewRedeem(held); err != nil {
			return nil, err
		}
	}
	moved = new(uint256.Int).Add(q.Net, idle)
	if moved.IsZero() {
		return nil, ErrZeroAssets
	}
	if liquid := e.liquidAssets(); liquid.Lt(q.Gross) {
		return nil, errors.Wrapf(ErrInsufficientLiquidity, "%s liquid, %s requested", liquid.Dec(), q.Gross.Dec())
	}
	feeRecipient, err := e.feeRecipient(q.Fee)
	if err != nil {
		return nil, err
	}

	var rollback undo
	if !q.Fee.IsZero() {
		if err := e.token.Transfer(e.address, feeRecipient, q.Fee); err != nil {
			return nil, errors.Wrap(err, "pay fee")
		}
		rollback.push(func() { e.logIfErr("reclaim fee", e.token.Transfer(feeRecipient, e.address, q.Fee)) })
	}
	released := new(uint256.Int).Add(q.Gross, idle)
	if err := e.config.RestoreCap(e.address, released); err != nil {
		rollback.run()
		return nil, errors.Wrap(err, "restore cap")
	}
	rollback.push(func() { e.logIfErr("re-consume cap", e.config.ConsumeCap(e.address, released)) })

	// Target publishes its deposit as soon as it accepts, so it goes last.
	if err := target.acceptMigration(e.address, caller, moved); err != nil {
		rollback.run()
		return nil, errors.Wrap(err, "target vault")
	}

	if !held.IsZero() {
		if err := e.shares.Burn(caller, held); err != nil {
			return nil, err
		}
	}
	e.queue.RemoveOwner(caller)

	e.emit(events.Migrated{
		Vault:  e.address,
		Owner:  caller,
		From:   e.address,
		To:     target.address,
		Assets: moved.Clone(),
		Shares: held.Clone(),
	})
	e.logger.Info("position migrated",
		"vault", e.address.Hex(),
		"owner", caller.Hex(),
		"to", target.address.Hex(),
		"assets", moved.Dec(),
		"shares", held.Dec(),
		"fee", q.Fee.Dec(),
	)
	return moved, nil
}

// acceptMigration queues amount for owner, pulling it from the source vault.
func (e *Engine) acceptMigration(source, owner asset.Address, amount *uint256.Int) (err error) {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave(&err)

	if err := e.requireOpen(); err != nil {
		return err
	}
	return e.deposit(source, amount, owner)
}
