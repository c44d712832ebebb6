package vault

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/registry"
)

// Deposit pulls amount from caller and queues it for recipient until the
// round is processed. A zero amount is a no-op.
func (e *Engine) Deposit(caller asset.Address, amount *uint256.Int, recipient asset.Address) (err error) {
	if amount.IsZero() {
		return nil
	}
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave(&err)

	if err := e.requireOpen(); err != nil {
		return err
	}
	return e.deposit(caller, amount, recipient)
}

// Mint deposits the current asset cost of shares for recipient and returns
// that cost. The shares themselves are minted at the round price when the
// deposit is processed. Zero shares is a no-op.
func (e *Engine) Mint(caller asset.Address, shares *uint256.Int, recipient asset.Address) (assets *uint256.Int, err error) {
	if shares.IsZero() {
		return new(uint256.Int), nil
	}
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave(&err)

	if err := e.requireOpen(); err != nil {
		return nil, err
	}
	assets, err = e.PreviewMint(shares)
	if err != nil {
		return nil, err
	}
	if err := e.deposit(caller, assets, recipient); err != nil {
		return nil, err
	}
	return assets, nil
}

func (e *Engine) deposit(caller asset.Address, amount *uint256.Int, recipient asset.Address) error {
	if recipient.IsZero() {
		return errors.Wrap(ErrZeroAddress, "recipient")
	}
	if amount.IsZero() {
		return nil
	}

	var rollback undo
	if err := e.consumeCap(amount); err != nil {
		return err
	}
	rollback.push(func() { e.restoreCap(amount) })

	if err := e.token.Transfer(caller, e.address, amount); err != nil {
		rollback.run()
		return errors.Wrap(err, "pull deposit")
	}

	e.queue.Push(recipient, amount)
	e.emit(events.Deposited{
		Vault:     e.address,
		Caller:    caller,
		Recipient: recipient,
		RoundID:   e.round.ID,
		Assets:    amount.Clone(),
	})
	e.logger.Debug("deposit queued",
		"vault", e.address.Hex(),
		"recipient", recipient.Hex(),
		"amount", amount.Dec(),
		"round", e.round.ID,
	)
	return nil
}

// Refund returns caller's queued deposit while the round is still open.
func (e *Engine) Refund(caller asset.Address) (amount *uint256.Int, err error) {
	if err := e.enter(); err != nil {
		return nil, err
	}
	defer e.leave(&err)

	if err := e.requireOpen(); err != nil {
		return nil, err
	}
	amount = e.queue.BalanceOf(caller)
	if amount.IsZero() {
		return nil, ErrZeroAssets
	}

	if err := e.config.RestoreCap(e.address, amount); err != nil {
		return nil, errors.Wrap(err, "restore cap")
	}
	if err := e.token.Transfer(e.address, caller, amount); err != nil {
		e.logIfErr("re-consume cap", e.config.ConsumeCap(e.address, amount))
		return nil, errors.Wrap(err, "return deposit")
	}
	e.queue.RemoveOwner(caller)

	e.emit(events.DepositRefunded{
		Vault:   e.address,
		Owner:   caller,
		RoundID: e.round.ID,
		Assets:  amount.Clone(),
	})
	e.logger.Info("deposit refunded", "vault", e.address.Hex(), "owner", caller.Hex(), "amount", amount.Dec())
	return amount, nil
}

func (e *Engine) consumeCap(amount *uint256.Int) error {
	avail, err := e.config.AvailableCap(e.address)
	if err != nil {
		return errors.Wrap(err, "available cap")
	}
	if avail.Lt(amount) {
		return errors.Wrapf(ErrCapExceeded, "%s available, %s requested", avail.Dec(), amount.Dec())
	}
	if err := e.config.ConsumeCap(e.address, amount); err != nil {
		if errors.Is(err, registry.ErrCapExceeded) {
			return errors.Wrap(ErrCapExceeded, err.Error())
		}
		return errors.Wrap(err, "consume cap")
	}
	return nil
}

func (e *Engine) restoreCap(amount *uint256.Int) {
	e.logIfErr("restore cap", e.config.RestoreCap(e.address, amount))
}

func (e *Engine) logIfErr(what string, err error) {
	if err != nil {
		e.logger.Error(what+" failed", "vault", e.address.Hex(), "error", err)
	}
}
