package vault

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/registry"
	"github.com/luxfi/roundvault/pkg/shares"
)

// Withdraw burns the shares needed for receiver to get net assets out of
// owner's position. The caller spends owner's share allowance unless it is
// the owner.
func (e *Engine) Withdraw(caller asset.Address, net *uint256.Int, receiver, owner asset.Address) (q Quote, err error) {
	if err := e.enter(); err != nil {
		return Quote{}, err
	}
	defer e.leave(&err)

	if err := e.requireOpen(); err != nil {
		return Quote{}, err
	}
	if net.IsZero() {
		return Quote{}, ErrZeroAssets
	}
	q, err = e.PreviewWithdraw(net)
	if err != nil {
		return Quote{}, err
	}
	if err := e.exit(caller, q, receiver, owner); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// Redeem burns shares of owner's position and pays what they are worth, less
// the withdrawal fee, to receiver.
func (e *Engine) Redeem(caller asset.Address, amount *uint256.Int, receiver, owner asset.Address) (q Quote, err error) {
	if err := e.enter(); err != nil {
		return Quote{}, err
	}
	defer e.leave(&err)

	if err := e.requireOpen(); err != nil {
		return Quote{}, err
	}
	q, err = e.PreviewRedeem(amount)
	if err != nil {
		return Quote{}, err
	}
	if q.Net.IsZero() {
		return Quote{}, ErrZeroAssets
	}
	if err := e.exit(caller, q, receiver, owner); err != nil {
		return Quote{}, err
	}
	return q, nil
}

// exit settles a quote: every precondition is checked first, then assets
// move, then the share ledger changes.
func (e *Engine) exit(caller asset.Address, q Quote, receiver, owner asset.Address) error {
	if receiver.IsZero() {
		return errors.Wrap(ErrZeroAddress, "receiver")
	}
	if owner.IsZero() {
		return errors.Wrap(ErrZeroAddress, "owner")
	}
	if bal := e.shares.BalanceOf(owner); bal.Lt(q.Shares) {
		return errors.Wrapf(shares.ErrInsufficientBalance, "%s holds %s, needs %s", owner, bal.Dec(), q.Shares.Dec())
	}
	if err := e.shares.CheckAllowance(owner, caller, q.Shares); err != nil {
		return err
	}
	if liquid := e.liquidAssets(); liquid.Lt(q.Gross) {
		return errors.Wrapf(ErrInsufficientLiquidity, "%s liquid, %s requested", liquid.Dec(), q.Gross.Dec())
	}

	feeRecipient, err := e.feeRecipient(q.Fee)
	if err != nil {
		return err
	}

	var rollback undo
	if err := e.token.Transfer(e.address, receiver, q.Net); err != nil {
		return errors.Wrap(err, "pay receiver")
	}
	rollback.push(func() { e.logIfErr("reclaim payout", e.token.Transfer(receiver, e.address, q.Net)) })

	if !q.Fee.IsZero() {
		if err := e.token.Transfer(e.address, feeRecipient, q.Fee); err != nil {
			rollback.run()
			return errors.Wrap(err, "pay fee")
		}
		rollback.push(func() { e.logIfErr("reclaim fee", e.token.Transfer(feeRecipient, e.address, q.Fee)) })
	}

	if err := e.config.RestoreCap(e.address, q.Gross); err != nil {
		rollback.run()
		return errors.Wrap(err, "restore cap")
	}

	// Both calls were validated above and cannot fail.
	if err := e.shares.SpendAllowance(owner, caller, q.Shares); err != nil {
		return err
	}
	if err := e.shares.Burn(owner, q.Shares); err != nil {
		return err
	}

	e.emit(events.Withdrawn{
		Vault:    e.address,
		Caller:   caller,
		Receiver: receiver,
		Owner:    owner,
		Assets:   q.Net.Clone(),
		Fee:      q.Fee.Clone(),
		Shares:   q.Shares.Clone(),
	})
	e.logger.Info("withdrawn",
		"vault", e.address.Hex(),
		"owner", owner.Hex(),
		"receiver", receiver.Hex(),
		"net", q.Net.Dec(),
		"fee", q.Fee.Dec(),
		"shares", q.Shares.Dec(),
	)
	return nil
}

// feeRecipient resolves where a fee is paid. A fee can only be charged when a
// recipient is configured.
func (e *Engine) feeRecipient(fee *uint256.Int) (asset.Address, error) {
	if fee.IsZero() {
		return asset.Address{}, nil
	}
	to, err := e.config.FeeRecipient(e.address)
	if errors.Is(err, registry.ErrParameterNotSet) || (err == nil && to.IsZero()) {
		return asset.Address{}, errors.Wrap(ErrZeroAddress, "fee recipient")
	}
	if err != nil {
		return asset.Address{}, errors.Wrap(err, "fee recipient")
	}
	return to, nil
}

// Approve sets spender's allowance over owner's shares. The maximum value is
// an infinite approval.
func (e *Engine) Approve(owner, spender asset.Address, amount *uint256.Int) (err error) {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave(&err)

	if spender.IsZero() {
		return errors.Wrap(ErrZeroAddress, "spender")
	}
	e.shares.Approve(owner, spender, amount)
	return nil
}

// TransferShares moves shares from one holder to another, spending the
// caller's allowance when it is not the holder.
func (e *Engine) TransferShares(caller, from, to asset.Address, amount *uint256.Int) (err error) {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave(&err)

	if to.IsZero() {
		return errors.Wrap(ErrZeroAddress, "recipient")
	}
	if from.IsZero() {
		return errors.Wrap(ErrZeroAddress, "holder")
	}
	if bal := e.shares.BalanceOf(from); bal.Lt(amount) {
		return errors.Wrapf(shares.ErrInsufficientBalance, "%s holds %s, sending %s", from, bal.Dec(), amount.Dec())
	}
	if err := e.shares.SpendAllowance(from, caller, amount); err != nil {
		return err
	}
	return e.shares.Transfer(from, to, amount)
}
