package vault

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/mathutil"
	"github.com/luxfi/roundvault/pkg/queue"
)

// LockedSharesHolder holds the shares locked when a vault mints its first
// shares. No operation can spend from the zero address.
var LockedSharesHolder = asset.Address{}

// conversion is one queue entry priced at the round's frozen rate. locked is
// the part of shares minted to LockedSharesHolder instead of owner.
type conversion struct {
	owner  asset.Address
	assets *uint256.Int
	shares *uint256.Int
	locked *uint256.Int
}

// ProcessQueuedDeposits converts the queued deposits of owners into shares at
// the round price. Owners without a queued deposit are ignored, so the call
// can be repeated with overlapping batches. It returns the number of entries
// converted.
func (e *Engine) ProcessQueuedDeposits(caller asset.Address, owners []asset.Address) (n int, err error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.leave(&err)

	if err := e.authorize(caller, OpProcessQueue); err != nil {
		return 0, err
	}
	if e.round.State != Processing {
		return 0, ErrNotProcessingDeposits
	}

	batch := make([]queue.Entry, 0, len(owners))
	seen := make(map[asset.Address]struct{}, len(owners))
	for _, owner := range owners {
		if _, dup := seen[owner]; dup {
			continue
		}
		seen[owner] = struct{}{}
		if amount := e.queue.BalanceOf(owner); !amount.IsZero() {
			batch = append(batch, queue.Entry{Owner: owner, Amount: amount})
		}
	}
	return e.process(batch)
}

// ProcessQueuedDepositsRange converts the entries at queue positions
// [start, end). Bounds are clamped to the queue. Because removal swaps the
// last entry into the vacated slot, draining from the tail with ranges like
// [size-k, size) visits every entry exactly once.
func (e *Engine) ProcessQueuedDepositsRange(caller asset.Address, start, end int) (n int, err error) {
	if err := e.enter(); err != nil {
		return 0, err
	}
	defer e.leave(&err)

	if err := e.authorize(caller, OpProcessQueue); err != nil {
		return 0, err
	}
	if e.round.State != Processing {
		return 0, ErrNotProcessingDeposits
	}

	if start < 0 {
		start = 0
	}
	if end > e.queue.Size() {
		end = e.queue.Size()
	}
	var batch []queue.Entry
	for i := start; i < end; i++ {
		batch = append(batch, e.queue.Get(i))
	}
	return e.process(batch)
}

// process prices the whole batch before changing anything so a rejected entry
// leaves the queue and ledger untouched.
func (e *Engine) process(batch []queue.Entry) (int, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	supply := e.shares.TotalSupply()
	minted := new(uint256.Int)
	plan := make([]conversion, 0, len(batch))
	for _, entry := range batch {
		first := supply.IsZero() && minted.IsZero()
		shares, err := e.convertQueued(entry.Amount, !first)
		if err != nil {
			return 0, errors.Wrapf(err, "owner %s", entry.Owner)
		}
		if shares.IsZero() {
			e.logger.Warn("queued deposit converts to zero shares, leaving it queued",
				"vault", e.address.Hex(),
				"owner", entry.Owner.Hex(),
				"amount", entry.Amount.Dec(),
				"round", e.round.ID,
			)
			continue
		}
		if _, overflow := minted.AddOverflow(minted, shares); overflow {
			return 0, errors.Wrap(mathutil.ErrOverflow, "batch shares")
		}
		c := conversion{owner: entry.Owner, assets: entry.Amount, shares: shares, locked: new(uint256.Int)}
		if first {
			if c.locked, err = e.config.LockedShares(e.address); err != nil {
				return 0, errors.Wrap(err, "locked shares")
			}
		}
		plan = append(plan, c)
	}
	if _, overflow := new(uint256.Int).AddOverflow(supply, minted); overflow {
		return 0, errors.Wrap(mathutil.ErrOverflow, "share supply")
	}

	for _, c := range plan {
		// the bootstrap threshold keeps shares above locked
		owned := new(uint256.Int).Sub(c.shares, c.locked)
		if err := e.shares.Mint(c.owner, owned); err != nil {
			// unreachable after the overflow check above
			return 0, err
		}
		if !c.locked.IsZero() {
			if err := e.shares.Mint(LockedSharesHolder, c.locked); err != nil {
				return 0, err
			}
			e.logger.Info("initial shares locked",
				"vault", e.address.Hex(),
				"owner", c.owner.Hex(),
				"locked", c.locked.Dec(),
			)
		}
		e.queue.RemoveOwner(c.owner)
		e.emit(events.DepositProcessed{
			Vault:   e.address,
			Owner:   c.owner,
			RoundID: e.round.ID,
			Assets:  c.assets.Clone(),
			Shares:  owned,
		})
	}
	e.logger.Info("queued deposits processed",
		"vault", e.address.Hex(),
		"round", e.round.ID,
		"processed", len(plan),
		"shares", minted.Dec(),
		"remaining", e.queue.Size(),
	)
	return len(plan), nil
}

// convertQueued prices amount at the round's frozen rate. A round that closed
// with no shares outstanding converts 1:1, but the first shares ever minted
// must come from a deposit large enough that assets already sitting in the
// vault cannot skew the price against it, and that covers the locked shares.
func (e *Engine) convertQueued(amount *uint256.Int, minted bool) (*uint256.Int, error) {
	if !e.round.EndSupply.IsZero() {
		return mathutil.MulDivDown(amount, e.round.EndSupply, e.round.EndAssets)
	}
	if !minted {
		threshold, err := e.minimumInitialDeposit()
		if err != nil {
			return nil, err
		}
		if amount.Lt(threshold) {
			return nil, errors.Wrapf(ErrAssetsUnderMinimumAmount, "%s < %s", amount.Dec(), threshold.Dec())
		}
	}
	return amount.Clone(), nil
}

// minimumInitialDeposit is the larger of the absolute floor and the configured
// fraction of the assets the empty vault already holds, and always more than
// the locked shares.
func (e *Engine) minimumInitialDeposit() (*uint256.Int, error) {
	floor, err := e.config.MinInitialAssets(e.address)
	if err != nil {
		return nil, errors.Wrap(err, "min initial assets")
	}
	bps, err := e.config.MinInitialRatioBps(e.address)
	if err != nil {
		return nil, errors.Wrap(err, "min initial ratio")
	}
	relative, err := mathutil.Bps(bps).MulUp(e.round.EndAssets)
	if err != nil {
		return nil, err
	}
	threshold := floor
	if relative.Gt(threshold) {
		threshold = relative
	}
	locked, err := e.config.LockedShares(e.address)
	if err != nil {
		return nil, errors.Wrap(err, "locked shares")
	}
	if !threshold.Gt(locked) {
		threshold = new(uint256.Int).AddUint64(locked, 1)
	}
	return threshold, nil
}
