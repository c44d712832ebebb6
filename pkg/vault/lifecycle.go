package vault

import (
	"context"

	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/events"
	"github.com/luxfi/roundvault/pkg/mathutil"
)

// EndRound closes the open round: it freezes the conversion price for queued
// deposits, moves the vault to Processing and hands the configured share of
// liquid share capital to the strategy. Queued deposits stay in the vault.
func (e *Engine) EndRound(ctx context.Context, caller asset.Address) (err error) {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave(&err)

	if err := e.authorize(caller, OpEndRound); err != nil {
		return err
	}
	if e.round.State != Open {
		return ErrAlreadyProcessingDeposits
	}

	ratio, err := e.config.InvestRatioBps(e.address)
	if err != nil {
		return errors.Wrap(err, "invest ratio")
	}
	invest, err := mathutil.MulDivDown(e.liquidAssets(), uint256.NewInt(ratio), uint256.NewInt(mathutil.BPS))
	if err != nil {
		return err
	}

	prev := e.round.clone()
	e.round.State = Processing
	e.round.EndAssets = e.backingAssets()
	e.round.EndSupply = e.shares.TotalSupply()
	e.round.EndedAt = e.now()

	if !invest.IsZero() {
		if err := e.strategy.Invest(ctx, invest); err != nil {
			e.round = prev
			return errors.Wrap(err, "invest")
		}
	}

	e.emit(events.EndRound{Vault: e.address, RoundID: e.round.ID})
	e.logger.Info("round ended",
		"vault", e.address.Hex(),
		"round", e.round.ID,
		"assets", e.round.EndAssets.Dec(),
		"supply", e.round.EndSupply.Dec(),
		"invested", invest.Dec(),
		"queued", e.queue.Size(),
	)
	return nil
}

// StartRound recalls all capital from the strategy, publishes how the share
// price moved over the closing round and opens the next one. Deposits left in
// the queue carry over and become refundable again.
func (e *Engine) StartRound(ctx context.Context, caller asset.Address) (err error) {
	if err := e.enter(); err != nil {
		return err
	}
	defer e.leave(&err)

	if err := e.authorize(caller, OpStartRound); err != nil {
		return err
	}
	if e.round.State != Processing {
		return ErrNotProcessingDeposits
	}

	startPrice, err := price(e.round.StartAssets, e.round.StartSupply)
	if err != nil {
		return err
	}

	divested := new(uint256.Int)
	if managed := e.strategy.TotalManagedAssets(); !managed.IsZero() {
		divested, err = e.strategy.Divest(ctx, managed)
		if err != nil {
			return errors.Wrap(err, "divest")
		}
	}

	assets, supply := e.backingAssets(), e.shares.TotalSupply()
	endPrice, err := price(assets, supply)
	if err != nil {
		return err
	}

	closing := e.round.ID
	e.round = newRound(closing+1, assets, supply)

	e.emit(events.SharePrice{
		Vault:      e.address,
		RoundID:    closing,
		StartPrice: startPrice,
		EndPrice:   endPrice,
	})
	e.emit(events.StartRound{Vault: e.address, RoundID: e.round.ID, Assets: assets.Clone()})
	e.logger.Info("round started",
		"vault", e.address.Hex(),
		"round", e.round.ID,
		"assets", assets.Dec(),
		"divested", divested.Dec(),
		"price", PriceDecimal(endPrice).String(),
		"caller", caller.Hex(),
	)
	return nil
}
