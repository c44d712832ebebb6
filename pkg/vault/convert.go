package vault

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/mathutil"
	"github.com/luxfi/roundvault/pkg/registry"
)

// PriceDecimals is the fixed-point scale of SharePrice.
const PriceDecimals = 18

var priceScale = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(PriceDecimals))

// Position is an owner's claim: converted shares plus still-queued assets.
type Position struct {
	Shares     *uint256.Int `json:"shares"`
	IdleAssets *uint256.Int `json:"idleAssets"`
}

// TotalAssets is everything the vault controls: its own balance, queued
// deposits included, plus what the strategy manages.
func (e *Engine) TotalAssets() *uint256.Int {
	total := e.balance()
	return total.Add(total, e.strategy.TotalManagedAssets())
}

// TotalIdleAssets is the sum of queued, unconverted deposits.
func (e *Engine) TotalIdleAssets() *uint256.Int {
	return e.queue.TotalDeposited()
}

// backingAssets are the assets that belong to shareholders.
func (e *Engine) backingAssets() *uint256.Int {
	return mathutil.SaturatingSub(e.TotalAssets(), e.queue.TotalDeposited())
}

func (e *Engine) TotalSupply() *uint256.Int { return e.shares.TotalSupply() }

func (e *Engine) BalanceOf(owner asset.Address) *uint256.Int { return e.shares.BalanceOf(owner) }

func (e *Engine) Allowance(owner, spender asset.Address) *uint256.Int {
	return e.shares.Allowance(owner, spender)
}

func (e *Engine) QueuedBalanceOf(owner asset.Address) *uint256.Int { return e.queue.BalanceOf(owner) }

func (e *Engine) DepositQueueSize() int { return e.queue.Size() }

// PositionOf returns owner's shares and idle assets.
func (e *Engine) PositionOf(owner asset.Address) Position {
	return Position{
		Shares:     e.shares.BalanceOf(owner),
		IdleAssets: e.queue.BalanceOf(owner),
	}
}

// AssetsOf values owner's position at the current price.
func (e *Engine) AssetsOf(owner asset.Address) (*uint256.Int, error) {
	p := e.PositionOf(owner)
	converted, err := e.ConvertToAssets(p.Shares)
	if err != nil {
		return nil, err
	}
	return converted.Add(converted, p.IdleAssets), nil
}

// SharePrice is backing assets per share scaled by 10^PriceDecimals. An empty
// vault prices shares 1:1.
func (e *Engine) SharePrice() (*uint256.Int, error) {
	return price(e.backingAssets(), e.shares.TotalSupply())
}

// SharePriceDecimal is SharePrice as a decimal for display.
func (e *Engine) SharePriceDecimal() (decimal.Decimal, error) {
	p, err := e.SharePrice()
	if err != nil {
		return decimal.Zero, err
	}
	return PriceDecimal(p), nil
}

// PriceDecimal renders a scaled price.
func PriceDecimal(p *uint256.Int) decimal.Decimal {
	return decimal.NewFromBigInt(p.ToBig(), -PriceDecimals)
}

func price(assets, supply *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() {
		return priceScale.Clone(), nil
	}
	return mathutil.MulDivDown(assets, priceScale, supply)
}

func toShares(assets, totalAssets, supply *uint256.Int, r mathutil.Rounding) (*uint256.Int, error) {
	if supply.IsZero() {
		return assets.Clone(), nil
	}
	return mathutil.MulDiv(assets, supply, totalAssets, r)
}

func toAssets(shares, totalAssets, supply *uint256.Int, r mathutil.Rounding) (*uint256.Int, error) {
	if supply.IsZero() {
		return shares.Clone(), nil
	}
	return mathutil.MulDiv(shares, totalAssets, supply, r)
}

// ConvertToShares values assets in shares at the current price, rounding down.
func (e *Engine) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	return toShares(assets, e.backingAssets(), e.shares.TotalSupply(), mathutil.Down)
}

// ConvertToAssets values shares in assets at the current price, rounding down.
func (e *Engine) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	return toAssets(shares, e.backingAssets(), e.shares.TotalSupply(), mathutil.Down)
}

// PreviewDeposit estimates the shares a deposit would receive if the round
// converted at the current price.
func (e *Engine) PreviewDeposit(assets *uint256.Int) (*uint256.Int, error) {
	return e.ConvertToShares(assets)
}

// PreviewMint is the asset cost of minting shares at the current price,
// rounded up.
func (e *Engine) PreviewMint(shares *uint256.Int) (*uint256.Int, error) {
	return toAssets(shares, e.backingAssets(), e.shares.TotalSupply(), mathutil.Up)
}

// Quote is the breakdown of a withdrawal or redemption.
type Quote struct {
	Shares *uint256.Int `json:"shares"`
	Gross  *uint256.Int `json:"gross"`
	Fee    *uint256.Int `json:"fee"`
	Net    *uint256.Int `json:"net"`
}

func (e *Engine) withdrawalFee() (uint64, error) {
	bps, err := e.config.WithdrawalFeeBps(e.address)
	if err != nil {
		return 0, err
	}
	if bps > registry.MaxWithdrawalFeeBps {
		return 0, errors.Wrapf(ErrFeeRatioTooHigh, "%d bps > %d", bps, registry.MaxWithdrawalFeeBps)
	}
	return bps, nil
}

// PreviewRedeem quotes burning shares: gross rounds down, the fee rounds up.
func (e *Engine) PreviewRedeem(shares *uint256.Int) (Quote, error) {
	bps, err := e.withdrawalFee()
	if err != nil {
		return Quote{}, err
	}
	gross, err := toAssets(shares, e.backingAssets(), e.shares.TotalSupply(), mathutil.Down)
	if err != nil {
		return Quote{}, err
	}
	fee, err := mathutil.Bps(bps).MulUp(gross)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Shares: shares.Clone(),
		Gross:  gross,
		Fee:    fee,
		Net:    new(uint256.Int).Sub(gross, fee),
	}, nil
}

// PreviewWithdraw quotes receiving net assets: the gross amount grossed up for
// the fee and the shares burnt both round up.
func (e *Engine) PreviewWithdraw(net *uint256.Int) (Quote, error) {
	bps, err := e.withdrawalFee()
	if err != nil {
		return Quote{}, err
	}
	gross := net.Clone()
	if bps > 0 {
		gross, err = mathutil.MulDivUp(net, uint256.NewInt(mathutil.BPS), uint256.NewInt(mathutil.BPS-bps))
		if err != nil {
			return Quote{}, err
		}
	}
	burn, err := toShares(gross, e.backingAssets(), e.shares.TotalSupply(), mathutil.Up)
	if err != nil {
		return Quote{}, err
	}
	return Quote{
		Shares: burn,
		Gross:  gross,
		Fee:    new(uint256.Int).Sub(gross, net),
		Net:    net.Clone(),
	}, nil
}

// AvailableCap is the deposit headroom the registry reports.
func (e *Engine) AvailableCap() (*uint256.Int, error) {
	return e.config.AvailableCap(e.address)
}

// MaxDeposit is zero while processing, otherwise the available cap.
func (e *Engine) MaxDeposit() (*uint256.Int, error) {
	if e.round.State != Open {
		return new(uint256.Int), nil
	}
	return e.AvailableCap()
}

// MaxMint is MaxDeposit expressed in shares, rounded down.
func (e *Engine) MaxMint() (*uint256.Int, error) {
	max, err := e.MaxDeposit()
	if err != nil || max.IsZero() || mathutil.IsMax(max) {
		return max, err
	}
	return e.ConvertToShares(max)
}

// MaxRedeem is zero while processing, otherwise owner's share balance.
func (e *Engine) MaxRedeem(owner asset.Address) *uint256.Int {
	if e.round.State != Open {
		return new(uint256.Int)
	}
	return e.shares.BalanceOf(owner)
}

// MaxWithdraw is zero while processing, otherwise the net assets owner's
// whole balance redeems for.
func (e *Engine) MaxWithdraw(owner asset.Address) (*uint256.Int, error) {
	shares := e.MaxRedeem(owner)
	if shares.IsZero() {
		return shares, nil
	}
	q, err := e.PreviewRedeem(shares)
	if err != nil {
		return nil, err
	}
	return q.Net, nil
}
