package registry

import "time"

// Parameter keys. A vault-scoped value overrides the global one.
const (
	KeyController         = "controller"
	KeyFeeRecipient       = "fee_recipient"
	KeyWithdrawalFeeBps   = "withdrawal_fee_bps"
	KeyInvestRatioBps     = "invest_ratio_bps"
	KeyMinInitialAssets   = "min_initial_assets"
	KeyMinInitialRatioBps = "min_initial_ratio_bps"
	KeyLockedShares       = "locked_shares"
	KeyStartRoundGrace    = "start_round_grace"
)

// MaxWithdrawalFeeBps is the hard ceiling on the withdrawal fee (10%).
const MaxWithdrawalFeeBps = 1_000

// Defaults applied when neither a vault nor a global value is set.
//
// MinInitialAssets and MinInitialRatioBps gate the first shares a vault
// mints. The absolute floor is one whole unit of a 6-decimal token; vaults
// over tokens with more decimals should raise it to one whole unit of theirs.
// A seed of F base units followed by a donation of D prices a share at
// (F+D)/F, so a later depositor loses at most that much to rounding while
// the donor locks up D to extract it. The ratio covers assets that were
// already sitting in the vault before the seed.
//
// LockedShares of the first shares minted go to no one and stay in the supply
// for good. A holder who redeems down to a sliver of the supply and then
// donates shares the donation with the locked shares, so inflating the price
// costs more than rounding can return.
const (
	DefaultWithdrawalFeeBps   = 0
	DefaultInvestRatioBps     = 10_000
	DefaultMinInitialAssets   = 1_000_000
	DefaultMinInitialRatioBps = 100
	DefaultLockedShares       = 1_000
	DefaultStartRoundGrace    = 24 * time.Hour
)
