package vault

import (
	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/mathutil"
)

// State-gate violations.
var (
	ErrForbiddenWhileProcessingDeposits = errors.New("forbidden while processing deposits")
	ErrAlreadyProcessingDeposits        = errors.New("already processing deposits")
	ErrNotProcessingDeposits            = errors.New("not processing deposits")
	ErrCallerIsNotController            = errors.New("caller is not controller")
	ErrReentrantCall                    = errors.New("reentrant call")
)

// Economic guards.
var (
	ErrZeroAssets               = errors.New("zero assets")
	ErrCapExceeded              = errors.New("cap exceeded")
	ErrMigrationNotAllowed      = errors.New("migration not allowed")
	ErrAssetsUnderMinimumAmount = errors.New("assets under minimum amount")
	ErrFeeRatioTooHigh          = errors.New("fee ratio too high")
	ErrInsufficientLiquidity    = errors.New("insufficient liquidity")
	ErrZeroAddress              = errors.New("zero address")
)

// ErrDivisionByZero is the arithmetic fault raised by conversions against an
// empty side of the pool.
var ErrDivisionByZero = mathutil.ErrDivisionByZero
