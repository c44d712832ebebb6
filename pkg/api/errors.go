package api

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/luxfi/roundvault/pkg/asset"
	"github.com/luxfi/roundvault/pkg/mathutil"
	"github.com/luxfi/roundvault/pkg/registry"
	"github.com/luxfi/roundvault/pkg/shares"
	"github.com/luxfi/roundvault/pkg/vault"
)

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// Vault error codes
const (
	StateError      = -32001
	EconomicError   = -32002
	ArithmeticError = -32003
	NotFoundError   = -32004
	Forbidden       = -32005
)

type errorClass struct {
	err  error
	code int
	name string
}

var errorClasses = []errorClass{
	{vault.ErrForbiddenWhileProcessingDeposits, StateError, "ForbiddenWhileProcessingDeposits"},
	{vault.ErrAlreadyProcessingDeposits, StateError, "AlreadyProcessingDeposits"},
	{vault.ErrNotProcessingDeposits, StateError, "NotProcessingDeposits"},
	{vault.ErrReentrantCall, StateError, "ReentrantCall"},
	{vault.ErrCallerIsNotController, StateError, "CallerIsNotController"},
	{vault.ErrZeroAssets, EconomicError, "ZeroAssets"},
	{vault.ErrCapExceeded, EconomicError, "CapExceeded"},
	{vault.ErrMigrationNotAllowed, EconomicError, "MigrationNotAllowed"},
	{vault.ErrAssetsUnderMinimumAmount, EconomicError, "AssetsUnderMinimumAmount"},
	{vault.ErrFeeRatioTooHigh, EconomicError, "FeeRatioTooHigh"},
	{vault.ErrInsufficientLiquidity, EconomicError, "InsufficientLiquidity"},
	{vault.ErrZeroAddress, EconomicError, "ZeroAddress"},
	{shares.ErrInsufficientBalance, EconomicError, "InsufficientShareBalance"},
	{shares.ErrInsufficientAllowance, EconomicError, "InsufficientShareAllowance"},
	{asset.ErrInsufficientFunds, EconomicError, "InsufficientFunds"},
	{mathutil.ErrDivisionByZero, ArithmeticError, "DivisionByZero"},
	{mathutil.ErrOverflow, ArithmeticError, "Overflow"},
	{ErrUnknownVault, NotFoundError, "UnknownVault"},
	{ErrUnknownToken, NotFoundError, "UnknownToken"},
	{registry.ErrParameterNotSet, NotFoundError, "ParameterNotSet"},
	{registry.ErrInvalidValue, InvalidParams, "InvalidValue"},
	{errAdminDisabled, Forbidden, "AdminDisabled"},
}

// toRPCError maps a domain error onto a JSON-RPC error. The error name goes
// in Data so clients can match on it.
func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	for _, c := range errorClasses {
		if errors.Is(err, c.err) {
			return &RPCError{Code: c.code, Message: err.Error(), Data: c.name}
		}
	}
	return &RPCError{Code: InternalError, Message: err.Error()}
}
