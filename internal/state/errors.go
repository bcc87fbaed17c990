package state

import "vaultrouter/internal/fault"

// Error kinds, re-exported so callers of this package can classify without
// importing fault directly.
var (
	ErrStateViolation = fault.ErrStateViolation
	ErrUnauthorized   = fault.ErrUnauthorized
	ErrValidation     = fault.ErrValidation
	ErrSolvency       = fault.ErrSolvency
	ErrPaused         = fault.ErrPaused
	ErrNotFound       = fault.ErrNotFound
)

// Batch lifecycle
var (
	ErrBatchNotValid   = fault.New(fault.ErrValidation, "BatchNotValid")
	ErrBatchClosed     = fault.New(fault.ErrStateViolation, "BatchClosed")
	ErrBatchNotClosed  = fault.NewRetryable(fault.ErrStateViolation, "BatchNotClosed")
	ErrBatchSettled    = fault.New(fault.ErrStateViolation, "BatchSettled")
	ErrBatchNotSettled = fault.NewRetryable(fault.ErrStateViolation, "BatchNotSettled")
	ErrNoActiveBatch   = fault.NewRetryable(fault.ErrStateViolation, "NoActiveBatch")
)

// Requests and claims
var (
	ErrZeroAmount          = fault.New(fault.ErrValidation, "ZeroAmount")
	ErrZeroAddress         = fault.New(fault.ErrValidation, "ZeroAddress")
	ErrRequestNotFound     = fault.New(fault.ErrNotFound, "RequestNotFound")
	ErrRequestNotPending   = fault.New(fault.ErrStateViolation, "RequestNotPending")
	ErrRequestKindMismatch = fault.New(fault.ErrValidation, "RequestKindMismatch")
	ErrNotBeneficiary      = fault.New(fault.ErrUnauthorized, "NotBeneficiary")
)

// Balances, adapters and receivers
var (
	ErrInsufficientVirtualBalance = fault.New(fault.ErrSolvency, "InsufficientVirtualBalance")
	ErrReconcileExceedsBalance    = fault.New(fault.ErrSolvency, "ReconcileExceedsBalance")
	ErrAmountOverflow             = fault.New(fault.ErrValidation, "AmountOverflow")
	ErrAdapterNotRegistered       = fault.New(fault.ErrNotFound, "AdapterNotRegistered")
	ErrAdapterRegistered          = fault.New(fault.ErrStateViolation, "AdapterAlreadyRegistered")
	ErrOnlyRouter                 = fault.New(fault.ErrUnauthorized, "OnlyRouter")
	ErrOnlyMinter                 = fault.New(fault.ErrUnauthorized, "OnlyMinter")
	ErrAssetNotRescuable          = fault.New(fault.ErrStateViolation, "AssetNotRescuable")
)

// Fees
var (
	ErrInvalidTimestamp = fault.New(fault.ErrValidation, "InvalidTimestamp")
	ErrInvalidFee       = fault.New(fault.ErrValidation, "InvalidFee")
	ErrVaultNotFound    = fault.New(fault.ErrNotFound, "VaultNotFound")
	ErrVaultRegistered  = fault.New(fault.ErrStateViolation, "VaultAlreadyRegistered")
)
