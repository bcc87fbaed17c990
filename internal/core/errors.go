package core

import "vaultrouter/internal/fault"

var (
	ErrProposalNotFound   = fault.New(fault.ErrNotFound, "ProposalNotFound")
	ErrBatchIdProposed    = fault.New(fault.ErrStateViolation, "BatchIdProposed")
	ErrCooldownNotPassed  = fault.NewRetryable(fault.ErrStateViolation, "CooldownNotPassed")
	ErrProposalStale      = fault.New(fault.ErrStateViolation, "ProposalStale")
	ErrInvalidTotalAssets = fault.New(fault.ErrValidation, "InvalidTotalAssets")
	ErrZeroSharePrice     = fault.New(fault.ErrValidation, "ZeroSharePrice")
	ErrAssetMismatch      = fault.New(fault.ErrValidation, "AssetMismatch")
	ErrHolderNotFound     = fault.New(fault.ErrNotFound, "HolderNotFound")
	ErrHolderRegistered   = fault.New(fault.ErrStateViolation, "HolderAlreadyRegistered")
	ErrUnknownAsset       = fault.New(fault.ErrNotFound, "UnknownAsset")
	ErrSettlementNotFound = fault.New(fault.ErrNotFound, "SettlementNotFound")
	ErrMissingIdentity    = fault.New(fault.ErrUnauthorized, "RouterIdentityLacksSettlementAuthority")
)

// CanExecute reasons
const (
	ReasonProposalNotFound  = "Proposal not found"
	ReasonCooldownNotPassed = "Cooldown not passed"
)
