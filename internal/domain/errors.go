package domain

import "errors"

// Sentinel errors returned by stores and services. Handlers map these to
// HTTP statuses with errors.Is; everything else is treated as internal.
var (
	ErrNotFound   = errors.New("not found")
	ErrNoPosition = errors.New("no position found")
	ErrLockHeld   = errors.New("lock already held")

	// Validation: rejected before any state mutation.
	ErrQuestionTooLong     = errors.New("question too long (max 256 bytes)")
	ErrDeadlineInPast      = errors.New("deadline must be in the future")
	ErrZeroBetAmount       = errors.New("bet amount must be > 0")
	ErrBetAmountExceedsMax = errors.New("bet amount exceeds maximum")
	ErrInvalidOutcome      = errors.New("invalid outcome")
	ErrInvalidSide         = errors.New("invalid bet side")
	ErrInvalidRule         = errors.New("invalid market rule")

	// Authorization.
	ErrUnauthorizedOracle  = errors.New("unauthorized: not the oracle authority")
	ErrUnauthorizedCreator = errors.New("unauthorized: not the market creator or oracle")

	// State machine: wrong status for the requested operation.
	ErrInvalidMarketStatus  = errors.New("market is not in the expected status")
	ErrMarketExpired        = errors.New("market deadline has passed")
	ErrAlreadyResolved      = errors.New("market already resolved")
	ErrCannotCancelResolved = errors.New("cannot cancel a resolved market")
	ErrAlreadySettled       = errors.New("position already settled")
	ErrLosingSide           = errors.New("position is on losing side")

	// Arithmetic: additive accounting must halt rather than wrap.
	ErrOverflow = errors.New("arithmetic overflow")

	// ErrInsufficientFunds is returned by the vault when a withdrawal
	// exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient vault balance")

	// ErrVaultInsolvency is the fatal class: a computed payout exceeded the
	// vault balance at disbursement time. It indicates a broken invariant
	// upstream and must never be retried or swallowed.
	ErrVaultInsolvency = errors.New("vault insolvency detected")
)
