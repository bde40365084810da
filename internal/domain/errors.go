package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// Trade and lifecycle failures. Every rejection leaves state untouched.
	ErrInvalidParams      = errors.New("invalid market parameters")
	ErrPhaseViolation     = errors.New("operation not legal in current phase")
	ErrSlippageExceeded   = errors.New("slippage bound exceeded")
	ErrCapExceeded        = errors.New("trade or position cap exceeded")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrMarketPaused       = errors.New("market is paused")

	// ErrArithmeticOverflow is a hard failure: fixed-point math never
	// saturates, the operation is aborted instead.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrSolvencyViolated means a post-trade check found the vault unable
	// to cover the worst-case payout. The market is frozen when this
	// surfaces; it indicates a bug, not a user error.
	ErrSolvencyViolated = errors.New("solvency invariant violated")
)
