package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrZeroAmount rejects protocols whose effective amount is zero,
	// including withdrawals whose native payout truncates to zero.
	ErrZeroAmount = errors.New("amount must be positive")

	// ErrPaused rejects deposits and withdrawals while the vault is paused.
	ErrPaused = errors.New("vault is paused")

	// ErrUnauthorized rejects admin operations from callers without the role.
	ErrUnauthorized = errors.New("caller lacks required role")

	// ErrInvalidConfiguration rejects configs where the per-withdrawal
	// threshold exceeds the capacity ceiling or a value is non-positive.
	ErrInvalidConfiguration = errors.New("invalid vault configuration")
)

// CapacityExceededError aborts a deposit that would push the global
// normalized total above the ceiling. Available is the remaining USD-6
// headroom at the moment of the check.
type CapacityExceededError struct {
	Requested int64
	Available int64
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("deposit of %d USD-6 exceeds remaining capacity %d", e.Requested, e.Available)
}

// WithdrawalLimitError aborts a withdrawal above the per-request threshold.
type WithdrawalLimitError struct {
	Requested int64
	Threshold int64
}

func (e *WithdrawalLimitError) Error() string {
	return fmt.Sprintf("withdrawal of %d USD-6 exceeds threshold %d", e.Requested, e.Threshold)
}

// TransferFailedError wraps a collaborator transfer failure after state has
// been rolled back. The ledger is unchanged when this is returned.
type TransferFailedError struct {
	Op  string
	Err error
}

func (e *TransferFailedError) Error() string {
	return fmt.Sprintf("%s transfer failed: %v", e.Op, e.Err)
}

func (e *TransferFailedError) Unwrap() error { return e.Err }
