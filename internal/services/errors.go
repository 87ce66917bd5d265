package services

import (
	"errors"
	"fmt"
	"time"
)

// Failures surfaced by the ledger and command services. Ledger errors abort
// the whole atomic step; callers present a message and must not retry
// automatically.
var (
	ErrInvalidAmount        = errors.New("amount must be a positive integer")
	ErrSelfTransfer         = errors.New("sender and receiver accounts must differ")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrCounterpartyNotFound = errors.New("counterparty account not found")
	ErrInvalidRequestState  = errors.New("payment request does not allow this action")
	ErrTooManyAuthFailures  = errors.New("too many failed authentication attempts")
	ErrCounterUnavailable   = errors.New("transaction counter is not provisioned")
	ErrTimeout              = errors.New("timed out waiting for command completion")
	ErrStoreUnavailable     = errors.New("backing store unavailable")
)

// VaultLockedError is returned for a withdrawal from a locked vault before
// its unlock date.
type VaultLockedError struct {
	UnlockDate time.Time
}

func (e *VaultLockedError) Error() string {
	return fmt.Sprintf("vault is locked until %s", e.UnlockDate.Format("2006-01-02"))
}

// AuthFailedError is a retriable credential failure. After the attempt cap
// the gate escalates to ErrTooManyAuthFailures instead.
type AuthFailedError struct {
	AttemptsRemaining int
}

func (e *AuthFailedError) Error() string {
	return fmt.Sprintf("authentication failed, %d attempts remaining", e.AttemptsRemaining)
}

// CommandFailedError carries the worker-side error of a failed vault command.
type CommandFailedError struct {
	CommandID string
	Reason    string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("command %s failed: %s", e.CommandID, e.Reason)
}
