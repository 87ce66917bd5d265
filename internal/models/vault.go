package models

import (
	"time"
)

const (
	VaultKindStandard = "STANDARD"
	VaultKindLocked   = "LOCKED"
)

const (
	CommandKindDeposit    = "DEPOSIT"
	CommandKindWithdrawal = "WITHDRAWAL"
)

const (
	CommandStatusPending = "PENDING"
	// CommandStatusProcessing marks a claimed command whose movement is in
	// flight; only the claiming worker may finalize it.
	CommandStatusProcessing = "PROCESSING"
	CommandStatusSucceeded  = "SUCCEEDED"
	CommandStatusFailed     = "FAILED"
)

// Vault is a personal savings pocket. Locked vaults forbid withdrawal
// before LockedUntil.
type Vault struct {
	ID          int        `json:"id" db:"id"`
	UserID      int        `json:"user_id" db:"user_id"`
	Name        string     `json:"name" db:"name"`
	Balance     int64      `json:"balance" db:"balance"`
	Goal        *int64     `json:"goal,omitempty" db:"goal"`
	Kind        string     `json:"kind" db:"kind"`
	LockedUntil *time.Time `json:"locked_until,omitempty" db:"locked_until"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// VaultCommand is a durable request for the privileged worker to perform a
// vault movement. It leaves PENDING exactly once.
type VaultCommand struct {
	ID          string     `json:"id" db:"id"`
	UserID      int        `json:"user_id" db:"user_id"`
	VaultID     int        `json:"vault_id" db:"vault_id"`
	Kind        string     `json:"kind" db:"kind"`
	Amount      int64      `json:"amount" db:"amount"`
	Note        string     `json:"note" db:"note"`
	Status      string     `json:"status" db:"status"`
	Error       string     `json:"error,omitempty" db:"error"`
	Reference   string     `json:"reference,omitempty" db:"reference"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// Terminal reports whether the command has reached a final state.
func (c *VaultCommand) Terminal() bool {
	return c.Status == CommandStatusSucceeded || c.Status == CommandStatusFailed
}
