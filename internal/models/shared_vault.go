package models

import (
	"time"
)

const (
	RoleAdmin  = "ADMIN"
	RoleEditor = "EDITOR"
	RoleViewer = "VIEWER"
)

// SharedVault is a savings pocket with multiple members. Its balance is
// mutated only through deposits recorded as SharedVaultTransactions.
type SharedVault struct {
	ID        int       `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Balance   int64     `json:"balance" db:"balance"`
	Goal      *int64    `json:"goal,omitempty" db:"goal"`
	CreatorID int       `json:"creator_id" db:"creator_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type SharedVaultMember struct {
	SharedVaultID int       `json:"shared_vault_id" db:"shared_vault_id"`
	UserID        int       `json:"user_id" db:"user_id"`
	Role          string    `json:"role" db:"role"`
	JoinedAt      time.Time `json:"joined_at" db:"joined_at"`
}

// SharedVaultTransaction is the deposit record kept under the shared vault.
type SharedVaultTransaction struct {
	ID            int       `json:"id" db:"id"`
	Reference     string    `json:"reference" db:"reference"`
	SharedVaultID int       `json:"shared_vault_id" db:"shared_vault_id"`
	UserID        int       `json:"user_id" db:"user_id"`
	Amount        int64     `json:"amount" db:"amount"`
	Narration     string    `json:"narration" db:"narration"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
