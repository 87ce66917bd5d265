package models

import (
	"time"
)

// Transaction types recorded on accounts. Amounts are signed: outgoing
// movements are negative, incoming positive.
const (
	TxTypeTransferOut      = "TRANSFER_OUT"
	TxTypeTransferIn       = "TRANSFER_IN"
	TxTypeVaultDeposit     = "VAULT_DEPOSIT"
	TxTypeVaultWithdrawal  = "VAULT_WITHDRAWAL"
	TxTypeVaultLiquidation = "VAULT_LIQUIDATION"
)

const (
	TxStatusSucceeded = "SUCCEEDED"
	TxStatusFailed    = "FAILED"
)

// Account is a user's balance for one linked payment method. Balances are
// integers in minor currency units and are mutated only by the ledger service.
type Account struct {
	ID            int       `json:"id" db:"id"`
	UserID        int       `json:"user_id" db:"user_id"`
	AccountNumber string    `json:"account_number" db:"account_number"`
	Label         string    `json:"label" db:"label"`
	Balance       int64     `json:"balance" db:"balance"`
	Version       int       `json:"version" db:"version"` // for optimistic locking
	Status        string    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an append-only record on an account. Immutable once written.
type Transaction struct {
	ID           int       `json:"id" db:"id"`
	Reference    string    `json:"reference" db:"reference"`
	AccountID    int       `json:"account_id" db:"account_id"`
	Type         string    `json:"type" db:"type"`
	Amount       int64     `json:"amount" db:"amount"` // signed, minor units
	Counterparty string    `json:"counterparty" db:"counterparty"`
	Narration    string    `json:"narration" db:"narration"`
	Status       string    `json:"status" db:"status"`
	Reason       string    `json:"reason,omitempty" db:"reason"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
