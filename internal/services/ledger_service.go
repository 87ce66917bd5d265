package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/kivapay/backend/internal/models"
)

// LedgerService performs every balance mutation in the system. Each movement
// runs as one atomic transaction: precondition checks, balance writes and
// record appends either all commit or none do. No other component writes
// balances.
type LedgerService struct {
	db         *sql.DB
	references *ReferenceService
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:         db,
		references: NewReferenceService(db),
	}
}

// MovementResult reports the committed outcome of one movement.
type MovementResult struct {
	Reference        string `json:"reference"`
	LiquidatedAmount int64  `json:"liquidatedAmount,omitempty"`
}

// PeerTransfer moves amount from the sender account to a registered
// receiver account. Both sides get a record carrying the same reference:
// the sender a signed-negative outgoing record, the receiver a
// signed-positive incoming one.
func (s *LedgerService) PeerTransfer(ctx context.Context, senderAccountID, receiverAccountID int, amount int64, senderLabel, receiverLabel, note string) (*MovementResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if senderAccountID == receiverAccountID {
		return nil, ErrSelfTransfer
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	// Lock accounts in consistent order to prevent deadlocks
	firstLock, secondLock := senderAccountID, receiverAccountID
	if senderAccountID > receiverAccountID {
		firstLock, secondLock = receiverAccountID, senderAccountID
	}

	first, err := s.lockAccount(tx, firstLock)
	if err != nil {
		if err == sql.ErrNoRows && firstLock == receiverAccountID {
			return nil, ErrCounterpartyNotFound
		}
		return nil, fmt.Errorf("failed to lock account %d: %w", firstLock, err)
	}

	second, err := s.lockAccount(tx, secondLock)
	if err != nil {
		if err == sql.ErrNoRows && secondLock == receiverAccountID {
			return nil, ErrCounterpartyNotFound
		}
		return nil, fmt.Errorf("failed to lock account %d: %w", secondLock, err)
	}

	sender, receiver := first, second
	if firstLock != senderAccountID {
		sender, receiver = second, first
	}

	if sender.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	reference, err := s.references.NextReferenceTx(tx)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, sender.ID, sender.Balance-amount, sender.Version); err != nil {
		return nil, err
	}
	if err := s.updateAccountBalance(tx, receiver.ID, receiver.Balance+amount, receiver.Version); err != nil {
		return nil, err
	}

	if err := s.appendTransaction(tx, sender.ID, reference, models.TxTypeTransferOut, -amount, receiverLabel, note); err != nil {
		return nil, err
	}
	if err := s.appendTransaction(tx, receiver.ID, reference, models.TxTypeTransferIn, amount, senderLabel, note); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}

	log.Printf("[LEDGER] Transfer %s: account %d -> account %d, amount %d", reference, sender.ID, receiver.ID, amount)
	return &MovementResult{Reference: reference}, nil
}

// ExternalTransfer debits the sender for a beneficiary with no linked
// account. Only the sender-side record is written; no counterpart balance
// changes.
func (s *LedgerService) ExternalTransfer(ctx context.Context, senderAccountID int, beneficiary string, amount int64, note string) (*MovementResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	sender, err := s.lockAccount(tx, senderAccountID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %d: %w", senderAccountID, err)
	}

	if sender.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	reference, err := s.references.NextReferenceTx(tx)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, sender.ID, sender.Balance-amount, sender.Version); err != nil {
		return nil, err
	}
	if err := s.appendTransaction(tx, sender.ID, reference, models.TxTypeTransferOut, -amount, beneficiary, note); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transfer: %w", err)
	}

	log.Printf("[LEDGER] External transfer %s: account %d -> %s, amount %d", reference, sender.ID, beneficiary, amount)
	return &MovementResult{Reference: reference}, nil
}

// VaultDeposit moves amount from an account into a personal vault. The
// record is kept on the account side only.
func (s *LedgerService) VaultDeposit(ctx context.Context, accountID, vaultID int, amount int64, note string) (*MovementResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %d: %w", accountID, err)
	}
	vault, err := s.lockVault(tx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock vault %d: %w", vaultID, err)
	}

	if account.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	reference, err := s.references.NextReferenceTx(tx)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance-amount, account.Version); err != nil {
		return nil, err
	}
	if err := s.updateVaultBalance(tx, vault.ID, vault.Balance+amount); err != nil {
		return nil, err
	}
	if err := s.appendTransaction(tx, account.ID, reference, models.TxTypeVaultDeposit, -amount, vault.Name, note); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit vault deposit: %w", err)
	}

	log.Printf("[LEDGER] Vault deposit %s: account %d -> vault %d, amount %d", reference, account.ID, vault.ID, amount)
	return &MovementResult{Reference: reference}, nil
}

// VaultWithdrawal moves amount from a vault back into the owner's account.
// A locked vault refuses withdrawal until its unlock date.
func (s *LedgerService) VaultWithdrawal(ctx context.Context, accountID, vaultID int, amount int64) (*MovementResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %d: %w", accountID, err)
	}
	vault, err := s.lockVault(tx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock vault %d: %w", vaultID, err)
	}

	if vault.Kind == models.VaultKindLocked && vault.LockedUntil != nil && time.Now().Before(*vault.LockedUntil) {
		return nil, &VaultLockedError{UnlockDate: *vault.LockedUntil}
	}
	if vault.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	reference, err := s.references.NextReferenceTx(tx)
	if err != nil {
		return nil, err
	}

	if err := s.updateVaultBalance(tx, vault.ID, vault.Balance-amount); err != nil {
		return nil, err
	}
	if err := s.updateAccountBalance(tx, account.ID, account.Balance+amount, account.Version); err != nil {
		return nil, err
	}
	if err := s.appendTransaction(tx, account.ID, reference, models.TxTypeVaultWithdrawal, amount, vault.Name, ""); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit vault withdrawal: %w", err)
	}

	log.Printf("[LEDGER] Vault withdrawal %s: vault %d -> account %d, amount %d", reference, vault.ID, account.ID, amount)
	return &MovementResult{Reference: reference}, nil
}

// VaultLiquidation moves the entire vault balance back to the account and
// deletes the vault in the same atomic step.
func (s *LedgerService) VaultLiquidation(ctx context.Context, accountID, vaultID int) (*MovementResult, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %d: %w", accountID, err)
	}
	vault, err := s.lockVault(tx, vaultID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock vault %d: %w", vaultID, err)
	}

	reference, err := s.references.NextReferenceTx(tx)
	if err != nil {
		return nil, err
	}

	if vault.Balance > 0 {
		if err := s.updateAccountBalance(tx, account.ID, account.Balance+vault.Balance, account.Version); err != nil {
			return nil, err
		}
		if err := s.appendTransaction(tx, account.ID, reference, models.TxTypeVaultLiquidation, vault.Balance, vault.Name, ""); err != nil {
			return nil, err
		}
	}

	if _, err := tx.Exec(`DELETE FROM vaults WHERE id = $1`, vault.ID); err != nil {
		return nil, fmt.Errorf("failed to delete vault %d: %w", vault.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit vault liquidation: %w", err)
	}

	log.Printf("[LEDGER] Vault liquidation %s: vault %d -> account %d, amount %d", reference, vault.ID, account.ID, vault.Balance)
	return &MovementResult{Reference: reference, LiquidatedAmount: vault.Balance}, nil
}

// SharedVaultDeposit moves amount from an account into a shared vault. The
// deposit record is kept under the shared vault.
func (s *LedgerService) SharedVaultDeposit(ctx context.Context, accountID, sharedVaultID, userID int, amount int64, note string) (*MovementResult, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	account, err := s.lockAccount(tx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %d: %w", accountID, err)
	}

	var vault models.SharedVault
	err = tx.QueryRow(`
		SELECT id, name, balance, creator_id
		FROM shared_vaults
		WHERE id = $1
		FOR UPDATE`, sharedVaultID).Scan(&vault.ID, &vault.Name, &vault.Balance, &vault.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock shared vault %d: %w", sharedVaultID, err)
	}

	if account.Balance < amount {
		return nil, ErrInsufficientFunds
	}

	reference, err := s.references.NextReferenceTx(tx)
	if err != nil {
		return nil, err
	}

	if err := s.updateAccountBalance(tx, account.ID, account.Balance-amount, account.Version); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(`UPDATE shared_vaults SET balance = $1 WHERE id = $2`, vault.Balance+amount, vault.ID); err != nil {
		return nil, fmt.Errorf("failed to update shared vault balance: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO shared_vault_transactions (reference, shared_vault_id, user_id, amount, narration, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		reference, vault.ID, userID, amount, note, time.Now()); err != nil {
		return nil, fmt.Errorf("failed to append shared vault record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit shared vault deposit: %w", err)
	}

	log.Printf("[LEDGER] Shared vault deposit %s: account %d -> shared vault %d, amount %d", reference, account.ID, vault.ID, amount)
	return &MovementResult{Reference: reference}, nil
}

func (s *LedgerService) lockAccount(tx *sql.Tx, accountID int) (*models.Account, error) {
	var account models.Account
	err := tx.QueryRow(`
		SELECT id, balance, version, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&account.ID, &account.Balance, &account.Version, &account.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *LedgerService) lockVault(tx *sql.Tx, vaultID int) (*models.Vault, error) {
	var vault models.Vault
	err := tx.QueryRow(`
		SELECT id, user_id, name, balance, kind, locked_until
		FROM vaults
		WHERE id = $1
		FOR UPDATE`, vaultID).Scan(&vault.ID, &vault.UserID, &vault.Name, &vault.Balance, &vault.Kind, &vault.LockedUntil)
	if err != nil {
		return nil, err
	}
	return &vault, nil
}

func (s *LedgerService) updateAccountBalance(tx *sql.Tx, accountID int, newBalance int64, version int) error {
	result, err := tx.Exec(`
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4`,
		newBalance, time.Now(), accountID, version)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("optimistic lock failed for account %d", accountID)
	}
	return nil
}

func (s *LedgerService) updateVaultBalance(tx *sql.Tx, vaultID int, newBalance int64) error {
	_, err := tx.Exec(`UPDATE vaults SET balance = $1 WHERE id = $2`, newBalance, vaultID)
	return err
}

func (s *LedgerService) appendTransaction(tx *sql.Tx, accountID int, reference, txType string, amount int64, counterparty, narration string) error {
	_, err := tx.Exec(`
		INSERT INTO transactions (reference, account_id, type, amount, counterparty, narration, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		reference, accountID, txType, amount, counterparty, narration, models.TxStatusSucceeded, time.Now())
	return err
}
