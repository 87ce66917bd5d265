package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/kivapay/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCommandWorker_Process(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	worker := NewCommandWorker(db, nil, NewLedgerService(db), NewNotificationService(nil))
	ctx := context.Background()

	t.Run("deposit command succeeds end to end", func(t *testing.T) {
		// Load the command
		mock.ExpectQuery("SELECT id, user_id, vault_id, kind, amount, note, status").
			WithArgs("cmd-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "vault_id", "kind", "amount", "note", "status"}).
				AddRow("cmd-1", 7, 3, models.CommandKindDeposit, 500, "tabaski", models.CommandStatusPending))

		// Claim it before any balance is touched
		mock.ExpectExec("UPDATE vault_commands").
			WithArgs(models.CommandStatusProcessing, "cmd-1", models.CommandStatusPending).
			WillReturnResult(sqlmock.NewResult(1, 1))

		// Ownership and account resolution
		mock.ExpectQuery("SELECT user_id FROM vaults").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))
		mock.ExpectQuery("SELECT id FROM accounts WHERE user_id").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		// Ledger movement
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance, version, updated_at").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version", "updated_at"}).
				AddRow(1, 5000, 1, time.Now()))
		mock.ExpectQuery("SELECT id, user_id, name, balance, kind, locked_until").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "balance", "kind", "locked_until"}).
				AddRow(3, 7, "Tabaski", 2000, models.VaultKindStandard, nil))
		mock.ExpectQuery("UPDATE counters SET value = value \\+ 1").
			WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(42))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(4500), sqlmock.AnyArg(), 1, 1).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE vaults SET balance").
			WithArgs(int64(2500), 3).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WithArgs("TX-00000042", 1, models.TxTypeVaultDeposit, int64(-500), "Tabaski", "tabaski", models.TxStatusSucceeded, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		// Terminal transition
		mock.ExpectExec("UPDATE vault_commands").
			WithArgs(models.CommandStatusSucceeded, "", "TX-00000042", sqlmock.AnyArg(), "cmd-1", models.CommandStatusProcessing).
			WillReturnResult(sqlmock.NewResult(1, 1))

		worker.Process(ctx, "cmd-1")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failed movement finalizes the command as failed", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, vault_id, kind, amount, note, status").
			WithArgs("cmd-2").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "vault_id", "kind", "amount", "note", "status"}).
				AddRow("cmd-2", 7, 3, models.CommandKindWithdrawal, 9000, "", models.CommandStatusPending))

		mock.ExpectExec("UPDATE vault_commands").
			WithArgs(models.CommandStatusProcessing, "cmd-2", models.CommandStatusPending).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT user_id FROM vaults").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(7))
		mock.ExpectQuery("SELECT id FROM accounts WHERE user_id").
			WithArgs(7).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, balance, version, updated_at").
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "balance", "version", "updated_at"}).
				AddRow(1, 5000, 1, time.Now()))
		mock.ExpectQuery("SELECT id, user_id, name, balance, kind, locked_until").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "balance", "kind", "locked_until"}).
				AddRow(3, 7, "Tabaski", 2000, models.VaultKindStandard, nil))
		mock.ExpectRollback()

		mock.ExpectExec("UPDATE vault_commands").
			WithArgs(models.CommandStatusFailed, ErrInsufficientFunds.Error(), "", sqlmock.AnyArg(), "cmd-2", models.CommandStatusProcessing).
			WillReturnResult(sqlmock.NewResult(1, 1))

		worker.Process(ctx, "cmd-2")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("vault owned by someone else fails without touching the ledger", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, vault_id, kind, amount, note, status").
			WithArgs("cmd-3").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "vault_id", "kind", "amount", "note", "status"}).
				AddRow("cmd-3", 7, 3, models.CommandKindDeposit, 500, "", models.CommandStatusPending))

		mock.ExpectExec("UPDATE vault_commands").
			WithArgs(models.CommandStatusProcessing, "cmd-3", models.CommandStatusPending).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT user_id FROM vaults").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"user_id"}).AddRow(9))

		mock.ExpectExec("UPDATE vault_commands").
			WithArgs(models.CommandStatusFailed, sqlmock.AnyArg(), "", sqlmock.AnyArg(), "cmd-3", models.CommandStatusProcessing).
			WillReturnResult(sqlmock.NewResult(1, 1))

		worker.Process(ctx, "cmd-3")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("non-pending commands are skipped", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, user_id, vault_id, kind, amount, note, status").
			WithArgs("cmd-4").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "vault_id", "kind", "amount", "note", "status"}).
				AddRow("cmd-4", 7, 3, models.CommandKindDeposit, 500, "", models.CommandStatusSucceeded))

		worker.Process(ctx, "cmd-4")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("losing the claim race never touches a balance", func(t *testing.T) {
		// Both workers load the command as PENDING; the one whose claim
		// update hits zero rows must back off before the ledger runs.
		mock.ExpectQuery("SELECT id, user_id, vault_id, kind, amount, note, status").
			WithArgs("cmd-5").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "vault_id", "kind", "amount", "note", "status"}).
				AddRow("cmd-5", 7, 3, models.CommandKindDeposit, 500, "", models.CommandStatusPending))

		mock.ExpectExec("UPDATE vault_commands").
			WithArgs(models.CommandStatusProcessing, "cmd-5", models.CommandStatusPending).
			WillReturnResult(sqlmock.NewResult(1, 0))

		worker.Process(ctx, "cmd-5")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCommandWorker_nextCommand(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	worker := NewCommandWorker(db, nil, NewLedgerService(db), NewNotificationService(nil))
	ctx := context.Background()

	t.Run("falls back to the oldest pending row", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM vault_commands").
			WithArgs(models.CommandStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("cmd-9"))

		commandID, err := worker.nextCommand(ctx)
		assert.NoError(t, err)
		assert.Equal(t, "cmd-9", commandID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty queue yields no command", func(t *testing.T) {
		mock.ExpectQuery("SELECT id FROM vault_commands").
			WithArgs(models.CommandStatusPending).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		commandID, err := worker.nextCommand(ctx)
		assert.NoError(t, err)
		assert.Empty(t, commandID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
