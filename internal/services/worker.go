package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/kivapay/backend/internal/models"
)

const workerIdlePause = 2 * time.Second

// CommandWorker is the trusted process that drains PENDING vault commands
// and performs their movements through the ledger. It is the only component
// allowed to transition a command out of PENDING, and it does so exactly
// once per command.
type CommandWorker struct {
	db       *sql.DB
	redis    *redis.Client
	ledger   *LedgerService
	notifier *NotificationService
}

func NewCommandWorker(db *sql.DB, redisClient *redis.Client, ledger *LedgerService, notifier *NotificationService) *CommandWorker {
	return &CommandWorker{
		db:       db,
		redis:    redisClient,
		ledger:   ledger,
		notifier: notifier,
	}
}

// Run drains the queue until the context is cancelled.
func (w *CommandWorker) Run(ctx context.Context) {
	log.Println("[WORKER] Command worker started")
	for {
		select {
		case <-ctx.Done():
			log.Println("[WORKER] Command worker stopping")
			return
		default:
		}

		commandID, err := w.nextCommand(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("[WORKER] Failed to fetch next command: %v", err)
			time.Sleep(workerIdlePause)
			continue
		}
		if commandID == "" {
			time.Sleep(workerIdlePause)
			continue
		}

		w.Process(ctx, commandID)
	}
}

// nextCommand pops an id from the Redis queue when available, falling back
// to the oldest PENDING row so commands submitted while Redis was down are
// still picked up.
func (w *CommandWorker) nextCommand(ctx context.Context) (string, error) {
	if w.redis != nil {
		vals, err := w.redis.BLPop(ctx, workerIdlePause, commandQueueKey).Result()
		if err == nil && len(vals) == 2 {
			return vals[1], nil
		}
		if err != nil && err != redis.Nil {
			log.Printf("[WORKER] Queue pop failed, falling back to store scan: %v", err)
		}
	}

	var commandID string
	err := w.db.QueryRowContext(ctx, `
		SELECT id FROM vault_commands
		WHERE status = $1
		ORDER BY created_at
		LIMIT 1`, models.CommandStatusPending).Scan(&commandID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return commandID, nil
}

// Process executes one command and writes its terminal state.
func (w *CommandWorker) Process(ctx context.Context, commandID string) {
	var cmd models.VaultCommand
	err := w.db.QueryRowContext(ctx, `
		SELECT id, user_id, vault_id, kind, amount, note, status
		FROM vault_commands
		WHERE id = $1`, commandID).Scan(
		&cmd.ID, &cmd.UserID, &cmd.VaultID, &cmd.Kind, &cmd.Amount, &cmd.Note, &cmd.Status)
	if err != nil {
		log.Printf("[WORKER] Failed to load command %s: %v", commandID, err)
		return
	}
	if cmd.Status != models.CommandStatusPending {
		log.Printf("[WORKER] Skipping command %s in state %s", cmd.ID, cmd.Status)
		return
	}

	// Claim the command before touching any balance so the movement runs at
	// most once even when two workers pick up the same id.
	res, err := w.db.ExecContext(ctx, `
		UPDATE vault_commands
		SET status = $1
		WHERE id = $2 AND status = $3`,
		models.CommandStatusProcessing, cmd.ID, models.CommandStatusPending)
	if err != nil {
		log.Printf("[WORKER] Failed to claim command %s: %v", cmd.ID, err)
		return
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		log.Printf("[WORKER] Command %s already claimed by another worker", cmd.ID)
		return
	}

	result, execErr := w.execute(ctx, &cmd)

	status := models.CommandStatusSucceeded
	errMsg := ""
	reference := ""
	if execErr != nil {
		status = models.CommandStatusFailed
		errMsg = execErr.Error()
	} else if result != nil {
		reference = result.Reference
	}

	res, err = w.db.ExecContext(ctx, `
		UPDATE vault_commands
		SET status = $1, error = $2, reference = $3, completed_at = $4
		WHERE id = $5 AND status = $6`,
		status, errMsg, reference, time.Now(), cmd.ID, models.CommandStatusProcessing)
	if err != nil {
		log.Printf("[WORKER] Failed to finalize command %s: %v", cmd.ID, err)
		return
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		log.Printf("[WORKER] Command %s left PROCESSING unexpectedly", cmd.ID)
		return
	}

	if w.redis != nil {
		if err := w.redis.Publish(ctx, fmt.Sprintf(commandDoneChannel, cmd.ID), status).Err(); err != nil {
			log.Printf("[WORKER] Failed to publish completion for %s: %v", cmd.ID, err)
		}
	}

	cmd.Status = status
	cmd.Error = errMsg
	cmd.Reference = reference
	go w.notifier.CommandCompleted(&cmd)

	log.Printf("[WORKER] Command %s finished with status %s", cmd.ID, status)
}

func (w *CommandWorker) execute(ctx context.Context, cmd *models.VaultCommand) (*MovementResult, error) {
	var vaultOwner int
	err := w.db.QueryRowContext(ctx, `SELECT user_id FROM vaults WHERE id = $1`, cmd.VaultID).Scan(&vaultOwner)
	if err == sql.ErrNoRows || (err == nil && vaultOwner != cmd.UserID) {
		return nil, fmt.Errorf("vault %d not found for user %d", cmd.VaultID, cmd.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve vault %d: %w", cmd.VaultID, err)
	}

	var accountID int
	err = w.db.QueryRowContext(ctx, `
		SELECT id FROM accounts WHERE user_id = $1 ORDER BY id LIMIT 1`, cmd.UserID).Scan(&accountID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no account for user %d", cmd.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account for user %d: %w", cmd.UserID, err)
	}

	switch cmd.Kind {
	case models.CommandKindDeposit:
		return w.ledger.VaultDeposit(ctx, accountID, cmd.VaultID, cmd.Amount, cmd.Note)
	case models.CommandKindWithdrawal:
		return w.ledger.VaultWithdrawal(ctx, accountID, cmd.VaultID, cmd.Amount)
	default:
		return nil, fmt.Errorf("unknown command kind %q", cmd.Kind)
	}
}
