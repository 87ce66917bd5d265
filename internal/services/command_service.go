package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/kivapay/backend/internal/models"
)

const (
	commandQueueKey    = "vault_commands"
	commandDoneChannel = "vault_commands:done:%s"

	// DefaultAwaitTimeout bounds how long a caller waits for the worker.
	DefaultAwaitTimeout = 30 * time.Second

	// awaitPollInterval is the safety-net poll for completions whose pubsub
	// event was missed.
	awaitPollInterval = 2 * time.Second
)

// VaultCommandService is the submit-then-wait side of the vault command
// queue. Submitting never mutates a balance; the privileged worker performs
// the movement and writes the terminal status exactly once.
type VaultCommandService struct {
	db    *sql.DB
	redis *redis.Client
}

func NewVaultCommandService(db *sql.DB, redisClient *redis.Client) *VaultCommandService {
	return &VaultCommandService{db: db, redis: redisClient}
}

// Submit records a PENDING command and enqueues its id for the worker.
func (s *VaultCommandService) Submit(ctx context.Context, userID int, kind string, vaultID int, amount int64, note string) (string, error) {
	if kind != models.CommandKindDeposit && kind != models.CommandKindWithdrawal {
		return "", fmt.Errorf("unknown command kind %q", kind)
	}
	if amount <= 0 {
		return "", ErrInvalidAmount
	}

	commandID := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_commands (id, user_id, vault_id, kind, amount, note, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		commandID, userID, vaultID, kind, amount, note, models.CommandStatusPending, time.Now())
	if err != nil {
		return "", fmt.Errorf("failed to store command: %w", err)
	}

	if s.redis != nil {
		if err := s.redis.RPush(ctx, commandQueueKey, commandID).Err(); err != nil {
			// The worker also polls the table, so a failed push only delays pickup.
			log.Printf("[COMMAND] Failed to enqueue command %s: %v", commandID, err)
		}
	}

	log.Printf("[COMMAND] Submitted %s command %s for vault %d, amount %d", kind, commandID, vaultID, amount)
	return commandID, nil
}

// Get returns the current state of a command.
func (s *VaultCommandService) Get(ctx context.Context, commandID string) (*models.VaultCommand, error) {
	var cmd models.VaultCommand
	var cmdErr, reference sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, vault_id, kind, amount, note, status, error, reference, created_at, completed_at
		FROM vault_commands
		WHERE id = $1`, commandID).Scan(
		&cmd.ID, &cmd.UserID, &cmd.VaultID, &cmd.Kind, &cmd.Amount, &cmd.Note,
		&cmd.Status, &cmdErr, &reference, &cmd.CreatedAt, &cmd.CompletedAt)
	if err != nil {
		return nil, err
	}
	cmd.Error = cmdErr.String
	cmd.Reference = reference.String
	return &cmd, nil
}

// AwaitCompletion blocks until the command reaches a terminal state or the
// timeout fires. The completion subscription is released on every outcome.
// A timed-out command may still complete later; callers must re-query its
// status before resubmitting.
func (s *VaultCommandService) AwaitCompletion(ctx context.Context, commandID string, timeout time.Duration) (*models.VaultCommand, error) {
	if timeout <= 0 {
		timeout = DefaultAwaitTimeout
	}

	var done <-chan *redis.Message
	if s.redis != nil {
		sub := s.redis.Subscribe(ctx, fmt.Sprintf(commandDoneChannel, commandID))
		defer sub.Close()
		done = sub.Channel()
	}

	// Check once after subscribing so a completion racing the subscription
	// is not lost.
	cmd, err := s.Get(ctx, commandID)
	if err != nil {
		return nil, fmt.Errorf("failed to load command %s: %w", commandID, err)
	}
	if cmd.Terminal() {
		return s.resolve(cmd)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	poll := time.NewTicker(awaitPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			log.Printf("[COMMAND] Await timed out for command %s after %s", commandID, timeout)
			return nil, ErrTimeout
		case <-done:
		case <-poll.C:
		}

		cmd, err := s.Get(ctx, commandID)
		if err != nil {
			return nil, fmt.Errorf("failed to load command %s: %w", commandID, err)
		}
		if cmd.Terminal() {
			return s.resolve(cmd)
		}
	}
}

func (s *VaultCommandService) resolve(cmd *models.VaultCommand) (*models.VaultCommand, error) {
	if cmd.Status == models.CommandStatusFailed {
		return cmd, &CommandFailedError{CommandID: cmd.ID, Reason: cmd.Error}
	}
	return cmd, nil
}
