package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/kivapay/backend/internal/models"
)

// PaymentRequestService runs the request state machine: a request starts
// PENDING, the target either declines it (terminal) or accepts it, which
// performs the transfer; the settlement observer flips it to PAID via
// MarkPaid once the transfer has settled.
type PaymentRequestService struct {
	db       *sql.DB
	ledger   *LedgerService
	notifier *NotificationService
}

func NewPaymentRequestService(db *sql.DB, ledger *LedgerService, notifier *NotificationService) *PaymentRequestService {
	return &PaymentRequestService{db: db, ledger: ledger, notifier: notifier}
}

// Create records a PENDING request from requester to target. The target must
// resolve to a registered account.
func (s *PaymentRequestService) Create(ctx context.Context, requesterID, targetID int, amount int64, note string) (*models.PaymentRequest, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if _, err := s.primaryAccountID(ctx, targetID); err != nil {
		return nil, err
	}

	requesterLabel, err := s.userLabel(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	req := &models.PaymentRequest{
		ID:             uuid.New().String(),
		RequesterID:    requesterID,
		RequesterLabel: requesterLabel,
		TargetID:       targetID,
		Amount:         amount,
		Note:           note,
		Status:         models.RequestStatusPending,
		CreatedAt:      time.Now(),
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO payment_requests (id, requester_id, requester_label, target_id, amount, note, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.RequesterID, req.RequesterLabel, req.TargetID, req.Amount, req.Note, req.Status, req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store payment request: %w", err)
	}

	log.Printf("[REQUEST] Created request %s: user %d asks user %d for %d", req.ID, requesterID, targetID, amount)
	go s.notifier.RequestStateChanged(req, "created")
	return req, nil
}

// Accept performs the transfer from target to requester. Only the target may
// accept, and only while the request is PENDING. The status stays PENDING
// here; MarkPaid flips it once the settlement observer sees the transfer.
func (s *PaymentRequestService) Accept(ctx context.Context, requestID string, actingUserID int) (*MovementResult, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.TargetID != actingUserID || req.Status != models.RequestStatusPending {
		return nil, ErrInvalidRequestState
	}

	targetAccountID, err := s.primaryAccountID(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}
	requesterAccountID, err := s.primaryAccountID(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}
	targetLabel, err := s.userLabel(ctx, req.TargetID)
	if err != nil {
		return nil, err
	}

	// The transfer narration carries the request id so the settlement
	// observer can match the committed records back to this request.
	narration := "request " + req.ID
	if req.Note != "" {
		narration = req.Note + " (request " + req.ID + ")"
	}

	result, err := s.ledger.PeerTransfer(ctx, targetAccountID, requesterAccountID, req.Amount, targetLabel, req.RequesterLabel, narration)
	if err != nil {
		return nil, err
	}

	log.Printf("[REQUEST] Request %s accepted, transfer %s created", req.ID, result.Reference)
	go s.notifier.RequestStateChanged(req, "accepted")
	return result, nil
}

// Decline terminates the request. Only the target may decline, and only
// while PENDING; anything else fails with no side effect.
func (s *PaymentRequestService) Decline(ctx context.Context, requestID string, actingUserID int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_requests
		SET status = $1
		WHERE id = $2 AND target_id = $3 AND status = $4`,
		models.RequestStatusDeclined, requestID, actingUserID, models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("failed to decline request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidRequestState
	}

	log.Printf("[REQUEST] Request %s declined by user %d", requestID, actingUserID)
	if req, err := s.Get(ctx, requestID); err == nil {
		go s.notifier.RequestStateChanged(req, "declined")
	}
	return nil
}

// MarkPaid is the settlement observer's trigger: once the transfer created
// by Accept has settled, the request moves PENDING -> PAID.
func (s *PaymentRequestService) MarkPaid(ctx context.Context, requestID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_requests
		SET status = $1
		WHERE id = $2 AND status = $3`,
		models.RequestStatusPaid, requestID, models.RequestStatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark request paid: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrInvalidRequestState
	}

	log.Printf("[REQUEST] Request %s marked paid", requestID)
	if req, err := s.Get(ctx, requestID); err == nil {
		go s.notifier.RequestStateChanged(req, "paid")
	}
	return nil
}

// Get returns one request by id.
func (s *PaymentRequestService) Get(ctx context.Context, requestID string) (*models.PaymentRequest, error) {
	var req models.PaymentRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, requester_id, requester_label, target_id, amount, note, status, created_at
		FROM payment_requests
		WHERE id = $1`, requestID).Scan(
		&req.ID, &req.RequesterID, &req.RequesterLabel, &req.TargetID,
		&req.Amount, &req.Note, &req.Status, &req.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrInvalidRequestState
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch request %s: %w", requestID, err)
	}
	return &req, nil
}

// ListForUser returns requests where the user is requester or target, newest
// first.
func (s *PaymentRequestService) ListForUser(ctx context.Context, userID, limit int) ([]models.PaymentRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, requester_id, requester_label, target_id, amount, note, status, created_at
		FROM payment_requests
		WHERE requester_id = $1 OR target_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	requests := []models.PaymentRequest{}
	for rows.Next() {
		var req models.PaymentRequest
		if err := rows.Scan(&req.ID, &req.RequesterID, &req.RequesterLabel, &req.TargetID,
			&req.Amount, &req.Note, &req.Status, &req.CreatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, rows.Err()
}

func (s *PaymentRequestService) primaryAccountID(ctx context.Context, userID int) (int, error) {
	var accountID int
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM accounts WHERE user_id = $1 ORDER BY id LIMIT 1`, userID).Scan(&accountID)
	if err == sql.ErrNoRows {
		return 0, ErrCounterpartyNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to resolve account for user %d: %w", userID, err)
	}
	return accountID, nil
}

func (s *PaymentRequestService) userLabel(ctx context.Context, userID int) (string, error) {
	var firstName, lastName string
	err := s.db.QueryRowContext(ctx, `
		SELECT first_name, last_name FROM users WHERE id = $1`, userID).Scan(&firstName, &lastName)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user %d: %w", userID, err)
	}
	return firstName + " " + lastName, nil
}
