package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/kivapay/backend/internal/models"
)

// TransferService exposes the money-movement boundary to the UI layer. Every
// handler re-authenticates through the gate before touching the ledger.
type TransferService struct {
	db         *sql.DB
	ledger     *LedgerService
	reauth     *ReauthService
	settlement *SettlementService
	notifier   *NotificationService
	validator  *ValidationHelper
}

func NewTransferService(db *sql.DB, ledger *LedgerService, reauth *ReauthService, settlement *SettlementService, notifier *NotificationService) *TransferService {
	return &TransferService{
		db:         db,
		ledger:     ledger,
		reauth:     reauth,
		settlement: settlement,
		notifier:   notifier,
		validator:  NewValidationHelper(),
	}
}

// TransferRequest is the transfer payload
// @Description Transfer request structure
type TransferRequest struct {
	AccountID   int    `json:"accountId" validate:"omitempty,gt=0"`         // Source account, defaults to the primary account
	Beneficiary string `json:"beneficiary" validate:"required,max=34"`      // Beneficiary account number or external identifier
	Amount      int64  `json:"amount" validate:"required,gt=0"`             // Amount in minor units
	Note        string `json:"note" validate:"max=200"`                     // Narration shown to both parties
	Password    string `json:"password" validate:"required,min=6"`          // Fresh credential proof
}

// Transfer sends money to another user or an external beneficiary
// @Summary Send a transfer
// @Description Move money from the caller's account to a beneficiary after re-authentication
// @Tags transfers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body TransferRequest true "Transfer request"
// @Success 201 {object} MovementResult
// @Failure 400 {object} ErrorResponse
// @Failure 401 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /transfers [post]
func (ts *TransferService) Transfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req TransferRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := ts.reauth.Verify(r.Context(), userID, req.Password, "transfer"); err != nil {
		log.Printf("[TRANSFER] Re-authentication failed for user %d: %v", userID, err)
		SendLedgerError(w, err)
		return
	}

	senderAccountID, senderNumber, err := ts.resolveSenderAccount(r, userID, req.AccountID)
	if err != nil {
		SendErrorResponse(w, "Source account not found", http.StatusNotFound, nil)
		return
	}
	senderLabel, err := ts.userLabel(r, userID)
	if err != nil {
		log.Printf("[TRANSFER] Failed to resolve sender label for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	// A beneficiary matching a registered account number gets the two-sided
	// movement; anything else is an external payout with a sender-side
	// record only.
	var receiverAccountID int
	var receiverLabel string
	err = ts.db.QueryRowContext(r.Context(), `
		SELECT a.id, u.first_name || ' ' || u.last_name
		FROM accounts a
		JOIN users u ON a.user_id = u.id
		WHERE a.account_number = $1`, req.Beneficiary).Scan(&receiverAccountID, &receiverLabel)

	var result *MovementResult
	switch {
	case err == nil:
		result, err = ts.ledger.PeerTransfer(r.Context(), senderAccountID, receiverAccountID, req.Amount, senderLabel, receiverLabel, req.Note)
	case err == sql.ErrNoRows:
		result, err = ts.ledger.ExternalTransfer(r.Context(), senderAccountID, req.Beneficiary, req.Amount, req.Note)
		if err == nil {
			go ts.settlement.EmitCreditTransfer(result.Reference, senderNumber, req.Beneficiary, req.Amount)
		}
	default:
		log.Printf("[TRANSFER] Beneficiary lookup failed: %v", err)
		SendErrorResponse(w, "Failed to process transfer", http.StatusInternalServerError, nil)
		return
	}

	if err != nil {
		log.Printf("[TRANSFER] Transfer failed for user %d: %v", userID, err)
		SendLedgerError(w, err)
		return
	}

	go ts.notifier.TransferCompleted(userID, result.Reference, req.Beneficiary, req.Amount)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

// ListTransactions retrieves the caller's transaction records
// @Summary List transactions
// @Description Get transaction records across the caller's accounts, newest first
// @Tags transfers
// @Produce json
// @Security BearerAuth
// @Param type query string false "Filter by transaction type"
// @Param limit query int false "Number of records (default 50, max 200)"
// @Success 200 {object} object{transactions=[]models.Transaction,count=int}
// @Failure 500 {object} ErrorResponse
// @Router /transactions [get]
func (ts *TransferService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 200 {
			limit = l
		}
	}
	txType := r.URL.Query().Get("type")

	transactions, err := ts.fetchTransactions(r, userID, txType, limit)
	if err != nil {
		log.Printf("[TRANSFER] Failed to fetch transactions for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetRecentTransactions retrieves recent transactions
// @Summary Get recent transactions
// @Description Get the caller's most recent transaction records
// @Tags transfers
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of records (default 10, max 100)"
// @Success 200 {array} models.Transaction
// @Failure 500 {object} ErrorResponse
// @Router /transactions/recent [get]
func (ts *TransferService) GetRecentTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Limit int `validate:"omitempty,min=1,max=100"`
	}
	req.Limit = 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}
	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	transactions, err := ts.fetchTransactions(r, userID, "", req.Limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch recent transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

func (ts *TransferService) resolveSenderAccount(r *http.Request, userID, accountID int) (int, string, error) {
	if accountID > 0 {
		var id int
		var number string
		err := ts.db.QueryRowContext(r.Context(), `
			SELECT id, account_number FROM accounts WHERE id = $1 AND user_id = $2`,
			accountID, userID).Scan(&id, &number)
		return id, number, err
	}

	var id int
	var number string
	err := ts.db.QueryRowContext(r.Context(), `
		SELECT id, account_number FROM accounts WHERE user_id = $1 ORDER BY id LIMIT 1`,
		userID).Scan(&id, &number)
	return id, number, err
}

func (ts *TransferService) userLabel(r *http.Request, userID int) (string, error) {
	var firstName, lastName string
	err := ts.db.QueryRowContext(r.Context(), `
		SELECT first_name, last_name FROM users WHERE id = $1`, userID).Scan(&firstName, &lastName)
	if err != nil {
		return "", err
	}
	return firstName + " " + lastName, nil
}

func (ts *TransferService) fetchTransactions(r *http.Request, userID int, txType string, limit int) ([]models.Transaction, error) {
	query := `
		SELECT t.id, t.reference, t.account_id, t.type, t.amount, t.counterparty, t.narration, t.status, COALESCE(t.reason, ''), t.created_at
		FROM transactions t
		JOIN accounts a ON t.account_id = a.id
		WHERE a.user_id = $1`
	args := []any{userID}

	if txType != "" {
		query += ` AND t.type = $2`
		args = append(args, txType)
	}
	query += ` ORDER BY t.created_at DESC LIMIT $` + strconv.Itoa(len(args)+1)
	args = append(args, limit)

	rows, err := ts.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(&tx.ID, &tx.Reference, &tx.AccountID, &tx.Type, &tx.Amount,
			&tx.Counterparty, &tx.Narration, &tx.Status, &tx.Reason, &tx.CreatedAt); err != nil {
			return nil, err
		}
		transactions = append(transactions, tx)
	}
	return transactions, rows.Err()
}

// userIDFromRequest extracts the authenticated user id set by the auth
// middleware.
func userIDFromRequest(r *http.Request) (int, bool) {
	raw, ok := r.Context().Value("userID").(string)
	if !ok || raw == "" {
		return 0, false
	}
	userID, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return userID, true
}
