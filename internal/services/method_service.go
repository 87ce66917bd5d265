package services

import (
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kivapay/backend/internal/models"
)

// PaymentMethodService manages the accounts a user moves money through.
// Each method is backed by an account row so the ledger treats a linked
// wallet the same as the primary account.
type PaymentMethodService struct {
	db        *sql.DB
	validator *ValidationHelper
}

// LinkMethodRequest represents a payment method link request
type LinkMethodRequest struct {
	Label string `json:"label" validate:"required,min=1,max=60"`
	Kind  string `json:"kind" validate:"required,oneof=WALLET BANK_ACCOUNT"`
}

func NewPaymentMethodService(db *sql.DB) *PaymentMethodService {
	return &PaymentMethodService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

// LinkMethod links a new payment method
// @Summary Link a payment method
// @Description Create an additional account the caller can move money through
// @Tags payment-methods
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body LinkMethodRequest true "Method details"
// @Success 201 {object} models.Account
// @Failure 400 {object} ErrorResponse
// @Router /payment-methods [post]
func (pms *PaymentMethodService) LinkMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	var req LinkMethodRequest
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := pms.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	account := models.Account{
		UserID:        userID,
		AccountNumber: generateAccountID(),
		Label:         req.Label,
		Status:        "ACTIVE",
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	err := pms.db.QueryRowContext(r.Context(), `
		INSERT INTO accounts (user_id, account_number, label, balance, version, status, created_at, updated_at)
		VALUES ($1, $2, $3, 0, 1, $4, $5, $6)
		RETURNING id`,
		account.UserID, account.AccountNumber, account.Label, account.Status,
		account.CreatedAt, account.UpdatedAt).Scan(&account.ID)
	if err != nil {
		log.Printf("[METHOD] Failed to link method for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to link payment method", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[METHOD] Linked %s method %s for user %d", req.Kind, account.AccountNumber, userID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(account)
}

// ListMethods lists the caller's payment methods
// @Summary List payment methods
// @Description Get all accounts the caller can move money through
// @Tags payment-methods
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Account
// @Failure 500 {object} ErrorResponse
// @Router /payment-methods [get]
func (pms *PaymentMethodService) ListMethods(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := pms.db.QueryContext(r.Context(), `
		SELECT id, user_id, account_number, label, balance, version, status, created_at, updated_at
		FROM accounts
		WHERE user_id = $1
		ORDER BY id`, userID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch payment methods", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.Label, &a.Balance,
			&a.Version, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch payment methods", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(accounts)
}

// GetMethod returns one payment method
// @Summary Get a payment method
// @Description Get a single account owned by the caller
// @Tags payment-methods
// @Produce json
// @Security BearerAuth
// @Param accountId path int true "Account ID"
// @Success 200 {object} models.Account
// @Failure 404 {object} ErrorResponse
// @Router /payment-methods/{accountId} [get]
func (pms *PaymentMethodService) GetMethod(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	accountID, err := strconv.Atoi(chi.URLParam(r, "accountId"))
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var a models.Account
	err = pms.db.QueryRowContext(r.Context(), `
		SELECT id, user_id, account_number, label, balance, version, status, created_at, updated_at
		FROM accounts
		WHERE id = $1 AND user_id = $2`, accountID, userID).Scan(
		&a.ID, &a.UserID, &a.AccountNumber, &a.Label, &a.Balance,
		&a.Version, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Payment method not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch payment method", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a)
}
