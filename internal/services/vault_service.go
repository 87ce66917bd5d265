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

// VaultService exposes vault management and the async deposit/withdraw
// endpoints. Balance changes never happen inline: handlers submit a command
// and either return its id or wait for the worker to finish it.
type VaultService struct {
	db        *sql.DB
	ledger    *LedgerService
	commands  *VaultCommandService
	reauth    *ReauthService
	validator *ValidationHelper
}

func NewVaultService(db *sql.DB, ledger *LedgerService, commands *VaultCommandService, reauth *ReauthService) *VaultService {
	return &VaultService{
		db:        db,
		ledger:    ledger,
		commands:  commands,
		reauth:    reauth,
		validator: NewValidationHelper(),
	}
}

// CreateVaultRequest is the vault creation payload
// @Description Vault creation request structure
type CreateVaultRequest struct {
	Name        string `json:"name" validate:"required,min=1,max=60"`
	Kind        string `json:"kind" validate:"required,oneof=STANDARD LOCKED"`
	Goal        *int64 `json:"goal" validate:"omitempty,gt=0"`
	LockedUntil string `json:"lockedUntil" validate:"omitempty,datetime=2006-01-02"` // Required for LOCKED vaults
}

// VaultCommandRequest is the async deposit/withdraw payload
// @Description Vault command submission structure
type VaultCommandRequest struct {
	Kind     string `json:"kind" validate:"required,oneof=DEPOSIT WITHDRAWAL"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Note     string `json:"note" validate:"max=200"`
	Password string `json:"password" validate:"required,min=6"`
	Wait     bool   `json:"wait"` // When true the handler waits for the worker's terminal status
}

// CreateVault creates a savings vault
// @Summary Create a vault
// @Description Create a STANDARD or LOCKED savings vault for the caller
// @Tags vaults
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateVaultRequest true "Vault details"
// @Success 201 {object} models.Vault
// @Failure 400 {object} ErrorResponse
// @Router /vaults [post]
func (vs *VaultService) CreateVault(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateVaultRequest
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
	if err := vs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var lockedUntil *time.Time
	if req.Kind == models.VaultKindLocked {
		if req.LockedUntil == "" {
			SendErrorResponse(w, "Locked vaults require an unlock date", http.StatusBadRequest, nil)
			return
		}
		t, err := time.Parse("2006-01-02", req.LockedUntil)
		if err != nil || !t.After(time.Now()) {
			SendErrorResponse(w, "Unlock date must be in the future", http.StatusBadRequest, nil)
			return
		}
		lockedUntil = &t
	}

	vault := models.Vault{
		UserID:      userID,
		Name:        req.Name,
		Kind:        req.Kind,
		Goal:        req.Goal,
		LockedUntil: lockedUntil,
		CreatedAt:   time.Now(),
	}
	err := vs.db.QueryRowContext(r.Context(), `
		INSERT INTO vaults (user_id, name, balance, kind, goal, locked_until, created_at)
		VALUES ($1, $2, 0, $3, $4, $5, $6)
		RETURNING id`,
		vault.UserID, vault.Name, vault.Kind, vault.Goal, vault.LockedUntil, vault.CreatedAt).Scan(&vault.ID)
	if err != nil {
		log.Printf("[VAULT] Failed to create vault for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to create vault", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[VAULT] Created %s vault %d for user %d", vault.Kind, vault.ID, userID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(vault)
}

// ListVaults lists the caller's vaults
// @Summary List vaults
// @Description Get all vaults owned by the caller
// @Tags vaults
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Vault
// @Failure 500 {object} ErrorResponse
// @Router /vaults [get]
func (vs *VaultService) ListVaults(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := vs.db.QueryContext(r.Context(), `
		SELECT id, user_id, name, balance, kind, goal, locked_until, created_at
		FROM vaults
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch vaults", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	vaults := []models.Vault{}
	for rows.Next() {
		var v models.Vault
		if err := rows.Scan(&v.ID, &v.UserID, &v.Name, &v.Balance, &v.Kind, &v.Goal, &v.LockedUntil, &v.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch vaults", http.StatusInternalServerError, nil)
			return
		}
		vaults = append(vaults, v)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vaults)
}

// GetVault returns one vault
// @Summary Get a vault
// @Description Get a single vault owned by the caller
// @Tags vaults
// @Produce json
// @Security BearerAuth
// @Param vaultId path int true "Vault ID"
// @Success 200 {object} models.Vault
// @Failure 404 {object} ErrorResponse
// @Router /vaults/{vaultId} [get]
func (vs *VaultService) GetVault(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	vaultID, err := strconv.Atoi(chi.URLParam(r, "vaultId"))
	if err != nil {
		SendErrorResponse(w, "Invalid vault id", http.StatusBadRequest, nil)
		return
	}

	var v models.Vault
	err = vs.db.QueryRowContext(r.Context(), `
		SELECT id, user_id, name, balance, kind, goal, locked_until, created_at
		FROM vaults
		WHERE id = $1 AND user_id = $2`, vaultID, userID).Scan(
		&v.ID, &v.UserID, &v.Name, &v.Balance, &v.Kind, &v.Goal, &v.LockedUntil, &v.CreatedAt)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Vault not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch vault", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// SubmitCommand submits an async deposit or withdrawal for a vault
// @Summary Submit a vault command
// @Description Queue a deposit or withdrawal for the worker; optionally wait for completion
// @Tags vaults
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param vaultId path int true "Vault ID"
// @Param request body VaultCommandRequest true "Command details"
// @Success 200 {object} models.VaultCommand
// @Success 202 {object} object{commandId=string,status=string}
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /vaults/{vaultId}/commands [post]
func (vs *VaultService) SubmitCommand(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	vaultID, err := strconv.Atoi(chi.URLParam(r, "vaultId"))
	if err != nil {
		SendErrorResponse(w, "Invalid vault id", http.StatusBadRequest, nil)
		return
	}

	var req VaultCommandRequest
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
	if err := vs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := vs.reauth.Verify(r.Context(), userID, req.Password, "vault"); err != nil {
		SendLedgerError(w, err)
		return
	}
	if !vs.ownsVault(r, userID, vaultID) {
		SendErrorResponse(w, "Vault not found", http.StatusNotFound, nil)
		return
	}

	commandID, err := vs.commands.Submit(r.Context(), userID, req.Kind, vaultID, req.Amount, req.Note)
	if err != nil {
		log.Printf("[VAULT] Failed to submit command for vault %d: %v", vaultID, err)
		SendLedgerError(w, err)
		return
	}

	if !req.Wait {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"commandId": commandID,
			"status":    models.CommandStatusPending,
		})
		return
	}

	cmd, err := vs.commands.AwaitCompletion(r.Context(), commandID, DefaultAwaitTimeout)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cmd)
}

// GetCommand returns the state of a vault command
// @Summary Get a vault command
// @Description Get the current state of a previously submitted vault command
// @Tags vaults
// @Produce json
// @Security BearerAuth
// @Param commandId path string true "Command ID"
// @Success 200 {object} models.VaultCommand
// @Failure 404 {object} ErrorResponse
// @Router /vault-commands/{commandId} [get]
func (vs *VaultService) GetCommand(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	cmd, err := vs.commands.Get(r.Context(), chi.URLParam(r, "commandId"))
	if err == sql.ErrNoRows || (err == nil && cmd.UserID != userID) {
		SendErrorResponse(w, "Command not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch command", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cmd)
}

// AwaitCommand blocks until a vault command finishes or the wait times out
// @Summary Wait for a vault command
// @Description Block until the command reaches a terminal state, up to the timeout
// @Tags vaults
// @Produce json
// @Security BearerAuth
// @Param commandId path string true "Command ID"
// @Param timeout query int false "Timeout in seconds (default 30)"
// @Success 200 {object} models.VaultCommand
// @Failure 422 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /vault-commands/{commandId}/await [get]
func (vs *VaultService) AwaitCommand(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	commandID := chi.URLParam(r, "commandId")

	cmd, err := vs.commands.Get(r.Context(), commandID)
	if err == sql.ErrNoRows || (err == nil && cmd.UserID != userID) {
		SendErrorResponse(w, "Command not found", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		SendErrorResponse(w, "Failed to fetch command", http.StatusInternalServerError, nil)
		return
	}

	timeout := DefaultAwaitTimeout
	if t := r.URL.Query().Get("timeout"); t != "" {
		if secs, err := strconv.Atoi(t); err == nil && secs > 0 && secs <= 60 {
			timeout = time.Duration(secs) * time.Second
		}
	}

	cmd, err = vs.commands.AwaitCompletion(r.Context(), commandID, timeout)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(cmd)
}

// DeleteVault liquidates a vault back to the caller's account
// @Summary Delete a vault
// @Description Move the vault's remaining balance back to the account and remove the vault
// @Tags vaults
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param vaultId path int true "Vault ID"
// @Param request body object{password=string} true "Re-authentication"
// @Success 200 {object} MovementResult
// @Failure 401 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /vaults/{vaultId} [delete]
func (vs *VaultService) DeleteVault(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}
	vaultID, err := strconv.Atoi(chi.URLParam(r, "vaultId"))
	if err != nil {
		SendErrorResponse(w, "Invalid vault id", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Password string `json:"password" validate:"required,min=6"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := vs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := vs.reauth.Verify(r.Context(), userID, req.Password, "vault"); err != nil {
		SendLedgerError(w, err)
		return
	}
	if !vs.ownsVault(r, userID, vaultID) {
		SendErrorResponse(w, "Vault not found", http.StatusNotFound, nil)
		return
	}

	accountID, err := vs.primaryAccountID(r, userID)
	if err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	result, err := vs.ledger.VaultLiquidation(r.Context(), accountID, vaultID)
	if err != nil {
		log.Printf("[VAULT] Failed to liquidate vault %d: %v", vaultID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[VAULT] Vault %d liquidated, %d returned to account %d", vaultID, result.LiquidatedAmount, accountID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (vs *VaultService) ownsVault(r *http.Request, userID, vaultID int) bool {
	var id int
	err := vs.db.QueryRowContext(r.Context(), `
		SELECT id FROM vaults WHERE id = $1 AND user_id = $2`, vaultID, userID).Scan(&id)
	return err == nil
}

func (vs *VaultService) primaryAccountID(r *http.Request, userID int) (int, error) {
	var accountID int
	err := vs.db.QueryRowContext(r.Context(), `
		SELECT id FROM accounts WHERE user_id = $1 ORDER BY id LIMIT 1`, userID).Scan(&accountID)
	return accountID, err
}
