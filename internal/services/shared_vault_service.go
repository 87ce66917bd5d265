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

// SharedVaultService manages group vaults. Membership checks gate every
// operation; the balance movement itself goes through the ledger so the
// contributor's account and the shared pot change in one transaction.
type SharedVaultService struct {
	db        *sql.DB
	ledger    *LedgerService
	reauth    *ReauthService
	notifier  *NotificationService
	validator *ValidationHelper
}

func NewSharedVaultService(db *sql.DB, ledger *LedgerService, reauth *ReauthService, notifier *NotificationService) *SharedVaultService {
	return &SharedVaultService{
		db:        db,
		ledger:    ledger,
		reauth:    reauth,
		notifier:  notifier,
		validator: NewValidationHelper(),
	}
}

// CreateSharedVaultRequest is the group vault creation payload
// @Description Shared vault creation structure
type CreateSharedVaultRequest struct {
	Name string `json:"name" validate:"required,min=1,max=60"`
	Goal *int64 `json:"goal" validate:"omitempty,gt=0"`
}

// SharedDepositRequest is the shared vault contribution payload
// @Description Shared vault deposit structure
type SharedDepositRequest struct {
	Amount   int64  `json:"amount" validate:"required,gt=0"`
	Note     string `json:"note" validate:"max=200"`
	Password string `json:"password" validate:"required,min=6"`
}

// AddMemberRequest is the membership payload
// @Description Shared vault member structure
type AddMemberRequest struct {
	UserID int    `json:"userId" validate:"required,gt=0"`
	Role   string `json:"role" validate:"required,oneof=ADMIN EDITOR VIEWER"`
}

// CreateSharedVault creates a group vault with the caller as admin
// @Summary Create a shared vault
// @Description Create a group savings vault; the creator becomes its admin
// @Tags shared-vaults
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateSharedVaultRequest true "Vault details"
// @Success 201 {object} models.SharedVault
// @Failure 400 {object} ErrorResponse
// @Router /shared-vaults [post]
func (svs *SharedVaultService) CreateSharedVault(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req CreateSharedVaultRequest
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
	if err := svs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	tx, err := svs.db.BeginTx(r.Context(), nil)
	if err != nil {
		SendErrorResponse(w, "Failed to create shared vault", http.StatusInternalServerError, nil)
		return
	}
	defer tx.Rollback()

	vault := models.SharedVault{
		Name:      req.Name,
		Goal:      req.Goal,
		CreatorID: userID,
		CreatedAt: time.Now(),
	}
	err = tx.QueryRow(`
		INSERT INTO shared_vaults (name, balance, goal, creator_id, created_at)
		VALUES ($1, 0, $2, $3, $4)
		RETURNING id`,
		vault.Name, vault.Goal, vault.CreatorID, vault.CreatedAt).Scan(&vault.ID)
	if err != nil {
		log.Printf("[SHARED_VAULT] Failed to create vault for user %d: %v", userID, err)
		SendErrorResponse(w, "Failed to create shared vault", http.StatusInternalServerError, nil)
		return
	}

	_, err = tx.Exec(`
		INSERT INTO shared_vault_members (shared_vault_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)`,
		vault.ID, userID, models.RoleAdmin, time.Now())
	if err != nil {
		SendErrorResponse(w, "Failed to create shared vault", http.StatusInternalServerError, nil)
		return
	}

	if err := tx.Commit(); err != nil {
		SendErrorResponse(w, "Failed to create shared vault", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SHARED_VAULT] Created shared vault %d by user %d", vault.ID, userID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(vault)
}

// ListSharedVaults lists vaults the caller belongs to
// @Summary List shared vaults
// @Description Get all shared vaults the caller is a member of
// @Tags shared-vaults
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.SharedVault
// @Failure 500 {object} ErrorResponse
// @Router /shared-vaults [get]
func (svs *SharedVaultService) ListSharedVaults(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromRequest(r)
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	rows, err := svs.db.QueryContext(r.Context(), `
		SELECT sv.id, sv.name, sv.balance, sv.goal, sv.creator_id, sv.created_at
		FROM shared_vaults sv
		JOIN shared_vault_members m ON m.shared_vault_id = sv.id
		WHERE m.user_id = $1
		ORDER BY sv.created_at`, userID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch shared vaults", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	vaults := []models.SharedVault{}
	for rows.Next() {
		var v models.SharedVault
		if err := rows.Scan(&v.ID, &v.Name, &v.Balance, &v.Goal, &v.CreatorID, &v.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch shared vaults", http.StatusInternalServerError, nil)
			return
		}
		vaults = append(vaults, v)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(vaults)
}

// Deposit contributes money into a shared vault
// @Summary Deposit into a shared vault
// @Description Move money from the caller's account into the shared pot; requires ADMIN or EDITOR role
// @Tags shared-vaults
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param vaultId path int true "Shared vault ID"
// @Param request body SharedDepositRequest true "Deposit details"
// @Success 200 {object} MovementResult
// @Failure 400 {object} ErrorResponse
// @Failure 403 {object} ErrorResponse
// @Router /shared-vaults/{vaultId}/deposits [post]
func (svs *SharedVaultService) Deposit(w http.ResponseWriter, r *http.Request) {
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

	var req SharedDepositRequest
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
	if err := svs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	role, err := svs.memberRole(r, vaultID, userID)
	if err != nil || (role != models.RoleAdmin && role != models.RoleEditor) {
		SendErrorResponse(w, "Not allowed to deposit into this vault", http.StatusForbidden, nil)
		return
	}

	if err := svs.reauth.Verify(r.Context(), userID, req.Password, "shared_vault"); err != nil {
		SendLedgerError(w, err)
		return
	}

	accountID, err := svs.primaryAccountID(r, userID)
	if err != nil {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	result, err := svs.ledger.SharedVaultDeposit(r.Context(), accountID, vaultID, userID, req.Amount, req.Note)
	if err != nil {
		log.Printf("[SHARED_VAULT] Deposit into vault %d failed: %v", vaultID, err)
		SendLedgerError(w, err)
		return
	}

	log.Printf("[SHARED_VAULT] User %d deposited %d into vault %d", userID, req.Amount, vaultID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// ListContributions lists a shared vault's contribution history
// @Summary List shared vault contributions
// @Description Get the contribution records of a shared vault; members only
// @Tags shared-vaults
// @Produce json
// @Security BearerAuth
// @Param vaultId path int true "Shared vault ID"
// @Success 200 {array} models.SharedVaultTransaction
// @Failure 403 {object} ErrorResponse
// @Router /shared-vaults/{vaultId}/transactions [get]
func (svs *SharedVaultService) ListContributions(w http.ResponseWriter, r *http.Request) {
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
	if _, err := svs.memberRole(r, vaultID, userID); err != nil {
		SendErrorResponse(w, "Not a member of this vault", http.StatusForbidden, nil)
		return
	}

	rows, err := svs.db.QueryContext(r.Context(), `
		SELECT id, reference, shared_vault_id, user_id, amount, narration, created_at
		FROM shared_vault_transactions
		WHERE shared_vault_id = $1
		ORDER BY created_at DESC`, vaultID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch contributions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	contributions := []models.SharedVaultTransaction{}
	for rows.Next() {
		var c models.SharedVaultTransaction
		if err := rows.Scan(&c.ID, &c.Reference, &c.SharedVaultID, &c.UserID, &c.Amount, &c.Narration, &c.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch contributions", http.StatusInternalServerError, nil)
			return
		}
		contributions = append(contributions, c)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(contributions)
}

// AddMember adds a user to a shared vault
// @Summary Add a shared vault member
// @Description Add a member with a role; admins only
// @Tags shared-vaults
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param vaultId path int true "Shared vault ID"
// @Param request body AddMemberRequest true "Member details"
// @Success 201 {object} models.SharedVaultMember
// @Failure 403 {object} ErrorResponse
// @Router /shared-vaults/{vaultId}/members [post]
func (svs *SharedVaultService) AddMember(w http.ResponseWriter, r *http.Request) {
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

	var req AddMemberRequest
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
	if err := svs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	role, err := svs.memberRole(r, vaultID, userID)
	if err != nil || role != models.RoleAdmin {
		SendErrorResponse(w, "Only admins can manage members", http.StatusForbidden, nil)
		return
	}

	member := models.SharedVaultMember{
		SharedVaultID: vaultID,
		UserID:        req.UserID,
		Role:          req.Role,
		JoinedAt:      time.Now(),
	}
	_, err = svs.db.ExecContext(r.Context(), `
		INSERT INTO shared_vault_members (shared_vault_id, user_id, role, joined_at)
		VALUES ($1, $2, $3, $4)`,
		member.SharedVaultID, member.UserID, member.Role, member.JoinedAt)
	if err != nil {
		log.Printf("[SHARED_VAULT] Failed to add member %d to vault %d: %v", req.UserID, vaultID, err)
		SendErrorResponse(w, "Failed to add member", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[SHARED_VAULT] User %d added to vault %d as %s", req.UserID, vaultID, req.Role)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(member)
}

// ListMembers lists a shared vault's members
// @Summary List shared vault members
// @Description Get the member list of a shared vault; members only
// @Tags shared-vaults
// @Produce json
// @Security BearerAuth
// @Param vaultId path int true "Shared vault ID"
// @Success 200 {array} models.SharedVaultMember
// @Failure 403 {object} ErrorResponse
// @Router /shared-vaults/{vaultId}/members [get]
func (svs *SharedVaultService) ListMembers(w http.ResponseWriter, r *http.Request) {
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
	if _, err := svs.memberRole(r, vaultID, userID); err != nil {
		SendErrorResponse(w, "Not a member of this vault", http.StatusForbidden, nil)
		return
	}

	rows, err := svs.db.QueryContext(r.Context(), `
		SELECT shared_vault_id, user_id, role, joined_at
		FROM shared_vault_members
		WHERE shared_vault_id = $1
		ORDER BY joined_at`, vaultID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch members", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	members := []models.SharedVaultMember{}
	for rows.Next() {
		var m models.SharedVaultMember
		if err := rows.Scan(&m.SharedVaultID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch members", http.StatusInternalServerError, nil)
			return
		}
		members = append(members, m)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(members)
}

func (svs *SharedVaultService) memberRole(r *http.Request, vaultID, userID int) (string, error) {
	var role string
	err := svs.db.QueryRowContext(r.Context(), `
		SELECT role FROM shared_vault_members
		WHERE shared_vault_id = $1 AND user_id = $2`, vaultID, userID).Scan(&role)
	return role, err
}

func (svs *SharedVaultService) primaryAccountID(r *http.Request, userID int) (int, error) {
	var accountID int
	err := svs.db.QueryRowContext(r.Context(), `
		SELECT id FROM accounts WHERE user_id = $1 ORDER BY id LIMIT 1`, userID).Scan(&accountID)
	return accountID, err
}
